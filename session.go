package dashkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"golang.org/x/sync/singleflight"
)

// TokenFetcher obtains the session token from wherever it is kept.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenFetcherFunc adapts a function to TokenFetcher.
type TokenFetcherFunc func(ctx context.Context) (string, error)

func (f TokenFetcherFunc) FetchToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// SessionCache holds the single cached session token. Concurrent callers share
// one in-flight fetch. Failed or empty fetches are not cached.
type SessionCache struct {
	fetcher TokenFetcher
	group   singleflight.Group

	mu    sync.Mutex
	token string
	gen   uint64
}

// NewSessionCache creates a cache backed by f.
func NewSessionCache(f TokenFetcher) *SessionCache {
	return &SessionCache{fetcher: f}
}

// Token returns the session token, fetching it if the cache is empty. The
// boolean is false when no token could be obtained.
func (c *SessionCache) Token(ctx context.Context) (string, bool) {
	c.mu.Lock()
	if c.token != "" {
		t := c.token
		c.mu.Unlock()
		return t, true
	}
	gen := c.gen
	c.mu.Unlock()

	// Keyed by generation so callers arriving after Invalidate never join a
	// fetch that started before it.
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		token, err := c.fetcher.FetchToken(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", ErrNoSession
		}
		c.mu.Lock()
		if c.gen == gen {
			c.token = token
		}
		c.mu.Unlock()
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

// Cached returns the token without fetching.
func (c *SessionCache) Cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.token != ""
}

// Invalidate clears the cache. The next Token call fetches again.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.gen++
}

// EndpointFetcher reads the session token from the gateway's session endpoint,
// which copies it out of the HTTP-only cookie carried by the client's jar.
type EndpointFetcher struct {
	URL    string
	Client *http.Client
}

// NewEndpointFetcher targets {gatewayURL}/api/auth/session.
func NewEndpointFetcher(gatewayURL string, hc *http.Client) *EndpointFetcher {
	return &EndpointFetcher{
		URL:    strings.TrimRight(gatewayURL, "/") + "/api/auth/session",
		Client: hc,
	}
}

type sessionReply struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionID"`
	Error     string `json:"error,omitempty"`
}

func (f *EndpointFetcher) FetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", err
	}
	hc := f.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("session endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session endpoint: status %d", resp.StatusCode)
	}
	var reply sessionReply
	if err := json.UnmarshalRead(resp.Body, &reply); err != nil {
		return "", fmt.Errorf("session endpoint: %w", err)
	}
	if !reply.Success || reply.SessionID == "" {
		return "", errors.New("session endpoint: no session")
	}
	return reply.SessionID, nil
}
