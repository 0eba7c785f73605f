// Package platform is a thin HTTP client for the remote backend-as-a-service
// platform: structure reads and writes, auth, streaming and file upload.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// HTTPError is returned when the platform answers with a non-2xx status.
type HTTPError struct {
	Status int
	Msg    string
	Body   []byte
}

func (e *HTTPError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("platform: status %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("platform: status %d", e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// *HTTPError (transport failure, decode failure).
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Status
	}
	return 0
}

// PageInfo describes pagination of a collection read.
type PageInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// GetResult is the body of a structure read.
type GetResult struct {
	Payload  []jsontext.Value `json:"payload"`
	PageInfo *PageInfo        `json:"pageInfo,omitempty"`
}

// SetResult is the body of a structure write.
type SetResult struct {
	Result jsontext.Value `json:"result,omitempty"`
	Status string         `json:"status,omitempty"`
	Token  string         `json:"token,omitempty"`
}

// CheckResult is the body of a session validity check.
type CheckResult struct {
	Result   bool   `json:"result"`
	Role     string `json:"role,omitempty"`
	Username string `json:"username,omitempty"`
}

// AuthResult is the session issued by login and register.
type AuthResult struct {
	SessionID string `json:"token"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	NID       string `json:"nid"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
}

type authEnvelope struct {
	Result *AuthResult `json:"result"`
}

// Client talks to one platform host on behalf of one application.
type Client struct {
	baseURL string
	appID   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client (cookie jar, timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client rooted at baseURL. baseURL may point at the platform
// itself or at a same-origin gateway that rewrites /good/api/ to it.
func New(baseURL, appID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the host the client is rooted at.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AppID returns the application identifier sent with every call.
func (c *Client) AppID() string {
	return c.appID
}

// HTTPClient returns the underlying http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) endpoint(path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.appID != "" {
		q.Set("appID", c.appID)
	}
	u := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func dataPath(structure, endpoint string) string {
	return "/good/api/v5/data/" + url.PathEscape(structure) + "/" + url.PathEscape(endpoint)
}

// GetData reads from a structure endpoint.
func (c *Client) GetData(ctx context.Context, structure, endpoint string, params url.Values) (*GetResult, error) {
	var out GetResult
	if err := c.do(ctx, http.MethodGet, c.endpoint(dataPath(structure, endpoint), params), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetData writes body to a structure endpoint.
func (c *Client) SetData(ctx context.Context, structure, endpoint string, body any, params url.Values) (*SetResult, error) {
	var out SetResult
	if err := c.do(ctx, http.MethodPost, c.endpoint(dataPath(structure, endpoint), params), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Check asks the platform whether sessionID is still valid.
func (c *Client) Check(ctx context.Context, sessionID string) (*CheckResult, error) {
	var out CheckResult
	params := url.Values{"sessionID": {sessionID}}
	if err := c.do(ctx, http.MethodGet, c.endpoint("/good/api/v5/auth/check", params), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	body := map[string]string{
		"provider": "rest",
		"username": username,
		"password": password,
	}
	return c.auth(ctx, "/good/api/v5/auth", body)
}

// Register creates an account and returns its first session. Extra fields are
// stored on the user record.
func (c *Client) Register(ctx context.Context, username, password string, fields map[string]string) (*AuthResult, error) {
	body := map[string]string{}
	for k, v := range fields {
		body[k] = v
	}
	body["username"] = username
	body["password"] = password
	return c.auth(ctx, "/good/api/v5/auth/register", body)
}

func (c *Client) auth(ctx context.Context, path string, body any) (*AuthResult, error) {
	var out authEnvelope
	if err := c.do(ctx, http.MethodPost, c.endpoint(path, nil), body, &out); err != nil {
		return nil, err
	}
	if out.Result == nil || out.Result.SessionID == "" {
		return nil, errors.New("platform: no session issued")
	}
	return out.Result, nil
}

// Logout terminates sessionID on the platform.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	params := url.Values{"sessionID": {sessionID}}
	return c.do(ctx, http.MethodPost, c.endpoint("/good/api/v5/auth/logout", params), nil, nil)
}

// OpenStream starts a server-sent-event stream. On success the caller owns the
// response body.
func (c *Client) OpenStream(ctx context.Context, structure, endpoint string, body any, params url.Values) (*http.Response, error) {
	path := "/good/api/v5/stream/" + url.PathEscape(structure) + "/" + url.PathEscape(endpoint)
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, params), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readHTTPError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.UnmarshalRead(resp.Body, out); err != nil {
		return fmt.Errorf("platform: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// readHTTPError builds an *HTTPError from a failed response, extracting the
// platform's msg (or message) field when the body is JSON.
func readHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	herr := &HTTPError{Status: resp.StatusCode, Body: body}
	var peek struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &peek) == nil {
		herr.Msg = peek.Msg
		if herr.Msg == "" {
			herr.Msg = peek.Message
		}
	}
	return herr
}
