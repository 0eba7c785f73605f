package dashkit

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"

	"github.com/marrasen/dashkit/platform"
)

// AuthResponse is the outcome of a sign-in operation.
type AuthResponse struct {
	Success bool
	User    *platform.User
	Error   string
}

// AuthConfig wires an Auth controller.
type AuthConfig struct {
	GatewayURL string
	HTTPClient *http.Client
	Sessions   *SessionCache
	// Users receives the signed-in user on every change, nil on sign-out.
	Users  *Bus[*platform.User]
	Logger *log.Logger
}

// Auth owns the signed-in user. It talks to the gateway's auth endpoints,
// which keep the session token in an HTTP-only cookie.
type Auth struct {
	base     string
	http     *http.Client
	sessions *SessionCache
	users    *Bus[*platform.User]
	logger   *log.Logger

	mu   sync.RWMutex
	user *platform.User
	err  string
}

// NewAuth creates an Auth controller with no user.
func NewAuth(cfg AuthConfig) *Auth {
	a := &Auth{
		base:     strings.TrimRight(cfg.GatewayURL, "/"),
		http:     cfg.HTTPClient,
		sessions: cfg.Sessions,
		users:    cfg.Users,
		logger:   cfg.Logger,
	}
	if a.http == nil {
		a.http = http.DefaultClient
	}
	if a.users == nil {
		a.users = NewBus[*platform.User]()
	}
	if a.logger == nil {
		a.logger = log.Default()
	}
	return a
}

// WatchExpiry signs the user out whenever expired fires and returns the
// unsubscribe function.
func (a *Auth) WatchExpiry(expired *Bus[struct{}]) func() {
	return expired.Subscribe(func(struct{}) {
		a.Logout(context.Background())
	})
}

type gatewayReply struct {
	Success bool           `json:"success"`
	User    *platform.User `json:"user,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (a *Auth) call(ctx context.Context, method, path string, body any) (*gatewayReply, int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var reply gatewayReply
	if err := json.UnmarshalRead(resp.Body, &reply); err != nil {
		return nil, resp.StatusCode, err
	}
	return &reply, resp.StatusCode, nil
}

// Check restores the user from the session cookie. It returns nil when there
// is no valid session. A transient failure leaves the current user in place.
func (a *Auth) Check(ctx context.Context) *platform.User {
	reply, status, err := a.call(ctx, http.MethodGet, "/api/auth/check", nil)
	if err != nil {
		a.logger.Printf("dashkit: auth check: %v", err)
		return a.User()
	}
	if status == http.StatusOK && reply.Success && reply.User != nil {
		a.setUser(reply.User)
		return reply.User
	}
	if status == http.StatusUnauthorized {
		a.sessions.Invalidate()
		a.setUser(nil)
		return nil
	}
	return a.User()
}

// Login signs in with email and password.
func (a *Auth) Login(ctx context.Context, email, password string) *AuthResponse {
	if email == "" {
		return a.fail(errRequired("email").Error())
	}
	if password == "" {
		return a.fail(errRequired("password").Error())
	}
	return a.signIn(ctx, "/api/auth/login", map[string]string{"email": email, "password": password}, "sign-in failed")
}

// Register creates an account and signs in.
func (a *Auth) Register(ctx context.Context, email, password, username string) *AuthResponse {
	switch {
	case email == "":
		return a.fail(errRequired("email").Error())
	case password == "":
		return a.fail(errRequired("password").Error())
	case username == "":
		return a.fail(errRequired("username").Error())
	}
	body := map[string]string{"email": email, "password": password, "username": username}
	return a.signIn(ctx, "/api/auth/register", body, "registration failed")
}

// LoginWithMagic exchanges a one-time magic-link token for a session.
func (a *Auth) LoginWithMagic(ctx context.Context, token string) *AuthResponse {
	if token == "" {
		return a.fail(errRequired("token").Error())
	}
	return a.signIn(ctx, "/api/auth/magic", map[string]string{"token": token}, "magic link is invalid or expired")
}

func (a *Auth) signIn(ctx context.Context, path string, body any, fallback string) *AuthResponse {
	a.mu.Lock()
	a.err = ""
	a.mu.Unlock()

	reply, status, err := a.call(ctx, http.MethodPost, path, body)
	if err != nil {
		a.logger.Printf("dashkit: auth %s: %v", path, err)
		return a.fail("could not reach the server")
	}
	if status != http.StatusOK || !reply.Success || reply.User == nil {
		msg := reply.Error
		if msg == "" {
			msg = fallback
		}
		return a.fail(msg)
	}
	// The gateway just replaced the cookie; drop any token read before it.
	a.sessions.Invalidate()
	a.setUser(reply.User)
	return &AuthResponse{Success: true, User: reply.User}
}

func (a *Auth) fail(msg string) *AuthResponse {
	a.mu.Lock()
	a.err = msg
	a.mu.Unlock()
	return &AuthResponse{Error: msg}
}

// LoginWithSession installs a user whose session was established elsewhere.
func (a *Auth) LoginWithSession(u platform.User) {
	a.mu.Lock()
	a.err = ""
	a.mu.Unlock()
	a.setUser(&u)
}

// Logout expires the session cookie, clears the cached token and the user.
// Failure to reach the gateway does not prevent the local sign-out.
func (a *Auth) Logout(ctx context.Context) {
	if _, _, err := a.call(ctx, http.MethodPost, "/api/auth/logout", nil); err != nil {
		a.logger.Printf("dashkit: auth logout: %v", err)
	}
	a.sessions.Invalidate()
	a.setUser(nil)
}

func (a *Auth) setUser(u *platform.User) {
	a.mu.Lock()
	prev := a.user
	a.user = u
	a.mu.Unlock()
	if prev == nil && u == nil {
		return
	}
	a.users.Publish(u)
}

// User returns the signed-in user, or nil.
func (a *Auth) User() *platform.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// Err returns the message of the last failed sign-in, if any.
func (a *Auth) Err() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// IsAuthorized reports whether a user is signed in.
func (a *Auth) IsAuthorized() bool {
	return a.User() != nil
}

// HasRole reports whether the signed-in user has role.
func (a *Auth) HasRole(role string) bool {
	u := a.User()
	return u != nil && u.Role == role
}
