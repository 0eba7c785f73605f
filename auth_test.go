package dashkit

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/marrasen/dashkit/gateway"
	"github.com/marrasen/dashkit/internal/platformtest"
	"github.com/marrasen/dashkit/platform"
)

type authHarness struct {
	p        *platformtest.Platform
	gw       *httptest.Server
	auth     *Auth
	sessions *SessionCache
	users    *Bus[*platform.User]
	changes  atomic.Int32
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()
	p := platformtest.New(testAppID)
	t.Cleanup(p.Close)
	gw := httptest.NewServer(gateway.New(platform.New(p.URL(), testAppID), gateway.Options{Logger: quietLogger()}))
	t.Cleanup(gw.Close)

	jar, _ := cookiejar.New(nil)
	hc := &http.Client{Jar: jar}
	h := &authHarness{
		p:        p,
		gw:       gw,
		sessions: NewSessionCache(NewEndpointFetcher(gw.URL, hc)),
		users:    NewBus[*platform.User](),
	}
	h.users.Subscribe(func(*platform.User) { h.changes.Add(1) })
	h.auth = NewAuth(AuthConfig{
		GatewayURL: gw.URL,
		HTTPClient: hc,
		Sessions:   h.sessions,
		Users:      h.users,
		Logger:     quietLogger(),
	})
	return h
}

func TestAuthValidationSkipsNetwork(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	cases := []*AuthResponse{
		h.auth.Login(ctx, "", "pw"),
		h.auth.Login(ctx, "ann@example.com", ""),
		h.auth.Register(ctx, "ann@example.com", "pw", ""),
		h.auth.LoginWithMagic(ctx, ""),
	}
	for i, res := range cases {
		if res.Success || res.Error == "" {
			t.Errorf("case %d: %+v", i, res)
		}
	}
	if h.p.DataCalls.Load() != 0 {
		t.Error("validation failure reached the platform")
	}
	if h.auth.Err() != "invalid token: required" {
		t.Errorf("Err = %q", h.auth.Err())
	}
}

func TestAuthLoginAndLogout(t *testing.T) {
	h := newAuthHarness(t)
	h.p.AddAccount("ann@example.com", "pw", nil)
	ctx := context.Background()

	res := h.auth.Login(ctx, "ann@example.com", "pw")
	if !res.Success || res.User == nil {
		t.Fatalf("Login = %+v", res)
	}
	if !h.auth.IsAuthorized() || !h.auth.HasRole("user") || h.auth.HasRole("admin") {
		t.Errorf("authorization state wrong for %+v", h.auth.User())
	}
	tok, ok := h.sessions.Token(ctx)
	if !ok || !h.p.SessionValid(tok) {
		t.Fatalf("session token %q, %v", tok, ok)
	}
	if h.changes.Load() != 1 {
		t.Errorf("user changes = %d, want 1", h.changes.Load())
	}

	h.auth.Logout(ctx)
	if h.auth.IsAuthorized() {
		t.Error("still authorized after logout")
	}
	if _, ok := h.sessions.Cached(); ok {
		t.Error("session cache not cleared")
	}
	if h.p.SessionValid(tok) {
		t.Error("platform session survived logout")
	}
	if _, ok := h.sessions.Token(ctx); ok {
		t.Error("cookie survived logout")
	}
	if h.changes.Load() != 2 {
		t.Errorf("user changes = %d, want 2", h.changes.Load())
	}
}

func TestAuthLoginFailure(t *testing.T) {
	h := newAuthHarness(t)
	h.p.AddAccount("ann@example.com", "pw", nil)

	res := h.auth.Login(context.Background(), "ann@example.com", "wrong")
	if res.Success || res.Error == "" {
		t.Fatalf("Login = %+v", res)
	}
	if h.auth.Err() != res.Error {
		t.Errorf("Err = %q, want %q", h.auth.Err(), res.Error)
	}
	if h.auth.IsAuthorized() || h.changes.Load() != 0 {
		t.Error("failed login changed the user")
	}
}

func TestAuthRegisterAndCheck(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	res := h.auth.Register(ctx, "bo@example.com", "pw", "bo")
	if !res.Success {
		t.Fatalf("Register = %+v", res)
	}

	fresh := NewAuth(AuthConfig{GatewayURL: h.gw.URL, HTTPClient: h.auth.http, Sessions: h.sessions, Logger: quietLogger()})
	u := fresh.Check(ctx)
	if u == nil {
		t.Fatal("Check found no user for a live cookie")
	}
	if u.Email != "bo@example.com" || u.Name != "bo" {
		t.Errorf("user = %+v", u)
	}
}

func TestAuthCheckExpired(t *testing.T) {
	h := newAuthHarness(t)
	h.p.AddAccount("ann@example.com", "pw", nil)
	ctx := context.Background()
	h.auth.Login(ctx, "ann@example.com", "pw")
	tok, _ := h.sessions.Token(ctx)
	h.p.ExpireSession(tok)

	if u := h.auth.Check(ctx); u != nil {
		t.Errorf("Check = %+v, want nil", u)
	}
	if h.auth.IsAuthorized() {
		t.Error("still authorized")
	}
	if _, ok := h.sessions.Cached(); ok {
		t.Error("session cache not cleared")
	}
}

func TestAuthMagicLink(t *testing.T) {
	h := newAuthHarness(t)
	h.p.AddAccount("ann@example.com", "pw", nil)
	token := h.p.IssueMagicToken("ann@example.com")

	res := h.auth.LoginWithMagic(context.Background(), token)
	if !res.Success || res.User.ID != "ann@example.com" {
		t.Fatalf("LoginWithMagic = %+v", res)
	}

	res = h.auth.LoginWithMagic(context.Background(), token)
	if res.Success {
		t.Error("magic token accepted twice")
	}
}

func TestAuthLoginWithSession(t *testing.T) {
	h := newAuthHarness(t)
	h.auth.LoginWithSession(platform.User{ID: "x", Role: "admin"})

	if !h.auth.HasRole("admin") {
		t.Error("role not applied")
	}
	if h.changes.Load() != 1 {
		t.Errorf("user changes = %d, want 1", h.changes.Load())
	}
}

func TestAuthWatchExpiry(t *testing.T) {
	h := newAuthHarness(t)
	h.p.AddAccount("ann@example.com", "pw", nil)
	h.auth.Login(context.Background(), "ann@example.com", "pw")

	expired := NewBus[struct{}]()
	stop := h.auth.WatchExpiry(expired)
	defer stop()
	expired.Publish(struct{}{})

	if h.auth.IsAuthorized() {
		t.Error("expiry signal did not sign the user out")
	}
}
