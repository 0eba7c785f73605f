package dashkit

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marrasen/dashkit/internal/platformtest"
	"github.com/marrasen/dashkit/platform"
)

const testAppID = "app-test"

// harness wires a Fetcher to a fake platform with a fixed session token.
type harness struct {
	p        *platformtest.Platform
	sid      string
	sidMu    sync.Mutex
	fetches  atomic.Int32
	sessions *SessionCache
	expiry   *ExpiryChecker
	fetcher  *Fetcher

	expired atomic.Int32
	alerts  *alertSink
}

type alertSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *alertSink) add(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *alertSink) all() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := platformtest.New(testAppID)
	t.Cleanup(p.Close)
	p.AddAccount("ann@example.com", "pw", map[string]any{"firstName": "Ann"})

	h := &harness{p: p, sid: p.IssueSession("ann@example.com"), alerts: &alertSink{}}
	h.sessions = NewSessionCache(TokenFetcherFunc(func(ctx context.Context) (string, error) {
		h.fetches.Add(1)
		return h.currentSID(), nil
	}))

	api := platform.New(p.URL(), testAppID)
	expired := NewBus[struct{}]()
	expired.Subscribe(func(struct{}) { h.expired.Add(1) })
	alerts := NewBus[Alert]()
	alerts.Subscribe(h.alerts.add)

	h.expiry = NewExpiryChecker(h.sessions, func(ctx context.Context, token string) (bool, error) {
		res, err := api.Check(ctx, token)
		if err != nil {
			return false, err
		}
		return res.Result, nil
	}, expired, quietLogger())
	h.fetcher = NewFetcher(FetcherConfig{
		API:      api,
		Sessions: h.sessions,
		Expiry:   h.expiry,
		Alerts:   alerts,
		Logger:   quietLogger(),
	})
	return h
}

func (h *harness) currentSID() string {
	h.sidMu.Lock()
	defer h.sidMu.Unlock()
	return h.sid
}

// setSID changes the token the fetcher hands out next.
func (h *harness) setSID(sid string) {
	h.sidMu.Lock()
	defer h.sidMu.Unlock()
	h.sid = sid
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
