package dashkit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newChecker(t *testing.T, token string, validate SessionValidator) (*ExpiryChecker, *atomic.Int32) {
	t.Helper()
	sessions := NewSessionCache(TokenFetcherFunc(func(ctx context.Context) (string, error) {
		return token, nil
	}))
	var signals atomic.Int32
	bus := NewBus[struct{}]()
	bus.Subscribe(func(struct{}) { signals.Add(1) })
	return NewExpiryChecker(sessions, validate, bus, quietLogger()), &signals
}

func TestExpiryCheckValidSession(t *testing.T) {
	e, signals := newChecker(t, "tok", func(ctx context.Context, token string) (bool, error) {
		if token != "tok" {
			t.Errorf("validated %q", token)
		}
		return true, nil
	})

	if e.Check(context.Background()) {
		t.Error("valid session reported expired")
	}
	if signals.Load() != 0 {
		t.Errorf("signals = %d, want 0", signals.Load())
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

func TestExpiryCheckExpiredSession(t *testing.T) {
	e, signals := newChecker(t, "tok", func(context.Context, string) (bool, error) {
		return false, nil
	})

	if !e.Check(context.Background()) {
		t.Error("expected expired")
	}
	if signals.Load() != 1 {
		t.Errorf("signals = %d, want 1", signals.Load())
	}
}

func TestExpiryCheckFailsClosed(t *testing.T) {
	e, signals := newChecker(t, "tok", func(context.Context, string) (bool, error) {
		return false, errors.New("network down")
	})

	if !e.Check(context.Background()) {
		t.Error("a failed check should count as expired")
	}
	if signals.Load() != 1 {
		t.Errorf("signals = %d, want 1", signals.Load())
	}
}

func TestExpiryCheckWithoutToken(t *testing.T) {
	var called atomic.Bool
	e, signals := newChecker(t, "", func(context.Context, string) (bool, error) {
		called.Store(true)
		return false, nil
	})

	if e.Check(context.Background()) {
		t.Error("no token must not report expired")
	}
	if called.Load() {
		t.Error("validator called without a token")
	}
	if signals.Load() != 0 {
		t.Errorf("signals = %d, want 0", signals.Load())
	}
}

func TestExpiryConcurrentTriggersShareOneCheck(t *testing.T) {
	var validations atomic.Int32
	release := make(chan struct{})
	e, signals := newChecker(t, "tok", func(context.Context, string) (bool, error) {
		validations.Add(1)
		<-release
		return false, nil
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Check(context.Background())
		}(i)
	}
	waitFor(t, "check to start", func() bool { return e.State() == StateChecking })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if validations.Load() != 1 {
		t.Errorf("validations = %d, want 1", validations.Load())
	}
	if signals.Load() != 1 {
		t.Errorf("signals = %d, want 1", signals.Load())
	}
	for i, r := range results {
		if !r {
			t.Errorf("caller %d saw not-expired", i)
		}
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

func TestExpirySequentialChecksEachSignal(t *testing.T) {
	e, signals := newChecker(t, "tok", func(context.Context, string) (bool, error) {
		return false, nil
	})

	e.Check(context.Background())
	e.Check(context.Background())

	if signals.Load() != 2 {
		t.Errorf("signals = %d, want 2", signals.Load())
	}
}

func TestCheckStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateChecking.String() != "checking" {
		t.Errorf("unexpected names %q, %q", StateIdle, StateChecking)
	}
}
