package dashkit

import (
	"context"
	"log"
	"sync"
)

// CheckState is the state of an ExpiryChecker.
type CheckState int

const (
	StateIdle CheckState = iota
	StateChecking
)

func (s CheckState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	}
	return "unknown"
}

// SessionValidator asks the platform whether a token is still valid.
type SessionValidator func(ctx context.Context, token string) (bool, error)

type expiryCall struct {
	done    chan struct{}
	expired bool
}

// ExpiryChecker decides whether an authorization failure means the session is
// gone. At most one check runs at a time; triggers that arrive while a check
// is running join it and observe its result. A check that fails to reach the
// platform counts as expired.
type ExpiryChecker struct {
	sessions *SessionCache
	validate SessionValidator
	expired  *Bus[struct{}]
	logger   *log.Logger

	mu       sync.Mutex
	state    CheckState
	inflight *expiryCall
}

// NewExpiryChecker creates a checker that publishes on expired when a check
// confirms expiry.
func NewExpiryChecker(sessions *SessionCache, validate SessionValidator, expired *Bus[struct{}], logger *log.Logger) *ExpiryChecker {
	if logger == nil {
		logger = log.Default()
	}
	return &ExpiryChecker{
		sessions: sessions,
		validate: validate,
		expired:  expired,
		logger:   logger,
	}
}

// State returns the current state.
func (e *ExpiryChecker) State() CheckState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Check reports whether the session has expired.
func (e *ExpiryChecker) Check(ctx context.Context) bool {
	e.mu.Lock()
	if e.state == StateChecking {
		call := e.inflight
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.expired
		case <-ctx.Done():
			return false
		}
	}
	call := &expiryCall{done: make(chan struct{})}
	e.state = StateChecking
	e.inflight = call
	e.mu.Unlock()

	call.expired = e.run(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.state = StateIdle
	e.inflight = nil
	e.mu.Unlock()
	close(call.done)

	if call.expired {
		e.logger.Printf("dashkit: session expired, broadcasting")
		e.expired.Publish(struct{}{})
	}
	return call.expired
}

func (e *ExpiryChecker) run(ctx context.Context) bool {
	token, ok := e.sessions.Token(ctx)
	if !ok {
		return false
	}
	valid, err := e.validate(ctx, token)
	if err != nil {
		e.logger.Printf("dashkit: session check failed: %v", err)
		return true
	}
	return !valid
}
