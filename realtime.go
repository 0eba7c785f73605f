package dashkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
)

// EventHandler receives the payload of one named event.
type EventHandler func(data jsontext.Value)

// AnyHandler receives every inbound event.
type AnyHandler func(event string, data jsontext.Value)

// Subscription identifies a handler registered with On or OnAny.
type Subscription uint64

// RealtimeStatus is a snapshot of the connection.
type RealtimeStatus struct {
	Connected bool
	ID        string
}

// Reconnect backoff defaults.
const (
	DefaultReconnectDelay    = time.Second
	DefaultReconnectMaxDelay = 5 * time.Second
)

// RealtimeConfig configures a Realtime client.
type RealtimeConfig struct {
	URL      string
	AppID    string
	Sessions *SessionCache
	Dialer   *websocket.Dialer
	Logger   *log.Logger

	// ReconnectDelay is the first wait before redialing after the server
	// drops the connection. It doubles per failed attempt up to
	// ReconnectMaxDelay.
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

type namedSub struct {
	id Subscription
	fn EventHandler
}

type anySub struct {
	id Subscription
	fn AnyHandler
}

// Realtime is the single long-lived connection to the realtime channel,
// shared by every consumer. Subscriptions survive reconnects. A connection
// dropped by the server is redialed; only an explicit Disconnect closes it
// for good.
type Realtime struct {
	url      string
	appID    string
	sessions *SessionCache
	dialer   *websocket.Dialer
	logger   *log.Logger
	delay    time.Duration
	maxDelay time.Duration

	dialMu  sync.Mutex // serializes Connect
	writeMu sync.Mutex // gorilla/websocket allows one concurrent writer

	mu        sync.RWMutex
	ws        *websocket.Conn
	connected bool
	id        string
	nextSub   Subscription
	named     map[string][]namedSub
	any       []anySub
	down      chan struct{} // closed by Disconnect to stop a pending reconnect
}

var (
	errNoAppID          = errors.New("realtime: application id not set")
	errRejected         = errors.New("realtime: handshake rejected")
	errReconnectStopped = errors.New("realtime: disconnected during reconnect")
)

// NewRealtime creates a disconnected client.
func NewRealtime(cfg RealtimeConfig) *Realtime {
	r := &Realtime{
		url:      cfg.URL,
		appID:    cfg.AppID,
		sessions: cfg.Sessions,
		dialer:   cfg.Dialer,
		logger:   cfg.Logger,
		delay:    cfg.ReconnectDelay,
		maxDelay: cfg.ReconnectMaxDelay,
		named:    make(map[string][]namedSub),
		down:     make(chan struct{}),
	}
	if r.dialer == nil {
		r.dialer = websocket.DefaultDialer
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	if r.delay <= 0 {
		r.delay = DefaultReconnectDelay
	}
	if r.maxDelay < r.delay {
		r.maxDelay = max(DefaultReconnectMaxDelay, r.delay)
	}
	return r
}

// Connect opens the connection if it is not already open. It authenticates
// with the application id and the current session token and reports false
// when either is missing or the dial fails.
func (r *Realtime) Connect(ctx context.Context) bool {
	if err := r.connect(ctx, nil); err != nil {
		if errors.Is(err, ErrNoSession) {
			r.logger.Printf("dashkit: realtime: no session token, sign in first")
		} else {
			r.logger.Printf("dashkit: realtime: connect error: %v", err)
		}
		return false
	}
	return true
}

// connect dials the channel. A non-nil down ties the attempt to the
// reconnect loop that owns it: if Disconnect has run since, the new
// connection is dropped.
func (r *Realtime) connect(ctx context.Context, down <-chan struct{}) error {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if r.IsConnected() {
		return nil
	}
	token, ok := r.sessions.Token(ctx)
	if !ok {
		return ErrNoSession
	}
	if r.appID == "" {
		return errNoAppID
	}

	u, err := url.Parse(r.url)
	if err != nil {
		return fmt.Errorf("realtime: bad url: %w", err)
	}
	q := u.Query()
	q.Set("app_id", r.appID)
	q.Set("session_id", token)
	u.RawQuery = q.Encode()

	ws, resp, err := r.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %s", errRejected, resp.Status)
		}
		return err
	}

	r.mu.Lock()
	if down != nil && down != (<-chan struct{})(r.down) {
		r.mu.Unlock()
		ws.Close()
		return errReconnectStopped
	}
	r.ws = ws
	r.connected = true
	r.mu.Unlock()

	go r.readLoop(ws)
	r.dispatchLocal(EventConnect, nil)
	return nil
}

// reconnect redials with doubling delays until a dial succeeds, the session
// is gone, or Disconnect is called.
func (r *Realtime) reconnect(down <-chan struct{}) {
	delay := r.delay
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(delay)
		select {
		case <-down:
			t.Stop()
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.connect(ctx, down)
		cancel()
		switch {
		case err == nil:
			r.logger.Printf("dashkit: realtime: reconnected after %d attempt(s)", attempt)
			return
		case errors.Is(err, errReconnectStopped):
			return
		case errors.Is(err, ErrNoSession), errors.Is(err, errNoAppID):
			r.logger.Printf("dashkit: realtime: reconnect stopped: %v", err)
			return
		}
		if errors.Is(err, errRejected) {
			r.sessions.Invalidate()
		}
		r.logger.Printf("dashkit: realtime: reconnect attempt %d: %v", attempt, err)
		delay = min(delay*2, r.maxDelay)
	}
}

// Disconnect closes the connection and cancels any pending reconnect. It is
// meant for application teardown.
func (r *Realtime) Disconnect() {
	r.mu.Lock()
	ws := r.ws
	r.ws = nil
	r.connected = false
	r.id = ""
	close(r.down)
	r.down = make(chan struct{})
	r.mu.Unlock()

	if ws == nil {
		return
	}
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second),
	)
	ws.Close()
	r.dispatchLocal(EventDisconnect, jsontext.Value(`"client disconnect"`))
}

// IsConnected reports whether the connection is open.
func (r *Realtime) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Status returns a snapshot of the connection state.
func (r *Realtime) Status() RealtimeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RealtimeStatus{Connected: r.connected, ID: r.id}
}

// On registers fn for event.
func (r *Realtime) On(event string, fn EventHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	r.named[event] = append(r.named[event], namedSub{id: r.nextSub, fn: fn})
	return r.nextSub
}

// Off removes the given subscriptions for event, or all of them when none
// are given.
func (r *Realtime) Off(event string, subs ...Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(subs) == 0 {
		delete(r.named, event)
		return
	}
	kept := r.named[event][:0:0]
	for _, s := range r.named[event] {
		if !containsSub(subs, s.id) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.named, event)
		return
	}
	r.named[event] = kept
}

// OnAny registers fn for every inbound event.
func (r *Realtime) OnAny(fn AnyHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	r.any = append(r.any, anySub{id: r.nextSub, fn: fn})
	return r.nextSub
}

// OffAny removes the given wildcard subscriptions, or all of them when none
// are given.
func (r *Realtime) OffAny(subs ...Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(subs) == 0 {
		r.any = nil
		return
	}
	kept := r.any[:0:0]
	for _, s := range r.any {
		if !containsSub(subs, s.id) {
			kept = append(kept, s)
		}
	}
	r.any = kept
}

func containsSub(subs []Subscription, id Subscription) bool {
	for _, s := range subs {
		if s == id {
			return true
		}
	}
	return false
}

// Emit sends an event to the channel. It reports false when not connected or
// when the write fails.
func (r *Realtime) Emit(event string, data any) bool {
	r.mu.RLock()
	ws := r.ws
	r.mu.RUnlock()
	if ws == nil {
		r.logger.Printf("dashkit: realtime: emit %q: %v", event, ErrNotConnected)
		return false
	}
	msg, err := json.Marshal(EmitMessage{Type: TypeEmit, Event: event, Data: data})
	if err != nil {
		r.logger.Printf("dashkit: realtime: emit %q: %v", event, err)
		return false
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		r.logger.Printf("dashkit: realtime: emit %q: %v", event, err)
		return false
	}
	return true
}

func (r *Realtime) readLoop(ws *websocket.Conn) {
	var reason string
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			reason = err.Error()
			break
		}
		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Printf("dashkit: realtime: invalid message: %v", err)
			continue
		}
		switch msg.Type {
		case TypeConnected:
			r.mu.Lock()
			if r.ws == ws {
				r.id = msg.ConnectionID
			}
			r.mu.Unlock()
		case TypePush:
			r.dispatch(msg.Event, msg.Data)
		}
	}

	r.mu.Lock()
	current := r.ws == ws
	if current {
		r.ws = nil
		r.connected = false
		r.id = ""
	}
	down := r.down
	r.mu.Unlock()
	ws.Close()

	if current {
		r.logger.Printf("dashkit: realtime: disconnected: %s", reason)
		payload, _ := json.Marshal(reason)
		r.dispatchLocal(EventDisconnect, payload)
		go r.reconnect(down)
	}
}

// SplitEventNames splits a compound event name such as "alert,refresh" into
// its trimmed, non-empty parts.
func SplitEventNames(event string) []string {
	if !strings.Contains(event, ",") {
		event = strings.TrimSpace(event)
		if event == "" {
			return nil
		}
		return []string{event}
	}
	parts := strings.Split(event, ",")
	names := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// dispatch delivers data once per sub-event of a possibly compound name.
func (r *Realtime) dispatch(event string, data jsontext.Value) {
	for _, name := range SplitEventNames(event) {
		r.dispatchOne(name, data)
	}
}

func (r *Realtime) dispatchOne(name string, data jsontext.Value) {
	r.mu.RLock()
	named := append([]namedSub(nil), r.named[name]...)
	wildcard := append([]anySub(nil), r.any...)
	r.mu.RUnlock()

	for _, s := range named {
		s.fn(data)
	}
	for _, s := range wildcard {
		s.fn(name, data)
	}
}

// dispatchLocal delivers connection lifecycle events to named handlers only;
// wildcard handlers see channel traffic, not local state changes.
func (r *Realtime) dispatchLocal(name string, data jsontext.Value) {
	r.mu.RLock()
	named := append([]namedSub(nil), r.named[name]...)
	r.mu.RUnlock()

	for _, s := range named {
		s.fn(data)
	}
}
