package dashkit

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
)

// Alert variants.
const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
	VariantSuccess     = "success"
)

// DefaultAlertTTL is how long an alert stays on the board.
const DefaultAlertTTL = 5 * time.Second

// Alert is a user-visible notification.
type Alert struct {
	ID          string `json:"id,omitempty"`
	Variant     string `json:"variant,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// alertWire accepts the legacy type/message spellings alongside the current
// variant/description ones.
type alertWire struct {
	Variant     string `json:"variant"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Icon        string `json:"icon"`
}

// ErrMalformedAlert is returned by ParseAlert for payloads that are not an
// alert object in any accepted shape.
var ErrMalformedAlert = errors.New("malformed alert payload")

// ParseAlert normalizes an inbound alert payload. Accepted shapes:
//
//   - an object
//   - an array, of which only the first element is used
//   - a string holding a JSON-encoded object (or array)
//
// variant takes precedence over type ("error" maps to destructive), and
// description over message. The returned alert has no ID.
func ParseAlert(raw jsontext.Value) (Alert, error) {
	return parseAlert(raw, 0)
}

func parseAlert(raw jsontext.Value, depth int) (Alert, error) {
	if depth > 2 {
		return Alert{}, ErrMalformedAlert
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Alert{}, ErrMalformedAlert
	}
	switch trimmed[0] {
	case '{':
		var w alertWire
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return Alert{}, fmt.Errorf("%w: %v", ErrMalformedAlert, err)
		}
		return w.alert(), nil
	case '[':
		var items []jsontext.Value
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Alert{}, fmt.Errorf("%w: %v", ErrMalformedAlert, err)
		}
		if len(items) == 0 {
			return Alert{}, fmt.Errorf("%w: empty array", ErrMalformedAlert)
		}
		return parseAlert(items[0], depth+1)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Alert{}, fmt.Errorf("%w: %v", ErrMalformedAlert, err)
		}
		inner := jsontext.Value(s)
		if !inner.IsValid() {
			return Alert{}, fmt.Errorf("%w: string is not JSON", ErrMalformedAlert)
		}
		return parseAlert(inner, depth+1)
	}
	return Alert{}, ErrMalformedAlert
}

func (w alertWire) alert() Alert {
	a := Alert{
		Variant:     w.Variant,
		Title:       w.Title,
		Description: w.Description,
		Icon:        w.Icon,
	}
	if a.Variant == "" {
		switch w.Type {
		case "error":
			a.Variant = VariantDestructive
		case "success":
			a.Variant = VariantSuccess
		case "default":
			a.Variant = VariantDefault
		}
	}
	if a.Description == "" {
		a.Description = w.Message
	}
	return a
}

// AlertBoard holds the alerts currently on display. Each alert is removed
// after the TTL or on Dismiss. An alert whose title and description match one
// already displayed is dropped.
type AlertBoard struct {
	ttl      time.Duration
	onChange func([]Alert)

	mu     sync.Mutex
	alerts []Alert
	timers map[string]*time.Timer
}

// NewAlertBoard creates a board. A non-positive ttl means DefaultAlertTTL.
func NewAlertBoard(ttl time.Duration) *AlertBoard {
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	return &AlertBoard{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}
}

// OnChange registers fn to receive a snapshot whenever the board changes. It
// must be called before the board is used.
func (b *AlertBoard) OnChange(fn func([]Alert)) {
	b.onChange = fn
}

// Attach subscribes the board to bus and returns the unsubscribe function.
func (b *AlertBoard) Attach(bus *Bus[Alert]) func() {
	return bus.Subscribe(func(a Alert) { b.Push(a) })
}

// Push adds a to the board and returns its ID. The boolean is false when a
// was suppressed as a duplicate.
func (b *AlertBoard) Push(a Alert) (string, bool) {
	b.mu.Lock()
	for _, cur := range b.alerts {
		if cur.Title == a.Title && cur.Description == a.Description {
			b.mu.Unlock()
			return cur.ID, false
		}
	}
	a.ID = uuid.NewString()
	b.alerts = append(b.alerts, a)
	id := a.ID
	b.timers[id] = time.AfterFunc(b.ttl, func() { b.Dismiss(id) })
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap)
	return id, true
}

// Dismiss removes the alert with the given ID. Unknown IDs are ignored.
func (b *AlertBoard) Dismiss(id string) {
	b.mu.Lock()
	idx := -1
	for i, cur := range b.alerts {
		if cur.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return
	}
	b.alerts = append(b.alerts[:idx:idx], b.alerts[idx+1:]...)
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap)
}

// Alerts returns the alerts on display, oldest first.
func (b *AlertBoard) Alerts() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Clear removes every alert.
func (b *AlertBoard) Clear() {
	b.mu.Lock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.alerts = nil
	b.mu.Unlock()

	b.notify(nil)
}

func (b *AlertBoard) snapshotLocked() []Alert {
	return append([]Alert(nil), b.alerts...)
}

func (b *AlertBoard) notify(snap []Alert) {
	if b.onChange != nil {
		b.onChange(snap)
	}
}
