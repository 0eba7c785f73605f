package platformtest

import (
	"net/http"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Emitted is an event a client sent to the hub.
type Emitted struct {
	SessionID string
	Event     string
	Data      jsontext.Value
}

// Hub is the fake realtime channel. Clients authenticate with app_id and
// session_id query parameters.
type Hub struct {
	platform *Platform
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[*hubConn]struct{}
	emitted []Emitted
	joined  chan struct{}
}

type hubConn struct {
	ws        *websocket.Conn
	sessionID string
	send      chan []byte
	closeOnce sync.Once
}

func newHub(p *Platform) *Hub {
	return &Hub{
		platform: p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[*hubConn]struct{}),
		joined: make(chan struct{}, 64),
	}
}

// Joined receives a value every time a client connection is registered.
func (h *Hub) Joined() <-chan struct{} {
	return h.joined
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("app_id") != h.platform.AppID || !h.platform.SessionValid(q.Get("session_id")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &hubConn{
		ws:        ws,
		sessionID: q.Get("session_id"),
		send:      make(chan []byte, 256),
	}

	hello, _ := json.Marshal(map[string]string{"type": "connected", "connectionId": uuid.NewString()})
	c.send <- hello

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	select {
	case h.joined <- struct{}{}:
	default:
	}

	go c.writePump()
	h.readPump(c)
}

func (h *Hub) readPump(c *hubConn) {
	defer h.unregister(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type  string         `json:"type"`
			Event string         `json:"event"`
			Data  jsontext.Value `json:"data"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Type != "emit" {
			continue
		}
		h.mu.Lock()
		h.emitted = append(h.emitted, Emitted{SessionID: c.sessionID, Event: msg.Event, Data: msg.Data})
		h.mu.Unlock()
	}
}

func (c *hubConn) writePump() {
	defer c.ws.Close()
	for data := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *hubConn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

// Broadcast pushes a named event to every connected client. data is sent as
// raw JSON when it is a jsontext.Value.
func (h *Hub) Broadcast(event string, data any) {
	msg, err := json.Marshal(map[string]any{"type": "push", "event": event, "data": data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// DropAll closes every client connection from the server side.
func (h *Hub) DropAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.ws.Close()
	}
}

// ConnectionCount returns the number of live clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Emitted returns the events clients have sent so far.
func (h *Hub) Emitted() []Emitted {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Emitted(nil), h.emitted...)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.ws.Close()
		delete(h.conns, c)
		c.close()
	}
}
