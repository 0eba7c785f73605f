// Package platformtest provides an in-process fake of the remote platform for
// tests: structure data, auth, streaming, upload and a realtime hub.
package platformtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
)

// Account is a registered platform user.
type Account struct {
	Username string
	Password string
	NID      string
	Role     string
	Profile  map[string]any
}

// DataFunc overrides a structure endpoint. It returns the HTTP status and the
// value to encode as the response body.
type DataFunc func(r *http.Request, sessionID string) (int, any)

// StreamEvent is one server-sent event emitted by the fake stream endpoint.
type StreamEvent struct {
	Event string
	Data  string
	Delay time.Duration
}

// Platform is a fake platform server.
type Platform struct {
	AppID string

	Server *httptest.Server
	Hub    *Hub

	mu        sync.Mutex
	accounts  map[string]*Account
	sessions  map[string]string // session -> username
	magic     map[string]string // magic token -> username
	overrides map[string]DataFunc
	streams   map[string][]StreamEvent
	uploads   map[string][]byte

	// CheckStatus, when non-zero, makes the session check fail with that status.
	CheckStatus atomic.Int32
	CheckCalls  atomic.Int32
	CheckDelay  atomic.Int64 // nanoseconds
	DataCalls   atomic.Int32
}

// New starts a fake platform for appID.
func New(appID string) *Platform {
	p := &Platform{
		AppID:     appID,
		accounts:  make(map[string]*Account),
		sessions:  make(map[string]string),
		magic:     make(map[string]string),
		overrides: make(map[string]DataFunc),
		streams:   make(map[string][]StreamEvent),
		uploads:   make(map[string][]byte),
	}
	p.Hub = newHub(p)

	mux := http.NewServeMux()
	mux.HandleFunc("/good/api/v5/auth", p.handleLogin)
	mux.HandleFunc("/good/api/v5/auth/register", p.handleRegister)
	mux.HandleFunc("/good/api/v5/auth/logout", p.handleLogout)
	mux.HandleFunc("/good/api/v5/auth/check", p.handleCheck)
	mux.HandleFunc("/good/api/v5/data/", p.handleData)
	mux.HandleFunc("/good/api/v5/stream/", p.handleStream)
	mux.HandleFunc("/files/", p.handleFile)
	mux.Handle("/socket", p.Hub)
	p.Server = httptest.NewServer(mux)
	return p
}

// Close shuts the server down.
func (p *Platform) Close() {
	p.Hub.closeAll()
	p.Server.Close()
}

// URL is the base URL of the fake platform.
func (p *Platform) URL() string {
	return p.Server.URL
}

// SocketURL is the realtime endpoint.
func (p *Platform) SocketURL() string {
	return "ws" + strings.TrimPrefix(p.Server.URL, "http") + "/socket"
}

// AddAccount registers an account and returns it.
func (p *Platform) AddAccount(username, password string, profile map[string]any) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &Account{
		Username: username,
		Password: password,
		NID:      uuid.NewString(),
		Role:     "user",
		Profile:  profile,
	}
	if a.Profile == nil {
		a.Profile = map[string]any{}
	}
	p.accounts[username] = a
	return a
}

// IssueSession creates a session for username without a login round trip.
func (p *Platform) IssueSession(username string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := uuid.NewString()
	p.sessions[token] = username
	return token
}

// ExpireSession invalidates a session.
func (p *Platform) ExpireSession(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, token)
}

// SessionValid reports whether token is a live session.
func (p *Platform) SessionValid(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[token]
	return ok
}

// IssueMagicToken returns a one-time token that logs username in.
func (p *Platform) IssueMagicToken(username string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := uuid.NewString()
	p.magic[token] = username
	return token
}

// Override replaces the behavior of structure/endpoint for all methods.
func (p *Platform) Override(structure, endpoint string, fn DataFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[structure+"/"+endpoint] = fn
}

// SetStream sets the events emitted by a stream endpoint.
func (p *Platform) SetStream(structure, endpoint string, events []StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams[structure+"/"+endpoint] = events
}

// Upload returns the bytes stored under a URL path, if any.
func (p *Platform) Upload(path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.uploads[path]
	return b, ok
}

func (p *Platform) account(token string) (*Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.sessions[token]
	if !ok {
		return nil, false
	}
	a, ok := p.accounts[name]
	return a, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.MarshalWrite(w, v)
}

func (p *Platform) checkApp(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("appID") != p.AppID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "unknown app"})
		return false
	}
	return true
}

func (p *Platform) authResult(a *Account, token string) map[string]any {
	return map[string]any{
		"result": map[string]any{
			"token":    token,
			"username": a.Username,
			"role":     a.Role,
			"nid":      a.NID,
		},
	}
}

func (p *Platform) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !p.checkApp(w, r) {
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.UnmarshalRead(r.Body, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
		return
	}
	p.mu.Lock()
	a, ok := p.accounts[body.Username]
	p.mu.Unlock()
	if !ok || a.Password != body.Password {
		writeJSON(w, http.StatusForbidden, map[string]string{"msg": "wrong credentials"})
		return
	}
	writeJSON(w, http.StatusOK, p.authResult(a, p.IssueSession(a.Username)))
}

func (p *Platform) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !p.checkApp(w, r) {
		return
	}
	var body map[string]string
	if err := json.UnmarshalRead(r.Body, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
		return
	}
	p.mu.Lock()
	_, exists := p.accounts[body["username"]]
	p.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "user exists"})
		return
	}
	profile := map[string]any{}
	for k, v := range body {
		if k != "password" {
			profile[k] = v
		}
	}
	a := p.AddAccount(body["username"], body["password"], profile)
	writeJSON(w, http.StatusOK, p.authResult(a, p.IssueSession(a.Username)))
}

func (p *Platform) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.ExpireSession(r.URL.Query().Get("sessionID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *Platform) handleCheck(w http.ResponseWriter, r *http.Request) {
	p.CheckCalls.Add(1)
	if d := p.CheckDelay.Load(); d > 0 {
		time.Sleep(time.Duration(d))
	}
	if status := p.CheckStatus.Load(); status != 0 {
		writeJSON(w, int(status), map[string]string{"msg": "check failed"})
		return
	}
	a, ok := p.account(r.URL.Query().Get("sessionID"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"result": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": true, "role": a.Role, "username": a.Username})
}

func (p *Platform) handleData(w http.ResponseWriter, r *http.Request) {
	p.DataCalls.Add(1)
	if !p.checkApp(w, r) {
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/good/api/v5/data/")
	sessionID := r.URL.Query().Get("sessionID")

	p.mu.Lock()
	fn, ok := p.overrides[key]
	p.mu.Unlock()
	if !ok && key == "file_links/uploadFiles" {
		p.handleUpload(w, r, sessionID)
		return
	}
	if ok {
		status, body := fn(r, sessionID)
		writeJSON(w, status, body)
		return
	}

	switch {
	case key == "WebUserSession/checkSession":
		a, ok := p.account(sessionID)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"payload": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payload": []any{map[string]any{"id": a.Username, "role": a.Role}}})
	case key == "magic/magic" && r.Method == http.MethodPost:
		var body struct {
			Token string `json:"token"`
		}
		json.UnmarshalRead(r.Body, &body)
		p.mu.Lock()
		name, ok := p.magic[body.Token]
		delete(p.magic, body.Token)
		p.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"result": "invalid"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "token": p.IssueSession(name)})
	case key == "WebUser/profile":
		a, ok := p.account(sessionID)
		if !ok {
			writeJSON(w, http.StatusForbidden, map[string]string{"msg": "forbidden"})
			return
		}
		if r.Method == http.MethodPost {
			var patch map[string]jsontext.Value
			if err := json.UnmarshalRead(r.Body, &patch); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
				return
			}
			p.mu.Lock()
			for k, v := range patch {
				var val any
				json.Unmarshal(v, &val)
				a.Profile[k] = val
			}
			p.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"id": a.Username}, "status": "ok"})
			return
		}
		p.mu.Lock()
		rec := map[string]any{"id": a.Username}
		for k, v := range a.Profile {
			rec[k] = v
		}
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"payload":  []any{rec},
			"pageInfo": map[string]int{"page": 0, "pageSize": 1, "totalPages": 1},
		})
	default:
		if _, ok := p.account(sessionID); !ok {
			writeJSON(w, http.StatusForbidden, map[string]string{"msg": "forbidden"})
			return
		}
		if r.Method == http.MethodPost {
			var body jsontext.Value
			if err := json.UnmarshalRead(r.Body, &body); err != nil {
				body = jsontext.Value("null")
			}
			writeJSON(w, http.StatusOK, map[string]any{"result": body, "status": "ok"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payload": []any{}})
	}
}

func (p *Platform) handleStream(w http.ResponseWriter, r *http.Request) {
	if !p.checkApp(w, r) {
		return
	}
	if _, ok := p.account(r.URL.Query().Get("sessionID")); !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"msg": "forbidden"})
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/good/api/v5/stream/")
	p.mu.Lock()
	events, ok := p.streams[key]
	p.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"msg": "no such stream"})
		return
	}
	io.Copy(io.Discard, r.Body)

	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range events {
		if ev.Delay > 0 {
			select {
			case <-time.After(ev.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if ev.Event != "" {
			fmt.Fprintf(w, "event: %s\n", ev.Event)
		}
		for _, line := range strings.Split(ev.Data, "\n") {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}
}

func (p *Platform) handleUpload(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, ok := p.account(sessionID); !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"msg": "forbidden"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": err.Error()})
		return
	}
	path := "/files/" + uuid.NewString() + "/" + header.Filename
	p.mu.Lock()
	p.uploads[path] = data
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"result": []any{map[string]any{"file": map[string]any{
			"urlLink":  p.Server.URL + path,
			"fileName": header.Filename,
			"fileSize": len(data),
			"fileType": header.Header.Get("Content-Type"),
		}}},
		"status": "ok",
	})
}

func (p *Platform) handleFile(w http.ResponseWriter, r *http.Request) {
	data, ok := p.Upload(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}
