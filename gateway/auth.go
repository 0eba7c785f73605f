package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/marrasen/dashkit/platform"
)

type sessionReply struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionID,omitempty"`
	Error     string `json:"error,omitempty"`
}

type userReply struct {
	Success bool           `json:"success"`
	User    *platform.User `json:"user,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func failReply(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, userReply{Error: msg})
}

// handleSession hands the cookie-held session token to same-origin code.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	sid := g.sessionID(r)
	if sid == "" {
		writeJSON(w, http.StatusUnauthorized, sessionReply{Error: "no session"})
		return
	}
	writeJSON(w, http.StatusOK, sessionReply{Success: true, SessionID: sid})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.UnmarshalRead(r.Body, &body); err != nil || body.Email == "" || body.Password == "" {
		failReply(w, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := g.api.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		g.logger.Printf("gateway: login %s: %v", body.Email, err)
		failReply(w, http.StatusUnauthorized, authMessage(err, "invalid email or password"))
		return
	}
	g.signedIn(w, res)
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.UnmarshalRead(r.Body, &body); err != nil || body.Email == "" || body.Password == "" || body.Username == "" {
		failReply(w, http.StatusBadRequest, "email, password and username are required")
		return
	}
	res, err := g.api.Register(r.Context(), body.Email, body.Password, map[string]string{"name": body.Username})
	if err != nil {
		g.logger.Printf("gateway: register %s: %v", body.Email, err)
		failReply(w, http.StatusBadRequest, authMessage(err, "registration failed"))
		return
	}
	g.signedIn(w, res)
}

func (g *Gateway) signedIn(w http.ResponseWriter, res *platform.AuthResult) {
	u, err := platform.MergeUser(platform.IdentityFromAuth(res), nil)
	if err != nil {
		failReply(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.setSession(w, res.SessionID)
	writeJSON(w, http.StatusOK, userReply{Success: true, User: &u})
}

// handleMagic exchanges a one-time magic-link token for a session.
func (g *Gateway) handleMagic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.UnmarshalRead(r.Body, &body); err != nil || body.Token == "" {
		failReply(w, http.StatusBadRequest, "token is required")
		return
	}
	res, err := g.api.SetData(r.Context(), "magic", "magic", map[string]string{"token": body.Token}, nil)
	if err != nil {
		g.logger.Printf("gateway: magic: %v", err)
		failReply(w, http.StatusInternalServerError, "internal error")
		return
	}
	var result string
	json.Unmarshal(res.Result, &result)
	if result != "ok" || res.Token == "" {
		failReply(w, http.StatusUnauthorized, "magic link is invalid or expired")
		return
	}

	u, ok, err := g.lookupUser(r.Context(), res.Token, false)
	if err != nil {
		g.logger.Printf("gateway: magic session: %v", err)
		failReply(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		failReply(w, http.StatusUnauthorized, "magic link is invalid or expired")
		return
	}
	g.setSession(w, res.Token)
	writeJSON(w, http.StatusOK, userReply{Success: true, User: u})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := g.sessionID(r); sid != "" {
		if err := g.api.Logout(r.Context(), sid); err != nil {
			g.logger.Printf("gateway: logout: %v", err)
		}
	}
	g.clearSession(w)
	writeJSON(w, http.StatusOK, userReply{Success: true})
}

// handleCheck validates the cookie session. An empty check result is a dead
// session and clears the cookie; a platform failure keeps it.
func (g *Gateway) handleCheck(w http.ResponseWriter, r *http.Request) {
	sid := g.sessionID(r)
	if sid == "" {
		failReply(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	u, ok, err := g.lookupUser(r.Context(), sid, true)
	if err != nil {
		g.logger.Printf("gateway: check: %v", err)
		failReply(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		g.clearSession(w)
		failReply(w, http.StatusUnauthorized, "session expired")
		return
	}
	writeJSON(w, http.StatusOK, userReply{Success: true, User: u})
}

type sessionRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// lookupUser resolves sessionID to a user through checkSession. When
// withProfile is set the profile record is merged in; its failure is ignored.
func (g *Gateway) lookupUser(ctx context.Context, sessionID string, withProfile bool) (*platform.User, bool, error) {
	params := url.Values{"sessionID": {sessionID}}
	res, err := g.api.GetData(ctx, "WebUserSession", "checkSession", params)
	if err != nil {
		return nil, false, err
	}
	if len(res.Payload) == 0 {
		return nil, false, nil
	}
	var rec sessionRecord
	if err := json.Unmarshal(res.Payload[0], &rec); err != nil {
		return nil, false, err
	}
	id := platform.Identity{ID: rec.ID, Username: rec.Username, Role: rec.Role}

	var profile jsontext.Value
	if withProfile {
		if pres, err := g.api.GetData(ctx, "WebUser", "profile", params); err != nil {
			g.logger.Printf("gateway: profile for %s: %v", rec.ID, err)
		} else if len(pres.Payload) > 0 {
			profile = pres.Payload[0]
		}
	}
	u, err := platform.MergeUser(id, profile)
	if err != nil {
		g.logger.Printf("gateway: profile for %s: %v", rec.ID, err)
		u, _ = platform.MergeUser(id, nil)
	}
	return &u, true, nil
}

func authMessage(err error, fallback string) string {
	var herr *platform.HTTPError
	if errors.As(err, &herr) && herr.Msg != "" {
		return herr.Msg
	}
	return fallback
}
