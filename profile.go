package dashkit

import (
	"context"
	"log"
	"sync"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/marrasen/dashkit/platform"
)

// ProfileUpdate carries the profile fields to change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Userpic   *string `json:"userpic,omitempty"`
}

// Profiles caches the signed-in user's profile. The platform copy is the
// source of truth: every successful update is followed by a re-fetch.
type Profiles struct {
	fetcher *Fetcher
	logger  *log.Logger

	mu      sync.RWMutex
	profile *platform.Profile
	err     string
}

// NewProfiles creates an empty profile store.
func NewProfiles(f *Fetcher, logger *log.Logger) *Profiles {
	if logger == nil {
		logger = log.Default()
	}
	return &Profiles{fetcher: f, logger: logger}
}

// Attach keeps the store in step with the application: a refresh signal
// re-fetches silently, a new user triggers a fetch and sign-out clears it.
func (p *Profiles) Attach(refresh *Bus[jsontext.Value], users *Bus[*platform.User]) (detach func()) {
	offRefresh := refresh.Subscribe(func(jsontext.Value) {
		p.Refresh(WithSilent(context.Background()))
	})
	offUsers := users.Subscribe(func(u *platform.User) {
		if u == nil {
			p.Clear()
			return
		}
		p.Refresh(WithSilent(context.Background()))
	})
	return func() {
		offRefresh()
		offUsers()
	}
}

// Refresh reads the profile from the platform.
func (p *Profiles) Refresh(ctx context.Context) (*platform.Profile, bool) {
	res := p.fetcher.ReadProfile(ctx, nil)
	if !res.Success {
		p.setErr(res.Error)
		p.logger.Printf("dashkit: profile refresh: %s", res.Error)
		return nil, false
	}
	if len(res.Data) == 0 {
		p.setErr("profile not found")
		return nil, false
	}
	prof, err := platform.NormalizeProfile(res.Data[0])
	if err != nil {
		p.setErr(err.Error())
		p.logger.Printf("dashkit: profile refresh: %v", err)
		return nil, false
	}

	p.mu.Lock()
	p.profile = &prof
	p.err = ""
	p.mu.Unlock()
	return &prof, true
}

// Update writes fields to the platform and re-fetches the profile.
func (p *Profiles) Update(ctx context.Context, upd ProfileUpdate) *PostResponse {
	payload := map[string]any{}
	if cur := p.Profile(); cur != nil {
		payload["id"] = cur.ID
	}
	if upd.FirstName != nil {
		payload["firstName"] = *upd.FirstName
	}
	if upd.LastName != nil {
		payload["lastName"] = *upd.LastName
	}
	if upd.Userpic != nil {
		payload["userpic"] = *upd.Userpic
	}

	res := p.fetcher.UpdateProfile(ctx, payload, nil)
	if !res.Success {
		return res
	}
	p.Refresh(WithSilent(ctx))
	return res
}

// Profile returns the cached profile, or nil.
func (p *Profiles) Profile() *platform.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile
}

// Err returns the last refresh error, if any.
func (p *Profiles) Err() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Clear drops the cached profile.
func (p *Profiles) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = nil
	p.err = ""
}

func (p *Profiles) setErr(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = msg
}
