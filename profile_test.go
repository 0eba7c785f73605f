package dashkit

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/marrasen/dashkit/platform"
)

func TestProfilesRefreshNormalizes(t *testing.T) {
	h := newHarness(t)
	h.p.AddAccount("bo@example.com", "pw", map[string]any{
		"first_name": "Bo",
		"last_name":  "Lind",
		"avatar":     "https://img/bo.png",
	})
	h.setSID(h.p.IssueSession("bo@example.com"))

	ps := NewProfiles(h.fetcher, quietLogger())
	prof, ok := ps.Refresh(context.Background())
	if !ok {
		t.Fatalf("Refresh failed: %s", ps.Err())
	}
	want := platform.Profile{ID: "bo@example.com", FirstName: "Bo", LastName: "Lind", Userpic: "https://img/bo.png"}
	if *prof != want {
		t.Errorf("profile = %+v, want %+v", *prof, want)
	}
	if ps.Profile() == nil || *ps.Profile() != want {
		t.Error("profile not cached")
	}
}

func TestProfilesUpdateRefetches(t *testing.T) {
	h := newHarness(t)
	ps := NewProfiles(h.fetcher, quietLogger())
	if _, ok := ps.Refresh(context.Background()); !ok {
		t.Fatalf("Refresh failed: %s", ps.Err())
	}

	name := "Annie"
	pic := "https://img/annie.png"
	res := ps.Update(context.Background(), ProfileUpdate{FirstName: &name, Userpic: &pic})
	if !res.Success {
		t.Fatalf("Update failed: %s", res.Error)
	}
	got := ps.Profile()
	if got == nil || got.FirstName != "Annie" || got.Userpic != pic {
		t.Errorf("profile after update = %+v", got)
	}
	if got.ID != "ann@example.com" {
		t.Errorf("id = %q", got.ID)
	}
}

func TestProfilesRefreshFailure(t *testing.T) {
	h := newHarness(t)
	h.p.Override("WebUser", "profile", func(*http.Request, string) (int, any) {
		return http.StatusInternalServerError, map[string]string{"msg": "down"}
	})
	ps := NewProfiles(h.fetcher, quietLogger())

	if _, ok := ps.Refresh(WithSilent(context.Background())); ok {
		t.Fatal("expected failure")
	}
	if ps.Err() != "down" {
		t.Errorf("Err = %q", ps.Err())
	}
	if len(h.alerts.all()) != 0 {
		t.Error("silent refresh raised an alert")
	}
}

func TestProfilesAttach(t *testing.T) {
	h := newHarness(t)
	ps := NewProfiles(h.fetcher, quietLogger())
	refresh := NewBus[jsontext.Value]()
	users := NewBus[*platform.User]()
	detach := ps.Attach(refresh, users)
	defer detach()

	users.Publish(&platform.User{ID: "ann@example.com"})
	if ps.Profile() == nil || ps.Profile().FirstName != "Ann" {
		t.Fatalf("profile after sign-in = %+v", ps.Profile())
	}

	h.p.Override("WebUser", "profile", func(*http.Request, string) (int, any) {
		return http.StatusOK, map[string]any{"payload": []any{map[string]any{"id": "ann@example.com", "firstName": "Changed"}}}
	})
	refresh.Publish(jsontext.Value(`{}`))
	if ps.Profile().FirstName != "Changed" {
		t.Errorf("profile after refresh = %+v", ps.Profile())
	}

	users.Publish(nil)
	if ps.Profile() != nil {
		t.Error("sign-out did not clear the profile")
	}
}
