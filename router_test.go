package dashkit

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/go-json-experiment/json/jsontext"
)

func TestEventRouterRoutesAlertsAndRefresh(t *testing.T) {
	alerts := NewBus[Alert]()
	refresh := NewBus[jsontext.Value]()
	var gotAlerts []Alert
	var gotRefresh []string
	alerts.Subscribe(func(a Alert) { gotAlerts = append(gotAlerts, a) })
	refresh.Subscribe(func(v jsontext.Value) { gotRefresh = append(gotRefresh, string(v)) })

	r := NewEventRouter(alerts, refresh, quietLogger())
	r.Route(EventAlert, jsontext.Value(`[{"title":"Hi","type":"success"}]`))
	r.Route(EventRefresh, jsontext.Value(`{"structure":"orders"}`))
	r.Route("something-else", jsontext.Value(`{}`))

	if len(gotAlerts) != 1 || gotAlerts[0].Title != "Hi" || gotAlerts[0].Variant != VariantSuccess {
		t.Errorf("alerts = %+v", gotAlerts)
	}
	if len(gotRefresh) != 1 || gotRefresh[0] != `{"structure":"orders"}` {
		t.Errorf("refresh = %v", gotRefresh)
	}
}

func TestEventRouterDropsMalformedAlert(t *testing.T) {
	alerts := NewBus[Alert]()
	var n int
	alerts.Subscribe(func(Alert) { n++ })

	r := NewEventRouter(alerts, NewBus[jsontext.Value](), quietLogger())
	r.Route(EventAlert, jsontext.Value(`"garbage"`))

	if n != 0 {
		t.Errorf("malformed alert was published")
	}
}

func TestEventRouterAttachedCompound(t *testing.T) {
	h := newHarness(t)
	rt := newTestRealtime(h)
	defer rt.Disconnect()

	alerts := NewBus[Alert]()
	refresh := NewBus[jsontext.Value]()
	var na, nr atomic.Int32
	alerts.Subscribe(func(Alert) { na.Add(1) })
	refresh.Subscribe(func(jsontext.Value) { nr.Add(1) })

	detach := NewEventRouter(alerts, refresh, quietLogger()).Attach(rt)
	if !rt.Connect(context.Background()) {
		t.Fatal("Connect failed")
	}
	waitJoined(t, h)

	h.p.Hub.Broadcast("alert, refresh", jsontext.Value(`{"title":"t"}`))
	waitFor(t, "both sinks", func() bool { return na.Load() == 1 && nr.Load() == 1 })

	detach()
	var done atomic.Bool
	rt.On("done", func(jsontext.Value) { done.Store(true) })
	h.p.Hub.Broadcast("alert", jsontext.Value(`{"title":"u"}`))
	h.p.Hub.Broadcast("done", nil)
	waitFor(t, "done marker", done.Load)
	if na.Load() != 1 {
		t.Errorf("detached router still published: alerts=%d", na.Load())
	}
}

func TestSplitEventNames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"alert", []string{"alert"}},
		{"alert,refresh", []string{"alert", "refresh"}},
		{" alert , refresh ,", []string{"alert", "refresh"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tt := range tests {
		got := SplitEventNames(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("SplitEventNames(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitEventNames(%q) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}
