package dashkit

import (
	"log"

	"github.com/go-json-experiment/json/jsontext"
)

// EventRouter is the application-wide wildcard listener. It turns inbound
// realtime events into alerts and data-refresh signals.
type EventRouter struct {
	alerts  *Bus[Alert]
	refresh *Bus[jsontext.Value]
	logger  *log.Logger
}

// NewEventRouter creates a router publishing to the given buses.
func NewEventRouter(alerts *Bus[Alert], refresh *Bus[jsontext.Value], logger *log.Logger) *EventRouter {
	if logger == nil {
		logger = log.Default()
	}
	return &EventRouter{alerts: alerts, refresh: refresh, logger: logger}
}

// Attach installs the router as a wildcard subscriber on rt and returns a
// function that removes it.
func (er *EventRouter) Attach(rt *Realtime) (detach func()) {
	sub := rt.OnAny(er.Route)
	return func() { rt.OffAny(sub) }
}

// Route handles one already-split event. Malformed alerts are logged and
// dropped; unknown events are ignored.
func (er *EventRouter) Route(event string, data jsontext.Value) {
	switch event {
	case EventAlert:
		a, err := ParseAlert(data)
		if err != nil {
			er.logger.Printf("dashkit: realtime: dropping alert: %v", err)
			return
		}
		er.alerts.Publish(a)
	case EventRefresh:
		er.refresh.Publish(data)
	}
}
