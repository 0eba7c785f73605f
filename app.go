// Package dashkit is the session-aware client layer of a dashboard that
// delegates storage and auth to a remote platform. It caches the session
// token, recovers from authorization failures, streams server-sent events,
// uploads files and fans realtime events out to alerts and data refreshes.
//
// A single App is constructed at start-up and passed to every consumer.
package dashkit

import (
	"context"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"

	"github.com/marrasen/dashkit/platform"
)

// Config configures an App.
type Config struct {
	// GatewayURL is the same-origin gateway serving /api/auth/* and
	// rewriting /good/api/* to the platform.
	GatewayURL string
	// StreamURL is the base of the streaming proxy. Default: GatewayURL + "/api".
	StreamURL string
	// RealtimeURL is the realtime channel endpoint.
	RealtimeURL string
	AppID       string
	// HTTPClient must carry a cookie jar. Default: a client with a fresh jar.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	// AlertTTL is how long alerts stay on the board. Default: 5s.
	AlertTTL   time.Duration
	Middleware []Middleware
	Logger     *log.Logger
}

// App owns every client-side component and the buses that connect them.
type App struct {
	Sessions *SessionCache
	Expiry   *ExpiryChecker
	Fetcher  *Fetcher
	Realtime *Realtime
	Router   *EventRouter
	Board    *AlertBoard
	Auth     *Auth
	Profiles *Profiles

	Alerts         *Bus[Alert]
	Refresh        *Bus[jsontext.Value]
	SessionExpired *Bus[struct{}]
	Users          *Bus[*platform.User]

	mu       sync.Mutex
	detaches []func()
	started  bool
}

// New builds an App. Nothing touches the network until Start or the first
// call through one of its components.
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		jar, _ := cookiejar.New(nil)
		hc = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	gateway := strings.TrimRight(cfg.GatewayURL, "/")
	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = gateway + "/api"
	}
	// Streams outlive any fixed client timeout.
	streamHC := &http.Client{Jar: hc.Jar, Transport: hc.Transport}

	a := &App{
		Alerts:         NewBus[Alert](),
		Refresh:        NewBus[jsontext.Value](),
		SessionExpired: NewBus[struct{}](),
		Users:          NewBus[*platform.User](),
	}

	api := platform.New(gateway, cfg.AppID, platform.WithHTTPClient(hc))
	streamAPI := platform.New(streamURL, cfg.AppID, platform.WithHTTPClient(streamHC))

	a.Sessions = NewSessionCache(NewEndpointFetcher(gateway, hc))
	a.Expiry = NewExpiryChecker(a.Sessions, func(ctx context.Context, token string) (bool, error) {
		res, err := api.Check(ctx, token)
		if err != nil {
			return false, err
		}
		return res.Result, nil
	}, a.SessionExpired, logger)
	a.Fetcher = NewFetcher(FetcherConfig{
		API:       api,
		StreamAPI: streamAPI,
		Sessions:  a.Sessions,
		Expiry:    a.Expiry,
		Alerts:    a.Alerts,
		Logger:    logger,
	})
	a.Fetcher.Use(cfg.Middleware...)
	a.Realtime = NewRealtime(RealtimeConfig{
		URL:      cfg.RealtimeURL,
		AppID:    cfg.AppID,
		Sessions: a.Sessions,
		Dialer:   cfg.Dialer,
		Logger:   logger,
	})
	a.Router = NewEventRouter(a.Alerts, a.Refresh, logger)
	a.Board = NewAlertBoard(cfg.AlertTTL)
	a.Auth = NewAuth(AuthConfig{
		GatewayURL: gateway,
		HTTPClient: hc,
		Sessions:   a.Sessions,
		Users:      a.Users,
		Logger:     logger,
	})
	a.Profiles = NewProfiles(a.Fetcher, logger)

	a.detaches = append(a.detaches,
		a.Board.Attach(a.Alerts),
		a.Auth.WatchExpiry(a.SessionExpired),
		a.Profiles.Attach(a.Refresh, a.Users),
	)
	return a
}

// Start restores the user from the session cookie and, when signed in,
// connects the realtime channel with the router attached. It reports whether
// the realtime channel is connected.
func (a *App) Start(ctx context.Context) bool {
	a.mu.Lock()
	if !a.started {
		a.started = true
		a.detaches = append(a.detaches, a.Router.Attach(a.Realtime))
	}
	a.mu.Unlock()

	if a.Auth.Check(ctx) == nil {
		return false
	}
	return a.Realtime.Connect(ctx)
}

// Close disconnects the realtime channel and detaches every subscriber.
func (a *App) Close() {
	a.Realtime.Disconnect()

	a.mu.Lock()
	detaches := a.detaches
	a.detaches = nil
	a.started = false
	a.mu.Unlock()
	for _, d := range detaches {
		d()
	}
	a.Board.Clear()
}
