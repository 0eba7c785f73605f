// Package gateway is the same-origin server half of the dashboard: it keeps
// the platform session in an HTTP-only cookie, exposes the /api/auth routes,
// proxies server-sent-event streams and rewrites /good/api/ to the platform.
package gateway

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/mux"

	"github.com/marrasen/dashkit/platform"
)

// DefaultCookieName is the session cookie used when Options leaves it empty.
const DefaultCookieName = "app_session"

// DefaultSessionTTL is the session cookie lifetime.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Options configures a Gateway.
type Options struct {
	// StreamHost is the platform host serving /good/api/v5/stream.
	// Default: the API client's base URL.
	StreamHost string
	// StreamClient performs proxied stream requests. It must not carry a
	// whole-request timeout. Default: a client with no timeout.
	StreamClient *http.Client
	CookieName   string
	SessionTTL   time.Duration
	// Secure marks the session cookie Secure (production).
	Secure bool
	Logger *log.Logger
}

// Gateway serves the same-origin HTTP surface.
type Gateway struct {
	api     *platform.Client
	options Options
	router  *mux.Router
	proxy   *httputil.ReverseProxy
	logger  *log.Logger
}

// New creates a gateway backed by api.
func New(api *platform.Client, opts Options) *Gateway {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.StreamHost == "" {
		opts.StreamHost = api.BaseURL()
	}
	opts.StreamHost = strings.TrimRight(opts.StreamHost, "/")
	if opts.StreamClient == nil {
		opts.StreamClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	g := &Gateway{
		api:     api,
		options: opts,
		logger:  opts.Logger,
	}
	g.proxy = g.newRewriteProxy()
	g.router = g.routes()
	return g
}

func (g *Gateway) routes() *mux.Router {
	r := mux.NewRouter()

	// Root-level routes: a mux subrouter answers a method mismatch with 404.
	r.HandleFunc("/api/auth/session", g.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/login", g.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/register", g.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/magic", g.handleMagic).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", g.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/check", g.handleCheck).Methods(http.MethodGet)

	r.HandleFunc("/api/good/api/v5/stream/{path:.+}", g.handleStream).Methods(http.MethodPost)
	r.PathPrefix("/good/api/").Handler(g.proxy)
	return r
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// newRewriteProxy forwards /good/api/* unchanged to the platform API host.
func (g *Gateway) newRewriteProxy() *httputil.ReverseProxy {
	target, err := url.Parse(g.api.BaseURL())
	if err != nil {
		g.logger.Printf("gateway: bad API host %q: %v", g.api.BaseURL(), err)
		target = &url.URL{}
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.Printf("gateway: proxy %s: %v", r.URL.Path, err)
			writeJSON(w, http.StatusBadGateway, errorReply{Error: "Proxy error"})
		},
	}
}

func (g *Gateway) sessionID(r *http.Request) string {
	c, err := r.Cookie(g.options.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (g *Gateway) setSession(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.options.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(g.options.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   g.options.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (g *Gateway) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.options.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.options.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

type errorReply struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.MarshalWrite(w, v)
}
