package dashkit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/marrasen/dashkit/platform"
)

// GetResponse is the outcome of a structure read.
type GetResponse struct {
	Success        bool
	Data           []jsontext.Value
	PageInfo       *platform.PageInfo
	Error          string
	SessionExpired bool
}

// Decode unmarshals Data into v, which must point to a slice.
func (r *GetResponse) Decode(v any) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PostResponse is the outcome of a structure write.
type PostResponse struct {
	Success        bool
	Data           jsontext.Value
	Status         string
	Error          string
	SessionExpired bool
}

// Decode unmarshals Data into v.
func (r *PostResponse) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// FetcherConfig wires a Fetcher to its collaborators.
type FetcherConfig struct {
	// API reaches structure endpoints and uploads.
	API *platform.Client
	// StreamAPI reaches the streaming proxy. Defaults to API.
	StreamAPI *platform.Client
	Sessions  *SessionCache
	Expiry    *ExpiryChecker
	// Alerts receives user-visible error notifications.
	Alerts *Bus[Alert]
	Logger *log.Logger
}

// Fetcher issues authenticated calls to the platform. Every operation returns
// a response struct instead of an error; callers branch on Success.
type Fetcher struct {
	api        *platform.Client
	streamAPI  *platform.Client
	sessions   *SessionCache
	expiry     *ExpiryChecker
	alerts     *Bus[Alert]
	logger     *log.Logger
	middleware []Middleware
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		api:       cfg.API,
		streamAPI: cfg.StreamAPI,
		sessions:  cfg.Sessions,
		expiry:    cfg.Expiry,
		alerts:    cfg.Alerts,
		logger:    cfg.Logger,
	}
	if f.streamAPI == nil {
		f.streamAPI = f.api
	}
	if f.alerts == nil {
		f.alerts = NewBus[Alert]()
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	return f
}

// Use adds middleware to the chain. Middleware is executed in the order it is
// added. Use must not be called concurrently with requests.
func (f *Fetcher) Use(mw ...Middleware) {
	f.middleware = append(f.middleware, mw...)
}

// Sessions returns the session cache the fetcher reads from.
func (f *Fetcher) Sessions() *SessionCache {
	return f.sessions
}

func (f *Fetcher) newRequest(ctx context.Context, op, structure, endpoint string, params url.Values, body any) *Request {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if token, ok := f.sessions.Token(ctx); ok {
		q.Set("sessionID", token)
	}
	return &Request{Op: op, Structure: structure, Endpoint: endpoint, Params: q, Body: body}
}

func (f *Fetcher) do(ctx context.Context, req *Request) (any, error) {
	return chain(f.call, f.middleware)(withRequest(ctx, req), req)
}

// call is the innermost handler.
func (f *Fetcher) call(ctx context.Context, req *Request) (any, error) {
	switch req.Op {
	case OpGet:
		return f.api.GetData(ctx, req.Structure, req.Endpoint, req.Params)
	case OpPost:
		return f.api.SetData(ctx, req.Structure, req.Endpoint, req.Body, req.Params)
	case OpStream:
		return f.streamAPI.OpenStream(ctx, req.Structure, req.Endpoint, req.Body, req.Params)
	case OpUpload:
		u := req.Body.(*uploadBody)
		return f.api.Upload(ctx, req.Params.Get("sessionID"), u.filename, u.r, u.progress)
	}
	return nil, fmt.Errorf("dashkit: unknown operation %q", req.Op)
}

// showError publishes an error alert.
func (f *Fetcher) showError(message string, status int, target string) {
	title := "Error"
	if status != 0 {
		title = fmt.Sprintf("Error %d", status)
	}
	desc := message
	if target != "" {
		desc = fmt.Sprintf("%s (%s)", message, target)
	}
	f.alerts.Publish(Alert{
		Variant:     VariantDestructive,
		Title:       title,
		Description: desc,
		Icon:        "AlertCircle",
	})
}

// fail applies the shared failure policy: a 403 triggers the expiry check and
// a confirmed expiry is reported without an alert; any other HTTP error is
// shown unless the call is silent; transport failures leave the session alone.
func (f *Fetcher) fail(ctx context.Context, req *Request, err error, fallback string) (string, bool) {
	status := platform.StatusCode(err)
	if status == http.StatusForbidden && f.expiry != nil && f.expiry.Check(ctx) {
		return MsgSessionExpired, true
	}
	msg := errorMessage(err, fallback)
	if !IsSilent(ctx) && status >= 400 {
		f.showError(msg, status, req.Target())
	}
	f.logger.Printf("dashkit: %s %s error: %v", req.Op, req.Target(), err)
	return msg, false
}

// Get reads from structure/endpoint.
func (f *Fetcher) Get(ctx context.Context, structure, endpoint string, params url.Values) *GetResponse {
	req := f.newRequest(ctx, OpGet, structure, endpoint, params, nil)
	res, err := f.do(ctx, req)
	if err != nil {
		msg, expired := f.fail(ctx, req, err, MsgRequestFailed)
		return &GetResponse{Error: msg, SessionExpired: expired}
	}
	r := res.(*platform.GetResult)
	data := r.Payload
	if data == nil {
		data = []jsontext.Value{}
	}
	return &GetResponse{Success: true, Data: data, PageInfo: r.PageInfo}
}

// Post writes payload to structure/endpoint.
func (f *Fetcher) Post(ctx context.Context, structure, endpoint string, payload any, params url.Values) *PostResponse {
	if payload == nil {
		payload = map[string]any{}
	}
	req := f.newRequest(ctx, OpPost, structure, endpoint, params, payload)
	res, err := f.do(ctx, req)
	if err != nil {
		msg, expired := f.fail(ctx, req, err, MsgRequestFailed)
		return &PostResponse{Error: msg, SessionExpired: expired}
	}
	r := res.(*platform.SetResult)
	return &PostResponse{Success: true, Data: r.Result, Status: r.Status}
}

// CheckSession asks the platform whether the current session is valid.
// success is false only when the check itself could not be performed.
func (f *Fetcher) CheckSession(ctx context.Context) (success, authorized bool) {
	token, ok := f.sessions.Token(ctx)
	if !ok {
		return true, false
	}
	res, err := f.api.Check(ctx, token)
	if err != nil {
		f.logger.Printf("dashkit: check session: %v", err)
		return false, false
	}
	return true, res.Result
}

// ReadProfile reads the signed-in user's profile record.
func (f *Fetcher) ReadProfile(ctx context.Context, params url.Values) *GetResponse {
	return f.Get(ctx, "WebUser", "profile", params)
}

// UpdateProfile writes profile fields.
func (f *Fetcher) UpdateProfile(ctx context.Context, payload any, params url.Values) *PostResponse {
	return f.Post(ctx, "WebUser", "profile", payload, params)
}

// MagicLinkRequest asks the platform to email a sign-in link.
func (f *Fetcher) MagicLinkRequest(ctx context.Context, payload any, params url.Values) *PostResponse {
	return f.Post(ctx, "magic_link_link_request", "magicLinkRequest", payload, params)
}

// ResetPassword asks the platform to email a password reset link.
func (f *Fetcher) ResetPassword(ctx context.Context, payload any, params url.Values) *PostResponse {
	return f.Post(ctx, "ResetPasswordRequest", "resetPass", payload, params)
}

// NewPassword sets a new password using the token from a reset email.
func (f *Fetcher) NewPassword(ctx context.Context, payload any, params url.Values) *PostResponse {
	return f.Post(ctx, "reset_password_inputs", "resetPassword", payload, params)
}

// PostUserAction sends a named user action. It is the single entry point for
// user-initiated commands handled by platform scenarios.
func (f *Fetcher) PostUserAction(ctx context.Context, action string, payload any, params url.Values) *PostResponse {
	if payload == nil {
		payload = map[string]any{}
	}
	body := map[string]any{"action": action, "payload": payload}
	return f.Post(ctx, "user_actions", "postUserActions", body, params)
}
