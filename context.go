package dashkit

import "context"

type contextKey int

const (
	silentKey contextKey = iota
	requestKey
)

// WithSilent marks calls made with the returned context as silent: failures
// are still returned to the caller but no alert is published. Use it for
// expected or benign failures such as a speculative profile fetch.
func WithSilent(ctx context.Context) context.Context {
	return context.WithValue(ctx, silentKey, true)
}

// IsSilent reports whether ctx was marked with WithSilent.
func IsSilent(ctx context.Context) bool {
	v, _ := ctx.Value(silentKey).(bool)
	return v
}

// RequestFromContext returns the Request being executed by the middleware
// chain. Returns nil if not present.
func RequestFromContext(ctx context.Context) *Request {
	if req, ok := ctx.Value(requestKey).(*Request); ok {
		return req
	}
	return nil
}

// withRequest returns a context with the given request.
func withRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}
