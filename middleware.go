package dashkit

import (
	"context"
	"log"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marrasen/dashkit/platform"
)

// Operation kinds carried by Request.
const (
	OpGet    = "get"
	OpPost   = "post"
	OpStream = "stream"
	OpUpload = "upload"
)

// Request describes one call to the platform.
type Request struct {
	Op        string     // OpGet, OpPost, OpStream or OpUpload
	Structure string     // platform structure
	Endpoint  string     // endpoint within the structure
	Params    url.Values // query parameters, including sessionID
	Body      any        // payload for writes
}

// Target returns "structure.endpoint".
func (r *Request) Target() string {
	return r.Structure + "." + r.Endpoint
}

// Handler represents the next step in the middleware chain.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(next Handler) Handler

// chain applies mw so that the first element is outermost.
func chain(final Handler, mw []Middleware) Handler {
	h := final
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// LoggingMiddleware logs every platform call with its duration and status.
func LoggingMiddleware(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			if err != nil {
				logger.Printf("dashkit: %s %s failed after %v: %v", req.Op, req.Target(), time.Since(start), err)
			} else {
				logger.Printf("dashkit: %s %s ok in %v", req.Op, req.Target(), time.Since(start))
			}
			return result, err
		}
	}
}

// TracingMiddleware records a span per platform call. A nil provider uses the
// global one.
func TracingMiddleware(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer("github.com/marrasen/dashkit")
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			ctx, span := tracer.Start(ctx, "dashkit."+req.Op,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("dashkit.structure", req.Structure),
					attribute.String("dashkit.endpoint", req.Endpoint),
				))
			defer span.End()

			result, err := next(ctx, req)
			if err != nil {
				if status := platform.StatusCode(err); status != 0 {
					span.SetAttributes(attribute.Int("http.response.status_code", status))
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}
