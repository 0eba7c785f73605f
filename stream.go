package dashkit

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

// StreamEvent is one server-sent event. Event is empty for unnamed events.
type StreamEvent struct {
	Event string
	Data  string
	ID    string
}

// StreamCallbacks receive the events of one stream. OnData is called once per
// event in arrival order. Exactly one of OnError and OnComplete is called
// when the stream ends, unless it was aborted.
type StreamCallbacks struct {
	OnData     func(ev StreamEvent)
	OnError    func(err error)
	OnComplete func()
}

// StreamResponse is the outcome of starting a stream.
type StreamResponse struct {
	Success        bool
	Stream         *Stream
	Error          string
	SessionExpired bool
}

// Stream is a handle on a running stream, owned by the caller that started it.
type Stream struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted atomic.Bool
	err     error
	once    sync.Once
}

// Abort stops delivery immediately. No further callbacks run, including the
// terminal ones. Abort is safe to call more than once and after the stream
// has finished.
func (s *Stream) Abort() {
	s.once.Do(func() {
		s.aborted.Store(true)
		s.cancel()
	})
}

// Done is closed when the stream has terminated for any reason.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream terminates and returns its error, if any. An
// aborted stream returns context.Canceled.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Stream opens a server-sent-event stream on structure/endpoint and delivers
// events to cb on a background goroutine. Initiation failures follow the same
// authorization policy as Get and Post.
func (f *Fetcher) Stream(ctx context.Context, structure, endpoint string, payload any, cb StreamCallbacks, params url.Values) *StreamResponse {
	if payload == nil {
		payload = map[string]any{}
	}
	req := f.newRequest(ctx, OpStream, structure, endpoint, params, payload)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	res, err := f.do(streamCtx, req)
	if err != nil {
		cancel()
		msg, expired := f.fail(ctx, req, err, MsgStreamFailed)
		return &StreamResponse{Error: msg, SessionExpired: expired}
	}
	resp := res.(*http.Response)

	s := &Stream{cancel: cancel, done: make(chan struct{})}
	silent := IsSilent(ctx)
	go f.pump(s, resp, req, cb, silent)
	return &StreamResponse{Success: true, Stream: s}
}

func (f *Fetcher) pump(s *Stream, resp *http.Response, req *Request, cb StreamCallbacks, silent bool) {
	defer close(s.done)
	defer s.cancel()
	defer resp.Body.Close()

	err := readEvents(resp.Body, func(ev StreamEvent) bool {
		if s.aborted.Load() {
			return false
		}
		if cb.OnData != nil {
			cb.OnData(ev)
		}
		return true
	})

	if s.aborted.Load() {
		s.err = context.Canceled
		return
	}
	if err != nil {
		s.err = err
		f.logger.Printf("dashkit: stream %s error: %v", req.Target(), err)
		if !silent {
			f.showError(errorMessage(err, MsgStreamFailed), 0, req.Target())
		}
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if cb.OnComplete != nil {
		cb.OnComplete()
	}
}

// errStopped is returned by readEvents when emit asked to stop.
var errStopped = errors.New("stream stopped")

// readEvents parses text/event-stream framing from r and calls emit for every
// complete event. It returns nil on a clean end of stream.
func readEvents(r io.Reader, emit func(StreamEvent) bool) error {
	br := bufio.NewReader(r)
	var (
		ev      StreamEvent
		data    []string
		pending bool
	)
	dispatch := func() bool {
		if !pending {
			return true
		}
		ev.Data = strings.Join(data, "\n")
		ok := emit(ev)
		ev, data, pending = StreamEvent{}, nil, false
		return ok
	}

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 || err == nil {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if !dispatch() {
					return errStopped
				}
			case strings.HasPrefix(line, ":"):
				// comment / keep-alive
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					ev.Event = value
					pending = true
				case "data":
					data = append(data, value)
					pending = true
				case "id":
					ev.ID = value
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !dispatch() {
					return errStopped
				}
				return nil
			}
			return err
		}
	}
}
