package gateway

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// flushWriter forwards bytes to an http.ResponseWriter and flushes after
// every write so each upstream chunk reaches the browser as it arrives.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

func newFlushWriter(w http.ResponseWriter, flusher http.Flusher) *flushWriter {
	return &flushWriter{w: w, flusher: flusher}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := f.w.Write(p)
	f.flusher.Flush()
	return n, err
}

func (f *flushWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// handleStream proxies a POST to the platform stream endpoint and relays the
// event stream back unbuffered.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "streaming not supported"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.logger.Printf("gateway: stream body: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Proxy error"})
		return
	}

	target := g.options.StreamHost + "/good/api/v5/stream/" + mux.Vars(r)["path"]
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		g.logger.Printf("gateway: stream request: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Proxy error"})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.options.StreamClient.Do(req)
	if err != nil {
		g.logger.Printf("gateway: stream %s: %v", target, err)
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Proxy error"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fw := newFlushWriter(w, flusher)
	defer fw.Close()
	if _, err := io.CopyBuffer(fw, resp.Body, make([]byte, 32<<10)); err != nil && r.Context().Err() == nil {
		g.logger.Printf("gateway: stream %s: %v", target, err)
	}
}
