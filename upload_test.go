package dashkit

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestUploadReportsMonotonicProgress(t *testing.T) {
	h := newHarness(t)
	data := bytes.Repeat([]byte("0123456789abcdef"), 2<<20/16)

	var mu sync.Mutex
	var progress []int
	res := h.fetcher.Upload(context.Background(), "report.bin", bytes.NewReader(data), func(pct int) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, pct)
	})
	if !res.Success {
		t.Fatalf("Upload failed: %s", res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) < 2 {
		t.Fatalf("progress = %v, want several updates", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("progress not increasing at %d: %v", i, progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("last progress = %d, want 100", progress[len(progress)-1])
	}
	for _, p := range progress[:len(progress)-1] {
		if p >= 100 {
			t.Errorf("100 reported before the upload was confirmed: %v", progress)
			break
		}
	}

	if res.Data == nil || res.Data.URLLink == "" {
		t.Fatalf("data = %+v", res.Data)
	}
	resp, err := http.Get(res.Data.URLLink)
	if err != nil {
		t.Fatalf("GET stored file failed: %v", err)
	}
	defer resp.Body.Close()
	stored, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(stored, data) {
		t.Errorf("stored %d bytes, want %d", len(stored), len(data))
	}
	if res.Data.FileName != "report.bin" {
		t.Errorf("fileName = %q", res.Data.FileName)
	}
}

func TestUploadWithoutProgress(t *testing.T) {
	h := newHarness(t)

	res := h.fetcher.Upload(context.Background(), "a.txt", strings.NewReader("hello"), nil)
	if !res.Success || res.Status != "ok" {
		t.Fatalf("res = %+v", res)
	}
}

func TestUploadForbiddenExpired(t *testing.T) {
	h := newHarness(t)
	h.p.ExpireSession(h.sid)

	var last atomic.Int32
	res := h.fetcher.Upload(context.Background(), "a.txt", strings.NewReader("hello"), func(p int) { last.Store(int32(p)) })
	if res.Success || !res.SessionExpired {
		t.Fatalf("res = %+v", res)
	}
	if last.Load() == 100 {
		t.Error("failed upload reported 100%")
	}
	if h.expired.Load() != 1 {
		t.Errorf("expired signals = %d, want 1", h.expired.Load())
	}
	if len(h.alerts.all()) != 0 {
		t.Error("expired session raised an alert")
	}
}

func TestUploadBadResponse(t *testing.T) {
	h := newHarness(t)
	h.p.Override("file_links", "uploadFiles", func(*http.Request, string) (int, any) {
		return http.StatusOK, map[string]any{"result": []any{}, "status": "ok"}
	})

	res := h.fetcher.Upload(context.Background(), "a.txt", strings.NewReader("hello"), nil)
	if res.Success || !strings.Contains(res.Error, "no file link") {
		t.Fatalf("res = %+v", res)
	}
	if len(h.alerts.all()) != 0 {
		t.Error("malformed response raised an alert")
	}
}

func TestProgressTracker(t *testing.T) {
	var got []int
	p := newProgressTracker(func(pct int) { got = append(got, pct) })
	p.bytes(0, 0)
	p.bytes(10, 100)
	p.bytes(10, 100)
	p.bytes(5, 100)
	p.bytes(100, 100)
	p.complete()
	p.complete()

	want := []int{10, 99, 100}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
