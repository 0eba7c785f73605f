package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
)

// FileData describes a stored file. URLLink is opaque to callers.
type FileData struct {
	URLLink  string `json:"urlLink"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// UploadResult is the decoded upload response.
type UploadResult struct {
	File   *FileData
	Status string
}

type uploadEnvelope struct {
	Result []struct {
		File *FileData `json:"file"`
	} `json:"result"`
	Status string `json:"status"`
}

// ErrBadUploadResponse is returned when a 2xx upload response cannot be parsed.
var ErrBadUploadResponse = errors.New("platform: malformed upload response")

// ProgressFunc receives the number of request bytes written so far and the
// total request size.
type ProgressFunc func(sent, total int64)

// Upload posts r as a multipart "file" field. The session travels in the query
// string because the upload endpoint is reached directly rather than through
// the authenticated wrapper.
func (c *Client) Upload(ctx context.Context, sessionID, filename string, r io.Reader, progress ProgressFunc) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("platform: read upload source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	total := int64(buf.Len())
	var body io.Reader = &buf
	if progress != nil {
		body = &countingReader{r: &buf, total: total, fn: progress}
	}

	params := url.Values{"sessionID": {sessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(dataPath("file_links", "uploadFiles"), params), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readHTTPError(resp)
	}

	var env uploadEnvelope
	if err := json.UnmarshalRead(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUploadResponse, err)
	}
	if len(env.Result) == 0 || env.Result[0].File == nil || env.Result[0].File.URLLink == "" {
		return nil, fmt.Errorf("%w: no file link", ErrBadUploadResponse)
	}
	return &UploadResult{File: env.Result[0].File, Status: env.Status}, nil
}

// countingReader reports cumulative bytes as the transport drains the body.
type countingReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.sent += int64(n)
		cr.fn(cr.sent, cr.total)
	}
	return n, err
}
