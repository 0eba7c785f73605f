package dashkit

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/marrasen/dashkit/platform"
)

// UploadResponse is the outcome of a file upload.
type UploadResponse struct {
	Success        bool
	Data           *platform.FileData
	Status         string
	Error          string
	SessionExpired bool
}

type uploadBody struct {
	filename string
	r        io.Reader
	progress platform.ProgressFunc
}

// Upload stores the contents of r under filename and returns the stored
// file's URL. When onProgress is non-nil it receives non-decreasing
// percentages, ending with 100 on success.
func (f *Fetcher) Upload(ctx context.Context, filename string, r io.Reader, onProgress ProgressFunc) *UploadResponse {
	body := &uploadBody{filename: filename, r: r}
	var tracker *progressTracker
	if onProgress != nil {
		tracker = newProgressTracker(onProgress)
		body.progress = tracker.bytes
	}
	req := f.newRequest(ctx, OpUpload, "file_links", "uploadFiles", nil, body)

	res, err := f.do(ctx, req)
	if err != nil {
		if errors.Is(err, platform.ErrBadUploadResponse) {
			f.logger.Printf("dashkit: upload: %v", err)
			return &UploadResponse{Error: err.Error()}
		}
		status := platform.StatusCode(err)
		if status == http.StatusForbidden && f.expiry != nil && f.expiry.Check(ctx) {
			return &UploadResponse{Error: MsgSessionExpired, SessionExpired: true}
		}
		msg := errorMessage(err, MsgUploadFailed)
		if status >= 400 && !IsSilent(ctx) {
			f.showError(MsgUploadFailed, status, req.Target())
		}
		f.logger.Printf("dashkit: upload error: %v", err)
		return &UploadResponse{Error: msg}
	}

	out := res.(*platform.UploadResult)
	if tracker != nil {
		tracker.complete()
	}
	return &UploadResponse{Success: true, Data: out.File, Status: out.Status}
}
