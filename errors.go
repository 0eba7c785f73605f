package dashkit

import (
	"errors"
	"fmt"

	"github.com/marrasen/dashkit/platform"
)

// Error messages surfaced to callers in response structs.
const (
	MsgSessionExpired = "session expired"
	MsgRequestFailed  = "request failed"
	MsgStreamFailed   = "stream failed"
	MsgUploadFailed   = "file upload failed"
)

var (
	// ErrNotConnected is returned by realtime operations that need a live
	// connection.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrNoSession is returned when no session token can be obtained.
	ErrNoSession = errors.New("no session")
)

// ValidationError reports a missing or malformed field. It is raised before
// any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func errRequired(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "required"}
}

// errorMessage picks the text shown for a failed call: the platform's own
// message when there is one, otherwise the error text, otherwise fallback.
func errorMessage(err error, fallback string) string {
	var herr *platform.HTTPError
	if errors.As(err, &herr) {
		if herr.Msg != "" {
			return herr.Msg
		}
		return herr.Error()
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
