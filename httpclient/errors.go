package httpclient

import (
	"errors"
	"fmt"
)

// ErrResumeUnsupported is returned when a resumed request is answered with
// the whole resource instead of the requested range.
var ErrResumeUnsupported = errors.New("httpclient: server does not support resume")

// StatusError reports a response status the client cannot use.
type StatusError struct {
	// Method is "GET" or "CONNECT".
	Method string
	URL    string
	Code   int
	Status string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: %s %s: %s", e.Method, e.URL, e.Status)
}
