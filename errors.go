package fetch

import (
	"errors"
	"fmt"
)

// ErrNoEngine is returned when a URL's scheme has no registered engine.
var ErrNoEngine = errors.New("fetch: no engine registered for scheme")

// ParseError reports a URL that could not be parsed.
type ParseError struct {
	URL    string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("fetch: %s: %s", e.Reason, e.URL)
}

// TransferError reports a failed read from the source or write to the
// destination while copying. EOF on the source is never a TransferError.
type TransferError struct {
	// Op is "read" or "write".
	Op string

	// Offset is the destination offset when the failure happened.
	Offset int64

	Err error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	return fmt.Sprintf("fetch: %s failed at offset %d: %v", e.Op, e.Offset, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *TransferError) Unwrap() error {
	return e.Err
}
