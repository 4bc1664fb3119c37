package ftp

import (
	"errors"
	"fmt"
)

// ErrNoDataConn is returned when neither passive nor active negotiation
// produced a data connection.
var ErrNoDataConn = errors.New("ftp: failed to establish data connection")

// ProtocolError reports a reply of the wrong kind for the command that was
// sent, with the full command/reply context.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "RETR")
	Command string

	// Response is the full reply text received from the server
	Response string

	// Code is the numeric reply code (e.g., 550)
	Code int

	// Kind is the class of the reply
	Kind ReplyKind
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the error is a transient negative reply (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Kind == TransientNegative
}

// IsPermanent returns true if the error is a permanent negative reply (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Kind == PermanentNegative
}

// ReplyError reports a reply that could not be parsed at all.
type ReplyError struct {
	// Line is the offending line, without its line terminator
	Line string

	// Reason says what was wrong with it
	Reason string
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("ftp: malformed reply %q: %s", e.Line, e.Reason)
}
