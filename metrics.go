package fetch

import "time"

// MetricsCollector is an optional interface for collecting client metrics.
// Implementations can forward them to Prometheus, StatsD and the like.
//
// Methods are called synchronously from the transfer path and should not
// block.
type MetricsCollector interface {
	// RecordCommand records a protocol command (e.g. "RETR") and whether
	// the server accepted it.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordConnection records a connection attempt to addr.
	RecordConnection(success bool, addr string)

	// RecordTransfer records a finished transfer for the given scheme.
	RecordTransfer(scheme string, bytes int64, duration time.Duration)
}
