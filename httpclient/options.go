package httpclient

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/gonzalop/fetch/internal/ratelimit"
	"github.com/gonzalop/fetch/internal/transport"
)

// DefaultUserAgent is sent when no other agent is configured.
const DefaultUserAgent = "fetch/1.0"

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger. Requests and statuses are logged at debug
// level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithInfoWriter sets the sink for human readable progress notes.
func WithInfoWriter(w io.Writer) Option {
	return func(e *Engine) error {
		e.info = w
		return nil
	}
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		e.connectTimeout = timeout
		return nil
	}
}

// WithTimeout bounds writing the request, reading the response header and
// every body read. Zero waits forever.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		e.timeout = timeout
		return nil
	}
}

// WithNetwork restricts connections to "tcp4" or "tcp6".
func WithNetwork(network string) Option {
	return func(e *Engine) error {
		switch network {
		case "tcp", "tcp4", "tcp6":
			e.network = network
			return nil
		}
		return fmt.Errorf("unsupported network %q", network)
	}
}

// WithDialer sets the dialer used to reach servers and proxies.
func WithDialer(dialer transport.ContextDialer) Option {
	return func(e *Engine) error {
		e.dialer = dialer
		return nil
	}
}

// WithTLSConfig sets the TLS configuration for https. ServerName is filled
// in per request when empty.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(e *Engine) error {
		e.tlsConfig = cfg
		return nil
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(agent string) Option {
	return func(e *Engine) error {
		e.userAgent = agent
		return nil
	}
}

// WithBandwidthLimit caps the body read rate in bytes per second.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(e *Engine) error {
		e.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithMetricsCollector records requests and connection attempts.
func WithMetricsCollector(mc fetch.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = mc
		return nil
	}
}
