package ftp

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/gonzalop/fetch/internal/ratelimit"
	"github.com/gonzalop/fetch/internal/transport"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithTimeout bounds every control-connection command and reply. Zero, the
// default, waits forever.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

// WithConnectTimeout bounds the whole connect attempt across all resolved
// addresses, for both the control and the passive data connection.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.connectTimeout = timeout
		return nil
	}
}

// WithDataTimeout bounds the active-mode accept and every read on the data
// connection. Zero, the default, waits forever.
func WithDataTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.dataTimeout = timeout
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and replies are logged at debug level; the password is
// masked.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftp.Dial(ctx, "ftp.example.com", "21", ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithInfoWriter sets the sink for human readable session output: connect
// attempts, server replies and transfer notes.
func WithInfoWriter(w io.Writer) Option {
	return func(c *Client) error {
		c.info = w
		return nil
	}
}

// WithDebugWriter prints every command sent, prefixed with ">>> ".
func WithDebugWriter(w io.Writer) Option {
	return func(c *Client) error {
		c.debug = w
		return nil
	}
}

// WithDialer sets the dialer used for the control connection and for
// passive data connections.
func WithDialer(dialer transport.ContextDialer) Option {
	return func(c *Client) error {
		c.dialer.Dialer = dialer
		return nil
	}
}

// WithNetwork restricts connections to "tcp4" or "tcp6".
func WithNetwork(network string) Option {
	return func(c *Client) error {
		switch network {
		case "tcp", "tcp4", "tcp6":
			c.dialer.Network = network
			return nil
		}
		return fmt.Errorf("unsupported network %q", network)
	}
}

// WithActiveMode makes the client use EPRT only. By default EPSV is tried
// first and EPRT is the fallback.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithCredentials sets the login name and password. An empty password makes
// the client send an anonymous identity of the form login@hostname.
func WithCredentials(user, password string) Option {
	return func(c *Client) error {
		c.user = user
		c.password = password
		return nil
	}
}

// WithMetricsCollector records command and connection metrics.
func WithMetricsCollector(mc fetch.MetricsCollector) Option {
	return func(c *Client) error {
		c.metrics = mc
		c.dialer.Recorder = mc
		return nil
	}
}

// WithBandwidthLimit caps the data connection read rate in bytes per
// second. Zero or negative means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}
