// Package transport opens the stream connections used by the fetch engines.
//
// A host is resolved to an ordered list of candidate addresses which are
// tried in resolver order until one accepts the connection. An optional
// deadline bounds the whole attempt; once it passes, no further candidate is
// tried.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/net/idna"
)

// ErrDeadlineExceeded is returned when the connect deadline passes before
// any candidate address accepted the connection.
var ErrDeadlineExceeded = errors.New("connect taking too long")

// Kind classifies a transport failure.
type Kind int

const (
	// KindResolve means the host name could not be turned into addresses.
	KindResolve Kind = iota
	// KindConnect means every candidate address refused or failed.
	KindConnect
	// KindDeadline means the connect deadline expired.
	KindDeadline
)

func (k Kind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindConnect:
		return "connect"
	case KindDeadline:
		return "deadline"
	}
	return "unknown"
}

// Error describes a failed Connect.
type Error struct {
	Kind Kind

	// Host is the name that was being resolved or connected to.
	Host string

	// Addr is the last candidate address attempted, if any.
	Addr string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport: %s %s (%s): %v", e.Kind, e.Host, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Kind, e.Host, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Endpoint is a host and port pair, used to name a proxy.
type Endpoint struct {
	Host string
	Port string
}

// ContextDialer is implemented by *net.Dialer. It can be replaced to route
// connections through something other than the system network stack.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectionRecorder receives the outcome of every candidate attempt.
type ConnectionRecorder interface {
	RecordConnection(success bool, addr string)
}

// Dialer resolves and connects stream sockets. The zero value is usable.
type Dialer struct {
	// Network is "tcp", "tcp4" or "tcp6". Empty means "tcp".
	Network string

	// Resolver is used for name and service lookups. Nil means
	// net.DefaultResolver.
	Resolver *net.Resolver

	// Dialer establishes each candidate connection. Nil means a zero
	// net.Dialer.
	Dialer ContextDialer

	// Logger receives debug output. Nil disables it.
	Logger *slog.Logger

	// Info receives human readable progress ("Trying ...").
	Info io.Writer

	// Recorder, if set, is told about every candidate attempt.
	Recorder ConnectionRecorder

	// lookup overrides address resolution in tests.
	lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Connect resolves host:port, or the proxy's host and port when proxy is
// non-nil, and returns a connection to the first candidate that accepts.
//
// If timeout is nonzero a single deadline covering all candidates is armed
// once resolution has finished; when it passes Connect returns an *Error of
// KindDeadline wrapping ErrDeadlineExceeded.
func (d *Dialer) Connect(ctx context.Context, host, port string, timeout time.Duration, proxy *Endpoint) (net.Conn, error) {
	if proxy != nil {
		host, port = proxy.Host, proxy.Port
	}
	if host == "" {
		return nil, &Error{Kind: KindResolve, Err: errors.New("hostname missing")}
	}

	network := d.network()
	addrs, portNum, err := d.resolve(ctx, network, host, port)
	if err != nil {
		return nil, &Error{Kind: KindResolve, Host: host, Err: err}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		lastAddr string
		lastErr  error
	)
	for _, ip := range addrs {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(portNum))
		d.infof("Trying %s...\n", ip)
		d.debug("dialing candidate", "host", host, "addr", addr)

		conn, err := d.dialer().DialContext(ctx, network, addr)
		if err == nil {
			d.record(true, addr)
			return conn, nil
		}
		d.record(false, addr)
		lastAddr, lastErr = addr, err

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, &Error{Kind: KindDeadline, Host: host, Addr: addr, Err: ErrDeadlineExceeded}
			}
			return nil, &Error{Kind: KindConnect, Host: host, Addr: addr, Err: ctxErr}
		}
		d.debug("candidate failed", "addr", addr, "error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no usable address")
	}
	return nil, &Error{Kind: KindConnect, Host: host, Addr: lastAddr, Err: lastErr}
}

// resolve returns the candidate addresses for host and the numeric port.
func (d *Dialer) resolve(ctx context.Context, network, host, port string) ([]netip.Addr, int, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	portNum, err := resolver.LookupPort(ctx, network, port)
	if err != nil {
		return nil, 0, err
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if !familyMatches(network, ip) {
			return nil, 0, fmt.Errorf("address %s does not match network %s", host, network)
		}
		return []netip.Addr{ip}, portNum, nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid host name: %w", err)
	}

	lookup := d.lookup
	if lookup == nil {
		lookup = resolver.LookupNetIP
	}
	addrs, err := lookup(ctx, ipNetwork(network), ascii)
	if err != nil {
		return nil, 0, err
	}
	if len(addrs) == 0 {
		return nil, 0, errors.New("no addresses found")
	}
	return addrs, portNum, nil
}

func (d *Dialer) network() string {
	if d.Network == "" {
		return "tcp"
	}
	return d.Network
}

func (d *Dialer) dialer() ContextDialer {
	if d.Dialer == nil {
		return &net.Dialer{}
	}
	return d.Dialer
}

func (d *Dialer) infof(format string, args ...any) {
	if d.Info != nil {
		fmt.Fprintf(d.Info, format, args...)
	}
}

func (d *Dialer) debug(msg string, args ...any) {
	if d.Logger != nil {
		d.Logger.Debug(msg, args...)
	}
}

func (d *Dialer) record(success bool, addr string) {
	if d.Recorder != nil {
		d.Recorder.RecordConnection(success, addr)
	}
}

// ipNetwork maps a stream network name to the matching lookup network.
func ipNetwork(network string) string {
	switch network {
	case "tcp4":
		return "ip4"
	case "tcp6":
		return "ip6"
	}
	return "ip"
}

func familyMatches(network string, ip netip.Addr) bool {
	switch network {
	case "tcp4":
		return ip.Unmap().Is4()
	case "tcp6":
		return ip.Is6() && !ip.Is4In6()
	}
	return true
}
