package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DataMode tells how a data connection was negotiated.
type DataMode int

const (
	// Passive means the client connected to a port announced by EPSV.
	Passive DataMode = iota
	// Active means the client listens and the server connects after EPRT.
	Active
)

func (m DataMode) String() string {
	if m == Active {
		return "active"
	}
	return "passive"
}

// parseEPSV extracts the port from an EPSV reply such as
// "229 Entering Extended Passive Mode (|||6446|)". Any delimiter character
// is accepted as long as all four are the same.
func parseEPSV(reply string) (int, error) {
	start := strings.IndexByte(reply, '(')
	if start < 0 {
		return 0, fmt.Errorf("malformed EPSV reply: %q", reply)
	}
	end := strings.IndexByte(reply[start:], ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed EPSV reply: %q", reply)
	}
	tok := reply[start+1 : start+end]

	if len(tok) < 5 {
		return 0, fmt.Errorf("EPSV parse error: %q", tok)
	}
	delim := tok[0]
	if tok[1] != delim || tok[2] != delim {
		return 0, fmt.Errorf("EPSV parse error: %q", tok)
	}

	i := 3
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i == 3 || i >= len(tok) || tok[i] != delim {
		return 0, fmt.Errorf("EPSV parse error: %q", tok)
	}

	port, err := strconv.Atoi(tok[3:i])
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid EPSV port: %q", tok[3:i])
	}
	return port, nil
}

// formatEPRT formats an address for the EPRT command.
// Format: |net-prt|net-addr|tcp-port|
// net-prt: 1 for IPv4, 2 for IPv6
func formatEPRT(ap netip.AddrPort) string {
	addr := ap.Addr().Unmap().WithZone("")
	netPrt := 2
	if addr.Is4() {
		netPrt = 1
	}
	return fmt.Sprintf("|%d|%s|%d|", netPrt, addr, ap.Port())
}

// openDataConn negotiates the data connection. With active mode requested
// only EPRT is tried; otherwise EPSV is tried first and EPRT is the
// fallback.
func (c *Client) openDataConn(ctx context.Context) error {
	var (
		d   *dataConn
		err error
	)
	if c.activeMode {
		d, err = c.openActive()
	} else {
		d, err = c.openPassive(ctx)
		if err != nil {
			c.logger.Debug("passive mode failed, trying active mode", "error", err)
			var perr error
			d, perr = c.openActive()
			if perr != nil {
				err = multierror.Append(err, perr)
			} else {
				err = nil
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDataConn, err)
	}

	c.setDataChannel(d)
	c.state = StateDataChannelReady
	c.logger.Debug("data connection ready", "mode", d.mode)
	return nil
}

// openPassive sends EPSV and connects to the announced port on the control
// connection's peer address.
func (c *Client) openPassive(ctx context.Context) (*dataConn, error) {
	resp, err := c.expect(true, []ReplyKind{Complete}, "EPSV")
	if err != nil {
		return nil, err
	}

	port, err := parseEPSV(resp.last())
	if err != nil {
		c.logger.Warn("EPSV reply rejected", "reply", resp.last(), "error", err)
		c.infof("%v\n", err)
		return nil, err
	}

	peer, err := netip.ParseAddrPort(c.conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("control connection peer: %w", err)
	}
	network := "tcp6"
	if peer.Addr().Unmap().Is4() {
		network = "tcp4"
	}
	addr := netip.AddrPortFrom(peer.Addr().Unmap(), uint16(port)).String()

	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	var dialer = c.dialer.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", err)
	}
	return &dataConn{mode: Passive, conn: conn}, nil
}

// openActive listens on an ephemeral port of the control connection's
// local address and announces it with EPRT. When the server refuses, the
// listener is closed and active mode is marked unavailable.
func (c *Client) openActive() (*dataConn, error) {
	local, err := netip.ParseAddrPort(c.conn.LocalAddr().String())
	if err != nil {
		return nil, fmt.Errorf("control connection local address: %w", err)
	}
	ip := local.Addr().Unmap()
	v6 := !ip.Is4()
	network := "tcp4"
	if v6 {
		network = "tcp6"
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			if err := setHighPortRange(rc, v6); err != nil {
				if errors.Is(err, errors.ErrUnsupported) {
					c.logger.Debug("high port range not available", "error", err)
				} else {
					c.logger.Warn("setsockopt port range (ignored)", "error", err)
				}
			}
			return nil
		},
	}
	ln, err := lc.Listen(context.Background(), network, netip.AddrPortFrom(ip, 0).String())
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	bound, err := netip.ParseAddrPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("listener address: %w", err)
	}

	if _, err := c.expectComplete("EPRT", formatEPRT(bound)); err != nil {
		ln.Close()
		c.activeMode = false
		return nil, err
	}
	return &dataConn{mode: Active, listener: ln}, nil
}

// dataConn is a negotiated data connection. In active mode conn is nil
// until the server's connection has been accepted.
type dataConn struct {
	mode DataMode

	// mu guards the fields below against interrupt
	mu          sync.Mutex
	conn        net.Conn
	listener    net.Listener
	interrupted bool
}

func (d *dataConn) current() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// accept waits for the server to connect in active mode. It is a no-op in
// passive mode or once a connection has been accepted.
func (d *dataConn) accept(timeout time.Duration) error {
	d.mu.Lock()
	if d.conn != nil {
		d.mu.Unlock()
		return nil
	}
	l := d.listener
	d.mu.Unlock()
	if l == nil {
		return errors.New("no listener")
	}
	if timeout > 0 {
		if tl, ok := l.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(timeout))
		}
	}

	conn, err := l.Accept()
	if err != nil {
		return err
	}

	// Exactly one connection is accepted.
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = l.Close()
	d.listener = nil
	d.conn = conn
	if d.interrupted {
		_ = conn.SetDeadline(time.Now())
	}
	return nil
}

// interrupt makes any blocked accept or read return, including those
// started after it.
func (d *dataConn) interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupted = true
	if d.conn != nil {
		_ = d.conn.SetDeadline(time.Now())
	}
	if l, ok := d.listener.(*net.TCPListener); ok {
		_ = l.SetDeadline(time.Now())
	}
}

// Close closes the connection and any listener still open.
func (d *dataConn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result error
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
