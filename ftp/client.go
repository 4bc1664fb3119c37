package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/gonzalop/fetch/internal/ratelimit"
	"github.com/gonzalop/fetch/internal/transport"
	"github.com/hashicorp/go-multierror"
)

// abortGrace bounds the QUIT exchange performed while tearing down a failed
// session.
const abortGrace = 5 * time.Second

// State is the position of a session in the retrieval lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateGreeted
	StateAuthenticated
	StateModeSet
	StateDirectorySelected
	StateDataChannelReady
	StateRetrieving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateGreeted:
		return "greeted"
	case StateAuthenticated:
		return "authenticated"
	case StateModeSet:
		return "mode-set"
	case StateDirectorySelected:
		return "directory-selected"
	case StateDataChannelReady:
		return "data-channel-ready"
	case StateRetrieving:
		return "retrieving"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is a single FTP session. It is not safe for concurrent use.
type Client struct {
	// conn is the control connection
	conn net.Conn

	// reader is a buffered reader for the control connection
	reader *bufio.Reader

	host string
	port string

	// timeout bounds control commands and replies, zero means unbounded
	timeout time.Duration

	// connectTimeout bounds connection establishment
	connectTimeout time.Duration

	// dataTimeout bounds the active accept and data reads
	dataTimeout time.Duration

	logger *slog.Logger
	info   io.Writer
	debug  io.Writer

	dialer *transport.Dialer

	// activeMode requests EPRT only; cleared when EPRT is refused
	activeMode bool

	user     string
	password string

	metrics fetch.MetricsCollector
	limiter *ratelimit.Limiter

	state State

	// mu guards data, which context callbacks read from another goroutine
	mu sync.Mutex
	// data is the negotiated data connection, if any
	data *dataConn
}

// Dial connects to the FTP server at host:port and reads its greeting,
// which must be a 2xx reply.
//
// Example:
//
//	client, err := ftp.Dial(ctx, "ftp.example.com", "21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
func Dial(ctx context.Context, host, port string, options ...Option) (*Client, error) {
	c := &Client{
		host:   host,
		port:   port,
		logger: slog.New(slog.DiscardHandler),
		dialer: &transport.Dialer{},
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	c.dialer.Logger = c.logger
	c.dialer.Info = c.info

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect establishes the control connection and reads the greeting.
func (c *Client) connect(ctx context.Context) error {
	conn, err := c.dialer.Connect(ctx, c.host, c.port, c.connectTimeout, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	stop := c.bind(ctx)
	defer stop()

	resp, err := c.readReply(false)
	if err != nil {
		conn.Close()
		c.state = StateClosed
		return fmt.Errorf("failed to read greeting: %w", err)
	}

	if resp.Kind != Complete {
		_ = c.Quit()
		return fmt.Errorf("can't connect to host %s: %w", c.host, &ProtocolError{
			Command:  "CONNECT",
			Response: resp.String(),
			Code:     resp.Code,
			Kind:     resp.Kind,
		})
	}

	c.infof("Connected to %s\n", c.host)
	c.logger.Debug("connected", "host", c.host, "port", c.port, "remote", conn.RemoteAddr())
	c.state = StateGreeted
	return nil
}

// bind arranges for blocking control and data operations to fail once ctx
// is done. The returned function detaches it.
func (c *Client) bind(ctx context.Context) func() bool {
	conn := c.conn
	return context.AfterFunc(ctx, func() {
		if conn != nil {
			_ = conn.SetDeadline(time.Now())
		}
		if d := c.dataChannel(); d != nil {
			d.interrupt()
		}
	})
}

func (c *Client) dataChannel() *dataConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Client) setDataChannel(d *dataConn) {
	c.mu.Lock()
	c.data = d
	c.mu.Unlock()
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state
}

// Login authenticates with USER and PASS. Both must be answered with a 2xx
// or 3xx reply. An empty username means "anonymous"; an empty password is
// replaced by the anonymous identity login@hostname.
func (c *Client) Login(username, password string) error {
	if username == "" {
		username = "anonymous"
	}

	accepted := []ReplyKind{Complete, Intermediate}
	if _, err := c.expect(false, accepted, "USER", username); err != nil {
		return err
	}

	if password == "" {
		var err error
		if password, err = anonymousPassword(); err != nil {
			return err
		}
	}
	if _, err := c.expect(false, accepted, "PASS", password); err != nil {
		return err
	}

	c.state = StateAuthenticated
	return nil
}

// anonymousPassword returns login@hostname for the local user. The login
// comes from $USER, then the password database.
func anonymousPassword() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	login := os.Getenv("USER")
	if login == "" {
		if u, err := user.Current(); err == nil {
			login = u.Username
		}
	}
	if login == "" {
		login = "anonymous"
	}
	return login + "@" + hostname, nil
}

// Type sets the transfer type (e.g., "A", "I").
func (c *Client) Type(transferType string) error {
	if _, err := c.expectComplete("TYPE", transferType); err != nil {
		return err
	}
	c.state = StateModeSet
	return nil
}

// ChangeDir changes the remote working directory.
func (c *Client) ChangeDir(dir string) error {
	if _, err := c.expectComplete("CWD", dir); err != nil {
		return err
	}
	c.state = StateDirectorySelected
	return nil
}

// Size returns the size of a remote file, as reported by SIZE.
func (c *Client) Size(file string) (int64, error) {
	resp, err := c.expect(true, []ReplyKind{Complete}, "SIZE", file)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(resp.last())
	if len(fields) < 2 {
		return 0, &ReplyError{Line: resp.last(), Reason: "no size in SIZE reply"}
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return 0, &ReplyError{Line: resp.last(), Reason: "invalid size in SIZE reply"}
	}
	return size, nil
}

// splitPath splits p into directory and final element the way dirname and
// basename do: trailing slashes are ignored and ".." is left alone.
func splitPath(p string) (dir, file string) {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		if p == "" {
			return ".", "."
		}
		return "/", "/"
	}
	i := strings.LastIndexByte(trimmed, '/')
	if i < 0 {
		return ".", trimmed
	}
	dir = strings.TrimRight(trimmed[:i], "/")
	if dir == "" {
		dir = "/"
	}
	return dir, trimmed[i+1:]
}

// Prepare switches to binary mode, changes into the directory holding
// u.Path and stores the remote file size into u.Size.
func (c *Client) Prepare(u *fetch.URL) error {
	c.infof("Using binary mode to transfer files.\n")
	if err := c.Type("I"); err != nil {
		return fmt.Errorf("failed to set mode to binary: %w", err)
	}

	dir, file := splitPath(u.Path)
	if err := c.ChangeDir(dir); err != nil {
		return fmt.Errorf("CWD command failed: %w", err)
	}

	c.infof("Retrieving %s\n", u.Path)
	if u.LocalName != "-" {
		c.infof("local: %s remote: %s\n", u.LocalName, file)
	} else {
		c.infof("remote: %s\n", file)
	}

	size, err := c.Size(file)
	if err != nil {
		return err
	}
	u.Size = size
	return nil
}

// RestartAt tells the server to start the next transfer at offset.
func (c *Client) RestartAt(offset int64) error {
	_, err := c.expect(false, []ReplyKind{Intermediate}, "REST", strconv.FormatInt(offset, 10))
	if err != nil {
		return fmt.Errorf("REST command failed: %w", err)
	}
	return nil
}

// Retrieve sends RETR for file, which must be answered with a 1xx reply. A
// data connection must have been negotiated first.
func (c *Client) Retrieve(file string) error {
	if c.dataChannel() == nil {
		return errors.New("ftp: RETR without a data connection")
	}
	if _, err := c.expect(false, []ReplyKind{Preliminary}, "RETR", file); err != nil {
		return err
	}
	c.state = StateRetrieving
	return nil
}

// Stream copies the file being retrieved into w, advancing u.Offset. In
// active mode the server's connection is accepted first. The data
// connection is closed when Stream returns.
func (c *Client) Stream(ctx context.Context, u *fetch.URL, w io.Writer) error {
	d := c.dataChannel()
	if d == nil {
		return errors.New("ftp: no data connection")
	}
	defer func() {
		c.setDataChannel(nil)
		_ = d.Close()
	}()

	stop := c.bind(ctx)
	defer stop()

	if err := d.accept(c.dataTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to accept data connection: %w", err)
	}

	r := transport.NewDeadlineReader(d.current(), c.dataTimeout)
	r = ratelimit.NewReader(ctx, r, c.limiter)

	if err := fetch.Copy(u, w, r); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Finish reads the reply that confirms the transfer of name, which must be
// a 2xx reply.
func (c *Client) Finish(name string) error {
	resp, err := c.readReply(false)
	if err == nil && resp.Kind != Complete {
		err = &ProtocolError{
			Command:  "RETR",
			Response: resp.String(),
			Code:     resp.Code,
			Kind:     resp.Kind,
		}
	}
	if err != nil {
		return fmt.Errorf("error retrieving file %s: %w", name, err)
	}
	return nil
}

// Get runs a whole retrieval of u into w on an authenticated session:
// prepare, negotiate the data connection, restart at u.Offset when nonzero,
// RETR, stream and confirm. It does not QUIT.
func (c *Client) Get(ctx context.Context, u *fetch.URL, w io.Writer) error {
	stop := c.bind(ctx)
	defer stop()

	if err := c.Prepare(u); err != nil {
		return err
	}
	if err := c.openDataConn(ctx); err != nil {
		return err
	}
	if u.Offset > 0 {
		if err := c.RestartAt(u.Offset); err != nil {
			return err
		}
	}
	_, file := splitPath(u.Path)
	if err := c.Retrieve(file); err != nil {
		return err
	}
	if err := c.Stream(ctx, u, w); err != nil {
		return err
	}
	return c.Finish(u.LocalName)
}

// Quit sends QUIT without checking the reply and closes the connection.
func (c *Client) Quit() error {
	if c.conn == nil || c.state == StateClosed {
		return nil
	}

	var result error
	if d := c.dataChannel(); d != nil {
		c.setDataChannel(nil)
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	_, _ = c.sendCommand(false, "QUIT")
	if err := c.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	c.state = StateClosed
	return result
}

// Abort tears the session down after a failure: the data connection is
// closed, QUIT is attempted within a short grace period and the control
// connection is closed.
func (c *Client) Abort() error {
	if c.conn == nil || c.state == StateClosed {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(abortGrace))
	return c.Quit()
}

func (c *Client) infof(format string, args ...any) {
	if c.info != nil {
		fmt.Fprintf(c.info, format, args...)
	}
}
