//go:build unix

package privsep

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// resultLen is the size of an encoded Result: status byte, errno, offset.
const resultLen = 1 + 4 + 8

const (
	statusOK     = 0
	statusFailed = 1
)

// Result is the outcome of a request on the peer side: an offset on
// success, an errno on failure.
type Result struct {
	// Offset is the size of the file, used to resume an interrupted
	// transfer.
	Offset int64

	// Errno is nonzero when the peer-side operation failed.
	Errno syscall.Errno
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Errno == 0 {
		return nil
	}
	return r.Errno
}

func (r Result) encode() []byte {
	b := make([]byte, resultLen)
	if r.Errno != 0 {
		b[0] = statusFailed
		binary.BigEndian.PutUint32(b[1:5], uint32(r.Errno))
	}
	binary.BigEndian.PutUint64(b[5:13], uint64(r.Offset))
	return b
}

func decodeResult(b []byte) (Result, error) {
	if len(b) != resultLen {
		return Result{}, fmt.Errorf("result of %d bytes", len(b))
	}
	r := Result{Offset: int64(binary.BigEndian.Uint64(b[5:13]))}
	switch b[0] {
	case statusOK:
	case statusFailed:
		r.Errno = syscall.Errno(binary.BigEndian.Uint32(b[1:5]))
		if r.Errno == 0 {
			r.Errno = syscall.EIO
		}
	default:
		return Result{}, fmt.Errorf("unknown status %d", b[0])
	}
	return r, nil
}

// encodeRequest lays out a request payload: open flags, then the path.
func encodeRequest(path string, flags int) []byte {
	b := make([]byte, 4+len(path))
	binary.BigEndian.PutUint32(b[0:4], uint32(flags))
	copy(b[4:], path)
	return b
}

func decodeRequest(b []byte) (path string, flags int, err error) {
	if len(b) < 5 {
		return "", 0, errors.New("request without a path")
	}
	return string(b[4:]), int(int32(binary.BigEndian.Uint32(b[0:4]))), nil
}

// Response is the answer to a request.
type Response struct {
	Result

	// File is the opened descriptor for a successful Open.
	File *os.File
}

// Channel is the requesting end of a privsep socket. It is safe for
// concurrent use; requests are serialized.
type Channel struct {
	mu     sync.Mutex
	conn   *net.UnixConn
	nextID uint32
	logger *slog.Logger
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel returns a channel sending requests over conn.
func NewChannel(conn *net.UnixConn, opts ...ChannelOption) *Channel {
	c := &Channel{
		conn:   conn,
		nextID: 1,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends one request and waits for its response. A failure reported
// by the peer is returned in Response.Errno, not as an error; errors are
// reserved for channel failures.
func (c *Channel) Request(ctx context.Context, kind Kind, path string, flags int) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	c.logger.Debug("privsep request", "kind", kind, "id", id, "path", path)
	err := WriteMessage(c.conn, &Message{Kind: kind, ID: id, Payload: encodeRequest(path, flags)})
	if err == nil {
		var m *Message
		m, err = ReadMessage(c.conn)
		if err == nil {
			return c.response(kind, id, m)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, context.DeadlineExceeded
	}
	return nil, err
}

func (c *Channel) response(kind Kind, id uint32, m *Message) (*Response, error) {
	fail := func(reason string) (*Response, error) {
		closeFile(m.File)
		return nil, &Error{Kind: m.Kind, ID: m.ID, Reason: reason}
	}

	if m.Kind != kind {
		return fail(fmt.Sprintf("expected %s response", kind))
	}
	if m.ID != id {
		return fail(fmt.Sprintf("expected id %d", id))
	}
	res, err := decodeResult(m.Payload)
	if err != nil {
		return fail(err.Error())
	}

	if res.Errno != 0 {
		closeFile(m.File)
		c.logger.Debug("privsep response", "kind", kind, "id", id, "errno", res.Errno)
		return &Response{Result: res}, nil
	}
	if kind == KindOpen && m.File == nil {
		return fail("open succeeded without a descriptor")
	}
	if kind != KindOpen && m.File != nil {
		return fail("unexpected descriptor")
	}

	c.logger.Debug("privsep response", "kind", kind, "id", id, "offset", res.Offset)
	return &Response{Result: res, File: m.File}, nil
}

// Stat returns the size of path on the peer side.
func (c *Channel) Stat(ctx context.Context, path string) (int64, error) {
	resp, err := c.Request(ctx, KindStat, path, 0)
	if err != nil {
		return 0, err
	}
	if resp.Errno != 0 {
		return 0, &fs.PathError{Op: "stat", Path: path, Err: resp.Errno}
	}
	return resp.Offset, nil
}

// Open opens path on the peer side with the given os.OpenFile flags. It
// returns the descriptor and the current size of the file.
func (c *Channel) Open(ctx context.Context, path string, flags int) (*os.File, int64, error) {
	resp, err := c.Request(ctx, KindOpen, path, flags)
	if err != nil {
		return nil, 0, err
	}
	if resp.Errno != 0 {
		return nil, 0, &fs.PathError{Op: "open", Path: path, Err: resp.Errno}
	}
	return resp.File, resp.Offset, nil
}

// Close closes the underlying connection. The peer sees ErrPeerClosed.
func (c *Channel) Close() error {
	return c.conn.Close()
}
