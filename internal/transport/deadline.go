package transport

import (
	"io"
	"net"
	"time"
)

// DeadlineReader pushes the read deadline of Conn forward before every
// read, so a peer that stalls for longer than Timeout fails the read.
// Reads come from Reader when it is set, which lets a buffered or framed
// view of Conn be bounded the same way.
type DeadlineReader struct {
	Conn    net.Conn
	Reader  io.Reader
	Timeout time.Duration
}

// NewDeadlineReader returns conn itself when timeout is zero.
func NewDeadlineReader(conn net.Conn, timeout time.Duration) io.Reader {
	if timeout <= 0 {
		return conn
	}
	return &DeadlineReader{Conn: conn, Timeout: timeout}
}

func (r *DeadlineReader) Read(b []byte) (int, error) {
	if err := r.Conn.SetReadDeadline(time.Now().Add(r.Timeout)); err != nil {
		return 0, err
	}
	if r.Reader != nil {
		return r.Reader.Read(b)
	}
	return r.Conn.Read(b)
}
