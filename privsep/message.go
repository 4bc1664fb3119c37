//go:build unix

package privsep

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kind is the type of a message.
type Kind uint32

const (
	// KindStat asks for the size of a path.
	KindStat Kind = iota + 1
	// KindOpen asks for an open descriptor and the current size of a path.
	KindOpen
)

func (k Kind) String() string {
	switch k {
	case KindStat:
		return "stat"
	case KindOpen:
		return "open"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

const (
	headerLen = 12

	// MaxPayload bounds the payload of a single message.
	MaxPayload = 8192
)

// ErrPeerClosed is returned when the peer has gone away. A message that is
// cut short is reported the same way.
var ErrPeerClosed = errors.New("privsep: peer closed the channel")

// Error reports a message that is well framed but violates the protocol.
type Error struct {
	Kind   Kind
	ID     uint32
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("privsep: %s message %d: %s", e.Kind, e.ID, e.Reason)
}

// Message is one unit on the channel.
type Message struct {
	Kind    Kind
	ID      uint32
	Payload []byte

	// File is the descriptor attached to the message, if any.
	File *os.File
}

// WriteMessage sends m as a single packet, attaching m.File when set.
func WriteMessage(conn *net.UnixConn, m *Message) error {
	if len(m.Payload) > MaxPayload {
		return &Error{Kind: m.Kind, ID: m.ID, Reason: "payload too large"}
	}

	buf := make([]byte, headerLen+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Kind))
	binary.BigEndian.PutUint32(buf[4:8], m.ID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Payload)))
	copy(buf[headerLen:], m.Payload)

	var oob []byte
	if m.File != nil {
		oob = unix.UnixRights(int(m.File.Fd()))
	}

	n, oobn, err := conn.WriteMsgUnix(buf, oob, nil)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			return ErrPeerClosed
		}
		return fmt.Errorf("privsep: write: %w", err)
	}
	if n != len(buf) || oobn != len(oob) {
		return fmt.Errorf("privsep: short write (%d of %d bytes)", n, len(buf))
	}
	return nil
}

// ReadMessage receives one packet. An empty or short packet means the peer
// is gone and yields ErrPeerClosed.
func ReadMessage(conn *net.UnixConn) (*Message, error) {
	buf := make([]byte, headerLen+MaxPayload)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("privsep: read: %w", err)
	}

	var file *os.File
	if oobn > 0 {
		file, err = parseRights(oob[:oobn])
		if err != nil {
			return nil, err
		}
	}

	if n < headerLen {
		closeFile(file)
		return nil, ErrPeerClosed
	}

	m := &Message{
		Kind: Kind(binary.BigEndian.Uint32(buf[0:4])),
		ID:   binary.BigEndian.Uint32(buf[4:8]),
		File: file,
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		closeFile(file)
		return nil, &Error{Kind: m.Kind, ID: m.ID, Reason: "message truncated"}
	}
	length := binary.BigEndian.Uint32(buf[8:12])
	if int(length) != n-headerLen {
		closeFile(file)
		return nil, &Error{Kind: m.Kind, ID: m.ID, Reason: fmt.Sprintf("length %d does not match packet of %d bytes", length, n)}
	}
	m.Payload = buf[headerLen:n]
	return m, nil
}

func parseRights(oob []byte) (*os.File, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("privsep: control message: %w", err)
	}

	var file *os.File
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			if file == nil {
				file = os.NewFile(uintptr(fd), "privsep")
			} else {
				// Only one descriptor per message is expected.
				_ = unix.Close(fd)
			}
		}
	}
	return file, nil
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
