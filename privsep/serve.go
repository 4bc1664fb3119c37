//go:build unix

package privsep

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Handler answers requests on the privileged side.
type Handler interface {
	// Stat returns the size of path.
	Stat(path string) (int64, error)

	// Open opens path and returns it with its current size.
	Open(path string, flags int) (*os.File, int64, error)
}

// Serve answers requests from conn until the peer closes the channel, which
// is not an error, or ctx is done.
func Serve(ctx context.Context, conn *net.UnixConn, h Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	for {
		m, err := ReadMessage(conn)
		if err != nil {
			if errors.Is(err, ErrPeerClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		closeFile(m.File)

		path, flags, err := decodeRequest(m.Payload)
		if err != nil {
			return &Error{Kind: m.Kind, ID: m.ID, Reason: err.Error()}
		}

		reply := &Message{Kind: m.Kind, ID: m.ID}
		var res Result
		switch m.Kind {
		case KindStat:
			res.Offset, err = h.Stat(path)
		case KindOpen:
			reply.File, res.Offset, err = h.Open(path, flags)
		default:
			return &Error{Kind: m.Kind, ID: m.ID, Reason: "unknown request"}
		}
		if err != nil {
			res = Result{Errno: errnoOf(err)}
			closeFile(reply.File)
			reply.File = nil
		}
		logger.Debug("privsep served", "kind", m.Kind, "id", m.ID, "path", path, "errno", res.Errno)

		reply.Payload = res.encode()
		werr := WriteMessage(conn, reply)
		closeFile(reply.File)
		if werr != nil {
			if errors.Is(werr, ErrPeerClosed) {
				return nil
			}
			return werr
		}
	}
}

// errnoOf extracts the errno carried by err, defaulting to EIO.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	}
	return syscall.EIO
}

// FSHandler serves requests from the local filesystem. Relative paths are
// resolved against Dir when it is set.
type FSHandler struct {
	Dir string

	// Perm is the mode used when Open creates a file. Zero means 0666.
	Perm os.FileMode
}

func (h *FSHandler) path(p string) string {
	if h.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(h.Dir, p)
}

// Stat implements Handler. A missing file is reported as size zero only by
// the caller; here it is ENOENT.
func (h *FSHandler) Stat(path string) (int64, error) {
	fi, err := os.Stat(h.path(path))
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, syscall.EISDIR
	}
	return fi.Size(), nil
}

// Open implements Handler.
func (h *FSHandler) Open(path string, flags int) (*os.File, int64, error) {
	perm := h.Perm
	if perm == 0 {
		perm = 0o666
	}
	f, err := os.OpenFile(h.path(path), flags, perm)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}
