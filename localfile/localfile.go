// Package localfile retrieves file URLs and writes fetched resources to
// local destinations. Every filesystem access goes through an FS, which in
// the fetch command is the privilege separation channel.
package localfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gonzalop/fetch"
)

// FS opens and inspects local paths. *privsep.Channel implements it.
type FS interface {
	// Stat returns the size of path.
	Stat(ctx context.Context, path string) (int64, error)

	// Open opens path with os.OpenFile flags and returns it with its
	// current size.
	Open(ctx context.Context, path string, flags int) (*os.File, int64, error)
}

// OS is an FS backed directly by the os package.
type OS struct{}

// Stat implements FS.
func (OS) Stat(_ context.Context, path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Open implements FS.
func (OS) Open(_ context.Context, path string, flags int) (*os.File, int64, error) {
	f, err := os.OpenFile(path, flags, 0o666)
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

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithInfoWriter sets the sink for human readable notes.
func WithInfoWriter(w io.Writer) Option {
	return func(e *Engine) error {
		e.info = w
		return nil
	}
}

// Engine serves file URLs.
type Engine struct {
	fs     FS
	logger *slog.Logger
	info   io.Writer
}

// NewEngine returns an engine reading through fsys.
func NewEngine(fsys FS, options ...Option) (*Engine, error) {
	if fsys == nil {
		return nil, errors.New("localfile: nil FS")
	}
	e := &Engine{fs: fsys, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range options {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

// NewSession implements fetch.Engine. Proxied file URLs are handed to the
// HTTP engine, so proxy is not used.
func (e *Engine) NewSession(_ *fetch.URL) fetch.Session {
	return &session{e: e}
}

type session struct {
	e    *Engine
	file *os.File
	size int64
}

var _ fetch.Session = (*session)(nil)

// Connect opens the file named by u.Path.
func (s *session) Connect(ctx context.Context, u *fetch.URL) error {
	if u.Host != "" && u.Host != "localhost" {
		return fmt.Errorf("localfile: remote host %q in file URL", u.Host)
	}
	if u.Path == "" {
		return errors.New("localfile: empty path")
	}
	f, size, err := s.e.fs.Open(ctx, u.Path, os.O_RDONLY)
	if err != nil {
		return err
	}
	s.file, s.size = f, size
	s.e.logger.Debug("opened", "path", u.Path, "size", size)
	return nil
}

// Request sets u.Size and positions the file at u.Offset.
func (s *session) Request(_ context.Context, u *fetch.URL) error {
	u.Size = s.size
	if u.Offset == 0 {
		return nil
	}
	if u.Offset > s.size {
		return fmt.Errorf("localfile: offset %d beyond end of %s (%d bytes)", u.Offset, u.Path, s.size)
	}
	if _, err := s.file.Seek(u.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("localfile: seek: %w", err)
	}
	return nil
}

// Save copies the file into w.
func (s *session) Save(_ context.Context, u *fetch.URL, w io.Writer) error {
	if s.e.info != nil {
		fmt.Fprintf(s.e.info, "Copying %s\n", u.Path)
	}
	return fetch.Copy(u, w, s.file)
}

// Finish closes the file.
func (s *session) Finish(_ context.Context, _ *fetch.URL) error {
	return s.close()
}

// Abort closes the file.
func (s *session) Abort() error {
	return s.close()
}

func (s *session) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Destination writes fetched resources through an FS. The name "-" means
// Stdout.
type Destination struct {
	FS FS

	// Stdout receives output named "-". Nil means os.Stdout.
	Stdout io.Writer
}

var _ fetch.Destination = (*Destination)(nil)

// Stat implements fetch.Destination. A missing file has size zero.
func (d *Destination) Stat(ctx context.Context, name string) (int64, error) {
	if name == "-" {
		return 0, nil
	}
	size, err := d.FS.Stat(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return size, err
}

// Open implements fetch.Destination. Resumed files are opened for
// appending, others are truncated.
func (d *Destination) Open(ctx context.Context, name string, resume bool) (io.WriteCloser, error) {
	if name == "-" {
		w := d.Stdout
		if w == nil {
			w = os.Stdout
		}
		return nopCloser{w}, nil
	}

	flags := os.O_WRONLY | os.O_CREATE
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, _, err := d.FS.Open(ctx, name, flags)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
