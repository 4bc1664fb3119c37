package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Engine creates sessions for one scheme. An engine is registered with a
// Dispatcher for every scheme it serves.
type Engine interface {
	// NewSession returns a fresh session. proxy is the HTTP proxy the
	// session must go through, or nil.
	NewSession(proxy *URL) Session
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(proxy *URL) Session

// NewSession implements Engine.
func (f EngineFunc) NewSession(proxy *URL) Session {
	return f(proxy)
}

// Session drives a single retrieval. The dispatcher calls Connect, Request,
// Save and Finish in that order; Abort may be called at any point after a
// failure and must be safe to call more than once.
type Session interface {
	// Connect establishes the connection for u.
	Connect(ctx context.Context, u *URL) error

	// Request negotiates the transfer. It may update u.Size.
	Request(ctx context.Context, u *URL) error

	// Save streams the resource into w, advancing u.Offset.
	Save(ctx context.Context, u *URL, w io.Writer) error

	// Finish confirms completion and releases the connection.
	Finish(ctx context.Context, u *URL) error

	// Abort releases the connection without waiting for completion.
	Abort() error
}

// Destination is where retrieved bytes are written.
type Destination interface {
	// Stat returns the number of bytes already present under name, or zero
	// when it does not exist.
	Stat(ctx context.Context, name string) (int64, error)

	// Open opens name for writing, appending when resume is set.
	Open(ctx context.Context, name string, resume bool) (io.WriteCloser, error)
}

// Dispatcher routes URLs to the engine registered for their scheme.
type Dispatcher struct {
	engines  map[Scheme]Engine
	proxy    *URL
	resume   bool
	logger   *slog.Logger
	progress ProgressFunc
	metrics  MetricsCollector
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithLogger sets the logger used by the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = logger
		return nil
	}
}

// WithProxy routes requests through an HTTP proxy. FTP and file URLs
// fetched through a proxy are handed to the HTTP engine and their scheme is
// rewritten to HTTP once the request has been made.
func WithProxy(proxy *URL) Option {
	return func(d *Dispatcher) error {
		if proxy != nil && proxy.Scheme != SchemeHTTP {
			return fmt.Errorf("fetch: proxy must be an http URL, got %s", proxy.Scheme)
		}
		d.proxy = proxy
		return nil
	}
}

// WithResume makes Fetch continue a partially retrieved destination.
func WithResume() Option {
	return func(d *Dispatcher) error {
		d.resume = true
		return nil
	}
}

// WithProgress installs a progress callback invoked during Save.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Dispatcher) error {
		d.progress = fn
		return nil
	}
}

// WithMetricsCollector records finished transfers.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(d *Dispatcher) error {
		d.metrics = mc
		return nil
	}
}

// NewDispatcher returns a dispatcher serving the given engines.
func NewDispatcher(engines map[Scheme]Engine, options ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		engines: engines,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range options {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return d, nil
}

// Transfer is one URL being retrieved through its engine's session.
type Transfer struct {
	d       *Dispatcher
	url     *URL
	session Session
	proxied bool
	start   time.Time
}

// Connect selects the engine for u and connects it.
func (d *Dispatcher) Connect(ctx context.Context, u *URL) (*Transfer, error) {
	scheme := u.Scheme
	proxied := false
	if d.proxy != nil && (scheme == SchemeFTP || scheme == SchemeFile) {
		scheme = SchemeHTTP
		proxied = true
	}

	engine, ok := d.engines[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEngine, scheme)
	}

	d.logger.Debug("connecting", "url", u.String(), "engine", scheme, "proxied", proxied)
	s := engine.NewSession(d.proxy)
	if err := s.Connect(ctx, u); err != nil {
		_ = s.Abort()
		return nil, err
	}

	return &Transfer{d: d, url: u, session: s, proxied: proxied, start: time.Now()}, nil
}

// URL returns the URL the transfer currently operates on.
func (t *Transfer) URL() *URL {
	return t.url
}

// Request negotiates the transfer and returns the URL to use for the rest
// of the session. A proxied FTP or file URL comes back as an HTTP URL.
func (t *Transfer) Request(ctx context.Context) (*URL, error) {
	if err := t.session.Request(ctx, t.url); err != nil {
		return nil, err
	}
	if t.proxied {
		t.url.Scheme = SchemeHTTP
	}
	return t.url, nil
}

// Save streams the resource into w. Only a successful save is recorded as
// a finished transfer.
func (t *Transfer) Save(ctx context.Context, w io.Writer) error {
	if t.d.progress != nil {
		name, start, size := t.url.LocalName, t.url.Offset, t.url.Size
		fn := t.d.progress
		w = &ProgressWriter{
			Writer: w,
			Callback: func(n int64) {
				fn(name, start+n, size)
			},
		}
	}

	start := t.url.Offset
	if err := t.session.Save(ctx, t.url, w); err != nil {
		return err
	}
	if t.d.metrics != nil {
		t.d.metrics.RecordTransfer(t.url.Scheme.String(), t.url.Offset-start, time.Since(t.start))
	}
	return nil
}

// Finish confirms the transfer completed and releases the session.
func (t *Transfer) Finish(ctx context.Context) error {
	return t.session.Finish(ctx, t.url)
}

// Abort releases the session after a failure.
func (t *Transfer) Abort() error {
	return t.session.Abort()
}

// Fetch runs a complete retrieval of u into dst: connect, request, save and
// finish. On failure the session is aborted before the error is returned.
func (d *Dispatcher) Fetch(ctx context.Context, u *URL, dst Destination) (err error) {
	resume := d.resume && u.LocalName != "-"
	if resume {
		off, err := dst.Stat(ctx, u.LocalName)
		if err != nil {
			return err
		}
		u.Offset = off
	}

	t, err := d.Connect(ctx, u)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = t.Abort()
		}
	}()

	if _, err = t.Request(ctx); err != nil {
		return err
	}

	w, err := dst.Open(ctx, t.url.LocalName, resume)
	if err != nil {
		return err
	}

	err = t.Save(ctx, w)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = &TransferError{Op: "write", Offset: t.url.Offset, Err: cerr}
	}
	if err != nil {
		return err
	}

	return t.Finish(ctx)
}
