package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/gonzalop/fetch/internal/ratelimit"
	"github.com/gonzalop/fetch/internal/transport"
	"github.com/hashicorp/go-multierror"
)

// Engine serves http and https URLs, and ftp or file URLs through a proxy.
type Engine struct {
	logger         *slog.Logger
	info           io.Writer
	connectTimeout time.Duration
	timeout        time.Duration
	network        string
	dialer         transport.ContextDialer
	tlsConfig      *tls.Config
	userAgent      string
	limiter        *ratelimit.Limiter
	metrics        fetch.MetricsCollector
}

// NewEngine returns an engine configured by options.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		logger:    slog.New(slog.DiscardHandler),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range options {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

// NewSession implements fetch.Engine.
func (e *Engine) NewSession(proxy *fetch.URL) fetch.Session {
	s := &session{e: e}
	if proxy != nil {
		s.proxy = &transport.Endpoint{Host: proxy.Host, Port: proxy.Port}
	}
	return s
}

type session struct {
	e     *Engine
	proxy *transport.Endpoint

	conn net.Conn
	br   *bufio.Reader
	resp *http.Response

	// tunneled is set once https traffic flows through a CONNECT tunnel.
	tunneled bool
}

var _ fetch.Session = (*session)(nil)

func (s *session) dialer() *transport.Dialer {
	d := &transport.Dialer{
		Network: s.e.network,
		Dialer:  s.e.dialer,
		Logger:  s.e.logger,
		Info:    s.e.info,
	}
	if s.e.metrics != nil {
		d.Recorder = s.e.metrics
	}
	return d
}

// Connect opens the connection to the server or the proxy. https gets a TLS
// session, tunneled with CONNECT when a proxy is in use.
func (s *session) Connect(ctx context.Context, u *fetch.URL) error {
	conn, err := s.dialer().Connect(ctx, u.Host, u.Port, s.e.connectTimeout, s.proxy)
	if err != nil {
		return err
	}
	s.conn = conn
	s.br = bufio.NewReader(conn)

	if u.Scheme != fetch.SchemeHTTPS {
		return nil
	}

	stop := s.bind(ctx)
	defer stop()

	if s.proxy != nil {
		if err := s.tunnel(u); err != nil {
			return err
		}
		s.tunneled = true
	}

	cfg := &tls.Config{}
	if s.e.tlsConfig != nil {
		cfg = s.e.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Host
	}
	tc := tls.Client(s.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake with %s: %w", u.Host, err)
	}
	s.e.logger.Debug("tls established", "host", u.Host, "version", tls.VersionName(tc.ConnectionState().Version))
	s.conn = tc
	s.br = bufio.NewReader(tc)
	return nil
}

// tunnel asks the proxy to open a raw connection to u.
func (s *session) tunnel(u *fetch.URL) error {
	target := net.JoinHostPort(u.Host, u.Port)
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: http.Header{"User-Agent": {s.e.userAgent}},
	}
	if err := req.Write(s.conn); err != nil {
		return fmt.Errorf("write CONNECT: %w", err)
	}
	resp, err := http.ReadResponse(s.br, req)
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	// The body of a successful CONNECT is the tunnel itself.
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Method: http.MethodConnect, URL: target, Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// bind makes blocking operations fail once ctx is done.
func (s *session) bind(ctx context.Context) func() bool {
	conn := s.conn
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

// target returns the URL to put on the request line. Requests to a proxy,
// other than through a tunnel, use the absolute form.
func (s *session) target(u *fetch.URL) (*url.URL, bool, error) {
	proxied := s.proxy != nil && !s.tunneled
	raw := u.Path
	if raw == "" {
		raw = "/"
	}
	if proxied {
		raw = u.String()
	}
	ru, err := url.Parse(fetch.Encode(raw))
	if err != nil {
		return nil, false, fmt.Errorf("invalid request target %q: %w", raw, err)
	}
	return ru, proxied, nil
}

// Request sends the GET and reads the response header. A nonzero u.Offset
// asks for the remainder with a Range header. u.Size is set from
// Content-Length when the server sends one.
func (s *session) Request(ctx context.Context, u *fetch.URL) error {
	stop := s.bind(ctx)
	defer stop()

	ru, proxied, err := s.target(u)
	if err != nil {
		return err
	}

	host := hostHeader(u)
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        ru,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       host,
		Header: http.Header{
			"User-Agent": {s.e.userAgent},
			"Connection": {"close"},
		},
	}
	if u.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", u.Offset))
	}

	if s.e.timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.e.timeout))
	}

	fmt.Fprintf(s.infoWriter(), "Requesting %s\n", u.String())
	s.e.logger.Debug("request", "url", ru.String(), "proxied", proxied, "offset", u.Offset)

	start := time.Now()
	if proxied {
		err = req.WriteProxy(s.conn)
	} else {
		err = req.Write(s.conn)
	}
	if err != nil {
		s.record(false, start)
		return fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(s.br, req)
	if err != nil {
		s.record(false, start)
		return fmt.Errorf("read response: %w", err)
	}
	s.resp = resp
	s.e.logger.Debug("response", "status", resp.Status, "length", resp.ContentLength)

	if err := checkStatus(u, resp); err != nil {
		s.record(false, start)
		return err
	}
	s.record(true, start)

	if resp.ContentLength >= 0 {
		u.Size = resp.ContentLength
		if resp.StatusCode == http.StatusPartialContent {
			u.Size += u.Offset
		}
	}
	return nil
}

// hostHeader formats the Host header, bracketing IPv6 literals and adding
// the port when it is not the scheme's default.
func hostHeader(u *fetch.URL) string {
	if u.Port != "" && u.Port != u.Scheme.DefaultPort() {
		return net.JoinHostPort(u.Host, u.Port)
	}
	if strings.IndexByte(u.Host, ':') != -1 {
		return "[" + u.Host + "]"
	}
	return u.Host
}

func checkStatus(u *fetch.URL, resp *http.Response) error {
	switch {
	case u.Offset > 0 && resp.StatusCode == http.StatusPartialContent:
		return nil
	case u.Offset > 0 && resp.StatusCode == http.StatusOK:
		return ErrResumeUnsupported
	case resp.StatusCode == http.StatusOK:
		return nil
	}
	return &StatusError{Method: http.MethodGet, URL: u.String(), Code: resp.StatusCode, Status: resp.Status}
}

// Save streams the response body into w.
func (s *session) Save(ctx context.Context, u *fetch.URL, w io.Writer) error {
	if s.resp == nil {
		return errors.New("httpclient: no response")
	}
	stop := s.bind(ctx)
	defer stop()

	if s.e.timeout > 0 {
		// Request armed an absolute deadline; reads are bounded per call.
		_ = s.conn.SetDeadline(time.Time{})
	}
	r := io.Reader(s.resp.Body)
	if s.e.timeout > 0 {
		r = &transport.DeadlineReader{Conn: s.conn, Reader: s.resp.Body, Timeout: s.e.timeout}
	}
	r = ratelimit.NewReader(ctx, r, s.e.limiter)

	if err := fetch.Copy(u, w, r); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Finish releases the connection.
func (s *session) Finish(_ context.Context, _ *fetch.URL) error {
	return s.close()
}

// Abort releases the connection.
func (s *session) Abort() error {
	return s.close()
}

// close closes the connection before the body, so closing the body never
// drains what is left of it.
func (s *session) close() error {
	var result error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		s.conn = nil
	}
	if s.resp != nil {
		_ = s.resp.Body.Close()
		s.resp = nil
	}
	return result
}

func (s *session) record(success bool, start time.Time) {
	if s.e.metrics != nil {
		s.e.metrics.RecordCommand(http.MethodGet, success, time.Since(start))
	}
}

func (s *session) infoWriter() io.Writer {
	if s.e.info == nil {
		return io.Discard
	}
	return s.e.info
}
