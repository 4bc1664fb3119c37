package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = "the quick brown fox jumps over the lazy dog"

// capture holds a value written by a handler goroutine.
type capture struct {
	mu sync.Mutex
	v  string
}

func (c *capture) set(v string) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *capture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func content(w http.ResponseWriter, r *http.Request) {
	http.ServeContent(w, r, "file.txt", time.Time{}, strings.NewReader(body))
}

// parse turns a test server address plus path into a fetch URL.
func parse(t *testing.T, raw string) *fetch.URL {
	t.Helper()
	u, err := fetch.Parse(raw)
	require.NoError(t, err)
	return u
}

// get runs one session over u and returns what was saved.
func get(t *testing.T, e *Engine, proxy, u *fetch.URL) (string, error) {
	t.Helper()
	ctx := context.Background()
	s := e.NewSession(proxy)
	defer s.Abort()

	if err := s.Connect(ctx, u); err != nil {
		return "", err
	}
	if err := s.Request(ctx, u); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := s.Save(ctx, u, &buf); err != nil {
		return buf.String(), err
	}
	return buf.String(), s.Finish(ctx, u)
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	return e
}

func TestGet(t *testing.T) {
	t.Parallel()

	var agent, path capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.set(r.UserAgent())
		path.set(r.URL.Path)
		content(w, r)
	}))
	defer srv.Close()

	u := parse(t, srv.URL+"/dir/file.txt")
	got, err := get(t, newEngine(t), nil, u)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, int64(len(body)), u.Size)
	assert.Equal(t, int64(len(body)), u.Offset)
	assert.Equal(t, DefaultUserAgent, agent.get())
	assert.Equal(t, "/dir/file.txt", path.get())
}

func TestGetEncodesPath(t *testing.T) {
	t.Parallel()

	var raw capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw.set(r.RequestURI)
		content(w, r)
	}))
	defer srv.Close()

	_, err := get(t, newEngine(t), nil, parse(t, srv.URL+"/a b"))
	require.NoError(t, err)
	assert.Equal(t, "/a%20b", raw.get())
}

func TestResume(t *testing.T) {
	t.Parallel()

	var rng capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng.set(r.Header.Get("Range"))
		content(w, r)
	}))
	defer srv.Close()

	u := parse(t, srv.URL+"/file.txt")
	u.Offset = 10
	got, err := get(t, newEngine(t), nil, u)
	require.NoError(t, err)
	assert.Equal(t, "bytes=10-", rng.get())
	assert.Equal(t, body[10:], got)
	assert.Equal(t, int64(len(body)), u.Size)
	assert.Equal(t, int64(len(body)), u.Offset)
}

func TestResumeUnsupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	u := parse(t, srv.URL+"/file.txt")
	u.Offset = 10
	_, err := get(t, newEngine(t), nil, u)
	assert.ErrorIs(t, err, ErrResumeUnsupported)
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := get(t, newEngine(t), nil, parse(t, srv.URL+"/missing"))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Code)
	assert.Equal(t, http.MethodGet, serr.Method)
}

func TestProxyAbsoluteForm(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		targets []string
	)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		targets = append(targets, r.RequestURI)
		mu.Unlock()
		content(w, r)
	}))
	defer proxy.Close()

	tests := []struct {
		url  string
		want string
	}{
		{"ftp://ftp.example.com/pub/file.txt", "ftp://ftp.example.com/pub/file.txt"},
		{"http://www.example.com:8080/x", "http://www.example.com:8080/x"},
		{"file:///etc/motd", "file:///etc/motd"},
	}

	e := newEngine(t)
	p := parse(t, proxy.URL)
	for _, tt := range tests {
		got, err := get(t, e, p, parse(t, tt.url))
		require.NoError(t, err, tt.url)
		assert.Equal(t, body, got)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, targets, len(tests))
	for i, tt := range tests {
		assert.Equal(t, tt.want, targets[i])
	}
}

func TestHTTPS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(content))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	e := newEngine(t, WithTLSConfig(&tls.Config{RootCAs: pool}))

	got, err := get(t, e, nil, parse(t, srv.URL+"/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestHTTPSUntrusted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(content))
	defer srv.Close()

	_, err := get(t, newEngine(t), nil, parse(t, srv.URL+"/file.txt"))
	var verr *tls.CertificateVerificationError
	assert.ErrorAs(t, err, &verr)
}

// connectProxy tunnels CONNECT requests to target.
func connectProxy(t *testing.T, target string) (*httptest.Server, *capture) {
	t.Helper()
	seen := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		seen.set(r.Host)
		up, err := net.Dial("tcp", target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		conn, rw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			up.Close()
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		go func() {
			io.Copy(up, rw)
			up.Close()
		}()
		io.Copy(conn, up)
		conn.Close()
	}))
	return srv, seen
}

func TestHTTPSThroughProxy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(content))
	defer srv.Close()
	proxy, seen := connectProxy(t, srv.Listener.Addr().String())
	defer proxy.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	e := newEngine(t, WithTLSConfig(&tls.Config{RootCAs: pool}))

	u := parse(t, srv.URL+"/file.txt")
	got, err := get(t, e, parse(t, proxy.URL), u)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, net.JoinHostPort(u.Host, u.Port), seen.get())
}

func TestTunnelRefused(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer proxy.Close()

	_, err := get(t, newEngine(t), parse(t, proxy.URL), parse(t, "https://example.com/x"))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.MethodConnect, serr.Method)
	assert.Equal(t, http.StatusForbidden, serr.Code)
}

func TestHostHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/", "example.com"},
		{"http://example.com:8080/", "example.com:8080"},
		{"http://[::1]/", "[::1]"},
		{"https://[::1]:8443/", "[::1]:8443"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hostHeader(parse(t, tt.url)), tt.url)
	}
}

func TestSaveHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	u := parse(t, srv.URL+"/slow")
	s := newEngine(t).NewSession(nil)
	defer s.Abort()
	require.NoError(t, s.Connect(ctx, u))
	require.NoError(t, s.Request(ctx, u))

	time.AfterFunc(50*time.Millisecond, cancel)
	err := s.Save(ctx, u, io.Discard)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(content))
	defer srv.Close()

	m := &recordingMetrics{}
	_, err := get(t, newEngine(t, WithMetricsCollector(m)), nil, parse(t, srv.URL+"/f"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GET"}, m.commands)
	assert.Equal(t, 1, m.connections)
}

type recordingMetrics struct {
	commands    []string
	connections int
}

func (m *recordingMetrics) RecordCommand(cmd string, _ bool, _ time.Duration) {
	m.commands = append(m.commands, cmd)
}

func (m *recordingMetrics) RecordConnection(bool, string) {
	m.connections++
}

func (m *recordingMetrics) RecordTransfer(string, int64, time.Duration) {}

func TestOptions(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(WithLogger(nil))
	assert.Error(t, err)
	_, err = NewEngine(WithNetwork("udp"))
	assert.Error(t, err)

	e, err := NewEngine(WithUserAgent("agent/2"), WithNetwork("tcp4"), WithBandwidthLimit(1024))
	require.NoError(t, err)
	assert.Equal(t, "agent/2", e.userAgent)
	assert.Equal(t, "tcp4", e.network)
	assert.Equal(t, int64(1024), e.limiter.Rate())
}
