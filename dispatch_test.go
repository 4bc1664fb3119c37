package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession serves content and records the calls it receives.
type fakeSession struct {
	content string
	fail    string // name of the step that fails
	calls   []string
	proxy   *URL
}

func (s *fakeSession) step(name string) error {
	s.calls = append(s.calls, name)
	if s.fail == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (s *fakeSession) Connect(_ context.Context, _ *URL) error { return s.step("connect") }

func (s *fakeSession) Request(_ context.Context, u *URL) error {
	if err := s.step("request"); err != nil {
		return err
	}
	u.Size = int64(len(s.content))
	return nil
}

func (s *fakeSession) Save(_ context.Context, u *URL, w io.Writer) error {
	if err := s.step("save"); err != nil {
		return err
	}
	return Copy(u, w, strings.NewReader(s.content[u.Offset:]))
}

func (s *fakeSession) Finish(_ context.Context, _ *URL) error { return s.step("finish") }

func (s *fakeSession) Abort() error {
	s.calls = append(s.calls, "abort")
	return nil
}

// fakeDest is an in-memory Destination.
type fakeDest struct {
	files   map[string]*bytes.Buffer
	resumed bool
}

func (d *fakeDest) Stat(_ context.Context, name string) (int64, error) {
	if b, ok := d.files[name]; ok {
		return int64(b.Len()), nil
	}
	return 0, nil
}

func (d *fakeDest) Open(_ context.Context, name string, resume bool) (io.WriteCloser, error) {
	d.resumed = resume
	b, ok := d.files[name]
	if !ok || !resume {
		b = &bytes.Buffer{}
		d.files[name] = b
	}
	return nopWriteCloser{b}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func engineFor(s *fakeSession) Engine {
	return EngineFunc(func(proxy *URL) Session {
		s.proxy = proxy
		return s
	})
}

func mustParse(t *testing.T, raw string) *URL {
	t.Helper()
	u, err := Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFetchRunsSessionInOrder(t *testing.T) {
	t.Parallel()
	s := &fakeSession{content: "hello"}
	d, err := NewDispatcher(map[Scheme]Engine{SchemeFTP: engineFor(s)})
	require.NoError(t, err)

	u := mustParse(t, "ftp://host/hello.txt")
	u.LocalName = "hello.txt"
	dst := &fakeDest{files: map[string]*bytes.Buffer{}}

	require.NoError(t, d.Fetch(context.Background(), u, dst))
	assert.Equal(t, []string{"connect", "request", "save", "finish"}, s.calls)
	assert.Equal(t, "hello", dst.files["hello.txt"].String())
	assert.Equal(t, int64(5), u.Size)
	assert.Equal(t, int64(5), u.Offset)
	assert.Nil(t, s.proxy)
}

func TestFetchNoEngine(t *testing.T) {
	t.Parallel()
	d, err := NewDispatcher(map[Scheme]Engine{})
	require.NoError(t, err)

	err = d.Fetch(context.Background(), mustParse(t, "http://host/"), &fakeDest{})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestFetchAbortsOnFailure(t *testing.T) {
	t.Parallel()
	for _, step := range []string{"connect", "request", "save", "finish"} {
		t.Run(step, func(t *testing.T) {
			t.Parallel()
			s := &fakeSession{content: "x", fail: step}
			d, err := NewDispatcher(map[Scheme]Engine{SchemeHTTP: engineFor(s)})
			require.NoError(t, err)

			u := mustParse(t, "http://host/x")
			u.LocalName = "x"
			err = d.Fetch(context.Background(), u, &fakeDest{files: map[string]*bytes.Buffer{}})
			require.Error(t, err)
			assert.Equal(t, "abort", s.calls[len(s.calls)-1])
		})
	}
}

func TestFetchResume(t *testing.T) {
	t.Parallel()
	s := &fakeSession{content: "0123456789"}
	d, err := NewDispatcher(map[Scheme]Engine{SchemeFTP: engineFor(s)}, WithResume())
	require.NoError(t, err)

	dst := &fakeDest{files: map[string]*bytes.Buffer{"f": bytes.NewBufferString("0123")}}
	u := mustParse(t, "ftp://host/f")
	u.LocalName = "f"

	require.NoError(t, d.Fetch(context.Background(), u, dst))
	assert.True(t, dst.resumed)
	assert.Equal(t, "0123456789", dst.files["f"].String())
	assert.Equal(t, int64(10), u.Offset)
}

func TestFetchResumeIgnoredForStdout(t *testing.T) {
	t.Parallel()
	s := &fakeSession{content: "abc"}
	d, err := NewDispatcher(map[Scheme]Engine{SchemeFTP: engineFor(s)}, WithResume())
	require.NoError(t, err)

	dst := &fakeDest{files: map[string]*bytes.Buffer{"-": bytes.NewBufferString("zz")}}
	u := mustParse(t, "ftp://host/f")
	u.LocalName = "-"

	require.NoError(t, d.Fetch(context.Background(), u, dst))
	assert.False(t, dst.resumed)
	assert.Equal(t, "abc", dst.files["-"].String())
}

func TestProxyRewritesScheme(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		proxied bool
	}{
		{"ftp://host/f", true},
		{"file:///etc/motd", true},
		{"http://host/f", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			web := &fakeSession{}
			other := &fakeSession{}
			proxy := mustParse(t, "http://proxy:3128/")
			d, err := NewDispatcher(map[Scheme]Engine{
				SchemeHTTP: engineFor(web),
				SchemeFTP:  engineFor(other),
				SchemeFile: engineFor(other),
			}, WithProxy(proxy))
			require.NoError(t, err)

			u := mustParse(t, tt.raw)
			tr, err := d.Connect(context.Background(), u)
			require.NoError(t, err)
			assert.Equal(t, []string{"connect"}, web.calls)
			assert.Empty(t, other.calls)
			assert.Same(t, proxy, web.proxy)

			got, err := tr.Request(context.Background())
			require.NoError(t, err)
			assert.Equal(t, SchemeHTTP, got.Scheme)
			assert.Same(t, u, got)
		})
	}
}

func TestWithProxyRejectsNonHTTP(t *testing.T) {
	t.Parallel()
	_, err := NewDispatcher(nil, WithProxy(mustParse(t, "ftp://proxy/")))
	assert.Error(t, err)
}

func TestProgressAndMetrics(t *testing.T) {
	t.Parallel()
	s := &fakeSession{content: strings.Repeat("y", 10)}
	m := &recordingMetrics{}

	var reports []int64
	d, err := NewDispatcher(map[Scheme]Engine{SchemeHTTPS: engineFor(s)},
		WithMetricsCollector(m),
		WithProgress(func(name string, offset, size int64) {
			assert.Equal(t, "out", name)
			assert.Equal(t, int64(10), size)
			reports = append(reports, offset)
		}))
	require.NoError(t, err)

	u := mustParse(t, "https://host/f")
	u.LocalName = "out"
	require.NoError(t, d.Fetch(context.Background(), u, &fakeDest{files: map[string]*bytes.Buffer{}}))

	require.NotEmpty(t, reports)
	assert.Equal(t, int64(10), reports[len(reports)-1])
	assert.Equal(t, "https", m.scheme)
	assert.Equal(t, int64(10), m.bytes)
}

func TestFailedSaveNotRecorded(t *testing.T) {
	t.Parallel()
	s := &fakeSession{content: "data", fail: "save"}
	m := &recordingMetrics{}

	d, err := NewDispatcher(map[Scheme]Engine{SchemeHTTP: engineFor(s)}, WithMetricsCollector(m))
	require.NoError(t, err)

	u := mustParse(t, "http://host/f")
	u.LocalName = "f"
	require.Error(t, d.Fetch(context.Background(), u, &fakeDest{files: map[string]*bytes.Buffer{}}))
	assert.Zero(t, m.transfers)
}

type recordingMetrics struct {
	scheme    string
	bytes     int64
	transfers int
}

func (m *recordingMetrics) RecordCommand(string, bool, time.Duration) {}
func (m *recordingMetrics) RecordConnection(bool, string)             {}
func (m *recordingMetrics) RecordTransfer(scheme string, bytes int64, _ time.Duration) {
	m.scheme, m.bytes = scheme, bytes
	m.transfers++
}
