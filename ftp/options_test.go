package ftp

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gonzalop/fetch/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsApply(t *testing.T) {
	t.Parallel()

	c := &Client{dialer: newDialerForTest()}
	opts := []Option{
		WithTimeout(3 * time.Second),
		WithConnectTimeout(4 * time.Second),
		WithDataTimeout(5 * time.Second),
		WithActiveMode(),
		WithCredentials("bob", "pw"),
		WithNetwork("tcp6"),
		WithBandwidthLimit(2048),
	}
	for _, opt := range opts {
		require.NoError(t, opt(c))
	}

	assert.Equal(t, 3*time.Second, c.timeout)
	assert.Equal(t, 4*time.Second, c.connectTimeout)
	assert.Equal(t, 5*time.Second, c.dataTimeout)
	assert.True(t, c.activeMode)
	assert.Equal(t, "bob", c.user)
	assert.Equal(t, "pw", c.password)
	assert.Equal(t, "tcp6", c.dialer.Network)
	assert.Equal(t, int64(2048), c.limiter.Rate())
}

func TestOptionErrors(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "127.0.0.1", "21", WithNetwork("udp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply option")

	_, err = Dial(context.Background(), "127.0.0.1", "21", WithLogger(nil))
	require.Error(t, err)
}

func TestDialDefaults(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()
	defer ms.stop()

	c, err := Dial(context.Background(), "127.0.0.1", ms.port, WithLogger(slog.Default()))
	require.NoError(t, err)
	defer func() { _ = c.Quit() }()

	assert.Zero(t, c.timeout, "control replies are unbounded by default")
	assert.Zero(t, c.dataTimeout, "data transfers are unbounded by default")
	assert.False(t, c.activeMode)
	assert.Nil(t, c.limiter)
}

func newDialerForTest() *transport.Dialer {
	return &transport.Dialer{}
}
