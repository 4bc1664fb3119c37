package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCommand(t *testing.T) {
	t.Parallel()
	c := New()

	c.RecordCommand("RETR", true, 10*time.Millisecond)
	c.RecordCommand("RETR", true, 20*time.Millisecond)
	c.RecordCommand("REST", false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("RETR", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("REST", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.commandDuration))
}

func TestRecordConnectionAndTransfer(t *testing.T) {
	t.Parallel()
	c := New()

	c.RecordConnection(false, "[::1]:21")
	c.RecordConnection(true, "127.0.0.1:21")
	c.RecordTransfer("ftp", 1024, time.Second)
	c.RecordTransfer("ftp", 1024, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues("true")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.transferBytes.WithLabelValues("ftp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transfersCompleted.WithLabelValues("ftp")))
}

func TestWriteToTextfile(t *testing.T) {
	t.Parallel()
	c := New()
	c.RecordTransfer("http", 42, time.Millisecond)

	path := filepath.Join(t.TempDir(), "fetch.prom")
	require.NoError(t, c.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `fetch_transfer_bytes_total{scheme="http"} 42`), string(data))
}
