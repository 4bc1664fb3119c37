// Package metrics provides a Prometheus implementation of
// fetch.MetricsCollector.
package metrics

import (
	"strconv"
	"time"

	"github.com/gonzalop/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fetch"

// Collector records command, connection and transfer metrics into its own
// registry.
type Collector struct {
	registry *prometheus.Registry

	commandsTotal      *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	connectionsTotal   *prometheus.CounterVec
	transferBytes      *prometheus.CounterVec
	transferDuration   *prometheus.HistogramVec
	transfersCompleted *prometheus.CounterVec
}

var _ fetch.MetricsCollector = (*Collector)(nil)

// New returns a collector with a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Protocol commands sent, by command and outcome",
			},
			[]string{"command", "success"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time from sending a command to reading its reply",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		connectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_attempts_total",
				Help:      "Connection attempts to candidate addresses, by outcome",
			},
			[]string{"success"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Bytes retrieved, by scheme",
			},
			[]string{"scheme"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Time from connect to the end of the transfer",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"scheme"},
		),
		transfersCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Transfers completed successfully, by scheme",
			},
			[]string{"scheme"},
		),
	}
}

// RecordCommand implements fetch.MetricsCollector.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commandsTotal.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordConnection implements fetch.MetricsCollector. The address is not
// used as a label.
func (c *Collector) RecordConnection(success bool, _ string) {
	c.connectionsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordTransfer implements fetch.MetricsCollector.
func (c *Collector) RecordTransfer(scheme string, bytes int64, duration time.Duration) {
	c.transferBytes.WithLabelValues(scheme).Add(float64(bytes))
	c.transferDuration.WithLabelValues(scheme).Observe(duration.Seconds())
	c.transfersCompleted.WithLabelValues(scheme).Inc()
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteToTextfile writes the metrics in the text exposition format to path,
// for pickup by the node exporter's textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
