// Package config loads the fetch command configuration from flags, with
// environment variables as defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the command configuration.
type Config struct {
	// Output names the destination. Empty means the base name of each URL
	// path; "-" means standard output.
	Output string

	// Resume continues partially retrieved files.
	Resume bool

	// Network is "tcp", "tcp4" or "tcp6".
	Network string

	// Active makes FTP use EPRT only.
	Active bool

	// Debug prints protocol commands as they are sent.
	Debug bool

	// Verbose prints connection progress and server replies.
	Verbose bool

	// Quiet disables the progress display.
	Quiet bool

	// RateLimit caps transfers, in bytes per second. Zero is unlimited.
	RateLimit int64

	// ConnectTimeout bounds connection establishment. Zero waits forever.
	ConnectTimeout time.Duration

	// Proxy is an http:// URL all requests go through.
	Proxy string

	// User and Password are the FTP credentials. An empty user logs in
	// anonymously.
	User     string
	Password string

	LogLevel    string
	MetricsFile string

	// URLs are the resources to retrieve, in order.
	URLs []string
}

// ErrUsage is returned when the arguments are invalid.
var ErrUsage = errors.New("usage: fetch [-46ACdVv] [-o output] [-r rate] [-u user] url ...")

// Load parses args, the command line without the program name. Environment
// variables provide defaults that flags override.
func Load(args []string, stderr io.Writer) (*Config, error) {
	cfg := &Config{
		Proxy:       envOr("http_proxy", ""),
		LogLevel:    envOr("FETCH_LOG_LEVEL", "warn"),
		MetricsFile: envOr("FETCH_METRICS_FILE", ""),
		Password:    envOr("FETCH_PASSWORD", ""),
		Network:     "tcp",
	}

	timeout, err := envDuration("FETCH_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	cfg.ConnectTimeout = timeout

	switch mode := strings.ToLower(envOr("FTPMODE", "passive")); mode {
	case "passive", "auto":
	case "active":
		cfg.Active = true
	default:
		return nil, fmt.Errorf("FTPMODE: unknown mode %q", mode)
	}

	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var v4, v6 bool
	fs.BoolVar(&v4, "4", false, "use IPv4 only")
	fs.BoolVar(&v6, "6", false, "use IPv6 only")
	fs.BoolVar(&cfg.Active, "A", cfg.Active, "use active mode FTP")
	fs.BoolVar(&cfg.Resume, "C", false, "continue a previous transfer")
	fs.BoolVar(&cfg.Debug, "d", false, "print protocol commands")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose output")
	fs.BoolVar(&cfg.Quiet, "V", false, "disable the progress display")
	fs.StringVar(&cfg.Output, "o", "", "output file, - for standard output")
	fs.Int64Var(&cfg.RateLimit, "r", 0, "limit transfers to `rate` bytes per second")
	fs.Func("w", "connect timeout in `seconds` or as a duration", func(v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		cfg.ConnectTimeout = d
		return nil
	})
	fs.StringVar(&cfg.User, "u", "", "FTP login name")
	fs.StringVar(&cfg.Proxy, "proxy", cfg.Proxy, "HTTP proxy URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus metrics to this file on exit")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	switch {
	case v4 && v6:
		return nil, fmt.Errorf("%w: -4 and -6 are mutually exclusive", ErrUsage)
	case v4:
		cfg.Network = "tcp4"
	case v6:
		cfg.Network = "tcp6"
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("%w: negative rate", ErrUsage)
	}

	cfg.URLs = fs.Args()
	if len(cfg.URLs) == 0 {
		return nil, ErrUsage
	}
	if cfg.Output != "" && len(cfg.URLs) > 1 && cfg.Output != "-" {
		return nil, fmt.Errorf("%w: -o with more than one url", ErrUsage)
	}
	if cfg.Resume && cfg.Output == "-" {
		return nil, fmt.Errorf("%w: -C cannot be used with standard output", ErrUsage)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration reads a duration from the environment.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// parseDuration accepts plain seconds as well as time.ParseDuration syntax.
func parseDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if secs, serr := strconv.Atoi(v); serr == nil {
		d, err = time.Duration(secs)*time.Second, nil
	}
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", v)
	}
	return d, nil
}
