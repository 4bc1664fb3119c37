// Command fetch retrieves files over http, https, ftp and from local file
// URLs.
//
// Usage:
//
//	fetch [-46ACdVv] [-o output] [-r rate] [-u user] [-w timeout] url ...
//
// Filesystem access is delegated to a separate process over a privilege
// separation channel; the process doing network work never opens local
// files itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/gonzalop/fetch"
	"github.com/gonzalop/fetch/ftp"
	"github.com/gonzalop/fetch/httpclient"
	"github.com/gonzalop/fetch/internal/config"
	"github.com/gonzalop/fetch/internal/logging"
	"github.com/gonzalop/fetch/internal/metrics"
	"github.com/gonzalop/fetch/localfile"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := start(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// start parses the configuration and runs the transfers, in this process or
// behind a privilege separation channel. It returns the exit status.
func start(ctx context.Context, args []string) int {
	cfg, err := config.Load(args, os.Stderr)
	if err != nil {
		if !errors.Is(err, config.ErrUsage) {
			fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}
	defer logging.Sync()
	slog.SetDefault(logging.Slog())

	return withFS(ctx, func(fsys localfile.FS) int {
		if err := run(ctx, cfg, fsys); err != nil {
			logging.L().Debug("fetch failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
			return 1
		}
		return 0
	})
}

// run retrieves every configured URL in order and stops at the first
// failure.
func run(ctx context.Context, cfg *config.Config, fsys localfile.FS) error {
	logger := slog.Default()

	var info, debug io.Writer
	if cfg.Verbose {
		info = os.Stderr
	}
	if cfg.Debug {
		debug = os.Stderr
	}

	var mc *metrics.Collector
	if cfg.MetricsFile != "" {
		mc = metrics.New()
		defer func() {
			if err := mc.WriteToTextfile(cfg.MetricsFile); err != nil {
				logging.S().Warnw("writing metrics", "file", cfg.MetricsFile, "error", err)
			}
		}()
	}

	d, err := newDispatcher(cfg, fsys, logger, info, debug, mc)
	if err != nil {
		return err
	}

	dst := &localfile.Destination{FS: fsys}
	for _, raw := range cfg.URLs {
		u, err := fetch.Parse(raw)
		if err != nil {
			return err
		}
		u.LocalName, err = localName(cfg.Output, u)
		if err != nil {
			return err
		}

		logging.S().Debugw("fetching", "url", u.String(), "output", u.LocalName)
		if err := d.Fetch(ctx, u, dst); err != nil {
			return err
		}
		logging.S().Infow("fetched", "url", u.String(), "bytes", u.Offset)
	}
	return nil
}

func newDispatcher(cfg *config.Config, fsys localfile.FS, logger *slog.Logger, info, debug io.Writer, mc *metrics.Collector) (*fetch.Dispatcher, error) {
	ftpOpts := []ftp.Option{
		ftp.WithLogger(logger),
		ftp.WithInfoWriter(info),
		ftp.WithDebugWriter(debug),
		ftp.WithNetwork(cfg.Network),
		ftp.WithConnectTimeout(cfg.ConnectTimeout),
		ftp.WithCredentials(cfg.User, cfg.Password),
		ftp.WithBandwidthLimit(cfg.RateLimit),
	}
	if cfg.Active {
		ftpOpts = append(ftpOpts, ftp.WithActiveMode())
	}

	httpOpts := []httpclient.Option{
		httpclient.WithLogger(logger),
		httpclient.WithInfoWriter(info),
		httpclient.WithNetwork(cfg.Network),
		httpclient.WithConnectTimeout(cfg.ConnectTimeout),
		httpclient.WithBandwidthLimit(cfg.RateLimit),
	}

	opts := []fetch.Option{fetch.WithLogger(logger)}
	if mc != nil {
		ftpOpts = append(ftpOpts, ftp.WithMetricsCollector(mc))
		httpOpts = append(httpOpts, httpclient.WithMetricsCollector(mc))
		opts = append(opts, fetch.WithMetricsCollector(mc))
	}
	if cfg.Resume {
		opts = append(opts, fetch.WithResume())
	}
	if cfg.Proxy != "" {
		proxy, err := fetch.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		opts = append(opts, fetch.WithProxy(proxy))
	}
	if !cfg.Quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		opts = append(opts, fetch.WithProgress(progress(os.Stderr)))
	}

	web, err := httpclient.NewEngine(httpOpts...)
	if err != nil {
		return nil, err
	}
	local, err := localfile.NewEngine(fsys, localfile.WithLogger(logger), localfile.WithInfoWriter(info))
	if err != nil {
		return nil, err
	}

	return fetch.NewDispatcher(map[fetch.Scheme]fetch.Engine{
		fetch.SchemeHTTP:  web,
		fetch.SchemeHTTPS: web,
		fetch.SchemeFTP:   ftp.NewEngine(ftpOpts...),
		fetch.SchemeFile:  local,
	}, opts...)
}

// localName picks the destination for u: the -o value when given,
// otherwise the last element of the path.
func localName(output string, u *fetch.URL) (string, error) {
	if output != "" {
		return output, nil
	}
	name := path.Base(u.Path)
	if u.Path == "" || name == "/" || name == "." {
		return "", fmt.Errorf("no filename after host: %s", u.String())
	}
	return name, nil
}

// progress prints "name offset/size" on a single, rewritten line.
func progress(w io.Writer) fetch.ProgressFunc {
	return func(name string, offset, size int64) {
		if size > 0 {
			fmt.Fprintf(w, "\r%s %d/%d bytes", name, offset, size)
			if offset >= size {
				fmt.Fprintln(w)
			}
			return
		}
		fmt.Fprintf(w, "\r%s %d bytes", name, offset)
	}
}
