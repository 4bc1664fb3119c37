//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/gonzalop/fetch/internal/logging"
	"github.com/gonzalop/fetch/localfile"
	"github.com/gonzalop/fetch/privsep"
	"go.uber.org/zap"
)

const (
	// childEnv marks the re-executed network process.
	childEnv = "FETCH_PRIVSEP_CHILD"

	// disableEnv turns privilege separation off when set to "0".
	disableEnv = "FETCH_PRIVSEP"

	// childFD is the descriptor the channel is passed on: the first of
	// exec.Cmd.ExtraFiles.
	childFD = 3
)

// withFS runs fn with a filesystem reached over a privilege separation
// channel. The parent serves filesystem requests while a re-executed child
// does the network work; the child's exit status is returned.
func withFS(ctx context.Context, fn func(localfile.FS) int) int {
	if os.Getenv(disableEnv) == "0" {
		return fn(localfile.OS{})
	}
	if os.Getenv(childEnv) == "1" {
		return child(fn)
	}
	return parent(ctx)
}

func child(fn func(localfile.FS) int) int {
	conn, err := privsep.FileConn(os.NewFile(childFD, "privsep"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}
	ch := privsep.NewChannel(conn, privsep.WithLogger(logging.Slog()))
	defer ch.Close()
	return fn(ch)
}

func parent(ctx context.Context) int {
	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	ours, theirs, err := privsep.PairFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.ExtraFiles = []*os.File{theirs}
	cmd.Env = append(os.Environ(), childEnv+"=1")

	err = cmd.Start()
	theirs.Close()
	if err != nil {
		ours.Close()
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	conn, err := privsep.FileConn(ours)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	served := make(chan error, 1)
	go func() {
		served <- privsep.Serve(ctx, conn, &privsep.FSHandler{}, logging.Slog())
	}()

	werr := cmd.Wait()
	conn.Close()
	if err := <-served; err != nil {
		logging.L().Warn("privsep server", zap.Error(err))
	}

	if werr != nil {
		var exit *exec.ExitError
		if errors.As(werr, &exit) && exit.ExitCode() > 0 {
			return exit.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "fetch: %v\n", werr)
		return 1
	}
	return 0
}
