//go:build !unix

package main

import (
	"context"

	"github.com/gonzalop/fetch/localfile"
)

// withFS runs fn against the local filesystem directly; privilege
// separation needs unix domain sockets.
func withFS(_ context.Context, fn func(localfile.FS) int) int {
	return fn(localfile.OS{})
}
