// Package ratelimit throttles transfer bandwidth with a token bucket.
//
// The bucket holds one second worth of bytes, so short bursts go through
// at full speed while the average rate stays at the configured limit.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk caps a single read so that waits stay short and the rate stays
// smooth.
const maxChunk = 8 * 1024

// Limiter limits the rate of data transfer to a number of bytes per second.
// A nil *Limiter means unlimited.
type Limiter struct {
	lim   *rate.Limiter
	chunk int
}

// New returns a limiter for bytesPerSecond, or nil when the rate is zero or
// negative.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst < 0 {
		burst = int(^uint(0) >> 1)
	}
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		chunk: min(maxChunk, burst),
	}
}

// Rate returns the configured limit in bytes per second, or zero for a nil
// limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// wait blocks until n bytes may pass.
func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.lim.WaitN(ctx, n)
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewReader returns r throttled by limiter. If limiter is nil, r is returned
// unchanged. Waiting stops with ctx's error once ctx is done.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

// Read implements io.Reader. Bytes are paid for after they have been read,
// so a short read at end of stream is never overcharged.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) > r.limiter.chunk {
		p = p[:r.limiter.chunk]
	}
	n, err := r.r.Read(p)
	if werr := r.limiter.wait(r.ctx, n); werr != nil && err == nil {
		err = werr
	}
	return n, err
}
