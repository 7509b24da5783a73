package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxThrottleChunk caps the bucket size so a single Read never has to wait
// for more than one chunk worth of tokens.
const maxThrottleChunk = 32 * 1024

// throttledReader limits the byte rate of an underlying reader with a token
// bucket.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
	chunk   int
}

// ThrottledReader wraps r so that it yields at most bytesPerSecond bytes per
// second. A non-positive rate returns r unchanged. Reads fail with the
// context error once ctx is done.
func ThrottledReader(ctx context.Context, r io.Reader, bytesPerSecond int) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}

	chunk := bytesPerSecond
	if chunk > maxThrottleChunk {
		chunk = maxThrottleChunk
	}

	return &throttledReader{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), chunk),
		chunk:   chunk,
	}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > t.chunk {
		p = p[:t.chunk]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
