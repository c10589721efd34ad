package download

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

const maxThrottleBurst = humanize.MiByte

// NewRateLimiter returns a token bucket allowing bytesPerSecond bytes per
// second, or nil when bytesPerSecond is not positive.
func NewRateLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond
	if burst > maxThrottleBurst {
		burst = maxThrottleBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))
}

// throttledReader waits on the limiter for every chunk it hands out. Reads
// are capped at the burst size so WaitN never asks for more than the bucket
// can hold.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func throttle(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
