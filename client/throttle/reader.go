package throttle

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// NewReader limits reads from r to bytesPerSecond. A single Read never
// returns more than burst bytes. Values below one are raised to one.
func NewReader(ctx context.Context, r io.Reader, bytesPerSecond, burst int) *Reader {
	bytesPerSecond = max(bytesPerSecond, 1)
	burst = max(burst, 1)

	return &Reader{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Read waits until len(p) tokens are available, capped at the burst
// size, and then reads at most that many bytes. Tokens are spent up
// front, so a short read is paid for in full.
func (tr *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return tr.r.Read(p)
	}
	if b := tr.limiter.Burst(); len(p) > b {
		p = p[:b]
	}

	if err := tr.limiter.WaitN(tr.ctx, len(p)); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	return tr.r.Read(p)
}
