package upload

import (
	"context"
	"io"
	"math/rand"
	"sync/atomic"
	"time"
)

const (
	ProgressModeSynthetic = "synthetic"
	ProgressModeTransfer  = "transfer"
)

// ProgressSource estimates how far a transfer has come. Track returns the reader the
// uploader should consume; report receives percentages until ctx is done.
type ProgressSource interface {
	Track(ctx context.Context, total int64, body io.Reader, report func(percent float64)) io.Reader
}

// NewProgressSource maps a configured mode to a source. Unknown modes fall back to synthetic.
func NewProgressSource(mode string) ProgressSource {
	if mode == ProgressModeTransfer {
		return TransferProgress{}
	}
	return NewSyntheticProgress()
}

// SyntheticProgress advances a timer-driven estimate for transports that expose no
// byte-level signal. The estimate never passes Ceiling.
type SyntheticProgress struct {
	Tick    time.Duration
	MaxStep float64
	Ceiling float64
	Rand    func() float64
}

func NewSyntheticProgress() *SyntheticProgress {
	return &SyntheticProgress{
		Tick:    200 * time.Millisecond,
		MaxStep: 15,
		Ceiling: 90,
		Rand:    rand.Float64,
	}
}

func (p *SyntheticProgress) Track(ctx context.Context, total int64, body io.Reader, report func(float64)) io.Reader {
	go func() {
		ticker := time.NewTicker(p.Tick)
		defer ticker.Stop()

		estimate := 0.0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if estimate >= p.Ceiling {
					continue
				}
				estimate += p.Rand() * p.MaxStep
				if estimate > p.Ceiling {
					estimate = p.Ceiling
				}
				report(estimate)
			}
		}
	}()
	return body
}

// TransferProgress reports the share of bytes the uploader has actually read.
type TransferProgress struct{}

func (TransferProgress) Track(ctx context.Context, total int64, body io.Reader, report func(float64)) io.Reader {
	if total <= 0 {
		return body
	}
	return &countingReader{ctx: ctx, r: body, total: total, report: report}
}

type countingReader struct {
	ctx    context.Context
	r      io.Reader
	total  int64
	read   atomic.Int64
	report func(float64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.ctx.Err() == nil {
		done := c.read.Add(int64(n))
		c.report(float64(done) / float64(c.total) * 100)
	}
	return n, err
}
