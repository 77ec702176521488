package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/retry"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Millisecond
	DefaultMaxRetries   = 1000
)

// Options tunes the borrow polling loop.
type Options struct {
	PollInterval time.Duration
	MaxRetries   int
}

// Adapter turns the runtime's map/unmap primitives into borrow and release of
// whole frames, per stream.
type Adapter struct {
	rt     ports.Runtime
	opts   Options
	logger *zap.SugaredLogger

	mu       sync.Mutex
	borrowed [domain.MaxStreams][]uint64 // frame end offsets of the last borrow
}

var _ ports.FrameTransport = (*Adapter)(nil)

func NewAdapter(rt ports.Runtime, opts Options, logger *zap.SugaredLogger) *Adapter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Adapter{
		rt:     rt,
		opts:   opts,
		logger: logger,
	}
}

// Borrow maps the stream once without waiting. The view may be empty.
func (a *Adapter) Borrow(stream int) (*View, error) {
	if stream < 0 || stream >= domain.MaxStreams {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "stream %d out of range", stream)
	}

	region, err := a.rt.MapRead(stream)
	if err != nil {
		a.logger.Errorw("map_read failed", "stream", stream, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeRuntime, "map stream %d", stream)
	}

	v := newView(stream, region)
	ends, err := v.boundaries()
	if err != nil {
		a.logger.Errorw("corrupt frame region", "stream", stream, "bytes", len(region), "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeRuntime, "decode stream %d", stream)
	}

	a.mu.Lock()
	a.borrowed[stream] = ends
	a.mu.Unlock()
	return v, nil
}

// BorrowWait polls Borrow until the view holds at least one frame. It gives up
// with a Timeout error after the configured number of retries.
func (a *Adapter) BorrowWait(ctx context.Context, stream int) (*View, error) {
	var view *View
	err := retry.Poll(ctx, a.opts.PollInterval, a.opts.MaxRetries, func() (bool, error) {
		v, err := a.Borrow(stream)
		if err != nil {
			return false, err
		}
		view = v
		return !v.Empty(), nil
	})
	if errors.Is(err, retry.ErrPollExhausted) {
		a.logger.Warnw("no frames before retry ceiling",
			"stream", stream,
			"retries", a.opts.MaxRetries,
			"interval", a.opts.PollInterval,
		)
		return nil, apperrors.NewTimeoutError(stream, a.opts.MaxRetries)
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// WaitFrames implements ports.FrameTransport.
func (a *Adapter) WaitFrames(ctx context.Context, stream int) ([]domain.FrameRecord, error) {
	v, err := a.BorrowWait(ctx, stream)
	if err != nil {
		return nil, err
	}
	return v.Frames()
}

// Release frees n bytes of the last borrow on stream. n must end on a frame
// boundary inside that borrow.
func (a *Adapter) Release(stream int, n uint64) error {
	if stream < 0 || stream >= domain.MaxStreams {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "stream %d out of range", stream)
	}
	if n == 0 {
		return nil
	}

	a.mu.Lock()
	ends := a.borrowed[stream]
	a.mu.Unlock()

	if !onBoundary(ends, n) {
		a.logger.Errorw("release rejected", "stream", stream, "bytes", n, "borrowed_frames", len(ends))
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			"release of %d bytes on stream %d is not a whole number of borrowed frames", n, stream)
	}

	if err := a.rt.UnmapRead(stream, n); err != nil {
		a.logger.Errorw("unmap_read failed", "stream", stream, "bytes", n, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeRuntime, "unmap stream %d", stream)
	}

	a.mu.Lock()
	a.borrowed[stream] = nil
	a.mu.Unlock()
	return nil
}

func onBoundary(ends []uint64, n uint64) bool {
	for _, e := range ends {
		if e == n {
			return true
		}
		if e > n {
			return false
		}
	}
	return false
}
