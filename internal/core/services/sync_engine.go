package services

import (
	"context"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"

	"go.uber.org/zap"
)

// EmitFunc receives aligned frame i of a pass, one record per stream, after
// the frames were copied into the image buffers and before they are released.
type EmitFunc func(index int, frames []domain.FrameRecord) error

// SyncEngine aligns frames of up to two streams by frame id.
type SyncEngine struct {
	transport ports.FrameTransport
	buffers   *domain.ImageBufferSet
	streams   int
	policy    domain.MismatchPolicy
	metrics   ports.AcquisitionMetrics
	logger    *zap.SugaredLogger
}

func NewSyncEngine(
	transport ports.FrameTransport,
	buffers *domain.ImageBufferSet,
	streams int,
	policy domain.MismatchPolicy,
	metrics ports.AcquisitionMetrics,
	logger *zap.SugaredLogger,
) *SyncEngine {
	return &SyncEngine{
		transport: transport,
		buffers:   buffers,
		streams:   streams,
		policy:    policy,
		metrics:   metrics,
		logger:    logger.Named("sync"),
	}
}

// Pass runs one synchronization pass. It waits for frames on every stream,
// aligns at most maxFrames of them (all available when maxFrames <= 0),
// emits each aligned index and releases exactly the frames it aligned.
func (e *SyncEngine) Pass(ctx context.Context, maxFrames int, emit EmitFunc) (domain.SyncedBatch, error) {
	start := time.Now()
	batch := domain.SyncedBatch{Streams: e.streams}

	frames := make([][]domain.FrameRecord, e.streams)
	for s := 0; s < e.streams; s++ {
		recs, err := e.transport.WaitFrames(ctx, s)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeTimeout) && e.metrics != nil {
				e.metrics.RecordTimeout(s)
			}
			return batch, err
		}
		frames[s] = recs
	}

	n := len(frames[0])
	for s := 1; s < e.streams; s++ {
		n = min(n, len(frames[s]))
	}
	if maxFrames > 0 && n > maxFrames {
		n = maxFrames
	}
	batch.StartID = frames[0][0].ID
	batch.Aligned = n

	missed := false
	for s := 0; s < e.streams; s++ {
		for i := 0; i < n; i++ {
			want := batch.StartID + uint64(i)
			if got := frames[s][i].ID; got != want {
				batch.Drops[s]++
				missed = true
				e.logger.Warnw("frame id mismatch",
					"stream", s,
					"index", i,
					"expected", want,
					"got", got,
					"policy", e.policy,
				)
			}
		}
	}

	var passErr error
	if missed && e.policy == domain.MismatchAbort {
		passErr = apperrors.New(apperrors.ErrCodeMissedFrame,
			"frame id gap in batch starting at %d (drops %v)", batch.StartID, batch.Drops[:e.streams]).
			WithContext("start_id", batch.StartID)
	} else {
		passErr = e.copyAndEmit(frames, n, emit)
	}

	if err := e.release(frames, n); err != nil && passErr == nil {
		passErr = err
	}

	if e.metrics != nil {
		e.metrics.RecordBatch(batch, time.Since(start))
	}
	return batch, passErr
}

func (e *SyncEngine) copyAndEmit(frames [][]domain.FrameRecord, n int, emit EmitFunc) error {
	aligned := make([]domain.FrameRecord, e.streams)
	for i := 0; i < n; i++ {
		for s := 0; s < e.streams; s++ {
			aligned[s] = frames[s][i]
			if err := e.buffers.Store(s, frames[s][i].Payload); err != nil {
				e.logger.Errorw("frame does not fit image buffer", "stream", s, "frame_id", frames[s][i].ID, "error", err)
				return apperrors.Wrap(err, apperrors.ErrCodeRuntime, "copy frame %d of stream %d", frames[s][i].ID, s)
			}
		}
		if emit == nil {
			continue
		}
		if err := emit(i, aligned); err != nil {
			return err
		}
	}
	return nil
}

// release frees the first n frames of every stream, whatever happened to them.
func (e *SyncEngine) release(frames [][]domain.FrameRecord, n int) error {
	var firstErr error
	for s := 0; s < e.streams; s++ {
		var bytes uint64
		for _, f := range frames[s][:n] {
			bytes += f.Size
		}
		if err := e.transport.Release(s, bytes); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
