package services

import (
	"context"
	"sync"
	"sync/atomic"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"

	"go.uber.org/zap"
)

// WorkerExit tells why a streaming worker ended.
type WorkerExit int

const (
	WorkerRunning WorkerExit = iota
	WorkerStopped            // stop requested
	WorkerCompleted          // frame cap reached
	WorkerFailed             // engine error or overflow with stopOnOverflow
)

func (w WorkerExit) String() string {
	switch w {
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	case WorkerCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// WorkerStats are the counters of one streaming run.
type WorkerStats struct {
	Frames    uint64 // per channel
	Drops     [domain.MaxStreams]int
	Overflows int
}

// StreamingWorker pulls synchronization passes in a background goroutine and
// hands every aligned frame to the image sink. Stop is a request observed
// between passes; Join waits for the loop to exit.
type StreamingWorker struct {
	engine  *SyncEngine
	buffers *domain.ImageBufferSet
	sink    ports.ImageSink
	metrics ports.AcquisitionMetrics
	cameras [domain.MaxStreams]string
	runID   string
	logger  *zap.SugaredLogger

	numImages      uint64
	stopOnOverflow bool

	stop    atomic.Bool
	started atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	stats WorkerStats
	exit  WorkerExit
	err   error
}

type WorkerConfig struct {
	Engine  *SyncEngine
	Buffers *domain.ImageBufferSet
	Sink    ports.ImageSink
	Metrics ports.AcquisitionMetrics
	Cameras [domain.MaxStreams]string
	RunID   string
	Logger  *zap.SugaredLogger
}

func NewStreamingWorker(cfg WorkerConfig) *StreamingWorker {
	return &StreamingWorker{
		engine:  cfg.Engine,
		buffers: cfg.Buffers,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		cameras: cfg.Cameras,
		runID:   cfg.RunID,
		logger:  cfg.Logger.Named("worker").With("run_id", cfg.RunID),
		done:    make(chan struct{}),
	}
}

// Start launches the loop. numImages == 0 streams until stopped.
func (w *StreamingWorker) Start(ctx context.Context, numImages uint64, stopOnOverflow bool) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.numImages = numImages
	w.stopOnOverflow = stopOnOverflow
	go w.run(ctx)
}

// Stop requests the loop to end after the current pass.
func (w *StreamingWorker) Stop() {
	w.stop.Store(true)
}

// Join blocks until the loop has exited and returns its error.
func (w *StreamingWorker) Join() error {
	if !w.started.Load() {
		return nil
	}
	<-w.done
	return w.Err()
}

func (w *StreamingWorker) Done() <-chan struct{} {
	return w.done
}

func (w *StreamingWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *StreamingWorker) Exit() WorkerExit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exit
}

func (w *StreamingWorker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *StreamingWorker) run(ctx context.Context) {
	exit, err := w.loop(ctx)

	w.mu.Lock()
	w.exit = exit
	w.err = err
	frames := w.stats.Frames
	w.mu.Unlock()

	if err != nil {
		w.logger.Errorw("streaming worker stopped on error", "frames", frames, "error", err)
	} else {
		w.logger.Infow("streaming worker finished", "exit", exit, "frames", frames)
	}
	close(w.done)
}

func (w *StreamingWorker) loop(ctx context.Context) (WorkerExit, error) {
	for {
		if w.stop.Load() {
			return WorkerStopped, nil
		}

		maxFrames := 0
		if w.numImages > 0 {
			remaining := w.numImages - w.Stats().Frames
			if remaining == 0 {
				return WorkerCompleted, nil
			}
			maxFrames = int(remaining)
		}

		batch, err := w.engine.Pass(ctx, maxFrames, w.emit)

		w.mu.Lock()
		for s := range batch.Drops {
			w.stats.Drops[s] += batch.Drops[s]
		}
		w.mu.Unlock()

		if err != nil {
			return WorkerFailed, err
		}
	}
}

// emit inserts aligned frame index into the sink, one image per channel.
func (w *StreamingWorker) emit(_ int, frames []domain.FrameRecord) error {
	for ch, f := range frames {
		buf, err := w.buffers.Channel(ch)
		if err != nil {
			return err
		}
		img := domain.Image{
			Channel:       ch,
			Width:         buf.Width,
			Height:        buf.Height,
			BytesPerPixel: buf.Depth,
			FrameCount:    1,
			Pixels:        buf.Pixels,
			Metadata: domain.ImageMetadata{
				FrameID:   f.ID,
				Timestamp: f.Timestamp,
				Channel:   ch,
				Camera:    w.cameras[ch],
				RunID:     w.runID,
			}.Marshal(),
		}
		if err := w.insert(img); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.stats.Frames++
	w.mu.Unlock()
	return nil
}

func (w *StreamingWorker) insert(img domain.Image) error {
	ctx := context.Background()
	err := w.sink.InsertImage(ctx, img)
	if err == nil {
		w.recordInserted(img)
		return nil
	}
	if !apperrors.HasCode(err, apperrors.ErrCodeBufferOverflow) {
		return err
	}

	if w.metrics != nil {
		w.metrics.RecordOverflow()
	}
	if w.stopOnOverflow {
		return err
	}

	w.mu.Lock()
	w.stats.Overflows++
	w.mu.Unlock()
	w.logger.Warnw("image sink overflow, clearing", "channel", img.Channel)

	w.sink.ClearImageBuffer()
	if err := w.sink.InsertImage(ctx, img); err != nil {
		return err
	}
	w.recordInserted(img)
	return nil
}

func (w *StreamingWorker) recordInserted(img domain.Image) {
	if w.metrics != nil {
		w.metrics.RecordImageInserted(img.Channel, len(img.Pixels))
	}
}
