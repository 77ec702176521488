package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/tracing"
	"acqbridge/pkg/utils"

	"go.uber.org/zap"
)

// CameraSettings are the host-level defaults of the logical camera.
type CameraSettings struct {
	Camera1        string
	Camera2        string
	StreamFormat   string
	SaveRoot       string
	SavePrefix     string
	Metadata       string
	MismatchPolicy domain.MismatchPolicy
}

type CameraServiceDeps struct {
	RuntimeInit ports.RuntimeInit
	Reporter    ports.Reporter
	Transport   ports.TransportFactory
	Sink        ports.ImageSink
	Runs        ports.RunRepository
	Allocator   ports.DirectoryAllocator
	Metrics     ports.AcquisitionMetrics
	Logger      *zap.SugaredLogger
}

// CameraService is the session controller of the dual-camera device. Every
// public method serializes on mu; Snap releases it while the pass runs and
// relies on the Snapping state to keep other callers out.
type CameraService struct {
	mu    sync.Mutex
	state domain.SessionState

	settings CameraSettings
	manager  *ConfigManager
	engine   *SyncEngine
	channel  int

	init      ports.RuntimeInit
	reporter  ports.Reporter
	transport ports.TransportFactory
	sink      ports.ImageSink
	runs      ports.RunRepository
	allocator ports.DirectoryAllocator
	metrics   ports.AcquisitionMetrics
	logger    *zap.SugaredLogger

	worker       *StreamingWorker
	workerCancel context.CancelFunc
	run          *domain.AcquisitionRun
	lastStats    domain.SessionStats

	persistRun *domain.AcquisitionRun
}

var _ ports.CameraService = (*CameraService)(nil)

func NewCameraService(settings CameraSettings, deps CameraServiceDeps) *CameraService {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger.Named("session")

	return &CameraService{
		settings:  settings,
		manager:   NewConfigManager(deps.RuntimeInit, deps.Reporter, deps.Logger),
		init:      deps.RuntimeInit,
		reporter:  deps.Reporter,
		transport: deps.Transport,
		sink:      deps.Sink,
		runs:      deps.Runs,
		allocator: deps.Allocator,
		metrics:   metrics,
		logger:    logger,
	}
}

// traced runs fn under the session lock inside an operation span.
func (s *CameraService) traced(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracing.TraceSessionOperation(ctx, op, s.state.String())
	defer span.End()

	if err := fn(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

// reconfigure runs a configuration change that requires an idle, initialized session.
func (s *CameraService) reconfigure(ctx context.Context, op string, fn func() error) error {
	return s.traced(ctx, op, func(ctx context.Context) error {
		if err := s.requireIdle(op); err != nil {
			return err
		}
		if err := s.requireInit(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			s.logger.Warnw("reconfiguration failed", "operation", op, "error", err)
			return err
		}
		return nil
	})
}

func (s *CameraService) requireIdle(op string) error {
	if s.state != domain.SessionIdle {
		return apperrors.NewCameraBusyError(op).WithContext("state", s.state.String())
	}
	return nil
}

func (s *CameraService) requireInit() error {
	if !s.manager.Initialized() {
		return apperrors.New(apperrors.ErrCodeNotInitialized, "camera is not initialized")
	}
	return nil
}

func (s *CameraService) setState(state domain.SessionState) {
	s.state = state
	s.metrics.RecordSessionState(state)
}

// Initialize (re)creates the runtime for the selected cameras.
func (s *CameraService) Initialize(ctx context.Context) error {
	return s.traced(ctx, "initialize", func(ctx context.Context) error {
		if err := s.requireIdle("initialize"); err != nil {
			return err
		}
		return s.initializeLocked(ctx)
	})
}

func (s *CameraService) initializeLocked(ctx context.Context) error {
	if err := s.manager.SelectCameras(s.settings.Camera1, s.settings.Camera2); err != nil {
		return err
	}
	s.closePersistenceRun(ctx, domain.RunStatusStopped)

	if err := s.manager.Initialize(ctx); err != nil {
		s.engine = nil
		return err
	}

	s.engine = NewSyncEngine(
		s.transport(s.manager.Runtime()),
		s.manager.Buffers(),
		s.manager.Streams(),
		s.settings.MismatchPolicy,
		s.metrics,
		s.logger,
	)
	s.channel = 0
	s.setState(domain.SessionIdle)
	return nil
}

func (s *CameraService) Shutdown(ctx context.Context) error {
	return s.traced(ctx, "shutdown", func(ctx context.Context) error {
		var err error
		if s.state == domain.SessionStreaming {
			if s.workerCancel != nil {
				s.workerCancel()
			}
			err = s.finishSequenceLocked(ctx)
		}
		s.closePersistenceRun(ctx, domain.RunStatusStopped)
		s.manager.Shutdown()
		s.engine = nil
		return err
	})
}

// ListCameras returns the camera devices the runtime reports. Without an
// initialized session a temporary runtime is created for discovery.
func (s *CameraService) ListCameras(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCamerasLocked()
}

func (s *CameraService) listCamerasLocked() ([]string, error) {
	rt := s.manager.Runtime()
	if rt == nil {
		tmp, err := s.init(s.reporter)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInitFailed, "initialize runtime for discovery")
		}
		defer func() {
			if err := tmp.Shutdown(); err != nil {
				s.logger.Warnw("discovery runtime shutdown failed", "error", err)
			}
		}()
		rt = tmp
	}

	devices, err := rt.ListDevices()
	if err != nil {
		s.logger.Errorw("list devices failed", "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeRuntime, "list devices")
	}
	var cameras []string
	for _, d := range devices {
		if d.Kind == domain.DeviceKindCamera {
			cameras = append(cameras, d.Name)
		}
	}
	return cameras, nil
}

// SelectCameras changes the camera pair and re-initializes a live session.
func (s *CameraService) SelectCameras(ctx context.Context, camera1, camera2 string) error {
	return s.traced(ctx, "select_cameras", func(ctx context.Context) error {
		if err := s.requireIdle("select cameras"); err != nil {
			return err
		}
		if err := ValidateSelection(camera1, camera2); err != nil {
			return err
		}
		if camera2 == domain.NoCamera {
			camera2 = ""
		}
		s.settings.Camera1, s.settings.Camera2 = camera1, camera2

		if !s.manager.Initialized() {
			return s.manager.SelectCameras(camera1, camera2)
		}
		return s.initializeLocked(ctx)
	})
}

func (s *CameraService) Properties(ctx context.Context) (*domain.CameraProperties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	props := &domain.CameraProperties{
		State:          s.state.String(),
		Initialized:    s.manager.Initialized(),
		Camera1:        s.settings.Camera1,
		Camera2:        s.settings.Camera2,
		CurrentChannel: s.channel,
		StreamFormat:   s.settings.StreamFormat,
		AllowedFormats: append([]string(nil), domain.StreamFormats...),
		SaveRoot:       s.settings.SaveRoot,
		SavePrefix:     s.settings.SavePrefix,
		Metadata:       s.settings.Metadata,
		AllowedBinning: s.manager.AllowedBinning(),
	}
	if props.Camera2 == "" {
		props.Camera2 = domain.NoCamera
	}
	if s.persistRun != nil {
		props.PersistenceEnabled = true
		props.CurrentDirectory = s.persistRun.Directory
	}
	if !props.Initialized {
		return props, nil
	}

	if cameras, err := s.listCamerasLocked(); err == nil {
		props.AvailableCameras = append([]string{domain.NoCamera}, cameras...)
	}
	props.Channels = s.manager.Streams()
	for i := 0; i < props.Channels; i++ {
		props.ChannelNames = append(props.ChannelNames, ChannelName(i))
	}
	props.PixelType = s.manager.PixelType().String()
	props.AllowedPixelTypes = s.manager.AllowedPixelTypes()
	props.Binning = s.manager.Binning()
	props.ExposureMs = s.manager.ExposureMs()
	props.ROI = s.manager.ROI()
	props.FullFrame = s.manager.FullFrame()
	props.ImageWidth, props.ImageHeight, props.BytesPerPixel = s.manager.Buffers().Shape()
	return props, nil
}

// ChannelName is the host-visible name of channel i.
func ChannelName(i int) string {
	return fmt.Sprintf("Camera-%d", i+1)
}

func (s *CameraService) SetPixelType(ctx context.Context, pixelType string) error {
	return s.reconfigure(ctx, "set pixel type", func() error {
		return s.manager.SetPixelType(pixelType)
	})
}

func (s *CameraService) SetBinning(ctx context.Context, binning int) error {
	return s.reconfigure(ctx, "set binning", func() error {
		return s.manager.SetBinning(binning)
	})
}

func (s *CameraService) SetROI(ctx context.Context, roi domain.ROI) error {
	return s.reconfigure(ctx, "set roi", func() error {
		return s.manager.SetROI(roi)
	})
}

func (s *CameraService) ClearROI(ctx context.Context) error {
	return s.reconfigure(ctx, "clear roi", func() error {
		return s.manager.ClearROI()
	})
}

func (s *CameraService) SetExposure(ctx context.Context, ms float64) error {
	return s.reconfigure(ctx, "set exposure", func() error {
		return s.manager.SetExposure(ms)
	})
}

// SetChannel selects the channel returned by ImageBuffer(-1).
func (s *CameraService) SetChannel(ctx context.Context, channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInit(); err != nil {
		return err
	}
	if channel < 0 || channel >= s.manager.Streams() {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "channel %d out of range [0, %d)", channel, s.manager.Streams())
	}
	s.channel = channel
	return nil
}

// Snap triggers every active stream once and fills the image buffers with
// one aligned frame per channel. It blocks until the frames arrive or the
// borrow retry ceiling is reached.
func (s *CameraService) Snap(ctx context.Context) error {
	s.mu.Lock()
	ctx, span := tracing.TraceSessionOperation(ctx, "snap", s.state.String())
	defer span.End()

	if err := s.requireIdle("snap"); err != nil {
		s.mu.Unlock()
		tracing.RecordError(ctx, err)
		return err
	}
	if err := s.requireInit(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setState(domain.SessionSnapping)
	rt := s.manager.Runtime()
	engine := s.engine
	streams := s.manager.Streams()
	s.mu.Unlock()

	started := time.Now()
	batch, err := s.snap(ctx, rt, engine, streams)

	s.mu.Lock()
	s.setState(domain.SessionIdle)
	s.mu.Unlock()

	s.metrics.RecordSnap(err == nil)
	s.recordSnapRun(ctx, started, batch, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("snap failed", "error", err)
		return err
	}
	tracing.AddSpanAttributes(ctx, tracing.FrameIDKey.Int64(int64(batch.StartID)))
	return nil
}

func (s *CameraService) snap(ctx context.Context, rt ports.Runtime, engine *SyncEngine, streams int) (domain.SyncedBatch, error) {
	for st := 0; st < streams; st++ {
		_, span := tracing.TraceRuntimeCall(ctx, "execute_trigger", st)
		err := rt.ExecuteTrigger(st)
		span.End()
		if err != nil {
			s.logger.Errorw("software trigger failed", "stream", st, "error", err)
			// discard frames already triggered on other streams
			s.rearm(rt)
			return domain.SyncedBatch{}, apperrors.Wrap(err, apperrors.ErrCodeRuntime, "software trigger on stream %d", st)
		}
	}
	batch, err := engine.Pass(ctx, 1, nil)
	if err != nil {
		// a stream that timed out leaves the others holding unreleased frames
		s.rearm(rt)
	}
	return batch, err
}

func (s *CameraService) rearm(rt ports.Runtime) {
	if err := rt.Abort(); err != nil {
		s.logger.Warnw("abort failed", "error", err)
	}
	if err := rt.Start(); err != nil {
		s.logger.Warnw("restart failed", "error", err)
	}
}

func (s *CameraService) recordSnapRun(ctx context.Context, started time.Time, batch domain.SyncedBatch, snapErr error) {
	ended := time.Now()
	run := &domain.AcquisitionRun{
		ID:               utils.GenerateRunID(),
		Kind:             domain.RunKindSnap,
		Cameras:          s.cameraList(),
		RequestedFrames:  1,
		FramesPerChannel: uint64(batch.Aligned),
		Drops:            batch.Drops,
		Status:           domain.RunStatusCompleted,
		StartedAt:        started,
		EndedAt:          &ended,
	}
	if snapErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = snapErr.Error()
	}
	s.saveRun(ctx, run, true)
}

func (s *CameraService) cameraList() []string {
	cams := []string{s.settings.Camera1}
	if s.settings.Camera2 != "" {
		cams = append(cams, s.settings.Camera2)
	}
	return cams
}

// ImageBuffer returns a copy of a channel buffer; channel < 0 selects the
// current channel.
func (s *CameraService) ImageBuffer(channel int) (*domain.ImageBuffer, error) {
	s.mu.Lock()
	if channel < 0 {
		channel = s.channel
	}
	initialized := s.manager.Initialized()
	s.mu.Unlock()

	if !initialized {
		return nil, apperrors.New(apperrors.ErrCodeNotInitialized, "camera is not initialized")
	}
	buf, err := s.manager.Buffers().Snapshot(channel)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "channel %d", channel)
	}
	return buf, err
}

// GenerateSyntheticImage fills a channel buffer with a constant value.
func (s *CameraService) GenerateSyntheticImage(channel int, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdle("generate image"); err != nil {
		return err
	}
	if err := s.requireInit(); err != nil {
		return err
	}
	if err := s.manager.Buffers().Fill(channel, value); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "channel %d", channel)
	}
	return nil
}

// StartSequence switches every stream to free-run with a frame cap of
// numImages (unbounded when 0) and starts the streaming worker.
func (s *CameraService) StartSequence(ctx context.Context, numImages uint64, stopOnOverflow bool) (*domain.AcquisitionRun, error) {
	var run *domain.AcquisitionRun
	err := s.traced(ctx, "start_sequence", func(ctx context.Context) error {
		if err := s.requireIdle("start sequence"); err != nil {
			return err
		}
		if err := s.requireInit(); err != nil {
			return err
		}

		if err := s.sink.PrepareForAcquisition(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "prepare image sink")
		}

		frameCap := numImages
		if frameCap == 0 {
			frameCap = domain.UnboundedFrames
		}
		if err := s.manager.ApplyConfig(func(c *domain.CameraStreamConfig) {
			c.Trigger.Enable = false
			c.MaxFrameCount = frameCap
		}); err != nil {
			return err
		}

		run = &domain.AcquisitionRun{
			ID:              utils.GenerateRunID(),
			Kind:            domain.RunKindSequence,
			Cameras:         s.cameraList(),
			RequestedFrames: numImages,
			StopOnOverflow:  stopOnOverflow,
			Status:          domain.RunStatusActive,
			StartedAt:       time.Now(),
		}
		if s.persistRun != nil {
			run.Directory = s.persistRun.Directory
			run.Format = s.persistRun.Format
			run.Prefix = s.persistRun.Prefix
		}
		s.saveRun(ctx, run, false)

		workerCtx, cancel := context.WithCancel(context.Background())
		worker := NewStreamingWorker(WorkerConfig{
			Engine:  s.engine,
			Buffers: s.manager.Buffers(),
			Sink:    s.sink,
			Metrics: s.metrics,
			Cameras: s.manager.Cameras(),
			RunID:   run.ID,
			Logger:  s.logger,
		})
		s.worker = worker
		s.workerCancel = cancel
		s.run = run
		s.setState(domain.SessionStreaming)
		worker.Start(workerCtx, numImages, stopOnOverflow)
		go s.watch(worker)

		tracing.AddSpanAttributes(ctx, tracing.RunIDKey.String(run.ID))
		s.logger.Infow("sequence started",
			"run_id", run.ID,
			"num_images", numImages,
			"stop_on_overflow", stopOnOverflow,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *run
	return &cp, nil
}

// watch finalizes the session when the worker reaches its frame cap. A
// failed worker leaves the session Streaming until StopSequence.
func (s *CameraService) watch(worker *StreamingWorker) {
	<-worker.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != worker {
		return
	}

	switch worker.Exit() {
	case WorkerCompleted:
		if err := s.finishSequenceLocked(context.Background()); err != nil {
			s.logger.Errorw("finalizing completed sequence failed", "error", err)
		}
	case WorkerFailed:
		s.lastStats.LastError = worker.Err().Error()
		s.logger.Warnw("streaming worker failed; session stays streaming until stopped",
			"run_id", s.run.ID,
			"error", worker.Err(),
		)
	}
}

// StopSequence stops the worker, restores software triggering and returns
// the session to Idle. It is a no-op unless the session is Streaming.
func (s *CameraService) StopSequence(ctx context.Context) error {
	return s.traced(ctx, "stop_sequence", func(ctx context.Context) error {
		if s.state != domain.SessionStreaming {
			return nil
		}
		return s.finishSequenceLocked(ctx)
	})
}

func (s *CameraService) finishSequenceLocked(ctx context.Context) error {
	worker := s.worker
	worker.Stop()
	workerErr := worker.Join()
	if s.workerCancel != nil {
		s.workerCancel()
	}

	s.setState(domain.SessionIdle)

	line := s.manager.TriggerLine()
	restoreErr := s.manager.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.Trigger = domain.Trigger{Enable: true, Line: line}
		c.MaxFrameCount = domain.UnboundedFrames
	})

	stats := worker.Stats()
	run := s.run
	ended := time.Now()
	run.EndedAt = &ended
	run.FramesPerChannel = stats.Frames
	run.Drops = stats.Drops
	run.Overflows = stats.Overflows
	switch worker.Exit() {
	case WorkerCompleted:
		run.Status = domain.RunStatusCompleted
	case WorkerFailed:
		run.Status = domain.RunStatusFailed
	default:
		run.Status = domain.RunStatusStopped
	}
	if workerErr != nil {
		run.Error = workerErr.Error()
	}
	s.saveRun(ctx, run, true)

	s.lastStats = domain.SessionStats{
		RunID:     run.ID,
		Frames:    stats.Frames,
		Drops:     stats.Drops,
		Overflows: stats.Overflows,
		LastError: run.Error,
	}
	s.worker = nil
	s.workerCancel = nil
	s.run = nil

	s.logger.Infow("sequence finished",
		"run_id", run.ID,
		"status", run.Status,
		"frames", stats.Frames,
		"drops", stats.Drops,
		"overflows", stats.Overflows,
	)
	if restoreErr != nil {
		s.logger.Errorw("restoring software trigger failed", "error", restoreErr)
		return restoreErr
	}
	return nil
}

func (s *CameraService) saveRun(ctx context.Context, run *domain.AcquisitionRun, final bool) {
	if final {
		s.metrics.RecordRun(run.Kind, run.Status)
	}
	if s.runs == nil {
		return
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "save", "runs")
	defer span.End()

	err := s.runs.Update(ctx, run)
	if errors.Is(err, domain.ErrRunNotFound) {
		err = s.runs.Create(ctx, run)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("saving acquisition run failed", "run_id", run.ID, "error", err)
	}
}

func (s *CameraService) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsCapturing reports whether a sequence is running.
func (s *CameraService) IsCapturing() bool {
	return s.State() == domain.SessionStreaming
}

func (s *CameraService) Stats() domain.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.lastStats
	stats.State = s.state.String()
	if s.worker != nil {
		ws := s.worker.Stats()
		stats.RunID = s.run.ID
		stats.Frames = ws.Frames
		stats.Drops = ws.Drops
		stats.Overflows = ws.Overflows
		if err := s.worker.Err(); err != nil {
			stats.LastError = err.Error()
		}
	}
	return stats
}

func (s *CameraService) GetRun(ctx context.Context, id string) (*domain.AcquisitionRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRunNotFound) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run, err
}

func (s *CameraService) ListRuns(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	return s.runs.ListRecent(ctx, limit)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatch(domain.SyncedBatch, time.Duration) {}
func (noopMetrics) RecordImageInserted(int, int) {}
func (noopMetrics) RecordOverflow() {}
func (noopMetrics) RecordTimeout(int) {}
func (noopMetrics) RecordSessionState(domain.SessionState) {}
func (noopMetrics) RecordSnap(bool) {}
func (noopMetrics) RecordRun(domain.RunKind, domain.RunStatus) {}
func (noopMetrics) RecordLiveViewClients(int) {}
