// Package sim is an in-process acquisition runtime with demo cameras. It
// produces packed frame records into bounded per-stream rings the same way a
// vendor runtime does, so the bridge can run without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	"acqbridge/pkg/utils"
	"acqbridge/pkg/videoframe"
)

var (
	ErrRunning       = errors.New("sim: runtime is running")
	ErrNotRunning    = errors.New("sim: runtime is not running")
	ErrShutdown      = errors.New("sim: runtime is shut down")
	ErrUnknownDevice = errors.New("sim: device not found")
	ErrBadStream     = errors.New("sim: stream is not configured")

	errFrameCapReached = errors.New("sim: frame cap reached")
)

const defaultRingFrames = 64

// Option customizes a simulated runtime.
type Option func(*Runtime)

// WithCameras adds cameras besides the simulated demo devices.
func WithCameras(cams ...CameraSpec) Option {
	return func(r *Runtime) {
		r.cameras = append(r.cameras, cams...)
	}
}

// WithRingFrames sets how many frames each stream's ring holds.
func WithRingFrames(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.ringFrames = n
		}
	}
}

// WithFramePeriod fixes the free-run frame period instead of deriving it from exposure.
func WithFramePeriod(d time.Duration) Option {
	return func(r *Runtime) {
		r.framePeriod = d
	}
}

// WithSeed makes the random pattern reproducible.
func WithSeed(seed int64) Option {
	return func(r *Runtime) {
		r.seed = seed
	}
}

type streamState struct {
	camera   CameraSpec
	settings domain.CameraStreamConfig
	ring     *ring
	storage  *os.File
	rng      *rand.Rand
	pixels   []byte
	scratch  []byte
	nextID   uint64
	produced uint64
	dropped  uint64
}

// Runtime implements ports.Runtime.
type Runtime struct {
	handle      string
	reporter    ports.Reporter
	cameras     []CameraSpec
	ringFrames  int
	framePeriod time.Duration
	seed        int64

	mu       sync.Mutex
	cfg      domain.RuntimeConfig
	streams  [domain.MaxStreams]*streamState
	running  bool
	shutdown bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a runtime reporting through reporter.
func New(reporter ports.Reporter, opts ...Option) *Runtime {
	r := &Runtime{
		handle:     utils.GenerateHandleID(),
		reporter:   reporter,
		cameras:    simulatedCameras(),
		ringFrames: defaultRingFrames,
		seed:       time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init returns a ports.RuntimeInit producing simulated runtimes.
func Init(opts ...Option) ports.RuntimeInit {
	return func(reporter ports.Reporter) (ports.Runtime, error) {
		if reporter == nil {
			return nil, errors.New("sim: reporter is required")
		}
		return New(reporter, opts...), nil
	}
}

func (r *Runtime) Handle() string {
	return r.handle
}

func (r *Runtime) ListDevices() ([]domain.DeviceIdentifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, ErrShutdown
	}

	devices := make([]domain.DeviceIdentifier, 0, len(r.cameras)+len(storageDevices))
	for _, c := range r.cameras {
		devices = append(devices, domain.DeviceIdentifier{Kind: domain.DeviceKindCamera, Name: c.Name})
	}
	for _, s := range storageDevices {
		devices = append(devices, domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: s})
	}
	return devices, nil
}

func (r *Runtime) SelectDevice(kind domain.DeviceKind, name string) (domain.DeviceIdentifier, error) {
	devices, err := r.ListDevices()
	if err != nil {
		return domain.DeviceIdentifier{}, err
	}
	for _, d := range devices {
		if d.Kind == kind && (name == "" || d.Name == name) {
			return d, nil
		}
	}
	r.report(true, fmt.Sprintf("no %s device matches %q", kind, name))
	return domain.DeviceIdentifier{}, fmt.Errorf("%w: %s %q", ErrUnknownDevice, kind, name)
}

func (r *Runtime) GetConfiguration() (domain.RuntimeConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return domain.RuntimeConfig{}, ErrShutdown
	}
	return r.cfg, nil
}

func (r *Runtime) SetConfiguration(cfg domain.RuntimeConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrShutdown
	}
	if r.running {
		r.report(true, "configure rejected while running")
		return ErrRunning
	}

	for s := range cfg.Streams {
		sc := &cfg.Streams[s]
		if !sc.Active() {
			continue
		}
		if s > 0 && cfg.Streams[0].Camera.Name == sc.Camera.Name {
			return fmt.Errorf("camera %q is assigned to both streams", sc.Camera.Name)
		}
		cam, ok := r.camera(sc.Camera.Name)
		if !ok {
			r.report(true, fmt.Sprintf("stream %d: unknown camera %q", s, sc.Camera.Name))
			return fmt.Errorf("%w: camera %q", ErrUnknownDevice, sc.Camera.Name)
		}
		settings, err := cam.clamp(sc.CameraSettings)
		if err != nil {
			r.report(true, fmt.Sprintf("stream %d: %v", s, err))
			return err
		}
		sc.CameraSettings = settings

		if sc.Storage.Name == "" {
			sc.Storage = domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: domain.StorageTrash}
		}
		if !isStorage(sc.Storage.Name) {
			return fmt.Errorf("%w: storage %q", ErrUnknownDevice, sc.Storage.Name)
		}
		if sc.Storage.Name != domain.StorageTrash && sc.StorageSettings.Filename == "" {
			return fmt.Errorf("stream %d: storage %q needs a filename", s, sc.Storage.Name)
		}
	}

	r.cfg = cfg
	r.report(false, "configuration applied")
	return nil
}

func (r *Runtime) GetConfigurationMetadata() (domain.RuntimeMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return domain.RuntimeMetadata{}, ErrShutdown
	}

	var meta domain.RuntimeMetadata
	for s, sc := range r.cfg.Streams {
		if !sc.Active() {
			continue
		}
		if cam, ok := r.camera(sc.Camera.Name); ok {
			meta.Streams[s] = cam.capabilities()
		}
	}
	return meta, nil
}

// Start arms every configured stream. Free-running streams begin producing
// immediately; triggered streams wait for ExecuteTrigger.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrShutdown
	}
	if r.running {
		return ErrRunning
	}
	if !r.cfg.Streams[0].Active() {
		return fmt.Errorf("%w: stream 0 has no camera", ErrBadStream)
	}

	for s, sc := range r.cfg.Streams {
		r.streams[s] = nil
		if !sc.Active() {
			continue
		}
		cam, _ := r.camera(sc.Camera.Name)
		st := &streamState{
			camera:   cam,
			settings: sc.CameraSettings,
			rng:      rand.New(rand.NewSource(r.seed + int64(s))),
			pixels:   make([]byte, sc.CameraSettings.FrameBytes()),
		}
		size := videoframe.FrameSize(sc.CameraSettings.Shape.X, sc.CameraSettings.Shape.Y, sc.CameraSettings.PixelType.FrameType())
		st.ring = newRing(r.ringFrames * int(size))

		if sc.Storage.Name != domain.StorageTrash {
			f, err := os.OpenFile(sc.StorageSettings.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				r.closeStorageLocked()
				r.report(true, fmt.Sprintf("stream %d: open storage: %v", s, err))
				return fmt.Errorf("stream %d: open storage %s: %w", s, sc.StorageSettings.Filename, err)
			}
			st.storage = f
		}
		r.streams[s] = st
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for s, st := range r.streams {
		if st == nil || st.settings.Trigger.Enable {
			continue
		}
		r.wg.Add(1)
		go r.freeRun(ctx, s, r.periodFor(st.settings))
	}

	r.running = true
	r.report(false, "runtime started")
	return nil
}

// Stop ends acquisition and keeps frames already in the rings readable.
func (r *Runtime) Stop() error {
	return r.halt(false)
}

// Abort ends acquisition and discards unread frames.
func (r *Runtime) Abort() error {
	return r.halt(true)
}

func (r *Runtime) halt(discard bool) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return ErrShutdown
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStorageLocked()
	if discard {
		for _, st := range r.streams {
			if st != nil {
				st.ring.reset()
			}
		}
	}
	return nil
}

func (r *Runtime) MapRead(stream int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.streamLocked(stream)
	if err != nil {
		return nil, err
	}
	return st.ring.readable(), nil
}

func (r *Runtime) UnmapRead(stream int, n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.streamLocked(stream)
	if err != nil {
		return err
	}
	if err := st.ring.consume(n); err != nil {
		r.report(true, fmt.Sprintf("stream %d: %v", stream, err))
		return err
	}
	return nil
}

func (r *Runtime) ExecuteTrigger(stream int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.streamLocked(stream)
	if err != nil {
		return err
	}
	if !r.running {
		return ErrNotRunning
	}
	if !st.settings.Trigger.Enable {
		return fmt.Errorf("sim: stream %d is free-running, trigger disabled", stream)
	}
	return r.produceLocked(stream)
}

func (r *Runtime) Shutdown() error {
	if err := r.halt(true); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	r.report(false, "runtime shut down")
	return nil
}

// InjectGap skips n frame ids on a stream, as if the camera dropped them.
func (r *Runtime) InjectGap(stream int, n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.streamLocked(stream)
	if err != nil {
		return err
	}
	st.nextID += n
	return nil
}

// Dropped is the number of frames a stream discarded because its ring was full.
func (r *Runtime) Dropped(stream int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.streamLocked(stream)
	if err != nil {
		return 0
	}
	return st.dropped
}

func (r *Runtime) freeRun(ctx context.Context, stream int, period time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		err := r.produceLocked(stream)
		r.mu.Unlock()
		if errors.Is(err, errFrameCapReached) {
			return
		}
	}
}

// produceLocked renders the next frame of a stream into its ring and storage.
func (r *Runtime) produceLocked(stream int) error {
	st := r.streams[stream]
	if st.produced >= st.settings.MaxFrameCount {
		return errFrameCapReached
	}

	id := st.nextID
	st.nextID++
	st.produced++

	w, h := int(st.settings.Shape.X), int(st.settings.Shape.Y)
	fill(st.camera.Pattern, st.pixels, w, h, st.settings.PixelType, id, st.rng)

	rec, err := videoframe.Append(st.scratch[:0], videoframe.Header{
		FrameID:   id,
		Timestamp: uint64(time.Now().UnixNano()),
		Width:     st.settings.Shape.X,
		Height:    st.settings.Shape.Y,
		PixelType: st.settings.PixelType.FrameType(),
	}, st.pixels)
	if err != nil {
		r.report(true, fmt.Sprintf("stream %d: encode frame %d: %v", stream, id, err))
		return err
	}
	st.scratch = rec

	if st.storage != nil {
		if _, err := st.storage.Write(rec); err != nil {
			r.report(true, fmt.Sprintf("stream %d: storage write: %v", stream, err))
		}
	}

	if !st.ring.write(rec) {
		st.dropped++
		r.report(false, fmt.Sprintf("stream %d: ring full, dropped frame %d", stream, id))
	}
	return nil
}

func (r *Runtime) streamLocked(stream int) (*streamState, error) {
	if r.shutdown {
		return nil, ErrShutdown
	}
	if stream < 0 || stream >= domain.MaxStreams || r.streams[stream] == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadStream, stream)
	}
	return r.streams[stream], nil
}

func (r *Runtime) closeStorageLocked() {
	for s, st := range r.streams {
		if st == nil || st.storage == nil {
			continue
		}
		if err := st.storage.Close(); err != nil {
			r.report(true, fmt.Sprintf("stream %d: close storage: %v", s, err))
		}
		st.storage = nil
	}
}

func (r *Runtime) periodFor(s domain.CameraStreamConfig) time.Duration {
	if r.framePeriod > 0 {
		return r.framePeriod
	}
	period := time.Duration(s.ExposureUS) * time.Microsecond
	if period < time.Millisecond {
		period = time.Millisecond
	}
	return period
}

func (r *Runtime) camera(name string) (CameraSpec, bool) {
	for _, c := range r.cameras {
		if c.Name == name {
			return c, true
		}
	}
	return CameraSpec{}, false
}

func isStorage(name string) bool {
	for _, s := range storageDevices {
		if s == name {
			return true
		}
	}
	return false
}

func (r *Runtime) report(isError bool, msg string) {
	entry := ports.ReportEntry{IsError: isError, Message: msg}
	if pc, file, line, ok := goruntime.Caller(1); ok {
		entry.File = file
		entry.Line = line
		if fn := goruntime.FuncForPC(pc); fn != nil {
			entry.Function = fn.Name()
		}
	}
	r.reporter.Report(entry)
}
