package services

import (
	"context"
	"slices"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"

	"go.uber.org/zap"
)

const (
	defaultExposureUS = 20000

	simulatedFrameWidth  = 320
	simulatedFrameHeight = 240
)

var allowedBinning = []int{1, 2, 4}

// ConfigManager owns the runtime handle and keeps every active stream
// configured identically. The effective configuration is always the one read
// back from the runtime after a push.
//
// ConfigManager is not safe for concurrent use; the session serializes calls.
type ConfigManager struct {
	init     ports.RuntimeInit
	reporter ports.Reporter

	rt        ports.Runtime
	cameras   [domain.MaxStreams]string
	effective domain.RuntimeConfig
	meta      domain.RuntimeMetadata

	fullFrame   domain.Shape // at binning 1
	triggerLine uint8
	pixelMask   uint64

	buffers *domain.ImageBufferSet
	logger  *zap.SugaredLogger
}

func NewConfigManager(init ports.RuntimeInit, reporter ports.Reporter, logger *zap.SugaredLogger) *ConfigManager {
	return &ConfigManager{
		init:     init,
		reporter: reporter,
		buffers:  domain.NewImageBufferSet(),
		logger:   logger.Named("config"),
	}
}

// ValidateSelection checks a camera pair. An empty or "None" second camera
// selects single-stream mode. A simulated first camera only pairs with another
// simulated camera.
func ValidateSelection(camera1, camera2 string) error {
	if camera1 == "" || camera1 == domain.NoCamera {
		return apperrors.New(apperrors.ErrCodeInvalidCameraSelection, "camera 1 must be selected")
	}
	if camera2 == "" || camera2 == domain.NoCamera {
		return nil
	}
	if camera1 == camera2 {
		return apperrors.New(apperrors.ErrCodeInvalidCameraSelection, "camera %q selected for both channels", camera1)
	}
	if domain.IsSimulatedName(camera1) && !domain.IsSimulatedName(camera2) {
		return apperrors.New(apperrors.ErrCodeInvalidCameraSelection,
			"simulated camera %q needs a simulated second camera, got %q", camera1, camera2)
	}
	return nil
}

// SelectCameras stores a validated camera pair for the next Initialize.
func (m *ConfigManager) SelectCameras(camera1, camera2 string) error {
	if err := ValidateSelection(camera1, camera2); err != nil {
		return err
	}
	if camera2 == domain.NoCamera {
		camera2 = ""
	}
	m.cameras = [domain.MaxStreams]string{camera1, camera2}
	return nil
}

func (m *ConfigManager) Initialized() bool {
	return m.rt != nil
}

func (m *ConfigManager) Runtime() ports.Runtime {
	return m.rt
}

func (m *ConfigManager) Buffers() *domain.ImageBufferSet {
	return m.buffers
}

func (m *ConfigManager) Cameras() [domain.MaxStreams]string {
	return m.cameras
}

func (m *ConfigManager) IsDual() bool {
	return m.cameras[1] != ""
}

// Streams is the number of active streams.
func (m *ConfigManager) Streams() int {
	if m.IsDual() {
		return 2
	}
	return 1
}

// Initialize creates the runtime, selects the cameras and arms both streams
// for software-triggered acquisition at full frame.
func (m *ConfigManager) Initialize(ctx context.Context) error {
	if m.cameras[0] == "" {
		return apperrors.New(apperrors.ErrCodeInvalidCameraSelection, "no camera selected")
	}
	if m.rt != nil {
		m.Shutdown()
	}

	rt, err := m.init(m.reporter)
	if err != nil {
		m.logger.Errorw("runtime init failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeInitFailed, "initialize acquisition runtime")
	}

	if err := m.setup(rt); err != nil {
		if serr := rt.Shutdown(); serr != nil {
			m.logger.Warnw("runtime shutdown after failed init", "error", serr)
		}
		return err
	}

	m.rt = rt
	m.logger.Infow("runtime initialized",
		"handle", rt.Handle(),
		"camera_1", m.cameras[0],
		"camera_2", m.cameras[1],
		"full_frame", m.fullFrame,
		"trigger_line", m.triggerLine,
	)
	return nil
}

func (m *ConfigManager) setup(rt ports.Runtime) error {
	var cfg domain.RuntimeConfig
	for s := 0; s < m.Streams(); s++ {
		cam, err := rt.SelectDevice(domain.DeviceKindCamera, m.cameras[s])
		if err != nil {
			m.logger.Errorw("select camera failed", "stream", s, "camera", m.cameras[s], "error", err)
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidCameraSelection, "select camera %q", m.cameras[s])
		}
		storage, err := rt.SelectDevice(domain.DeviceKindStorage, domain.StorageTrash)
		if err != nil {
			m.logger.Errorw("select storage failed", "stream", s, "error", err)
			return apperrors.Wrap(err, apperrors.ErrCodeInitFailed, "select discard storage")
		}
		cfg.Streams[s].Camera = cam
		cfg.Streams[s].Storage = storage
	}

	if err := rt.SetConfiguration(cfg); err != nil {
		m.logger.Errorw("initial configure failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeConfigureFailed, "configure camera devices")
	}

	meta, err := rt.GetConfigurationMetadata()
	if err != nil {
		m.logger.Errorw("read capabilities failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeInitFailed, "read camera capabilities")
	}

	line, err := m.discoverTrigger(meta)
	if err != nil {
		return err
	}

	m.meta = meta
	m.triggerLine = line
	m.pixelMask = m.commonPixelMask(meta)
	m.fullFrame = m.discoverFullFrame(meta)

	if cfg, err = rt.GetConfiguration(); err != nil {
		m.logger.Errorw("read configuration failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeInitFailed, "read configuration")
	}
	supported := domain.SupportedSampleTypes(m.pixelMask)
	if len(supported) == 0 {
		return apperrors.New(apperrors.ErrCodeUnsupportedPixelType,
			"cameras %q and %q share no pixel type", m.cameras[0], m.cameras[1])
	}
	pixelType := supported[0]
	for s := 0; s < m.Streams(); s++ {
		cfg.Streams[s].CameraSettings = domain.CameraStreamConfig{
			ExposureUS:    defaultExposureUS,
			Binning:       1,
			PixelType:     pixelType,
			Shape:         m.fullFrame,
			Trigger:       domain.Trigger{Enable: true, Line: line},
			MaxFrameCount: domain.UnboundedFrames,
		}
	}

	return m.push(rt, cfg)
}

// discoverTrigger finds the software trigger line. In dual mode both cameras
// must expose it at the same index.
func (m *ConfigManager) discoverTrigger(meta domain.RuntimeMetadata) (uint8, error) {
	line, ok := meta.Streams[0].SoftwareTrigger()
	if !ok {
		return 0, apperrors.New(apperrors.ErrCodeSoftwareTriggerUnavailable,
			"camera %q has no %q trigger line", m.cameras[0], domain.SoftwareTriggerLine)
	}
	if m.IsDual() {
		line2, ok := meta.Streams[1].SoftwareTrigger()
		if !ok || line2 != line {
			return 0, apperrors.New(apperrors.ErrCodeSoftwareTriggerUnavailable,
				"software trigger line differs between %q and %q", m.cameras[0], m.cameras[1])
		}
	}
	return line, nil
}

func (m *ConfigManager) commonPixelMask(meta domain.RuntimeMetadata) uint64 {
	mask := normalizeMask(meta.Streams[0].SupportedPixelTypes)
	if m.IsDual() {
		mask &= normalizeMask(meta.Streams[1].SupportedPixelTypes)
	}
	return mask
}

func normalizeMask(mask uint64) uint64 {
	if mask == 0 {
		return 1 << uint(domain.SampleTypeU8)
	}
	return mask
}

func (m *ConfigManager) discoverFullFrame(meta domain.RuntimeMetadata) domain.Shape {
	if domain.IsSimulatedName(m.cameras[0]) {
		return domain.Shape{X: simulatedFrameWidth, Y: simulatedFrameHeight}
	}
	shape := meta.Streams[0].ShapeMax
	if m.IsDual() {
		other := meta.Streams[1].ShapeMax
		shape.X = min(shape.X, other.X)
		shape.Y = min(shape.Y, other.Y)
	}
	return shape
}

// push configures rt with cfg, reads back the effective configuration,
// resizes the image buffers and re-arms the runtime.
func (m *ConfigManager) push(rt ports.Runtime, cfg domain.RuntimeConfig) error {
	if err := rt.SetConfiguration(cfg); err != nil {
		m.logger.Errorw("configure failed", "error", err)
		m.rearm(rt)
		return apperrors.Wrap(err, apperrors.ErrCodeConfigureFailed, "configure runtime")
	}

	effective, err := rt.GetConfiguration()
	if err != nil {
		m.logger.Errorw("read configuration failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeConfigureFailed, "read back configuration")
	}
	m.effective = effective

	s := effective.Streams[0].CameraSettings
	if m.buffers.Ensure(int(s.Shape.X), int(s.Shape.Y), s.PixelType.BytesPerPixel(), m.Streams()) {
		m.logger.Debugw("image buffers reallocated", "shape", s.Shape, "pixel_type", s.PixelType, "channels", m.Streams())
	}

	if err := rt.Start(); err != nil {
		m.logger.Errorw("start failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeConfigureFailed, "start runtime")
	}
	return nil
}

// rearm restarts the runtime with its previous configuration after a
// rejected push.
func (m *ConfigManager) rearm(rt ports.Runtime) {
	if err := rt.Start(); err != nil {
		m.logger.Warnw("re-arm after rejected configure failed", "error", err)
	}
}

// Reconfigure aborts acquisition, applies mutate to every active stream,
// pushes the result and re-arms the runtime.
func (m *ConfigManager) Reconfigure(mutate func(stream int, sc *domain.StreamConfig)) error {
	if m.rt == nil {
		return apperrors.New(apperrors.ErrCodeNotInitialized, "camera is not initialized")
	}

	if err := m.rt.Abort(); err != nil {
		m.logger.Errorw("abort failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeRuntime, "abort acquisition")
	}

	cfg, err := m.rt.GetConfiguration()
	if err != nil {
		m.logger.Errorw("read configuration failed", "error", err)
		m.rearm(m.rt)
		return apperrors.Wrap(err, apperrors.ErrCodeConfigureFailed, "read configuration")
	}
	for s := 0; s < m.Streams(); s++ {
		mutate(s, &cfg.Streams[s])
	}
	return m.push(m.rt, cfg)
}

// ApplyConfig applies the same camera settings change to every active stream.
func (m *ConfigManager) ApplyConfig(mutate func(*domain.CameraStreamConfig)) error {
	return m.Reconfigure(func(_ int, sc *domain.StreamConfig) {
		mutate(&sc.CameraSettings)
	})
}

// Effective returns the configuration last read back from the runtime.
func (m *ConfigManager) Effective() domain.RuntimeConfig {
	return m.effective
}

func (m *ConfigManager) settings() domain.CameraStreamConfig {
	return m.effective.Streams[0].CameraSettings
}

func (m *ConfigManager) SetPixelType(label string) error {
	st, err := domain.ParsePixelType(label)
	if err != nil {
		return err
	}
	if m.pixelMask&(1<<uint(st)) == 0 {
		return apperrors.New(apperrors.ErrCodeUnsupportedPixelType, "pixel type %s is not supported by the selected cameras", st)
	}
	return m.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.PixelType = st
	})
}

// SetBinning applies the binning divisor and resets the ROI to the full
// frame at that binning in a single push. Any custom ROI is lost; a rejected
// push leaves binning and ROI unchanged.
func (m *ConfigManager) SetBinning(binning int) error {
	if !slices.Contains(allowedBinning, binning) {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "binning %d not in %v", binning, allowedBinning)
	}

	return m.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.Binning = uint8(binning)
		c.Offset = domain.Shape{}
		c.Shape = m.frameAt(binning)
	})
}

// SetROI selects a region in binned pixels.
func (m *ConfigManager) SetROI(roi domain.ROI) error {
	if roi.Width == 0 || roi.Height == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "roi width and height must be positive")
	}
	return m.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.Offset = domain.Shape{X: roi.X, Y: roi.Y}
		c.Shape = domain.Shape{X: roi.Width, Y: roi.Height}
	})
}

func (m *ConfigManager) ClearROI() error {
	binning := m.Binning()
	return m.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.Offset = domain.Shape{}
		c.Shape = m.frameAt(binning)
	})
}

func (m *ConfigManager) SetExposure(ms float64) error {
	if ms <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "exposure must be positive, got %gms", ms)
	}
	return m.ApplyConfig(func(c *domain.CameraStreamConfig) {
		c.ExposureUS = float32(ms * 1000)
	})
}

func (m *ConfigManager) frameAt(binning int) domain.Shape {
	if binning < 1 {
		binning = 1
	}
	return domain.Shape{X: m.fullFrame.X / uint32(binning), Y: m.fullFrame.Y / uint32(binning)}
}

func (m *ConfigManager) PixelType() domain.SampleType {
	return m.settings().PixelType
}

func (m *ConfigManager) Binning() int {
	if b := int(m.settings().Binning); b > 0 {
		return b
	}
	return 1
}

func (m *ConfigManager) ROI() domain.ROI {
	s := m.settings()
	return domain.ROI{X: s.Offset.X, Y: s.Offset.Y, Width: s.Shape.X, Height: s.Shape.Y}
}

// FullFrame is the unclipped region at the current binning.
func (m *ConfigManager) FullFrame() domain.ROI {
	f := m.frameAt(m.Binning())
	return domain.ROI{Width: f.X, Height: f.Y}
}

func (m *ConfigManager) ExposureMs() float64 {
	return float64(m.settings().ExposureUS) / 1000
}

func (m *ConfigManager) TriggerLine() uint8 {
	return m.triggerLine
}

func (m *ConfigManager) AllowedPixelTypes() []string {
	var out []string
	for _, st := range domain.SupportedSampleTypes(m.pixelMask) {
		out = append(out, st.String())
	}
	return out
}

func (m *ConfigManager) AllowedBinning() []int {
	return append([]int(nil), allowedBinning...)
}

// Shutdown releases the runtime. Errors are logged, not returned.
func (m *ConfigManager) Shutdown() {
	if m.rt == nil {
		return
	}
	if err := m.rt.Shutdown(); err != nil {
		m.logger.Errorw("runtime shutdown failed", "handle", m.rt.Handle(), "error", err)
	}
	m.rt = nil
	m.effective = domain.RuntimeConfig{}
}
