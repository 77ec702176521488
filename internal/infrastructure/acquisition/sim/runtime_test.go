package sim

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	"acqbridge/pkg/videoframe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	entries []ports.ReportEntry
}

func (r *recordingReporter) Report(e ports.ReportEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func camera(name string) domain.DeviceIdentifier {
	return domain.DeviceIdentifier{Kind: domain.DeviceKindCamera, Name: name}
}

func triggeredConfig(cams ...string) domain.RuntimeConfig {
	var cfg domain.RuntimeConfig
	for i, name := range cams {
		cfg.Streams[i] = domain.StreamConfig{
			Camera: camera(name),
			CameraSettings: domain.CameraStreamConfig{
				ExposureUS:    20000,
				Binning:       1,
				PixelType:     domain.SampleTypeU8,
				Shape:         domain.Shape{X: 8, Y: 4},
				Trigger:       domain.Trigger{Enable: true, Line: 2},
				MaxFrameCount: domain.UnboundedFrames,
			},
		}
	}
	return cfg
}

func decodeIDs(t *testing.T, region []byte) []uint64 {
	t.Helper()
	var ids []uint64
	for off := 0; off < len(region); {
		h, err := videoframe.DecodeHeader(region[off:])
		require.NoError(t, err)
		ids = append(ids, h.FrameID)
		off += int(h.BytesOfFrame)
	}
	return ids
}

func TestRuntime_ListAndSelectDevices(t *testing.T) {
	rt := New(&recordingReporter{}, WithCameras(CameraSpec{Name: "Vendor X", ShapeMax: domain.Shape{X: 64, Y: 64}}))

	devices, err := rt.ListDevices()
	require.NoError(t, err)
	assert.Contains(t, devices, camera("simulated: radial sin"))
	assert.Contains(t, devices, camera("Vendor X"))
	assert.Contains(t, devices, domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: "Trash"})

	id, err := rt.SelectDevice(domain.DeviceKindStorage, "Zarr")
	require.NoError(t, err)
	assert.Equal(t, "Zarr", id.Name)

	_, err = rt.SelectDevice(domain.DeviceKindCamera, "missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRuntime_SetConfigurationClamps(t *testing.T) {
	rt := New(&recordingReporter{})
	cfg := triggeredConfig("simulated: empty")
	cfg.Streams[0].CameraSettings.Binning = 3
	cfg.Streams[0].CameraSettings.Shape = domain.Shape{X: 5000, Y: 10}
	cfg.Streams[0].CameraSettings.Offset = domain.Shape{X: 900, Y: 0}
	cfg.Streams[0].CameraSettings.ExposureUS = 1

	require.NoError(t, rt.SetConfiguration(cfg))
	got, err := rt.GetConfiguration()
	require.NoError(t, err)

	s := got.Streams[0].CameraSettings
	assert.Equal(t, uint8(2), s.Binning)
	assert.Equal(t, uint32(960), s.Shape.X)
	assert.Equal(t, uint32(0), s.Offset.X)
	assert.Equal(t, float32(minExposureUS), s.ExposureUS)
	assert.Equal(t, domain.StorageTrash, got.Streams[0].Storage.Name)
}

func TestRuntime_RejectsUnsupportedPixelType(t *testing.T) {
	rt := New(&recordingReporter{}, WithCameras(CameraSpec{Name: "Vendor X", ShapeMax: domain.Shape{X: 64, Y: 64}, DigitalLines: defaultLines}))
	cfg := triggeredConfig("Vendor X")
	cfg.Streams[0].CameraSettings.PixelType = domain.SampleTypeU16

	assert.Error(t, rt.SetConfiguration(cfg))
}

func TestRuntime_ConfigureWhileRunning(t *testing.T) {
	rt := New(&recordingReporter{})
	cfg := triggeredConfig("simulated: empty")
	require.NoError(t, rt.SetConfiguration(cfg))
	require.NoError(t, rt.Start())
	defer rt.Shutdown()

	assert.ErrorIs(t, rt.SetConfiguration(cfg), ErrRunning)
}

func TestRuntime_TriggerMapUnmap(t *testing.T) {
	rt := New(&recordingReporter{})
	require.NoError(t, rt.SetConfiguration(triggeredConfig("simulated: radial sin", "simulated: empty")))
	require.NoError(t, rt.Start())
	defer rt.Shutdown()

	for i := 0; i < 3; i++ {
		require.NoError(t, rt.ExecuteTrigger(0))
	}
	require.NoError(t, rt.ExecuteTrigger(1))

	region, err := rt.MapRead(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, decodeIDs(t, region))

	frameSize := videoframe.FrameSize(8, 4, videoframe.PixelU8)
	require.NoError(t, rt.UnmapRead(0, frameSize))

	region, err = rt.MapRead(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, decodeIDs(t, region))

	region, err = rt.MapRead(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, decodeIDs(t, region))

	assert.Error(t, rt.UnmapRead(1, 10*frameSize))
}

func TestRuntime_RingFullDropsFrames(t *testing.T) {
	reporter := &recordingReporter{}
	rt := New(reporter, WithRingFrames(2))
	require.NoError(t, rt.SetConfiguration(triggeredConfig("simulated: empty")))
	require.NoError(t, rt.Start())
	defer rt.Shutdown()

	for i := 0; i < 3; i++ {
		require.NoError(t, rt.ExecuteTrigger(0))
	}
	assert.Equal(t, uint64(1), rt.Dropped(0))

	region, err := rt.MapRead(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, decodeIDs(t, region))

	require.NoError(t, rt.UnmapRead(0, uint64(len(region))))
	require.NoError(t, rt.ExecuteTrigger(0))
	region, err = rt.MapRead(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, decodeIDs(t, region))
	assert.Greater(t, reporter.count(), 0)
}

func TestRuntime_FreeRunStopsAtFrameCap(t *testing.T) {
	rt := New(&recordingReporter{}, WithFramePeriod(time.Millisecond))
	cfg := triggeredConfig("simulated: uniform random")
	cfg.Streams[0].CameraSettings.Trigger.Enable = false
	cfg.Streams[0].CameraSettings.MaxFrameCount = 5
	require.NoError(t, rt.SetConfiguration(cfg))
	require.NoError(t, rt.Start())
	defer rt.Shutdown()

	assert.Error(t, rt.ExecuteTrigger(0))

	frameSize := int(videoframe.FrameSize(8, 4, videoframe.PixelU8))
	require.Eventually(t, func() bool {
		region, err := rt.MapRead(0)
		return err == nil && len(region) == 5*frameSize
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	region, err := rt.MapRead(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, decodeIDs(t, region))
}

func TestRuntime_StorageWritesFrames(t *testing.T) {
	rt := New(&recordingReporter{})
	cfg := triggeredConfig("simulated: empty")
	path := filepath.Join(t.TempDir(), "stream1.Zarr")
	cfg.Streams[0].Storage = domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: domain.StorageZarr}
	cfg.Streams[0].StorageSettings.Filename = path
	require.NoError(t, rt.SetConfiguration(cfg))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.ExecuteTrigger(0))
	require.NoError(t, rt.ExecuteTrigger(0))
	require.NoError(t, rt.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*videoframe.FrameSize(8, 4, videoframe.PixelU8)), info.Size())

	// Stop keeps unread frames, Abort discards them
	region, err := rt.MapRead(0)
	require.NoError(t, err)
	assert.Len(t, decodeIDs(t, region), 2)
	require.NoError(t, rt.Abort())
	region, err = rt.MapRead(0)
	require.NoError(t, err)
	assert.Empty(t, region)
	require.NoError(t, rt.Shutdown())
}

func TestRuntime_ShutdownRejectsCalls(t *testing.T) {
	rt := New(&recordingReporter{})
	require.NoError(t, rt.Shutdown())

	_, err := rt.GetConfiguration()
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, rt.Start(), ErrShutdown)
}
