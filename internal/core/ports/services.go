package ports

import (
	"context"

	"acqbridge/internal/core/domain"
)

// CameraService is the dual-camera device as seen by the host.
type CameraService interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	ListCameras(ctx context.Context) ([]string, error)
	SelectCameras(ctx context.Context, camera1, camera2 string) error
	Properties(ctx context.Context) (*domain.CameraProperties, error)

	SetPixelType(ctx context.Context, pixelType string) error
	SetBinning(ctx context.Context, binning int) error
	SetROI(ctx context.Context, roi domain.ROI) error
	ClearROI(ctx context.Context) error
	SetExposure(ctx context.Context, ms float64) error
	SetChannel(ctx context.Context, channel int) error

	Snap(ctx context.Context) error
	ImageBuffer(channel int) (*domain.ImageBuffer, error)
	GenerateSyntheticImage(channel int, value byte) error

	StartSequence(ctx context.Context, numImages uint64, stopOnOverflow bool) (*domain.AcquisitionRun, error)
	StopSequence(ctx context.Context) error

	EnablePersistence(ctx context.Context, req domain.PersistenceRequest) (*domain.AcquisitionRun, error)
	DisablePersistence(ctx context.Context) error

	State() domain.SessionState
	Stats() domain.SessionStats
	GetRun(ctx context.Context, id string) (*domain.AcquisitionRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error)
}

// DirectoryAllocator creates a fresh output directory per persisted run.
type DirectoryAllocator interface {
	Allocate(root, prefix string) (string, error)
	StreamFiles(dir, format string) [domain.MaxStreams]string
}

// TransportFactory binds a frame transport to a freshly initialized runtime.
type TransportFactory func(rt Runtime) FrameTransport
