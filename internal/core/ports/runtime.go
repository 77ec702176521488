package ports

import (
	"context"

	"acqbridge/internal/core/domain"
)

// ReportEntry is one diagnostic message emitted by the acquisition runtime.
type ReportEntry struct {
	IsError  bool
	File     string
	Line     int
	Function string
	Message  string
}

// Reporter receives runtime diagnostics. It is bound when the runtime is created.
type Reporter interface {
	Report(entry ReportEntry)
}

// Runtime is the vendor acquisition runtime driving up to two video streams.
// Every method returns a non-nil error for any non-Ok runtime status.
type Runtime interface {
	Handle() string
	ListDevices() ([]domain.DeviceIdentifier, error)
	SelectDevice(kind domain.DeviceKind, name string) (domain.DeviceIdentifier, error)

	GetConfiguration() (domain.RuntimeConfig, error)
	// SetConfiguration pushes cfg. The runtime may clamp values; callers read
	// the effective configuration back with GetConfiguration.
	SetConfiguration(cfg domain.RuntimeConfig) error
	GetConfigurationMetadata() (domain.RuntimeMetadata, error)

	Start() error
	Stop() error
	Abort() error

	// MapRead returns the fully written, not yet released frame records of a
	// stream. The slice aliases runtime memory and is valid until UnmapRead.
	MapRead(stream int) ([]byte, error)
	UnmapRead(stream int, n uint64) error
	ExecuteTrigger(stream int) error

	Shutdown() error
}

// RuntimeInit creates a runtime bound to reporter.
type RuntimeInit func(reporter Reporter) (Runtime, error)

// FrameTransport hands out whole frames borrowed from a stream.
type FrameTransport interface {
	// WaitFrames polls the stream until at least one frame is available.
	WaitFrames(ctx context.Context, stream int) ([]domain.FrameRecord, error)
	// Release frees n bytes of the last borrow. n must cover whole frames.
	Release(stream int, n uint64) error
}
