package ports

import (
	"context"

	"acqbridge/internal/core/domain"
)

// ImageSink is the host-side destination of synchronized images.
type ImageSink interface {
	PrepareForAcquisition(ctx context.Context) error
	// InsertImage returns a BufferOverflow error when the sink is full.
	InsertImage(ctx context.Context, img domain.Image) error
	ClearImageBuffer()
}

// ImageQueue is an ImageSink the host can read back from.
type ImageQueue interface {
	ImageSink
	PopNext() (domain.Image, bool)
	Latest(channel int) (domain.Image, bool)
	Len() int
	Capacity() int
}
