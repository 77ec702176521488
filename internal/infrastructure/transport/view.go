package transport

import (
	"fmt"

	"acqbridge/internal/core/domain"
	"acqbridge/pkg/videoframe"
)

// View is a read-only cursor over the frames a stream has ready. It stays
// valid until the stream is released.
type View struct {
	stream int
	data   []byte
	off    int
}

func newView(stream int, data []byte) *View {
	return &View{stream: stream, data: data}
}

func (v *View) Stream() int {
	return v.stream
}

// Empty reports whether the view holds no frames.
func (v *View) Empty() bool {
	return len(v.data) == 0
}

// Len is the size of the borrowed region in bytes.
func (v *View) Len() int {
	return len(v.data)
}

// Remaining is the number of bytes after the cursor.
func (v *View) Remaining() int {
	return len(v.data) - v.off
}

// Next decodes the frame at the cursor and advances past it. The frame size
// comes from that frame's own header.
func (v *View) Next() (domain.FrameRecord, error) {
	if v.Remaining() == 0 {
		return domain.FrameRecord{}, fmt.Errorf("stream %d: no frame at offset %d", v.stream, v.off)
	}
	rec := v.data[v.off:]
	h, err := videoframe.DecodeHeader(rec)
	if err != nil {
		return domain.FrameRecord{}, fmt.Errorf("stream %d: offset %d: %w", v.stream, v.off, err)
	}
	if h.BytesOfFrame > uint64(len(rec)) {
		return domain.FrameRecord{}, fmt.Errorf("stream %d: offset %d: %w: frame of %d bytes exceeds %d remaining",
			v.stream, v.off, videoframe.ErrCorruptFrame, h.BytesOfFrame, len(rec))
	}
	payload, err := videoframe.Payload(rec, h)
	if err != nil {
		return domain.FrameRecord{}, fmt.Errorf("stream %d: offset %d: %w", v.stream, v.off, err)
	}

	v.off += int(h.BytesOfFrame)
	return domain.FrameRecord{
		ID:        h.FrameID,
		Timestamp: h.Timestamp,
		Width:     h.Width,
		Height:    h.Height,
		PixelType: domain.SampleTypeFromFrame(h.PixelType),
		Size:      h.BytesOfFrame,
		Payload:   payload,
	}, nil
}

// Frames decodes every frame in the view from the start.
func (v *View) Frames() ([]domain.FrameRecord, error) {
	v.off = 0
	var frames []domain.FrameRecord
	for v.Remaining() > 0 {
		f, err := v.Next()
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// boundaries returns the byte offsets at which whole frames end.
func (v *View) boundaries() ([]uint64, error) {
	saved := v.off
	defer func() { v.off = saved }()

	v.off = 0
	var ends []uint64
	for v.Remaining() > 0 {
		if _, err := v.Next(); err != nil {
			return nil, err
		}
		ends = append(ends, uint64(v.off))
	}
	return ends, nil
}
