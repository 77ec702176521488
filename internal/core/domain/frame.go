package domain

import "encoding/json"

// FrameRecord is one image borrowed from a stream.
type FrameRecord struct {
	ID        uint64
	Timestamp uint64 // hardware clock, ns
	Width     uint32
	Height    uint32
	PixelType SampleType
	Size      uint64 // record bytes, header included
	Payload   []byte // aliases runtime memory until the frame is released
}

func (f FrameRecord) ByteLength() int {
	return len(f.Payload)
}

// SyncedBatch summarizes one synchronization pass.
type SyncedBatch struct {
	StartID uint64          `json:"start_id"`
	Aligned int             `json:"aligned"`
	Drops   [MaxStreams]int `json:"drops"`
	Streams int             `json:"streams"`
}

// Image is one channel handed to the host image sink.
type Image struct {
	Channel       int
	Width         int
	Height        int
	BytesPerPixel int
	FrameCount    int
	Pixels        []byte
	Metadata      []byte
}

// ImageMetadata is attached to every image inserted into the sink.
type ImageMetadata struct {
	FrameID   uint64 `json:"frame_id"`
	Timestamp uint64 `json:"timestamp"`
	Channel   int    `json:"channel"`
	Camera    string `json:"camera"`
	RunID     string `json:"run_id,omitempty"`
}

func (m ImageMetadata) Marshal() []byte {
	// encoding a flat struct of scalars cannot fail
	b, _ := json.Marshal(m)
	return b
}
