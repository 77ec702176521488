// Package videoframe encodes and decodes the packed frame records that an
// acquisition runtime writes into its per-stream read region.
//
// Layout (little endian):
//
//	0  magic          uint32
//	4  pixel type     uint16
//	6  reserved       uint16
//	8  bytes of frame uint64 (header + payload + padding)
//	16 frame id       uint64
//	24 timestamp      uint64 (hardware clock, ns)
//	32 width          uint32
//	36 height         uint32
//	40 payload        width*height*bytes-per-pixel
//
// Records are padded to an 8 byte boundary.
package videoframe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic marks the start of every frame record.
	Magic uint32 = 0x46514341 // "ACQF"

	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 40

	alignment = 8
)

// PixelType is the sample encoding of a frame's payload.
type PixelType uint16

const (
	PixelU8  PixelType = 0
	PixelU16 PixelType = 1
)

var (
	ErrShortBuffer  = errors.New("videoframe: buffer too short")
	ErrBadMagic     = errors.New("videoframe: bad magic")
	ErrCorruptFrame = errors.New("videoframe: corrupt frame record")
)

// BytesPerPixel returns the payload sample width, or 0 for an unknown type.
func (p PixelType) BytesPerPixel() int {
	switch p {
	case PixelU8:
		return 1
	case PixelU16:
		return 2
	default:
		return 0
	}
}

// Header is the decoded frame header.
type Header struct {
	BytesOfFrame uint64
	FrameID      uint64
	Timestamp    uint64
	Width        uint32
	Height       uint32
	PixelType    PixelType
}

// PayloadLen is the number of pixel bytes following the header.
func (h Header) PayloadLen() uint64 {
	return uint64(h.Width) * uint64(h.Height) * uint64(h.PixelType.BytesPerPixel())
}

// FrameSize returns the padded size of a record holding one image.
func FrameSize(width, height uint32, pt PixelType) uint64 {
	n := uint64(HeaderSize) + uint64(width)*uint64(height)*uint64(pt.BytesPerPixel())
	return align(n)
}

func align(n uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Append encodes one frame record onto dst and returns the extended slice.
// h.BytesOfFrame is computed from the shape and ignored on input.
func Append(dst []byte, h Header, payload []byte) ([]byte, error) {
	if h.PixelType.BytesPerPixel() == 0 {
		return dst, fmt.Errorf("videoframe: unknown pixel type %d", h.PixelType)
	}
	if uint64(len(payload)) != h.PayloadLen() {
		return dst, fmt.Errorf("videoframe: payload is %d bytes, shape needs %d", len(payload), h.PayloadLen())
	}

	size := FrameSize(h.Width, h.Height, h.PixelType)
	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	rec := dst[start:]

	binary.LittleEndian.PutUint32(rec[0:], Magic)
	binary.LittleEndian.PutUint16(rec[4:], uint16(h.PixelType))
	binary.LittleEndian.PutUint64(rec[8:], size)
	binary.LittleEndian.PutUint64(rec[16:], h.FrameID)
	binary.LittleEndian.PutUint64(rec[24:], h.Timestamp)
	binary.LittleEndian.PutUint32(rec[32:], h.Width)
	binary.LittleEndian.PutUint32(rec[36:], h.Height)
	copy(rec[HeaderSize:], payload)

	return dst, nil
}

// DecodeHeader reads and sanity-checks the header at the start of b.
// It does not require the whole record to be present in b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	if binary.LittleEndian.Uint32(b[0:]) != Magic {
		return Header{}, ErrBadMagic
	}

	h := Header{
		PixelType:    PixelType(binary.LittleEndian.Uint16(b[4:])),
		BytesOfFrame: binary.LittleEndian.Uint64(b[8:]),
		FrameID:      binary.LittleEndian.Uint64(b[16:]),
		Timestamp:    binary.LittleEndian.Uint64(b[24:]),
		Width:        binary.LittleEndian.Uint32(b[32:]),
		Height:       binary.LittleEndian.Uint32(b[36:]),
	}

	if h.PixelType.BytesPerPixel() == 0 {
		return Header{}, fmt.Errorf("%w: pixel type %d", ErrCorruptFrame, h.PixelType)
	}
	if h.BytesOfFrame < uint64(HeaderSize)+h.PayloadLen() || h.BytesOfFrame%alignment != 0 {
		return Header{}, fmt.Errorf("%w: bytes_of_frame %d for %dx%d", ErrCorruptFrame, h.BytesOfFrame, h.Width, h.Height)
	}
	return h, nil
}

// Payload returns the pixel bytes of the record starting at rec.
func Payload(rec []byte, h Header) ([]byte, error) {
	end := uint64(HeaderSize) + h.PayloadLen()
	if uint64(len(rec)) < end {
		return nil, ErrShortBuffer
	}
	return rec[HeaderSize:end], nil
}
