package videoframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSize_Aligned(t *testing.T) {
	assert.Equal(t, uint64(HeaderSize+320*240), FrameSize(320, 240, PixelU8))
	assert.Equal(t, uint64(HeaderSize+320*240*2), FrameSize(320, 240, PixelU16))
	// 3x3 u8 = 9 payload bytes, padded up to the next multiple of 8
	assert.Equal(t, uint64(56), FrameSize(3, 3, PixelU8))
}

func TestAppendDecode(t *testing.T) {
	payload := make([]byte, 4*2*2)
	for i := range payload {
		payload[i] = byte(i)
	}

	buf, err := Append(nil, Header{FrameID: 7, Timestamp: 99, Width: 4, Height: 2, PixelType: PixelU16}, payload)
	require.NoError(t, err)
	require.Len(t, buf, int(FrameSize(4, 2, PixelU16)))

	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h.FrameID)
	assert.Equal(t, uint64(99), h.Timestamp)
	assert.Equal(t, uint32(4), h.Width)
	assert.Equal(t, uint32(2), h.Height)
	assert.Equal(t, PixelU16, h.PixelType)
	assert.Equal(t, uint64(len(buf)), h.BytesOfFrame)

	got, err := Payload(buf, h)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAppend_Consecutive(t *testing.T) {
	var buf []byte
	var err error
	for id := uint64(0); id < 3; id++ {
		buf, err = Append(buf, Header{FrameID: id, Width: 3, Height: 3, PixelType: PixelU8}, make([]byte, 9))
		require.NoError(t, err)
	}

	off := 0
	for id := uint64(0); id < 3; id++ {
		h, err := DecodeHeader(buf[off:])
		require.NoError(t, err)
		assert.Equal(t, id, h.FrameID)
		off += int(h.BytesOfFrame)
	}
	assert.Equal(t, len(buf), off)
}

func TestAppend_RejectsWrongPayload(t *testing.T) {
	_, err := Append(nil, Header{Width: 2, Height: 2, PixelType: PixelU8}, make([]byte, 3))
	assert.Error(t, err)

	_, err = Append(nil, Header{Width: 2, Height: 2, PixelType: PixelType(9)}, make([]byte, 4))
	assert.Error(t, err)
}

func TestDecodeHeader_Errors(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeHeader(make([]byte, HeaderSize))
	assert.ErrorIs(t, err, ErrBadMagic)

	buf, err := Append(nil, Header{Width: 4, Height: 4, PixelType: PixelU8}, make([]byte, 16))
	require.NoError(t, err)
	buf[8] = 1 // bytes_of_frame smaller than header + payload
	buf[9], buf[10], buf[11] = 0, 0, 0
	_, err = DecodeHeader(buf)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}
