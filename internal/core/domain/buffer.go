package domain

import (
	"fmt"
	"sync"
)

// ImageBuffer holds the most recent image of one channel.
type ImageBuffer struct {
	Width  int
	Height int
	Depth  int // bytes per pixel
	Pixels []byte
}

func (b *ImageBuffer) Len() int {
	return b.Width * b.Height * b.Depth
}

// ImageBufferSet is the per-channel set of image buffers filled by each pass.
// Store and Snapshot may be called from different goroutines.
type ImageBufferSet struct {
	mu      sync.RWMutex
	buffers []*ImageBuffer
}

func NewImageBufferSet() *ImageBufferSet {
	return &ImageBufferSet{}
}

// Resize reallocates every channel for the given dimensions, dropping old contents.
func (s *ImageBufferSet) Resize(width, height, depth, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allocLocked(width, height, depth, channels)
}

// Ensure resizes the set only when the geometry differs from the current one,
// keeping the last images otherwise. It reports whether the buffers were
// reallocated.
func (s *ImageBufferSet) Ensure(width, height, depth, channels int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffers) == channels && channels > 0 {
		b := s.buffers[0]
		if b.Width == width && b.Height == height && b.Depth == depth {
			return false
		}
	}
	s.allocLocked(width, height, depth, channels)
	return true
}

func (s *ImageBufferSet) allocLocked(width, height, depth, channels int) {
	s.buffers = make([]*ImageBuffer, channels)
	for i := range s.buffers {
		s.buffers[i] = &ImageBuffer{
			Width:  width,
			Height: height,
			Depth:  depth,
			Pixels: make([]byte, width*height*depth),
		}
	}
}

func (s *ImageBufferSet) Channels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

// Channel returns the live buffer of channel i. The pixels are overwritten by
// the next Store; use Snapshot for a stable copy.
func (s *ImageBufferSet) Channel(i int) (*ImageBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelLocked(i)
}

func (s *ImageBufferSet) channelLocked(i int) (*ImageBuffer, error) {
	if i < 0 || i >= len(s.buffers) {
		return nil, fmt.Errorf("%w: %d out of range [0, %d)", ErrChannelNotFound, i, len(s.buffers))
	}
	return s.buffers[i], nil
}

// Snapshot returns a copy of channel i.
func (s *ImageBufferSet) Snapshot(i int) (*ImageBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.channelLocked(i)
	if err != nil {
		return nil, err
	}
	cp := *b
	cp.Pixels = append([]byte(nil), b.Pixels...)
	return &cp, nil
}

// Shape returns width, height and depth shared by all channels.
func (s *ImageBufferSet) Shape() (width, height, depth int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buffers) == 0 {
		return 0, 0, 0
	}
	b := s.buffers[0]
	return b.Width, b.Height, b.Depth
}

// Store copies a frame payload into channel i.
func (s *ImageBufferSet) Store(i int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.channelLocked(i)
	if err != nil {
		return err
	}
	if len(payload) != len(b.Pixels) {
		return fmt.Errorf("channel %d: frame is %d bytes, buffer holds %d", i, len(payload), len(b.Pixels))
	}
	copy(b.Pixels, payload)
	return nil
}

// Fill sets every byte of channel i to value.
func (s *ImageBufferSet) Fill(i int, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.channelLocked(i)
	if err != nil {
		return err
	}
	for j := range b.Pixels {
		b.Pixels[j] = value
	}
	return nil
}
