package sink

import (
	"context"
	"sync"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"
)

const subscriberBuffer = 8

// CircularBuffer is a bounded FIFO of images handed over by the streaming
// worker. Inserting into a full buffer fails with BufferOverflow.
type CircularBuffer struct {
	capacity int

	mu          sync.RWMutex
	images      []domain.Image
	latest      map[int]domain.Image
	inserted    uint64
	overflows   uint64
	subscribers map[int]chan domain.Image
	nextSubID   int
}

var _ ports.ImageQueue = (*CircularBuffer)(nil)

// Stats are cumulative sink counters.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Queued    int    `json:"queued"`
	Inserted  uint64 `json:"inserted"`
	Overflows uint64 `json:"overflows"`
}

func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &CircularBuffer{
		capacity:    capacity,
		images:      make([]domain.Image, 0, capacity),
		latest:      make(map[int]domain.Image),
		subscribers: make(map[int]chan domain.Image),
	}
}

// PrepareForAcquisition empties the queue before a new sequence.
func (b *CircularBuffer) PrepareForAcquisition(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images = b.images[:0]
	return nil
}

// InsertImage copies img into the queue.
func (b *CircularBuffer) InsertImage(ctx context.Context, img domain.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := img
	stored.Pixels = append([]byte(nil), img.Pixels...)
	stored.Metadata = append([]byte(nil), img.Metadata...)

	b.mu.Lock()
	if len(b.images) >= b.capacity {
		b.overflows++
		b.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeBufferOverflow, "image sink full (%d images)", b.capacity).
			WithContext("channel", img.Channel)
	}
	b.images = append(b.images, stored)
	b.latest[stored.Channel] = stored
	b.inserted++
	// sends never block, and holding the lock keeps cancel from closing a channel mid-send
	for _, ch := range b.subscribers {
		select {
		case ch <- stored:
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// ClearImageBuffer drops every queued image.
func (b *CircularBuffer) ClearImageBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images = b.images[:0]
}

// PopNext removes and returns the oldest queued image.
func (b *CircularBuffer) PopNext() (domain.Image, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.images) == 0 {
		return domain.Image{}, false
	}
	img := b.images[0]
	b.images[0] = domain.Image{}
	b.images = b.images[1:]
	if len(b.images) == 0 {
		b.images = make([]domain.Image, 0, b.capacity)
	}
	return img, true
}

// Latest returns the most recently inserted image of a channel, even if it
// has been popped since.
func (b *CircularBuffer) Latest(channel int) (domain.Image, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.latest[channel]
	return img, ok
}

func (b *CircularBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.images)
}

func (b *CircularBuffer) Capacity() int {
	return b.capacity
}

func (b *CircularBuffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Capacity:  b.capacity,
		Queued:    len(b.images),
		Inserted:  b.inserted,
		Overflows: b.overflows,
	}
}

// Subscribe delivers every inserted image on the returned channel. Images are
// dropped for a subscriber that falls behind. Call cancel to unsubscribe.
func (b *CircularBuffer) Subscribe() (<-chan domain.Image, func()) {
	ch := make(chan domain.Image, subscriberBuffer)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
