package sim

import "fmt"

// ring is a bounded byte region of whole frame records. Unread records always
// start at offset zero; consume shifts the remainder down.
type ring struct {
	buf  []byte
	used int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

// write appends rec, reporting false when there is no room.
func (r *ring) write(rec []byte) bool {
	if r.used+len(rec) > len(r.buf) {
		return false
	}
	copy(r.buf[r.used:], rec)
	r.used += len(rec)
	return true
}

func (r *ring) readable() []byte {
	return r.buf[:r.used:r.used]
}

func (r *ring) consume(n uint64) error {
	if n > uint64(r.used) {
		return fmt.Errorf("unmap of %d bytes exceeds %d readable", n, r.used)
	}
	copy(r.buf, r.buf[n:r.used])
	r.used -= int(n)
	return nil
}

func (r *ring) reset() {
	r.used = 0
}
