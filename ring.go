package notwebusb

// Ring is a bounded, contiguous, single-producer/single-consumer byte
// queue. It exists to decouple U2F response production (which happens all
// at once) from CTAPHID packetized transmission (which happens one 57- or
// 59-byte chunk per poll), per base spec §4.2.
//
// The producer calls GrantExact to reserve a contiguous writable region and
// Commit to publish some or all of it. The consumer calls Read to borrow
// the currently contiguous readable bytes and Release to advance past them.
// Capacity must be at least 2x the largest message: the write position is
// always derived as (tail+count) mod capacity, so a grant that would need
// to wrap mid-write is rejected rather than split, and 2x capacity
// guarantees the tail has room to drain before the next grant is needed.
type Ring struct {
	buf   []byte
	tail  int // next byte to read
	count int // bytes currently held (valid data occupies [tail, tail+count) mod len(buf))

	grantLen int // size of the outstanding grant, not yet Commit'd (0 if none)
	readLen  int // length of the slice returned by the last Read, not yet Release'd
}

// NewRing constructs a ring with the given capacity. Per base spec §4.2,
// capacity should be >= 2*MaxCTAPHIDMessage.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]byte, capacity)}
}

func (r *Ring) writePos() int {
	return (r.tail + r.count) % len(r.buf)
}

// GrantExact reserves a contiguous region of exactly n writable bytes and
// returns it. The caller must Commit (with k <= n) before the next
// GrantExact. Returns ErrInsufficientSpace if n contiguous bytes are not
// available, either because the ring doesn't have n free bytes at all, or
// because the free bytes it does have would require wrapping mid-grant.
func (r *Ring) GrantExact(n int) ([]byte, error) {
	if r.grantLen != 0 {
		return nil, ErrInsufficientSpace
	}
	free := len(r.buf) - r.count
	if n > free {
		return nil, ErrInsufficientSpace
	}
	pos := r.writePos()
	if n > len(r.buf)-pos {
		return nil, ErrInsufficientSpace
	}
	r.grantLen = n
	return r.buf[pos : pos+n], nil
}

// Commit publishes the first k bytes of the most recent grant (k <= n).
func (r *Ring) Commit(k int) error {
	if k > r.grantLen {
		return ErrCommitExceedsGrant
	}
	r.count += k
	r.grantLen = 0
	return nil
}

// Read returns a borrow of the currently contiguous readable bytes. This
// may be less than the total readable count if the readable region wraps;
// the caller should Release what it consumed and call Read again to see
// the rest. Returns ErrNothingReadable if there is nothing buffered.
func (r *Ring) Read() ([]byte, error) {
	if r.count == 0 {
		return nil, ErrNothingReadable
	}
	contiguous := len(r.buf) - r.tail
	if contiguous > r.count {
		contiguous = r.count
	}
	r.readLen = contiguous
	return r.buf[r.tail : r.tail+contiguous], nil
}

// Release advances the tail by k bytes (k <= the length returned by the
// last Read), freeing that space for the producer.
func (r *Ring) Release(k int) error {
	if k > r.readLen {
		return ErrReleaseExceedsReadable
	}
	r.tail = (r.tail + k) % len(r.buf)
	r.count -= k
	r.readLen -= k
	return nil
}

// Len reports the total number of bytes currently buffered.
func (r *Ring) Len() int {
	return r.count
}

// Reset empties the ring, discarding all buffered bytes. Used when a fatal
// USB error wipes all engine state (base spec §3 lifecycle).
func (r *Ring) Reset() {
	r.tail = 0
	r.count = 0
	r.grantLen = 0
	r.readLen = 0
}
