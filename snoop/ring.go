package snoop

import "fmt"

// DefaultRelayCapacity is the relay buffer size used when none is given.
const DefaultRelayCapacity = 1024

// guardSize is the number of zero canary bytes kept on each side of the
// ring storage.
const guardSize = 16

// RelayBuffer is a fixed-capacity FIFO of bytes waiting to be written out of
// an endpoint. It is filled by the read path of the peer endpoint and
// drained one byte at a time by this endpoint's write path.
//
// produced and consumed only ever grow; the number of pending bytes is
// produced-consumed and the slot of byte i is i&mask. Push and Advance
// verify the canary regions and counters before and after every mutation.
//
// A RelayBuffer is not safe for concurrent use.
type RelayBuffer struct {
	mem      []byte
	ring     []byte
	mask     uint64
	produced uint64
	consumed uint64
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// NewRelayBuffer returns an empty buffer whose capacity is size rounded up
// to a power of two. A non-positive size selects DefaultRelayCapacity.
func NewRelayBuffer(size int) *RelayBuffer {
	if size <= 0 {
		size = DefaultRelayCapacity
	}
	capacity := nextPow2(size)
	mem := make([]byte, guardSize+capacity+guardSize)
	return &RelayBuffer{
		mem:  mem,
		ring: mem[guardSize : guardSize+capacity : guardSize+capacity],
		mask: uint64(capacity) - 1,
	}
}

// Len returns the number of pending bytes.
func (r *RelayBuffer) Len() int { return int(r.produced - r.consumed) }

// Cap returns the fixed capacity.
func (r *RelayBuffer) Cap() int { return len(r.ring) }

// Empty reports whether no bytes are pending.
func (r *RelayBuffer) Empty() bool { return r.produced == r.consumed }

// Produced returns the total number of bytes ever pushed.
func (r *RelayBuffer) Produced() uint64 { return r.produced }

// Consumed returns the total number of bytes ever removed.
func (r *RelayBuffer) Consumed() uint64 { return r.consumed }

// Push appends b. It fails with ErrOverrun when the buffer is full; nothing
// is truncated or overwritten.
func (r *RelayBuffer) Push(b byte) error {
	if err := r.Check(); err != nil {
		return err
	}
	if r.produced-r.consumed >= uint64(len(r.ring)) {
		return fmt.Errorf("%w: %d bytes pending, capacity %d", ErrOverrun, r.Len(), r.Cap())
	}
	r.ring[r.produced&r.mask] = b
	r.produced++
	return r.Check()
}

// Peek returns the oldest pending byte without removing it.
func (r *RelayBuffer) Peek() (byte, bool) {
	if r.Empty() {
		return 0, false
	}
	return r.ring[r.consumed&r.mask], true
}

// Advance removes the oldest pending byte. Call it only once that byte has
// been written to the device.
func (r *RelayBuffer) Advance() error {
	if err := r.Check(); err != nil {
		return err
	}
	if r.consumed >= r.produced {
		return fmt.Errorf("%w: consumed %d, produced %d", ErrUnderrun, r.consumed, r.produced)
	}
	r.consumed++
	return r.Check()
}

// Check verifies the canary regions around the storage are still zero and
// the counters are consistent.
func (r *RelayBuffer) Check() error {
	if i := nonZero(r.mem[:guardSize]); i >= 0 {
		return fmt.Errorf("%w: leading guard byte %d is 0x%02x", ErrCorrupt, i, r.mem[i])
	}
	tail := r.mem[guardSize+len(r.ring):]
	if i := nonZero(tail); i >= 0 {
		return fmt.Errorf("%w: trailing guard byte %d is 0x%02x", ErrCorrupt, i, tail[i])
	}
	if r.consumed > r.produced {
		return fmt.Errorf("%w: consumed %d ahead of produced %d", ErrCorrupt, r.consumed, r.produced)
	}
	if r.produced-r.consumed > uint64(len(r.ring)) {
		return fmt.Errorf("%w: %d bytes pending exceeds capacity %d", ErrCorrupt, r.produced-r.consumed, len(r.ring))
	}
	return nil
}

func nonZero(b []byte) int {
	for i, c := range b {
		if c != 0 {
			return i
		}
	}
	return -1
}
