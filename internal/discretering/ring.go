// Package discretering implements the discrete (grain-indexed) ring
// buffer described in spec §4.4: a power-of-two array of fixed-size
// slots, single writer, many readers, release/acquire publication on
// commit.
package discretering

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/mlefebvre1/mxl/clock"
	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

// SlotFlags carries writer-side metadata about a committed grain.
type SlotFlags uint32

const (
	// FlagInvalid marks a grain whose payload contents are undefined; it
	// is still returned to readers verbatim (spec §4.4 edge cases).
	FlagInvalid SlotFlags = 1 << 0
)

// slotHeader sits at the start of each slot, ahead of its payload. Fields
// touched across the writer/reader boundary are atomic, the same
// discipline segment.Header uses for FlowInfo (grounded on
// other_examples/OcupointInc-QC_Software__shm_ring.go's Head/Tail
// cursors).
type slotHeader struct {
	Index           atomic.Uint64
	Flags           atomic.Uint32
	ValidSlices     atomic.Uint32
	TotalSlices     uint32
	GrainSize       uint32
	CommitTimestamp atomic.Int64
}

const slotHeaderSize = int(unsafe.Sizeof(slotHeader{}))

// Stride returns the number of body bytes one slot occupies (header plus
// payload), for callers sizing the backing segment before the ring
// exists.
func Stride(grainSize uint32) int {
	return slotHeaderSize + int(grainSize)
}

// SlotView is a read-only snapshot returned to a reader (spec §4.4
// "Reader get").
type SlotView struct {
	Index       uint64
	Flags       SlotFlags
	ValidSlices uint32
	TotalSlices uint32
	GrainSize   uint32
	Payload     []byte
}

// Ring is a discrete ring buffer view over a segment's body.
type Ring struct {
	header      *segment.Header
	body        []byte
	stride      int
	capacity    uint64 // K, power of two
	totalSlices uint32
	grainSize   uint32
	rate        rational.Rational
	clk         clock.Source

	mu   sync.Mutex
	cond *sync.Cond
}

// New builds a Ring over the given segment body. grainSize is the total
// per-slot payload size (all planes combined, see descriptor.Geometry).
func New(header *segment.Header, body []byte, capacity uint64, totalSlices, grainSize uint32, rate rational.Rational, clk clock.Source) *Ring {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	r := &Ring{
		header:      header,
		body:        body,
		stride:      slotHeaderSize + int(grainSize),
		capacity:    capacity,
		totalSlices: totalSlices,
		grainSize:   grainSize,
		rate:        rate,
		clk:         clk,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Ring) slot(i uint64) *slotHeader {
	offset := int(i%r.capacity) * r.stride
	return (*slotHeader)(unsafe.Pointer(&r.body[offset]))
}

func (r *Ring) payload(i uint64) []byte {
	offset := int(i%r.capacity)*r.stride + slotHeaderSize
	return r.body[offset : offset+int(r.grainSize)]
}

// Open implements spec §4.4 "Writer open(i)": reinitializes the slot if
// its index has rolled over to a new generation and returns the mutable
// payload.
func (r *Ring) Open(i uint64) []byte {
	s := r.slot(i)
	if s.Index.Load() != i {
		s.Flags.Store(0)
		s.ValidSlices.Store(0)
		s.CommitTimestamp.Store(0)
		s.Index.Store(i)
	}
	return r.payload(i)
}

// Commit implements spec §4.4 "Writer commit(i, newValidSlices, flags)".
func (r *Ring) Commit(i uint64, newValidSlices uint32, flags SlotFlags) error {
	s := r.slot(i)
	if s.Index.Load() != i {
		return mxlerrors.Wrap(mxlerrors.InvalidArg, "commit on a slot that was reinitialized concurrently", nil)
	}
	if newValidSlices > r.totalSlices || newValidSlices <= s.ValidSlices.Load() {
		return mxlerrors.Wrap(mxlerrors.InvalidArg, "validSlices must increase and stay within totalSlices", nil)
	}

	s.Flags.Store(s.Flags.Load() | uint32(flags))
	s.CommitTimestamp.Store(r.clk.NowNs())
	s.TotalSlices = r.totalSlices
	s.GrainSize = r.grainSize

	// Release publish: validSlices then headIndex, matching spec §4.4/§5.
	s.ValidSlices.Store(newValidSlices)

	for {
		head := r.discreteHead()
		if i <= head {
			break
		}
		if r.discreteHeadCAS(head, i) {
			break
		}
	}
	r.header.LastWriteTime.Store(r.clk.NowNs())
	r.Notify()

	return nil
}

func (r *Ring) discreteHead() uint64 {
	return r.header.Discrete().HeadIndex.Load()
}

func (r *Ring) discreteHeadCAS(old, new uint64) bool {
	return r.header.Discrete().HeadIndex.CompareAndSwap(old, new)
}

// Notify wakes any Get callers blocked in this process, used by
// internal/watch as the cross-process fallback when a writer commit is
// observed via the filesystem instead of directly (spec §4.4 edge case).
func (r *Ring) Notify() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Get implements spec §4.4 "Reader get(i, timeoutNs)".
func (r *Ring) Get(i uint64, timeout time.Duration) (SlotView, error) {
	if !r.header.Valid.Load() {
		return SlotView{}, mxlerrors.ErrFlowInvalid
	}

	deadline := time.Now().Add(timeout)
	backoff := time.Microsecond * 50

	for {
		head := r.discreteHead()
		if i > head {
			remainingNs := clock.NsUntilIndex(r.clk, r.rate, i)
			if remainingNs > timeout.Nanoseconds() {
				return SlotView{}, mxlerrors.ErrOutOfRangeTooEarly
			}
			if !r.waitUntil(deadline, backoff) {
				return SlotView{}, mxlerrors.ErrOutOfRangeTooEarly
			}
			if backoff < timeout {
				backoff *= 2
			}
			continue
		}

		if i+r.capacity <= head {
			return SlotView{}, mxlerrors.ErrOutOfRangeTooLate
		}

		s := r.slot(i)
		idx := s.Index.Load()
		if idx != i {
			// Retry once per spec §4.4's "if slot.index != i retry once".
			idx = s.Index.Load()
			if idx != i {
				return SlotView{}, mxlerrors.ErrOutOfRangeTooLate
			}
		}

		view := SlotView{
			Index:       i,
			Flags:       SlotFlags(s.Flags.Load()),
			ValidSlices: s.ValidSlices.Load(),
			TotalSlices: s.TotalSlices,
			GrainSize:   s.GrainSize,
			Payload:     r.payload(i),
		}
		r.header.LastReadTime.Store(r.clk.NowNs())
		return view, nil
	}
}

// waitUntil blocks on the ring's condition variable until either it is
// broadcast or deadline passes, backing off exponentially between spins
// as spec §4.4's edge case requires. Returns false once deadline has
// passed.
func (r *Ring) waitUntil(deadline time.Time, backoff time.Duration) bool {
	if time.Now().After(deadline) {
		return false
	}

	wait := backoff
	if remaining := time.Until(deadline); wait > remaining {
		wait = remaining
	}
	if wait <= 0 {
		return false
	}

	timer := time.AfterFunc(wait, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	r.cond.Wait()
	r.mu.Unlock()

	return true
}
