// Package segment manages the per-flow mapped file: the fixed FlowInfo
// header plus the grains/samples body that follows it (spec §4.3, §6).
package segment

import (
	"sync/atomic"
	"unsafe"
)

// Format discriminates the three FlowInfo union shapes (spec §6).
type Format uint32

const (
	FormatUnknown Format = 0
	FormatVideo   Format = 1
	FormatAudio   Format = 2
	FormatData    Format = 3
)

const (
	// Magic identifies a valid FlowInfo header; the value is host-endian
	// and never written to or read from another machine (spec §6 notes
	// the layout is not a portable wire format).
	Magic uint64 = 0x4D584C00464C4F49 // "MXL\x00FLOI"

	HeaderVersion = 1

	// unionSize bounds the discrete/continuous union region so Header has
	// a single fixed size regardless of which variant is active.
	unionSize = 64
)

// Header is the FlowInfo structure mapped at the start of every segment's
// data file. Fields touched by more than one process are atomic types so
// the Go memory model gives the release/acquire pairing spec §5 requires,
// the same technique other_examples/OcupointInc-QC_Software__shm_ring.go
// uses for its Head/Tail cursors and other_examples/AlephTX-aleph-tx__seqlock.go
// uses for its seqlock word.
type Header struct {
	Magic       uint64
	Version     uint32
	Format      Format
	ID          [16]byte
	Generation  atomic.Uint64
	Valid       atomic.Bool
	WriterLive  atomic.Bool
	_           [6]byte // pad to the next 8-byte boundary, matches the header table's field spacing
	LastReadTime  atomic.Int64
	LastWriteTime atomic.Int64
	MaxCommitBatchSizeHint uint32
	// MaxSyncBatchSizeHint advises readers how many grains/samples a
	// well-behaved writer commits before a consumer should expect to
	// catch up; carried over from original_source's mxlCommonFlowInfo
	// (dropped from spec.md's FlowInfo description). Must be a multiple
	// of MaxCommitBatchSizeHint when both are non-zero.
	MaxSyncBatchSizeHint uint32
	Union [unionSize]byte
}

// DiscreteUnion overlays Header.Union when Format is Video or Data.
type DiscreteUnion struct {
	GrainRateNum   int64
	GrainRateDen   int64
	HeadIndex      atomic.Uint64
	SliceSizes     [4]uint32
}

// ContinuousUnion overlays Header.Union when Format is Audio.
type ContinuousUnion struct {
	SampleRateNum int64
	SampleRateDen int64
	ChannelCount  uint32
	_             [4]byte
	BufferLength  uint64
	HeadIndex     atomic.Uint64
	Stride        uint64
	// Generation is a seqlock word: the writer stores it odd before
	// copying a batch of samples and even after, letting a reader detect
	// and retry a torn read across a wrap (spec §4.5 "Ordering"), the
	// same technique other_examples/AlephTX-aleph-tx__seqlock.go uses.
	Generation atomic.Uint32
}

func init() {
	if unsafe.Sizeof(DiscreteUnion{}) > unionSize {
		panic("segment: DiscreteUnion exceeds union region")
	}
	if unsafe.Sizeof(ContinuousUnion{}) > unionSize {
		panic("segment: ContinuousUnion exceeds union region")
	}
}

// Discrete returns the discrete view of the union region. Valid only when
// h.Format is Video or Data.
func (h *Header) Discrete() *DiscreteUnion {
	return (*DiscreteUnion)(unsafe.Pointer(&h.Union[0]))
}

// Continuous returns the continuous view of the union region. Valid only
// when h.Format is Audio.
func (h *Header) Continuous() *ContinuousUnion {
	return (*ContinuousUnion)(unsafe.Pointer(&h.Union[0]))
}

// HeaderSize is the fixed size reserved for the FlowInfo page. The body
// (grains or samples) always starts at this offset from the start of the
// mapped file.
const HeaderSize = 4096 // one page; Header itself is far smaller, the rest is reserved padding
