// Package continuousring implements the continuous (sample-indexed) ring
// buffer described in spec §4.5: a single contiguous per-channel area,
// range-based open/commit on the write side, two-fragment wrapped reads
// on the read side, with a seqlock generation counter guarding against
// torn reads across a wrap.
package continuousring

import (
	"runtime"
	"time"

	"github.com/mlefebvre1/mxl/clock"
	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

// Fragment is one contiguous run of samples within a channel's ring area.
type Fragment []byte

// Slice is the pair of fragments for one channel whose concatenation is
// exactly count samples (spec §4.5, property P6).
type Slice struct {
	First  Fragment
	Second Fragment
}

// Ring is a continuous ring buffer view over a segment's body, striped
// one contiguous area per channel.
type Ring struct {
	header       *segment.Header
	body         []byte
	channelCount uint32
	bufferLength uint64
	sampleBytes  uint32
	rate         rational.Rational
	clk          clock.Source
}

func New(header *segment.Header, body []byte, channelCount uint32, bufferLength uint64, sampleBytes uint32, rate rational.Rational, clk clock.Source) *Ring {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Ring{
		header:       header,
		body:         body,
		channelCount: channelCount,
		bufferLength: bufferLength,
		sampleBytes:  sampleBytes,
		rate:         rate,
		clk:          clk,
	}
}

func (r *Ring) channelArea(ch uint32) []byte {
	areaSize := r.bufferLength * uint64(r.sampleBytes)
	start := uint64(ch) * areaSize
	return r.body[start : start+areaSize]
}

func (r *Ring) continuousHead() *segment.ContinuousUnion { return r.header.Continuous() }

// OpenWrite reserves the range [lastIndex-count+1, lastIndex] for writing
// and returns the two-fragment view per channel (spec §4.5 write
// protocol step 1). It does not publish anything to FlowInfo; call
// Commit once the caller has populated every fragment.
func (r *Ring) OpenWrite(lastIndex uint64, count int) ([]Slice, error) {
	if uint64(count) > r.bufferLength {
		return nil, mxlerrors.Wrap(mxlerrors.InvalidArg, "count exceeds bufferLength", nil)
	}
	if lastIndex+1 < uint64(count) {
		return nil, mxlerrors.Wrap(mxlerrors.InvalidArg, "lastIndex must be >= count-1", nil)
	}

	slices := make([]Slice, r.channelCount)
	for ch := uint32(0); ch < r.channelCount; ch++ {
		slices[ch] = r.fragmentsFor(r.channelArea(ch), lastIndex, count)
	}
	return slices, nil
}

// fragmentsFor computes the byte-level two-fragment split for one
// channel's area, mirroring
// original_source/lib/internal/src/PosixContinuousFlowReader.cpp's
// getSamples offset arithmetic (the write side is the same split, over
// the range to be populated instead of the range to be read).
func (r *Ring) fragmentsFor(area []byte, lastIndex uint64, count int) Slice {
	startOffset := (lastIndex + r.bufferLength - uint64(count) + 1) % r.bufferLength
	endOffsetExclusive := (lastIndex % r.bufferLength) + 1

	var firstLen uint64
	if startOffset < endOffsetExclusive {
		firstLen = uint64(count)
	} else {
		firstLen = r.bufferLength - startOffset
	}
	secondLen := uint64(count) - firstLen

	sb := uint64(r.sampleBytes)
	first := area[startOffset*sb : startOffset*sb+firstLen*sb]
	second := area[0 : secondLen*sb]
	return Slice{First: first, Second: second}
}

// Commit publishes the write reserved by the most recent OpenWrite call
// (spec §4.5 write protocol steps 2-3): bump the seqlock odd, update
// headIndex, bump the seqlock even.
func (r *Ring) Commit(lastIndex uint64) {
	cu := r.continuousHead()
	gen := cu.Generation.Load()
	cu.Generation.Store(gen + 1) // odd: write in flight

	cu.HeadIndex.Store(lastIndex)
	r.header.LastWriteTime.Store(r.clk.NowNs())

	cu.Generation.Store(gen + 2) // even: write complete
}

// GetSamples implements spec §4.5 "Read protocol".
func (r *Ring) GetSamples(lastIndex uint64, count int, timeout time.Duration) ([]Slice, error) {
	if !r.header.Valid.Load() {
		return nil, mxlerrors.ErrFlowInvalid
	}

	deadline := time.Now().Add(timeout)
	cu := r.continuousHead()

	for {
		head := cu.HeadIndex.Load()
		if lastIndex > head {
			remainingNs := clock.NsUntilIndex(r.clk, r.rate, lastIndex)
			if remainingNs > timeout.Nanoseconds() || time.Now().After(deadline) {
				return nil, mxlerrors.ErrOutOfRangeTooEarly
			}
			time.Sleep(time.Millisecond)
			continue
		}

		// spec §4.5: too late when lastIndex-count+1 < headIndex-bufferLength+1.
		if head >= r.bufferLength {
			oldestRetained := head - r.bufferLength + 1
			rangeStart := lastIndex - uint64(count) + 1
			if rangeStart < oldestRetained {
				return nil, mxlerrors.ErrOutOfRangeTooLate
			}
		}

		for {
			gen := cu.Generation.Load()
			if gen%2 == 1 {
				runtime.Gosched()
				continue // write in flight, spin
			}

			slices := make([]Slice, r.channelCount)
			for ch := uint32(0); ch < r.channelCount; ch++ {
				area := r.channelArea(ch)
				s := r.fragmentsFor(area, lastIndex, count)
				// copy out from shared memory so the caller's slice survives
				// past this seqlock retry window.
				first := make([]byte, len(s.First))
				copy(first, s.First)
				second := make([]byte, len(s.Second))
				copy(second, s.Second)
				slices[ch] = Slice{First: first, Second: second}
			}

			if cu.Generation.Load() == gen {
				r.header.LastReadTime.Store(r.clk.NowNs())
				return slices, nil
			}
			// generation changed mid-copy: writer wrapped during the read, retry.
		}
	}
}
