package continuousring

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

type fixedClock int64

func (c fixedClock) NowNs() int64 { return int64(c) }

func newTestRing(channelCount uint32, bufferLength uint64) (*Ring, *segment.Header) {
	header := &segment.Header{}
	header.Valid.Store(true)
	body := make([]byte, int(channelCount)*int(bufferLength)*4)
	r := New(header, body, channelCount, bufferLength, 4, rational.New(48000, 1), fixedClock(0))
	return r, header
}

// TestWriteReadRoundTrip covers spec §8 scenario 4: write bufferLength
// samples in four batches, read back in three batches, every sample
// equals its absolute index as u32.
func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	const bufferLength = 12 // divisible by both the write batch count (4) and read batch count (3)
	r, _ := newTestRing(1, bufferLength)

	batch := bufferLength / 4
	for b := 0; b < 4; b++ {
		lastIndex := uint64(b*batch + batch - 1)
		slices, err := r.OpenWrite(lastIndex, batch)
		if err != nil {
			t.Fatalf("OpenWrite(%d): %v", lastIndex, err)
		}
		writeSequential(slices[0], uint32(b*batch))
		r.Commit(lastIndex)
	}

	readBatch := bufferLength / 3
	var allSamples []uint32
	for start := 0; start < bufferLength; start += readBatch {
		count := readBatch
		if start+count > bufferLength {
			count = bufferLength - start
		}
		if count == 0 {
			break
		}
		lastIndex := uint64(start + count - 1)
		slices, err := r.GetSamples(lastIndex, count, time.Second)
		if err != nil {
			t.Fatalf("GetSamples(%d,%d): %v", lastIndex, count, err)
		}
		allSamples = append(allSamples, readSequential(slices[0])...)
	}

	for i, v := range allSamples {
		if v != uint32(i) {
			t.Fatalf("sample[%d] = %d, want %d", i, v, i)
		}
	}
}

func writeSequential(s Slice, start uint32) {
	writeInto(s.First, start)
	writeInto(s.Second, start+uint32(len(s.First)/4))
}

func writeInto(frag Fragment, start uint32) {
	for i := 0; i*4 < len(frag); i++ {
		binary.LittleEndian.PutUint32(frag[i*4:i*4+4], start+uint32(i))
	}
}

func readSequential(s Slice) []uint32 {
	out := make([]uint32, 0, (len(s.First)+len(s.Second))/4)
	for i := 0; i*4 < len(s.First); i++ {
		out = append(out, binary.LittleEndian.Uint32(s.First[i*4:i*4+4]))
	}
	for i := 0; i*4 < len(s.Second); i++ {
		out = append(out, binary.LittleEndian.Uint32(s.Second[i*4:i*4+4]))
	}
	return out
}

func TestGetSamplesTooEarly(t *testing.T) {
	t.Parallel()
	r, _ := newTestRing(1, 64)
	_, err := r.GetSamples(1000, 4, 2*time.Millisecond)
	if mxlerrors.StatusOf(err) != mxlerrors.OutOfRangeTooEarly {
		t.Fatalf("status = %v, want OutOfRangeTooEarly", mxlerrors.StatusOf(err))
	}
}

func TestGetSamplesInvalidFlow(t *testing.T) {
	t.Parallel()
	r, header := newTestRing(1, 64)
	header.Valid.Store(false)
	_, err := r.GetSamples(0, 4, time.Millisecond)
	if mxlerrors.StatusOf(err) != mxlerrors.FlowInvalid {
		t.Fatalf("status = %v, want FlowInvalid", mxlerrors.StatusOf(err))
	}
}

func TestOpenWriteRejectsOversizeCount(t *testing.T) {
	t.Parallel()
	r, _ := newTestRing(1, 64)
	_, err := r.OpenWrite(63, 65)
	if mxlerrors.StatusOf(err) != mxlerrors.InvalidArg {
		t.Fatalf("status = %v, want InvalidArg", mxlerrors.StatusOf(err))
	}
}
