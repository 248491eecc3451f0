package flow

import (
	"testing"
	"time"

	"github.com/mlefebvre1/mxl/descriptor"
	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/internal/discretering"
	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

// TestVideoWriteReadRoundTrip covers spec §8 end-to-end scenario 1: write
// a grain with the INVALID flag set and 0xCA/0xFE sentinel bytes, read it
// back and observe the same bytes, flag, and headIndex.
func TestVideoWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	domain := t.TempDir()
	mgr := segment.NewManager(domain)
	id := flowid.New()

	const capacity = 8
	const grainSize = 128
	raw := []byte(`{"format":"urn:x-nmos:format:video"}`)
	geom := descriptor.Geometry{GrainSize: grainSize, TotalSlices: 1}
	bodySize := int64(capacity) * int64(64+grainSize)

	seg, err := mgr.Create(id, segment.FormatVideo, raw, geom, bodySize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	rate := rational.New(60000, 1001)
	du := seg.Header.Discrete()
	du.GrainRateNum = rate.Numerator
	du.GrainRateDen = rate.Denominator

	ring := discretering.New(seg.Header, seg.Body, capacity, geom.TotalSlices, grainSize, rate, nil)

	writer, err := NewWriter(id, descriptor.KindVideo, seg, ring, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()

	const index = 42
	buf, err := writer.OpenGrain(index)
	if err != nil {
		t.Fatalf("OpenGrain: %v", err)
	}
	buf[0] = 0xCA
	buf[len(buf)-1] = 0xFE

	if err := writer.CommitGrain(index, 1, discretering.FlagInvalid); err != nil {
		t.Fatalf("CommitGrain: %v", err)
	}

	reader := NewReader(id, descriptor.KindVideo, seg, ring, nil)
	view, err := reader.GetGrain(index, 16*time.Nanosecond)
	if err != nil {
		t.Fatalf("GetGrain: %v", err)
	}

	if view.Payload[0] != 0xCA || view.Payload[len(view.Payload)-1] != 0xFE {
		t.Fatalf("payload mismatch: %v", view.Payload)
	}
	if view.Flags&discretering.FlagInvalid == 0 {
		t.Fatalf("expected FlagInvalid set")
	}
	if du.HeadIndex.Load() != index {
		t.Fatalf("headIndex = %d, want %d", du.HeadIndex.Load(), index)
	}
}

func TestWrongKindOperationsReturnInvalidArg(t *testing.T) {
	t.Parallel()
	domain := t.TempDir()
	mgr := segment.NewManager(domain)
	id := flowid.New()

	seg, err := mgr.Create(id, segment.FormatData, []byte("{}"), descriptor.Geometry{GrainSize: 8, TotalSlices: 1}, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	ring := discretering.New(seg.Header, seg.Body, 4, 1, 8, rational.New(25, 1), nil)
	writer, err := NewWriter(id, descriptor.KindData, seg, ring, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()

	if _, err := writer.OpenSamples(0, 1); mxlerrors.StatusOf(err) != mxlerrors.InvalidArg {
		t.Fatalf("OpenSamples on a discrete-only writer: status = %v, want InvalidArg", mxlerrors.StatusOf(err))
	}
}
