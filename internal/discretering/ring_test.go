package discretering

import (
	"sync"
	"testing"
	"time"

	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

type fixedClock int64

func (c fixedClock) NowNs() int64 { return int64(c) }

func TestOpenCommitGet(t *testing.T) {
	t.Parallel()
	header := &segment.Header{}
	header.Valid.Store(true)
	r, _ := newTestRingWithHeader(header, 8, 16)

	buf := r.Open(0)
	buf[0] = 0xCA
	buf[len(buf)-1] = 0xFE
	if err := r.Commit(0, 1, FlagInvalid); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	view, err := r.Get(0, time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Payload[0] != 0xCA || view.Payload[len(view.Payload)-1] != 0xFE {
		t.Fatalf("payload mismatch: %v", view.Payload)
	}
	if view.Flags&FlagInvalid == 0 {
		t.Fatalf("expected FlagInvalid set")
	}
}

func newTestRingWithHeader(header *segment.Header, capacity uint64, grainSize uint32) (*Ring, *segment.Header) {
	body := make([]byte, int(capacity)*(64+int(grainSize))*2)
	return New(header, body, capacity, 1, grainSize, rational.New(25, 1), fixedClock(0)), header
}

func TestGetTooLate(t *testing.T) {
	t.Parallel()
	header := &segment.Header{}
	header.Valid.Store(true)
	r, _ := newTestRingWithHeader(header, 4, 8)

	for i := uint64(0); i < 10; i++ {
		r.Open(i)
		if err := r.Commit(i, 1, 0); err != nil {
			t.Fatalf("Commit(%d): %v", i, err)
		}
	}

	_, err := r.Get(0, time.Millisecond)
	if mxlerrors.StatusOf(err) != mxlerrors.OutOfRangeTooLate {
		t.Fatalf("status = %v, want OutOfRangeTooLate", mxlerrors.StatusOf(err))
	}
}

func TestGetTimesOutTooEarly(t *testing.T) {
	t.Parallel()
	header := &segment.Header{}
	header.Valid.Store(true)
	r, _ := newTestRingWithHeader(header, 4, 8)

	_, err := r.Get(1000, 2*time.Millisecond)
	if mxlerrors.StatusOf(err) != mxlerrors.OutOfRangeTooEarly {
		t.Fatalf("status = %v, want OutOfRangeTooEarly", mxlerrors.StatusOf(err))
	}
}

func TestGetInvalidFlow(t *testing.T) {
	t.Parallel()
	header := &segment.Header{}
	header.Valid.Store(false)
	r, _ := newTestRingWithHeader(header, 4, 8)

	_, err := r.Get(0, time.Millisecond)
	if mxlerrors.StatusOf(err) != mxlerrors.FlowInvalid {
		t.Fatalf("status = %v, want FlowInvalid", mxlerrors.StatusOf(err))
	}
}

// TestConcurrentWriterReaderWake exercises the cond-broadcast wake path: a
// reader blocked on a future index should observe it shortly after the
// writer commits, without waiting for the full timeout.
func TestConcurrentWriterReaderWake(t *testing.T) {
	t.Parallel()
	header := &segment.Header{}
	header.Valid.Store(true)
	r, _ := newTestRingWithHeader(header, 8, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		r.Open(1)
		r.Commit(1, 1, 0)
	}()

	view, err := r.Get(1, time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Index != 1 {
		t.Fatalf("Index = %d, want 1", view.Index)
	}
}
