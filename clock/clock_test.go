package clock

import (
	"testing"

	"github.com/mlefebvre1/mxl/rational"
)

type fixedClock int64

func (f fixedClock) NowNs() int64 { return int64(f) }

func TestTimestampToIndexBasic(t *testing.T) {
	t.Parallel()
	rate := rational.Rational{Numerator: 25, Denominator: 1}
	// 1 second at 25fps should land exactly on index 25.
	if got := TimestampToIndex(rate, 1_000_000_000); got != 25 {
		t.Errorf("TimestampToIndex = %d, want 25", got)
	}
}

func TestTimestampToIndexUndefined(t *testing.T) {
	t.Parallel()
	if got := TimestampToIndex(rational.Zero, 123); got != UndefinedIndex {
		t.Errorf("TimestampToIndex(zero rate) = %d, want UndefinedIndex", got)
	}
	if got := TimestampToIndex(rational.Rational{Numerator: 1, Denominator: 0}, 123); got != UndefinedIndex {
		t.Errorf("TimestampToIndex(zero denominator) = %d, want UndefinedIndex", got)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rates := []rational.Rational{
		{Numerator: 25, Denominator: 1},
		{Numerator: 30000, Denominator: 1001},
		{Numerator: 60000, Denominator: 1001},
		{Numerator: 48000, Denominator: 1},
		{Numerator: 1, Denominator: 1},
		{Numerator: 999999937, Denominator: 999999999}, // large coprime pair
	}
	indices := []uint64{0, 1, 2, 59, 1000, 1 << 20, 1 << 40}

	for _, rate := range rates {
		for _, idx := range indices {
			ts := IndexToTimestamp(rate, idx)
			got := TimestampToIndex(rate, ts)
			if got != idx {
				t.Errorf("round trip failed for rate=%v index=%d: indexToTimestamp=%d, timestampToIndex=%d", rate, idx, ts, got)
			}
		}
	}
}

func TestNsUntilIndexClampsToZero(t *testing.T) {
	t.Parallel()
	rate := rational.Rational{Numerator: 25, Denominator: 1}
	clk := fixedClock(10_000_000_000) // far in the future relative to index 1
	if got := NsUntilIndex(clk, rate, 1); got != 0 {
		t.Errorf("NsUntilIndex for a past index = %d, want 0", got)
	}
}

func TestNsUntilIndexFuture(t *testing.T) {
	t.Parallel()
	rate := rational.Rational{Numerator: 1, Denominator: 1}
	clk := fixedClock(0)
	got := NsUntilIndex(clk, rate, 5)
	want := IndexToTimestamp(rate, 5)
	if got != want {
		t.Errorf("NsUntilIndex = %d, want %d", got, want)
	}
}
