package domain

import (
	"time"

	"github.com/mlefebvre1/mxl/rational"
)

// slotCountForHistory computes the discrete ring capacity K: a power of
// two at least as large as history_duration * grain_rate (spec §4.4).
func slotCountForHistory(historyDuration time.Duration, rate rational.Rational) uint64 {
	if rate.Numerator <= 0 || rate.Denominator <= 0 {
		return 1
	}
	// ceil(historyDurationNs * n / (d * 1e9))
	minSlots := uint64(ceilDivInt64(historyDuration.Nanoseconds()*rate.Numerator, rate.Denominator*1_000_000_000))
	if minSlots == 0 {
		minSlots = 1
	}
	return nextPowerOfTwoU64(minSlots)
}

func ceilDivInt64(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func nextPowerOfTwoU64(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}
