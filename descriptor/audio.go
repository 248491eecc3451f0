package descriptor

import (
	"fmt"

	"github.com/mlefebvre1/mxl/flowid"
)

// AudioFlow is the audio variant of a FlowDescriptor (spec §3).
type AudioFlow struct {
	CommonHeader
	Format string `json:"format"`
	// SampleRate has no `validate:"required"` tag: go-playground/validator
	// skips the required check entirely for a non-pointer struct-kind
	// field, so a zero rate must instead be rejected explicitly in
	// Validate below.
	SampleRate Rate `json:"sample_rate"`

	ChannelCount uint32 `json:"channel_count" validate:"required,gte=1"`
	BitDepth     uint32 `json:"bit_depth" validate:"required,oneof=32 64"`
	SourceID     string `json:"source_id" validate:"required,uuid4"`
	RawDeviceID  string `json:"device_id" validate:"required,uuid4"`

	deviceID flowid.FlowId
}

func (a *AudioFlow) Kind() FlowKind        { return KindAudio }
func (a *AudioFlow) Common() *CommonHeader { return &a.CommonHeader }

// DeviceID returns the parsed device UUID, valid only after Parse has
// succeeded.
func (a *AudioFlow) DeviceID() flowid.FlowId { return a.deviceID }

func (a *AudioFlow) Validate() error {
	if err := a.CommonHeader.validate(); err != nil {
		return err
	}
	if a.SampleRate.Rational().IsZero() {
		return newDescriptorError("sample_rate must be present and non-zero", nil)
	}
	id, err := flowid.Parse(a.RawDeviceID)
	if err != nil {
		return newDescriptorError("invalid device_id", err)
	}
	a.deviceID = id
	if _, err := a.Geometry(); err != nil {
		return err
	}
	return nil
}

// mediaTypeFor derives the NMOS media_type expected for this bit depth
// (original_source encodes it as "audio/L%d"; spec.md's distillation
// leaves the exact string unstated, see SPEC_FULL.md "Supplemented
// features").
func (a *AudioFlow) mediaTypeFor() string {
	return fmt.Sprintf("audio/L%d", a.BitDepth)
}

func (a *AudioFlow) Geometry() (Geometry, error) {
	if a.BitDepth != 32 && a.BitDepth != 64 {
		return Geometry{}, newUnsupportedMediaType(a.MediaType)
	}
	if a.MediaType != "" && a.MediaType != a.mediaTypeFor() {
		return Geometry{}, newUnsupportedMediaType(a.MediaType)
	}

	return Geometry{
		SampleBytes: a.BitDepth / 8,
	}, nil
}

// BufferLength computes the per-channel ring length that spans at least
// historyDurationNs at this flow's sample rate, rounded up to a power of
// two (spec §4.2 "Audio").
func (a *AudioFlow) BufferLength(historyDurationNs int64) uint32 {
	rate := a.SampleRate.Rational()
	if rate.Numerator == 0 || rate.Denominator == 0 {
		return 0
	}
	// ceil(historyDurationNs * sampleRate / 1e9), sampleRate = n/d.
	numerator := historyDurationNs * rate.Numerator
	denominator := rate.Denominator * 1_000_000_000
	length := uint32(ceilDivInt64(numerator, denominator))
	return nextPowerOfTwo(length)
}

func ceilDivInt64(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
