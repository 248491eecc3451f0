// Package descriptor parses and validates NMOS-derived flow descriptors
// (spec §3 "FlowDescriptor", §4.2) and computes the payload geometry a
// segment needs to allocate for them.
package descriptor

import (
	"encoding/json"
	"fmt"

	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/rational"
)

// FlowKind discriminates the three flow variants, tagged by the NMOS
// "format" URN (spec §3).
type FlowKind int

const (
	KindUnknown FlowKind = iota
	KindVideo
	KindAudio
	KindData
)

func (k FlowKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

const (
	formatVideo = "urn:x-nmos:format:video"
	formatAudio = "urn:x-nmos:format:audio"
	formatData  = "urn:x-nmos:format:data"

	groupHintTag = "urn:x-nmos:tag:grouphint/v1.0"
)

// InterlaceMode enumerates the video scan modes of spec §3.
type InterlaceMode string

const (
	Progressive    InterlaceMode = "progressive"
	InterlacedTFF  InterlaceMode = "interlaced_tff"
	InterlacedBFF  InterlaceMode = "interlaced_bff"
)

// jsonRational mirrors the wire representation of a Rational, where the
// denominator may be omitted; toRational substitutes the caller's default
// (Rate uses 1 for every flow kind).
type jsonRational struct {
	Numerator   int64  `json:"numerator"`
	Denominator *int64 `json:"denominator,omitempty"`
}

func (j jsonRational) toRational(defaultDenominator int64) rational.Rational {
	d := defaultDenominator
	if j.Denominator != nil {
		d = *j.Denominator
	}
	r := rational.Rational{Numerator: j.Numerator, Denominator: d}
	r.Reduce()
	return r
}

// Tags carries the NMOS tag set. Only the group-hint tag is meaningful to
// MXL today; it is mandatory (spec §4.2 step 3).
type Tags struct {
	GroupHints []string `json:"urn:x-nmos:tag:grouphint/v1.0"`
}

// CommonHeader is the shared header embedded (composition, not
// inheritance, per spec §9) in every flow variant.
type CommonHeader struct {
	ID          flowid.FlowId `json:"-" validate:"-"`
	RawID       string        `json:"id" validate:"required,uuid4"`
	Label       string        `json:"label" validate:"required"`
	Description string        `json:"description"`
	MediaType   string        `json:"media_type" validate:"required"`
	Tags        Tags          `json:"tags" validate:"required"`
}

// FlowDescriptor is implemented by *VideoFlow, *AudioFlow, and *DataFlow.
type FlowDescriptor interface {
	Kind() FlowKind
	Common() *CommonHeader
	Validate() error
	Geometry() (Geometry, error)
}

// envelope is used only to sniff the "format" discriminator before
// unmarshalling into a concrete variant, mirroring the tagged-union
// dispatch of the original rfl::TaggedUnion.
type envelope struct {
	Format string `json:"format"`
}

// Parse decodes a flow descriptor document and runs the full §4.2
// validation pipeline (shape, label, group hints, interlace coupling,
// rate normalization). Failures are reported as
// mxlerrors.ErrInvalidDescriptor (via newDescriptorError, see errors.go),
// except an unsupported media_type, which is reported as
// mxlerrors.ErrUnsupportedMediaType.
func Parse(data []byte) (FlowDescriptor, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newDescriptorError("malformed JSON", err)
	}

	var desc FlowDescriptor
	switch env.Format {
	case formatVideo:
		v := &VideoFlow{}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, newDescriptorError("malformed video descriptor", err)
		}
		desc = v
	case formatAudio:
		a := &AudioFlow{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, newDescriptorError("malformed audio descriptor", err)
		}
		desc = a
	case formatData:
		d := &DataFlow{}
		if err := json.Unmarshal(data, d); err != nil {
			return nil, newDescriptorError("malformed data descriptor", err)
		}
		desc = d
	default:
		return nil, newDescriptorError(fmt.Sprintf("missing or unrecognized format %q", env.Format), nil)
	}

	if err := validateShape(desc); err != nil {
		return nil, err
	}

	if err := finalizeCommon(desc.Common()); err != nil {
		return nil, err
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return desc, nil
}

// finalizeCommon parses RawID into the typed ID field once shape
// validation has already confirmed it is a well-formed UUID.
func finalizeCommon(c *CommonHeader) error {
	id, err := flowid.Parse(c.RawID)
	if err != nil {
		return newDescriptorError("invalid flow id", err)
	}
	c.ID = id
	return nil
}
