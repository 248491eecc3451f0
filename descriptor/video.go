package descriptor

// VideoFlow is the video variant of a FlowDescriptor (spec §3).
type VideoFlow struct {
	CommonHeader
	Format        string        `json:"format"`
	// GrainRate has no `validate:"required"` tag: go-playground/validator
	// skips the required check entirely for a non-pointer struct-kind
	// field, so a zero rate must instead be rejected explicitly in
	// Validate below.
	GrainRate Rate `json:"grain_rate"`

	FrameWidth    uint32        `json:"frame_width" validate:"required,lte=7680"`
	FrameHeight   uint32        `json:"frame_height" validate:"required,lte=4320"`
	InterlaceMode InterlaceMode `json:"interlace_mode" validate:"required,oneof=progressive interlaced_tff interlaced_bff"`
	Colorspace    string        `json:"colorspace"`
	// Components lists the plane names present in the payload. Left empty
	// it defaults to a plain v210 picture (Y, Cb, Cr interleaved into one
	// plane); a v210+alpha flow adds "Alpha" as a second plane (see
	// SPEC_FULL.md "Supplemented features").
	Components []string `json:"components,omitempty"`
}

func (v *VideoFlow) Kind() FlowKind        { return KindVideo }
func (v *VideoFlow) Common() *CommonHeader { return &v.CommonHeader }

// IsInterlaced reports whether the scan mode is one of the two interlaced
// variants.
func (v *VideoFlow) IsInterlaced() bool {
	return v.InterlaceMode == InterlacedTFF || v.InterlaceMode == InterlacedBFF
}

// HasAlpha reports whether this is a video/v210+alpha flow.
func (v *VideoFlow) HasAlpha() bool {
	for _, c := range v.Components {
		if c == "Alpha" {
			return true
		}
	}
	return false
}

func (v *VideoFlow) Validate() error {
	if err := v.CommonHeader.validate(); err != nil {
		return err
	}
	if v.GrainRate.Rational().IsZero() {
		return newDescriptorError("grain_rate must be present and non-zero", nil)
	}
	if err := v.validateInterlaceCoupling(); err != nil {
		return err
	}
	_, err := v.Geometry()
	return err
}

// validateInterlaceCoupling enforces spec §4.2 step 4: interlaced video
// must run at 30000/1001 or 25/1 grain rate, and frame height must be
// even.
func (v *VideoFlow) validateInterlaceCoupling() error {
	if !v.IsInterlaced() {
		return nil
	}

	rate := v.GrainRate.Rational()
	is30000_1001 := rate.Numerator == 30000 && rate.Denominator == 1001
	is25_1 := rate.Numerator == 25 && rate.Denominator == 1
	if !is30000_1001 && !is25_1 {
		return newDescriptorError("interlaced video requires grain_rate 30000/1001 or 25/1", nil)
	}

	if v.FrameHeight%2 != 0 {
		return newDescriptorError("interlaced video requires an even frame_height", nil)
	}

	return nil
}

func (v *VideoFlow) Geometry() (Geometry, error) {
	switch v.MediaType {
	case "video/v210", "video/v210+alpha":
	default:
		return Geometry{}, newUnsupportedMediaType(v.MediaType)
	}

	effectiveHeight := v.FrameHeight
	if v.IsInterlaced() {
		effectiveHeight /= 2
	}

	sliceLen := v210SliceLength(v.FrameWidth)
	g := Geometry{
		SliceLength: sliceLen,
		TotalSlices: effectiveHeight,
		GrainSize:   sliceLen * effectiveHeight,
	}
	g.SliceLengths[0] = sliceLen

	if v.MediaType == "video/v210+alpha" || v.HasAlpha() {
		alphaSliceLen := v210AlphaSliceLength(v.FrameWidth)
		g.SliceLengths[1] = alphaSliceLen
		g.GrainSize += alphaSliceLen * effectiveHeight
	}

	return g, nil
}
