package descriptor

// DataFlow is the ancillary-data variant of a FlowDescriptor (spec §3).
type DataFlow struct {
	CommonHeader
	Format string `json:"format"`
	// GrainRate has no `validate:"required"` tag: go-playground/validator
	// skips the required check entirely for a non-pointer struct-kind
	// field, so a zero rate must instead be rejected explicitly in
	// Validate below.
	GrainRate Rate `json:"grain_rate"`
}

func (d *DataFlow) Kind() FlowKind        { return KindData }
func (d *DataFlow) Common() *CommonHeader { return &d.CommonHeader }

func (d *DataFlow) Validate() error {
	if err := d.CommonHeader.validate(); err != nil {
		return err
	}
	if d.GrainRate.Rational().IsZero() {
		return newDescriptorError("grain_rate must be present and non-zero", nil)
	}
	_, err := d.Geometry()
	return err
}

func (d *DataFlow) Geometry() (Geometry, error) {
	if d.MediaType != "video/smpte291" {
		return Geometry{}, newUnsupportedMediaType(d.MediaType)
	}
	return Geometry{
		GrainSize:   dataFormatGrainSize,
		SliceLength: 1,
		TotalSlices: dataFormatGrainSize,
	}, nil
}
