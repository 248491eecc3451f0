package descriptor

import (
	"github.com/mlefebvre1/mxl/mxlerrors"
)

// newDescriptorError wraps cause as mxlerrors.ErrInvalidDescriptor with a
// human-readable detail, matching spec §7: every descriptor failure
// collapses to one status code at the API boundary.
func newDescriptorError(detail string, cause error) error {
	return mxlerrors.Wrap(mxlerrors.InvalidDescriptor, detail, cause)
}

func newUnsupportedMediaType(mediaType string) error {
	return mxlerrors.Wrap(mxlerrors.UnsupportedMediaType, "unsupported media_type "+mediaType, nil)
}
