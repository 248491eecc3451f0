// Package flowid wraps the UUIDv4 identifier used to name a flow's
// artifacts on disk (spec §3 "FlowId").
package flowid

import (
	"github.com/google/uuid"
)

// FlowId is a UUIDv4, used as the filesystem name of a flow's on-disk
// artifacts.
type FlowId uuid.UUID

// Nil is the zero FlowId.
var Nil FlowId

// New generates a random v4 FlowId.
func New() FlowId {
	return FlowId(uuid.New())
}

// Parse parses the canonical 36-character string form of a FlowId. It does
// not require version 4 specifically: MXL stores whatever UUID a caller
// hands it, but every helper that generates one (New) produces v4.
func Parse(s string) (FlowId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return FlowId(id), nil
}

// String renders the canonical 36-character form.
func (f FlowId) String() string {
	return uuid.UUID(f).String()
}

// IsNil reports whether f is the zero value.
func (f FlowId) IsNil() bool {
	return f == Nil
}

// Bytes returns the 16 raw bytes of the identifier, as stored in the
// segment header (spec §6, offset 16).
func (f FlowId) Bytes() [16]byte {
	return f
}
