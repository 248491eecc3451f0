package descriptor

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// descriptorValidate is the shared validator instance, initialized once at
// package load, the same way AleutianLocal's datatypes/chat.go keeps a
// single package-level *validator.Validate for its request structs.
var descriptorValidate = validator.New()

// validateShape runs struct-tag validation (spec §4.2 step 1: required
// fields present, UUIDs well-formed, enumerations honored, numeric
// bounds).
func validateShape(desc FlowDescriptor) error {
	if err := descriptorValidate.Struct(desc); err != nil {
		return newDescriptorError("descriptor shape validation failed", err)
	}
	return nil
}

// validate runs the two common-header rules that apply to every flow kind:
// label non-empty (spec §4.2 step 2, restated explicitly even though the
// validator's "required" tag on Label already rejects an empty string —
// spec.md calls it out as its own numbered rule with its own test case)
// and group-hint validation (step 3).
func (c *CommonHeader) validate() error {
	if strings.TrimSpace(c.Label) == "" {
		return newDescriptorError("label must not be empty", nil)
	}
	return validateGroupHints(c.Tags.GroupHints)
}

// validateGroupHints enforces spec §4.2 step 3: the group-hint tag must be
// present and non-empty, and each entry must be
// "<group>:<role>[:<scope>]" with group and role non-empty and scope, if
// present, one of "device" or "node".
func validateGroupHints(hints []string) error {
	if len(hints) == 0 {
		return newDescriptorError("group hint tag must be present and non-empty", nil)
	}

	for _, hint := range hints {
		parts := strings.Split(hint, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return newDescriptorError("invalid group hint "+quote(hint)+": expected <group>:<role>[:<scope>]", nil)
		}

		group, role := parts[0], parts[1]
		if group == "" || role == "" {
			return newDescriptorError("invalid group hint "+quote(hint)+": group and role must not be empty", nil)
		}

		if len(parts) == 3 {
			scope := parts[2]
			if scope != "device" && scope != "node" {
				return newDescriptorError("invalid group hint "+quote(hint)+": scope must be 'device' or 'node'", nil)
			}
		}
	}

	return nil
}

func quote(s string) string {
	return "'" + s + "'"
}
