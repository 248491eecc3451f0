package descriptor

import (
	"encoding/json"

	"github.com/mlefebvre1/mxl/rational"
)

// Rate is a JSON-decodable rational, defaulting to denominator 1 when the
// wire form omits it (spec §3: "sample_rate ... denom defaults to 1"; the
// same convention is applied to grain_rate for consistency with
// original_source's Rational::Rfl::to_class default).
type Rate rational.Rational

func (r *Rate) UnmarshalJSON(data []byte) error {
	var j jsonRational
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*r = Rate(j.toRational(1))
	return nil
}

// Rational converts back to the reduced rational.Rational form.
func (r Rate) Rational() rational.Rational {
	v := rational.Rational(r)
	v.Reduce()
	return v
}
