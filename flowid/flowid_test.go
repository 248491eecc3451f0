package flowid

import "testing"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	id := New()
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse(%s): %v", id.String(), err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, id)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("expected error parsing malformed uuid")
	}
}

func TestIsNil(t *testing.T) {
	t.Parallel()
	if !Nil.IsNil() {
		t.Error("Nil.IsNil() should be true")
	}
	if New().IsNil() {
		t.Error("a freshly generated id should not be nil")
	}
}
