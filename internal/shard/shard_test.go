package shard

import "testing"

func TestParseRoundTrip(t *testing.T) {
	id, err := Parse("18446744073709551615") // u64::MAX
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.String() != "18446744073709551615" {
		t.Fatalf("String() = %q", id.String())
	}
}

func TestParseRejectsNegativeAndNonNumeric(t *testing.T) {
	for _, s := range []string{"-1", "abc", "", "1.5"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}
