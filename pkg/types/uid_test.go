package types

import (
	"strings"
	"testing"
)

func TestNewDatasetUID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		uid := NewDatasetUID()
		s := uid.String()
		if seen[s] {
			t.Fatalf("duplicate uid generated: %s", s)
		}
		seen[s] = true
	}
}

func TestDatasetUID_String(t *testing.T) {
	uid := NewDatasetUID()
	s := uid.String()

	if len(s) != 32 {
		t.Errorf("expected 32-character uid, got %d: %q", len(s), s)
	}
	if strings.ContainsRune(s, '-') {
		t.Errorf("expected dashless uid, got %q", s)
	}
	if s != strings.ToLower(s) {
		t.Errorf("expected lowercase uid, got %q", s)
	}
}

func TestParseDatasetUID_RoundTrip(t *testing.T) {
	uid := NewDatasetUID()

	parsed, err := ParseDatasetUID(uid.String())
	if err != nil {
		t.Fatalf("failed to parse uid: %v", err)
	}
	if parsed != uid {
		t.Errorf("round-trip changed uid: %s != %s", parsed, uid)
	}
}

func TestParseDatasetUID_DashedForm(t *testing.T) {
	parsed, err := ParseDatasetUID("6ecf30db-2e3f-4ef3-8aa1-1e035c6bddd0")
	if err != nil {
		t.Fatalf("failed to parse dashed uid: %v", err)
	}
	if parsed.String() != "6ecf30db2e3f4ef38aa11e035c6bddd0" {
		t.Errorf("unexpected canonical form: %s", parsed)
	}
}

func TestParseDatasetUID_Invalid(t *testing.T) {
	cases := []string{
		"",
		"xyz",
		"6ecf30db2e3f4ef38aa11e035c6bddd",   // 31 chars
		"6ecf30db2e3f4ef38aa11e035c6bddd0a", // 33 chars
		"zzcf30db2e3f4ef38aa11e035c6bddd0",  // bad hex
	}
	for _, s := range cases {
		if _, err := ParseDatasetUID(s); err == nil {
			t.Errorf("expected parse error for %q", s)
		}
	}
}

func TestDatasetUID_PathPrefix(t *testing.T) {
	uid, err := ParseDatasetUID("6ecf30db2e3f4ef38aa11e035c6bddd0")
	if err != nil {
		t.Fatalf("failed to parse uid: %v", err)
	}
	if uid.PathPrefix() != "6e" {
		t.Errorf("expected prefix 6e, got %s", uid.PathPrefix())
	}
}

func TestDatasetUID_IsZero(t *testing.T) {
	var zero DatasetUID
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if NewDatasetUID().IsZero() {
		t.Error("fresh uid should not report IsZero")
	}
}
