package id

import "testing"

func TestNew(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Errorf("expected ID length 36, got %d (%q)", len(id), id)
	}
	if !Valid(id) {
		t.Errorf("Valid(%q) = false", id)
	}
	if Valid("not-a-uuid") {
		t.Error("Valid(not-a-uuid) = true")
	}
}

func TestNew_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestShort(t *testing.T) {
	id := Short()

	// 4 bytes = 8 hex chars
	if len(id) != 8 {
		t.Errorf("expected ID length 8, got %d", len(id))
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}
