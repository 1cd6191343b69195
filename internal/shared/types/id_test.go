package types

import "testing"

// TestNewDeterministicID tests stable derivation of fixed identities
func TestNewDeterministicID(t *testing.T) {
	a := NewDeterministicID("procet", "system")
	b := NewDeterministicID("procet", "system")
	if a != b {
		t.Errorf("Expected the same inputs to yield the same ID, got %s and %s", a, b)
	}
	if a.IsZero() {
		t.Error("Expected a non-zero ID")
	}

	other := NewDeterministicID("procet", "scheduler")
	if a == other {
		t.Error("Expected different names to yield different IDs")
	}

	if _, err := ParseID(a.String()); err != nil {
		t.Errorf("Expected a valid UUID, got %v", err)
	}
}

// TestParseID tests UUID validation
func TestParseID(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed ID")
	}

	id := NewID()
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}
}
