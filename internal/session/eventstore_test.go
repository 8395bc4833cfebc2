package session

import "testing"

func TestSequenceOf_Monotonic(t *testing.T) {
	a, err := sequenceOf("1690000000000-0")
	if err != nil {
		t.Fatalf("sequenceOf: %v", err)
	}
	b, err := sequenceOf("1690000000000-1")
	if err != nil {
		t.Fatalf("sequenceOf: %v", err)
	}
	c, err := sequenceOf("1690000000001-0")
	if err != nil {
		t.Fatalf("sequenceOf: %v", err)
	}

	if !(a < b) {
		t.Fatalf("expected %d < %d (same ms, later counter)", a, b)
	}
	if !(b < c) {
		t.Fatalf("expected %d < %d (later ms)", b, c)
	}
}

func TestSequenceOf_MalformedID(t *testing.T) {
	if _, err := sequenceOf("not-a-stream-id-at-all"); err == nil {
		t.Fatalf("expected error for malformed id missing a numeric prefix")
	}
}
