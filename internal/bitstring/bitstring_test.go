package bitstring

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	orig := "1010101011110000"
	s, err := Parse(orig)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	packed, err := s.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(packed) != len(orig)/8 {
		t.Fatalf("expected %d bytes, got %d", len(orig)/8, len(packed))
	}
	back := Unpack(packed)
	if back.Bits() != orig {
		t.Fatalf("round trip mismatch: got %q want %q", back.Bits(), orig)
	}
}

func TestFlip(t *testing.T) {
	s := New("0000")
	flipped := s.Flip(2)
	if flipped.Bits() != "0010" {
		t.Fatalf("got %q want %q", flipped.Bits(), "0010")
	}
	// original untouched
	if s.Bits() != "0000" {
		t.Fatalf("original mutated: %q", s.Bits())
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	if _, err := Parse("1012"); err == nil {
		t.Fatal("expected error for invalid character")
	}
}

func TestPackRejectsUnalignedLength(t *testing.T) {
	s := New("101")
	if _, err := s.Pack(); err == nil {
		t.Fatal("expected error for non-multiple-of-8 length")
	}
}
