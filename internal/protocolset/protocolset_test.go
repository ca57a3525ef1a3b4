package protocolset

import "testing"

func TestParseAcceptsNamesAndAliases(t *testing.T) {
	cases := []struct {
		in   string
		want Protocol
	}{
		{"StopAndWait", StopAndWait},
		{"1", StopAndWait},
		{"GoBackN", GoBackN},
		{"2", GoBackN},
		{"SelectiveRepeat", SelectiveRepeat},
		{"3", SelectiveRepeat},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := Parse("Selective-Repeat"); err == nil {
		t.Fatal("expected error for unrecognized protocol string")
	}
	if _, err := Parse("0"); err == nil {
		t.Fatal("expected error for out-of-range numeric alias")
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestStringRoundTripsCanonicalNames(t *testing.T) {
	for _, p := range []Protocol{StopAndWait, GoBackN, SelectiveRepeat} {
		parsed, err := Parse(p.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", p.String(), err)
		}
		if parsed != p {
			t.Errorf("round trip through String() changed protocol: %v -> %q -> %v", p, p.String(), parsed)
		}
	}
}

func TestStringUnknownValue(t *testing.T) {
	var p Protocol = 99
	if got := p.String(); got != "Protocol(99)" {
		t.Errorf("String() on unknown value = %q, want Protocol(99)", got)
	}
}
