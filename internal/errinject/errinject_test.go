package errinject

import (
	"math/rand"
	"testing"

	"github.com/kstaniek/linkarq/internal/bitstring"
)

func TestSingleBitErrorFlipsOneBit(t *testing.T) {
	data := bitstring.New("00000000000000000000000000000000")
	out, err := SingleBitError(data, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bit(5) != 1 {
		t.Fatalf("expected bit 5 set")
	}
	if out.Bits()[:5] != "00000" {
		t.Fatalf("unexpected mutation outside target index: %q", out.Bits())
	}
}

func TestSingleBitErrorRejectsOutOfRange(t *testing.T) {
	data := bitstring.New("00000000000000000000000000000000")
	if _, err := SingleBitError(data, 32); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestDoubleBitErrorRejectsSameIndex(t *testing.T) {
	data := bitstring.New("00000000000000000000000000000000")
	if _, err := DoubleBitError(data, 3, 3); err == nil {
		t.Fatal("expected error for identical indices")
	}
}

func TestOddBitErrorFlipsAllGivenIndices(t *testing.T) {
	data := bitstring.New("00000000000000000000000000000000")
	out, err := OddBitError(data, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bit(0) != 1 || out.Bit(1) != 1 || out.Bit(2) != 1 {
		t.Fatalf("expected bits 0,1,2 flipped: %q", out.Bits())
	}
}

func TestBurstErrorFlipsContiguousRun(t *testing.T) {
	data := bitstring.New("00000000")
	out, err := BurstError(data, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bits() != "00111000" {
		t.Fatalf("got %q want %q", out.Bits(), "00111000")
	}
}

func TestInjectManualValidatesArgumentCounts(t *testing.T) {
	data := bitstring.New("00000000000000000000000000000000")
	if _, err := InjectManual(data, Single, ManualIndices{Indices: []int{1, 2}}); err == nil {
		t.Fatal("expected error for SINGLE with two indices")
	}
	if _, err := InjectManual(data, Double, ManualIndices{Indices: []int{1}}); err == nil {
		t.Fatal("expected error for DOUBLE with one index")
	}
	if _, err := InjectManual(data, Odd, ManualIndices{Indices: []int{1, 2}}); err == nil {
		t.Fatal("expected error for ODD with an even count")
	}
}

func TestInjectRandomIsDeterministicWithSeededRNG(t *testing.T) {
	data := bitstring.New("000000000000000000000000000000000000000000000000000000000000")
	rng1 := rand.New(rand.NewSource(42))
	rng2 := rand.New(rand.NewSource(42))
	out1, err := InjectRandom(data, Odd, rng1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := InjectRandom(data, Odd, rng2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out1.Bits() != out2.Bits() {
		t.Fatalf("same seed produced different results: %q vs %q", out1.Bits(), out2.Bits())
	}
}

func TestInjectRandomBurstRequiresLength(t *testing.T) {
	data := bitstring.New("00000000")
	rng := rand.New(rand.NewSource(1))
	if _, err := InjectRandom(data, Burst, rng, 0); err == nil {
		t.Fatal("expected error when burst length is missing")
	}
}
