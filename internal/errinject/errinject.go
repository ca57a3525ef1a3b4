// Package errinject implements bit-error injection, mirroring the four
// techniques the channel can apply: single, double (two isolated
// single-bit flips), odd (an odd count of flips at arbitrary indices), and
// burst (a contiguous run of flipped bits). Single, double and odd only
// address the first 32 bits of the data; a burst may cover the whole
// string.
//
// Grounded on original_source/error_injector.py; the manual-index
// functions are a direct translation including its exact bounds checks,
// and the random variants take an injected *rand.Rand (spec.md §9) so
// callers and tests can reproduce a run deterministically instead of
// relying on the package-global generator the Python original used.
package errinject

import (
	"fmt"
	"math/rand"

	"github.com/kstaniek/linkarq/internal/bitstring"
)

// codewordBits is the fixed width manual injection bounds-checks against,
// matching the Python original's hardcoded 32.
const codewordBits = 32

// Technique names the class of error to inject.
type Technique string

const (
	Single Technique = "SINGLE"
	Double Technique = "DOUBLE"
	Odd    Technique = "ODD"
	Burst  Technique = "BURST"
)

// SingleBitError flips the bit at index in data.
func SingleBitError(data bitstring.String, index int) (bitstring.String, error) {
	if index < 0 || index >= codewordBits {
		return bitstring.String{}, fmt.Errorf("errinject: index %d out of range", index)
	}
	return data.Flip(index), nil
}

// DoubleBitError flips two distinct indices.
func DoubleBitError(data bitstring.String, index1, index2 int) (bitstring.String, error) {
	if index1 < 0 || index1 >= codewordBits || index2 < 0 || index2 >= codewordBits {
		return bitstring.String{}, fmt.Errorf("errinject: indices out of range")
	}
	if index1 == index2 {
		return bitstring.String{}, fmt.Errorf("errinject: indices must be different")
	}
	return data.Flip(index1).Flip(index2), nil
}

// OddBitError flips every index given; callers are responsible for
// passing an odd count (InjectManual checks it for the Odd technique —
// this function itself does not count, matching the Python
// original's inject_odd_number_of_errors which is shared by both the
// manual and random callers and only checks index range).
func OddBitError(data bitstring.String, indices []int) (bitstring.String, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= codewordBits {
			return bitstring.String{}, fmt.Errorf("errinject: index %d out of range", idx)
		}
	}
	out := data
	for _, idx := range indices {
		out = out.Flip(idx)
	}
	return out, nil
}

// BurstError flips burstLength consecutive bits starting at startIndex.
func BurstError(data bitstring.String, startIndex, burstLength int) (bitstring.String, error) {
	if startIndex < 0 || startIndex+burstLength > data.Len() {
		return bitstring.String{}, fmt.Errorf("errinject: burst out of range")
	}
	out := data
	for i := startIndex; i < startIndex+burstLength; i++ {
		out = out.Flip(i)
	}
	return out, nil
}

// ManualIndices carries the operator-supplied parameters for a manual
// (non-random) injection, mirroring inject_error_manual's argument set.
type ManualIndices struct {
	Indices     []int
	StartIndex  int
	BurstLength int
}

// InjectManual dispatches to the technique named by t using explicit indices.
func InjectManual(data bitstring.String, t Technique, m ManualIndices) (bitstring.String, error) {
	switch t {
	case Single:
		if len(m.Indices) != 1 {
			return bitstring.String{}, fmt.Errorf("errinject: SINGLE requires exactly one index")
		}
		return SingleBitError(data, m.Indices[0])
	case Double:
		if len(m.Indices) != 2 {
			return bitstring.String{}, fmt.Errorf("errinject: DOUBLE requires exactly two indices")
		}
		return DoubleBitError(data, m.Indices[0], m.Indices[1])
	case Odd:
		if len(m.Indices) == 0 || len(m.Indices)%2 == 0 {
			return bitstring.String{}, fmt.Errorf("errinject: ODD requires an odd, non-zero number of indices")
		}
		return OddBitError(data, m.Indices)
	case Burst:
		return BurstError(data, m.StartIndex, m.BurstLength)
	default:
		return bitstring.String{}, fmt.Errorf("errinject: unknown technique %q", t)
	}
}

// InjectRandom dispatches to the technique named by t, drawing indices from rng.
// burstLength is only consulted for Burst.
func InjectRandom(data bitstring.String, t Technique, rng *rand.Rand, burstLength int) (bitstring.String, error) {
	switch t {
	case Single:
		return SingleBitError(data, rng.Intn(codewordBits))
	case Double:
		i1 := rng.Intn(codewordBits)
		i2 := rng.Intn(codewordBits)
		for i2 == i1 {
			i2 = rng.Intn(codewordBits)
		}
		return DoubleBitError(data, i1, i2)
	case Odd:
		n := drawOddCount(rng)
		indices := sampleDistinct(rng, codewordBits, n)
		return OddBitError(data, indices)
	case Burst:
		if burstLength <= 0 {
			return bitstring.String{}, fmt.Errorf("errinject: burst length must be provided for BURST error")
		}
		maxStart := data.Len() - burstLength
		if maxStart < 0 {
			maxStart = 0
		}
		start := rng.Intn(maxStart + 1)
		return BurstError(data, start, burstLength)
	default:
		return bitstring.String{}, fmt.Errorf("errinject: unknown technique %q", t)
	}
}

// drawOddCount draws a count in [1, 32] from rng, resampling until odd,
// matching the Python original's rejection-sampling loop.
func drawOddCount(rng *rand.Rand) int {
	n := 1 + rng.Intn(codewordBits)
	for n%2 == 0 {
		n = 1 + rng.Intn(codewordBits)
	}
	return n
}

// sampleDistinct draws n distinct values from [0, populationSize) without
// replacement, mirroring Python's random.sample(range(n), k).
func sampleDistinct(rng *rand.Rand, populationSize, n int) []int {
	pool := make([]int, populationSize)
	for i := range pool {
		pool[i] = i
	}
	rng.Shuffle(populationSize, func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	out := make([]int, n)
	copy(out, pool[:n])
	return out
}
