// Package channel simulates the lossy, error-prone medium a Data Frame
// crosses between sender and receiver: it may drop the frame outright, or
// deliver it with injected bit errors in its payload+FCS region.
//
// Grounded on original_source/channel.py: Transmit is a direct
// translation of Channel.transmit/introduce_errors, generalized to take
// an injected *rand.Rand (spec.md §9) instead of the package-global
// random module, and shaped as a stateless value (like the teacher's
// cnl.Codec) rather than an object with shared mutable fields.
package channel

import (
	"math/rand"

	"github.com/kstaniek/linkarq/internal/bitstring"
	"github.com/kstaniek/linkarq/internal/errinject"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/metrics"
)

const (
	DefaultFrameLossProbability = 0.3
	DefaultErrorProbability     = 0.3
)

// Channel is a stateless, concurrency-safe simulated medium.
type Channel struct {
	FrameLossProbability float64
	ErrorProbability     float64
}

// New returns a Channel with the spec's default loss/error probabilities.
func New() Channel {
	return Channel{
		FrameLossProbability: DefaultFrameLossProbability,
		ErrorProbability:     DefaultErrorProbability,
	}
}

var errorTypes = []errinject.Technique{errinject.Single, errinject.Double, errinject.Odd, errinject.Burst}

// Transmit simulates f crossing the channel. The second return is false
// if the frame was lost outright; otherwise it returns f unmodified or
// with bit errors injected into its payload+FCS region.
func (c Channel) Transmit(f frame.DataFrame, rng *rand.Rand) (frame.DataFrame, bool) {
	if rng.Float64() < c.FrameLossProbability {
		metrics.IncFramesDroppedChannel()
		return frame.DataFrame{}, false
	}
	return c.introduceErrors(f, rng), true
}

// introduceErrors combines payload+FCS into one codeword, injects one of
// the four error techniques at random, then splits the result back into
// payload and FCS at the fixed 32-bit boundary from the end.
func (c Channel) introduceErrors(f frame.DataFrame, rng *rand.Rand) frame.DataFrame {
	if rng.Float64() >= c.ErrorProbability {
		return f
	}
	combined := f.Payload.Concat(f.FCS)
	errType := errorTypes[rng.Intn(len(errorTypes))]

	burstLength := 0
	if errType == errinject.Burst {
		maxBurst := combined.Len()
		burstLength = 1
		if maxBurst >= 2 {
			burstLength = 2 + rng.Intn(maxBurst-1)
		}
	}

	errored, err := errinject.InjectRandom(combined, errType, rng, burstLength)
	if err != nil {
		// Injection arguments are all internally derived and in range; a
		// failure here indicates a programming error, not bad input, so
		// deliver the frame unmodified rather than panic mid-transmission.
		return f
	}

	fcsStart := errored.Len() - 32
	out := f
	out.Payload = bitstring.New(errored.Bits()[:fcsStart])
	out.FCS = bitstring.New(errored.Bits()[fcsStart:])
	metrics.IncFramesCorrupted()
	return out
}
