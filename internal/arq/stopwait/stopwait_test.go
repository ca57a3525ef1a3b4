package stopwait

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/bitstring"
	"github.com/kstaniek/linkarq/internal/channel"
	"github.com/kstaniek/linkarq/internal/delivery"
	"github.com/kstaniek/linkarq/internal/fcs"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/transport"
)

// fixedChunker serves a fixed slice of chunks then signals end of input.
type fixedChunker struct{ chunks []string }

func (f fixedChunker) Chunk(index int) (bitstring.String, bool, error) {
	if index >= len(f.chunks) {
		return bitstring.String{}, false, nil
	}
	return bitstring.New(f.chunks[index]), true, nil
}

type discardLog struct{}

func (discardLog) Logf(string, ...any) {}

func newSessionLog() *arq.SessionLog {
	return arq.NewSessionLog(discardWriter{})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestStopAndWaitDeliversAllFramesInOrder(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()
	defer b.Close()

	src := fixedChunker{chunks: []string{"11001100", "10101010", "00001111"}}
	codec := fcs.CRC32{}
	cfg := arq.SenderConfig{
		Src:         frame.Address{1},
		Dst:         frame.Address{2},
		PayloadSize: 1,
		Codec:       codec,
		Channel:     channel.Channel{FrameLossProbability: 0, ErrorProbability: 0},
		RNG:         rand.New(rand.NewSource(1)),
		Timeout:     200 * time.Millisecond,
		Log:         newSessionLog(),
	}
	sender := NewSender(cfg, src)

	queue := delivery.New(8, delivery.PolicyDrop)
	recvCfg := arq.ReceiverConfig{Self: frame.Address{2}, Codec: codec, Log: newSessionLog()}
	receiver := NewReceiver(recvCfg, queue)

	var wg sync.WaitGroup
	wg.Add(2)
	senderErr := make(chan error, 1)
	receiverErr := make(chan error, 1)

	go func() {
		defer wg.Done()
		senderErr <- sender.Run(a)
		a.Close()
	}()
	go func() {
		defer wg.Done()
		receiverErr <- receiver.Run(b)
	}()

	var got []delivery.Payload
	done := make(chan struct{})
	go func() {
		for p := range queue.Out() {
			got = append(got, p)
			if len(got) == len(src.chunks) {
				close(done)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for all frames to be delivered")
	}
	wg.Wait()

	if err := <-senderErr; err != nil {
		t.Fatalf("sender error: %v", err)
	}
	for i, want := range src.chunks {
		if got[i].Bits != want {
			t.Fatalf("frame %d: got %q want %q", i, got[i].Bits, want)
		}
		// spec.md: delivered sequence numbers are 0, 1, 2, … in strictly
		// ascending order, not the Python original's 1-based self.index.
		if got[i].Seq != i {
			t.Fatalf("frame %d: got seq %d want %d", i, got[i].Seq, i)
		}
	}
}
