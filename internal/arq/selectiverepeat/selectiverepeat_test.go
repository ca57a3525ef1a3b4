package selectiverepeat

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

type fixedChunker struct{ chunks []string }

func (f fixedChunker) Chunk(index int) (bitstring.String, bool, error) {
	if index >= len(f.chunks) {
		return bitstring.String{}, false, nil
	}
	return bitstring.New(f.chunks[index]), true, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newSessionLog() *arq.SessionLog { return arq.NewSessionLog(discardWriter{}) }

func runPair(t *testing.T, chunks []string, ch channel.Channel, window int, timeout time.Duration) []string {
	t.Helper()
	a, b := transport.Pipe()
	defer a.Close()
	defer b.Close()

	src := fixedChunker{chunks: chunks}
	codec := fcs.CRC32{}
	cfg := arq.SenderConfig{
		Src:         frame.Address{1},
		Dst:         frame.Address{2},
		PayloadSize: 1,
		Codec:       codec,
		Channel:     ch,
		RNG:         rand.New(rand.NewSource(42)),
		Window:      window,
		Timeout:     timeout,
		Log:         newSessionLog(),
	}
	sender := NewSender(cfg, src)

	queue := delivery.New(16, delivery.PolicyDrop)
	recvCfg := arq.ReceiverConfig{Self: frame.Address{2}, Codec: codec, Log: newSessionLog()}
	receiver := NewReceiver(recvCfg, queue, window)

	var wg sync.WaitGroup
	wg.Add(2)
	senderErr := make(chan error, 1)

	go func() {
		defer wg.Done()
		senderErr <- sender.Run(a)
		a.Close()
	}()
	go func() {
		defer wg.Done()
		_ = receiver.Run(b)
	}()

	var got []string
	done := make(chan struct{})
	go func() {
		for p := range queue.Out() {
			got = append(got, p.Bits)
			if len(got) == len(chunks) {
				close(done)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for all frames to be delivered")
	}
	wg.Wait()

	if err := <-senderErr; err != nil {
		t.Fatalf("sender error: %v", err)
	}
	return got
}

func TestSelectiveRepeatDeliversAllFramesInOrder(t *testing.T) {
	chunks := []string{"11001100", "10101010", "00001111", "11110000", "01010101", "00110011"}
	got := runPair(t, chunks, channel.Channel{FrameLossProbability: 0, ErrorProbability: 0}, 3, 200*time.Millisecond)
	if len(got) != len(chunks) {
		t.Fatalf("got %d frames, want %d", len(got), len(chunks))
	}
	for i, want := range chunks {
		if got[i] != want {
			t.Fatalf("frame %d: got %q want %q", i, got[i], want)
		}
	}
}

func TestSelectiveRepeatRecoversFromLossWithNacks(t *testing.T) {
	chunks := []string{"11001100", "10101010", "00001111", "11110000"}
	ch := channel.Channel{FrameLossProbability: 0.3, ErrorProbability: 0}
	got := runPair(t, chunks, ch, 2, 50*time.Millisecond)
	if len(got) != len(chunks) {
		t.Fatalf("got %d frames, want %d", len(got), len(chunks))
	}
	for i, want := range chunks {
		if got[i] != want {
			t.Fatalf("frame %d: got %q want %q", i, got[i], want)
		}
	}
}
