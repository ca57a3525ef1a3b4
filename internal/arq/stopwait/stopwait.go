// Package stopwait implements the Stop-and-Wait ARQ protocol: the sender
// transmits one frame and blocks (up to a timeout) for its ACK before
// sending the next. Grounded on original_source/stop_and_wait.py.
package stopwait

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/bitstring"
	"github.com/kstaniek/linkarq/internal/delivery"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/metrics"
)

// Chunker serves one fixed-size bit-string chunk per call, ok=false at
// end of input (see internal/source.FileBitSource).
type Chunker interface {
	Chunk(index int) (bitstring.String, bool, error)
}

// Sender implements the Stop-and-Wait send loop (spec.md §4.5.1).
type Sender struct {
	cfg arq.SenderConfig
	src Chunker
}

// NewSender constructs a Sender. src is typically *source.FileBitSource.
func NewSender(cfg arq.SenderConfig, src Chunker) *Sender {
	return &Sender{cfg: cfg, src: src}
}

// Run drives the sender to completion: reads chunks from src in order,
// sending each through the simulated channel and retransmitting on
// timeout until an ACK arrives, until src is exhausted.
func (s *Sender) Run(port io.ReadWriter) error {
	listener := arq.NewAckListener(port)
	defer listener.Stop()

	index := 0
	for {
		bits, ok, err := s.src.Chunk(index)
		if err != nil {
			return fmt.Errorf("stopwait: sender read chunk %d: %w", index, err)
		}
		if !ok {
			return nil
		}
		df := s.buildFrame(index, bits)
		if err := s.sendUntilAcked(port, listener, df); err != nil {
			return err
		}
		index++
	}
}

func (s *Sender) buildFrame(index int, payload bitstring.String) frame.DataFrame {
	return frame.DataFrame{
		Src:     s.cfg.Src,
		Dst:     s.cfg.Dst,
		Length:  uint16(s.cfg.PayloadSize),
		Seq:     uint8(index),
		Payload: payload,
		FCS:     s.cfg.Codec.GenerateFCS(payload),
	}
}

func (s *Sender) sendUntilAcked(port io.Writer, listener *arq.AckListener, df frame.DataFrame) error {
	first := true
	for {
		transmitted, delivered := s.cfg.Channel.Transmit(df, s.cfg.RNG)
		if delivered {
			encoded, err := transmitted.Encode()
			if err != nil {
				return fmt.Errorf("stopwait: encode frame %d: %w", df.Seq, err)
			}
			if _, err := port.Write(encoded); err != nil {
				return fmt.Errorf("stopwait: write frame %d: %w", df.Seq, err)
			}
			if first {
				metrics.IncFramesSent()
			} else {
				metrics.IncFramesResent()
			}
		}
		if first {
			s.cfg.Log.Logf("%d. Sent", df.Seq)
			first = false
		} else {
			s.cfg.Log.Logf("%d. Resent", df.Seq)
		}

		select {
		case _, ok := <-listener.Acks():
			if !ok {
				return fmt.Errorf("stopwait: ack listener closed: %w", listener.Err())
			}
			metrics.IncAcksReceived()
			s.cfg.Log.Logf("ACK received for frame %d", df.Seq)
			return nil
		case <-time.After(s.cfg.Timeout):
			metrics.IncTimeouts()
		}
	}
}

// Receiver implements the Stop-and-Wait receive loop (spec.md §4.6.1):
// every valid frame is ACKed with seq fixed at 0 (the Python original
// never varies the ACK's seq field for this protocol).
type Receiver struct {
	cfg   arq.ReceiverConfig
	queue *delivery.Queue
	index int

	// PayloadBits is set from the most recently accepted frame's header
	// Length field, for callers validating delivered output afterward.
	PayloadBits int
}

// NewReceiver constructs a Receiver delivering accepted payloads onto queue.
// index starts at 0: delivered sequence numbers must be 0, 1, 2, … in
// strictly ascending order (spec.md §4.2/§10), unlike the Python
// original's self.index = 1, which this port does not carry forward.
func NewReceiver(cfg arq.ReceiverConfig, queue *delivery.Queue) *Receiver {
	return &Receiver{cfg: cfg, queue: queue, index: 0}
}

// Run decodes frames from port until the connection closes or a protocol
// violation occurs.
func (r *Receiver) Run(port io.ReadWriter) error {
	for {
		df, err := frame.DecodeDataFrame(port)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stopwait: receiver decode: %w", err)
		}
		if df.Dst != r.cfg.Self {
			return fmt.Errorf("stopwait: %w", frame.ErrAddress)
		}
		if !r.cfg.Codec.Validate(df.Payload, df.FCS) {
			metrics.IncFramesFCSInvalid()
			r.cfg.Log.Logf("%d. rejected", r.index)
			continue
		}
		r.cfg.Log.Logf("%d. accepted", r.index)
		r.PayloadBits = int(df.Length) * 8
		ack := frame.AckFrame{Src: r.cfg.Self, Dst: df.Src, Seq: 0}
		if _, err := port.Write(ack.Encode()); err != nil {
			return fmt.Errorf("stopwait: write ack: %w", err)
		}
		metrics.IncAcksSent()
		r.queue.Deliver(delivery.Payload{Seq: r.index, Bits: df.Payload.Bits()})
		r.index++
	}
}
