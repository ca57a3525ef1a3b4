// Package selectiverepeat implements the Selective Repeat ARQ protocol:
// sender and receiver each keep a window of frames, missing frames are
// NACKed individually and resent without holding up the rest of the
// window, and the receiver buffers out-of-order arrivals until the gap
// is filled. Grounded on original_source/selective_repeat.py.
//
// The Python original gives every frame its own retransmission thread
// (send_frame, one per buffered sequence number) driving its own
// timeout loop. That shape is kept — each frame still gets its own
// independent timer, so a NACK for frame 3 doesn't disturb frame 5's
// countdown — but the per-frame OS thread is replaced by a per-frame
// time.AfterFunc callback dispatched onto the Go runtime's timer
// goroutine, consistent with the teacher's preference for callback-
// driven timers (internal/server.Server's context-based cancellation)
// over blocking per-unit worker threads.
//
// handle_ack's cumulative pop-everything-<=-acked behavior is kept as
// written rather than "fixed" to ack only the exact frame: spec.md §10
// records this as an accepted original behavior, not a flagged bug.
package selectiverepeat

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/bitstring"
	"github.com/kstaniek/linkarq/internal/delivery"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/metrics"
)

// Chunker serves one fixed-size bit-string chunk per call.
type Chunker interface {
	Chunk(index int) (bitstring.String, bool, error)
}

type pendingFrame struct {
	df    frame.DataFrame
	timer *time.Timer
}

// Sender implements the Selective Repeat send loop (spec.md §4.5.3).
type Sender struct {
	cfg arq.SenderConfig
	src Chunker
	w   io.Writer

	mu        sync.Mutex
	buffer    map[int]*pendingFrame
	nextSeq   int
	exhausted bool
}

// NewSender constructs a Sender. Window defaults to arq.DefaultWindowSize
// if cfg.Window is zero.
func NewSender(cfg arq.SenderConfig, src Chunker) *Sender {
	if cfg.Window <= 0 {
		cfg.Window = arq.DefaultWindowSize
	}
	return &Sender{cfg: cfg, src: src, buffer: make(map[int]*pendingFrame)}
}

// Run drives the sender to completion over port.
func (s *Sender) Run(port io.ReadWriter) error {
	s.w = port
	listener := arq.NewAckListener(port)
	defer listener.Stop()
	defer s.stopAllTimers()

	done := make(chan error, 1)
	go func() {
		for ack := range listener.Acks() {
			if missing, isNack := frame.IsNACKSeq(ack.Seq); isNack {
				metrics.IncNacksReceived()
				s.handleNack(int(missing))
			} else {
				metrics.IncAcksReceived()
				s.handleAck(int(ack.Seq))
			}
			if s.transferComplete() {
				done <- nil
				return
			}
		}
	}()

	if err := s.fillWindow(); err != nil {
		return err
	}
	if s.transferComplete() {
		return nil
	}

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return errors.New("selectiverepeat: sender stalled waiting for acks")
	}
}

func (s *Sender) fillWindow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buffer) < s.cfg.Window && !s.exhausted {
		bits, ok, err := s.src.Chunk(s.nextSeq)
		if err != nil {
			return fmt.Errorf("selectiverepeat: sender read chunk %d: %w", s.nextSeq, err)
		}
		if !ok {
			s.exhausted = true
			break
		}
		df := frame.DataFrame{
			Src: s.cfg.Src, Dst: s.cfg.Dst,
			Length: uint16(s.cfg.PayloadSize), Seq: uint8(s.nextSeq),
			Payload: bits, FCS: s.cfg.Codec.GenerateFCS(bits),
		}
		p := &pendingFrame{df: df}
		s.buffer[s.nextSeq] = p
		s.transmit(p, true)
		s.nextSeq++
	}
	return nil
}

// transmit sends p.df through the simulated channel and (re)arms its timer.
// Caller must hold s.mu.
func (s *Sender) transmit(p *pendingFrame, firstAttempt bool) {
	transmitted, delivered := s.cfg.Channel.Transmit(p.df, s.cfg.RNG)
	if delivered {
		encoded, err := transmitted.Encode()
		if err == nil {
			_, _ = s.w.Write(encoded)
			if firstAttempt {
				metrics.IncFramesSent()
			} else {
				metrics.IncFramesResent()
			}
		}
	}
	if firstAttempt {
		s.cfg.Log.Logf("%d. Sent", p.df.Seq)
	} else {
		s.cfg.Log.Logf("%d. Resent", p.df.Seq)
	}
	seq := int(p.df.Seq)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(s.cfg.Timeout, func() { s.onTimeout(seq) })
}

func (s *Sender) onTimeout(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.buffer[seq]
	if !ok {
		return // already acknowledged
	}
	metrics.IncTimeouts()
	s.transmit(p, false)
}

func (s *Sender) handleAck(ackSeq int) {
	s.mu.Lock()
	for seq, p := range s.buffer {
		if seq <= ackSeq {
			if p.timer != nil {
				p.timer.Stop()
			}
			delete(s.buffer, seq)
			s.cfg.Log.Logf("ACK received for frame %d, removing from buffer", seq)
		}
	}
	exhausted := s.exhausted
	s.mu.Unlock()
	if !exhausted {
		_ = s.fillWindow()
	}
}

func (s *Sender) handleNack(nackSeq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.buffer[nackSeq]
	if !ok {
		return
	}
	s.cfg.Log.Logf("NACK received for frame %d, resending", nackSeq)
	s.transmit(p, false)
}

func (s *Sender) stopAllTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.buffer {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
}

func (s *Sender) transferComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted && len(s.buffer) == 0
}

// Receiver implements the Selective Repeat receive loop (spec.md §4.6.3):
// out-of-order frames are buffered (not discarded) up to window slots
// ahead of the expected sequence number, with individual NACKs for gaps.
type Receiver struct {
	cfg      arq.ReceiverConfig
	queue    *delivery.Queue
	window   int
	expected int
	buffer   []*frame.DataFrame

	// PayloadBits is set from the most recently flushed frame's header
	// Length field, for callers validating delivered output afterward.
	PayloadBits int
}

// NewReceiver constructs a Receiver delivering accepted payloads onto
// queue. window defaults to arq.DefaultWindowSize if <= 0.
func NewReceiver(cfg arq.ReceiverConfig, queue *delivery.Queue, window int) *Receiver {
	if window <= 0 {
		window = arq.DefaultWindowSize
	}
	return &Receiver{cfg: cfg, queue: queue, window: window, buffer: make([]*frame.DataFrame, window)}
}

func (r *Receiver) Run(port io.ReadWriter) error {
	for {
		df, err := frame.DecodeDataFrame(port)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selectiverepeat: receiver decode: %w", err)
		}
		if df.Dst != r.cfg.Self {
			return fmt.Errorf("selectiverepeat: %w", frame.ErrAddress)
		}
		seq := int(df.Seq)

		switch {
		case seq == r.expected:
			if r.cfg.Codec.Validate(df.Payload, df.FCS) {
				if err := r.sendAck(port, df.Src, seq); err != nil {
					return err
				}
				frameCopy := df
				r.buffer[0] = &frameCopy
				if err := r.flush(); err != nil {
					return err
				}
			} else {
				metrics.IncFramesFCSInvalid()
				r.cfg.Log.Logf("Frame %d rejected (FCS error)", seq)
				if err := r.sendNack(port, df.Src, seq); err != nil {
					return err
				}
			}

		case seq > r.expected:
			for s := r.expected; s < seq; s++ {
				if err := r.sendNack(port, df.Src, s); err != nil {
					return err
				}
			}
			idx := (seq - r.expected) % r.window
			if r.buffer[idx] == nil {
				if r.cfg.Codec.Validate(df.Payload, df.FCS) {
					r.cfg.Log.Logf("Frame %d stored in buffer", seq)
					frameCopy := df
					r.buffer[idx] = &frameCopy
				} else {
					metrics.IncFramesFCSInvalid()
					r.cfg.Log.Logf("Frame %d rejected (FCS error)", seq)
					if err := r.sendNack(port, df.Src, seq); err != nil {
						return err
					}
				}
			}

		default:
			r.cfg.Log.Logf("Duplicate frame %d received", seq)
			if err := r.sendAck(port, df.Src, r.expected-1); err != nil {
				return err
			}
		}
	}
}

// flush delivers consecutive in-order frames starting at buffer[0],
// shifting the window forward one slot per delivered frame.
func (r *Receiver) flush() error {
	for r.buffer[0] != nil {
		df := r.buffer[0]
		copy(r.buffer, r.buffer[1:])
		r.buffer[len(r.buffer)-1] = nil
		r.queue.Deliver(delivery.Payload{Seq: r.expected, Bits: df.Payload.Bits()})
		r.PayloadBits = int(df.Length) * 8
		r.cfg.Log.Logf("Flushed frame %d to output", r.expected)
		r.expected++
	}
	return nil
}

func (r *Receiver) sendAck(port io.Writer, dst frame.Address, seq int) error {
	ack := frame.AckFrame{Src: r.cfg.Self, Dst: dst, Seq: int8(seq)}
	if _, err := port.Write(ack.Encode()); err != nil {
		return fmt.Errorf("selectiverepeat: write ack: %w", err)
	}
	metrics.IncAcksSent()
	return nil
}

func (r *Receiver) sendNack(port io.Writer, dst frame.Address, seq int) error {
	ack := frame.AckFrame{Src: r.cfg.Self, Dst: dst, Seq: frame.EncodeNACKSeq(uint8(seq))}
	if _, err := port.Write(ack.Encode()); err != nil {
		return fmt.Errorf("selectiverepeat: write nack: %w", err)
	}
	metrics.IncNacksSent()
	return nil
}
