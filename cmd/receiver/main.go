// Command receiver hosts one ARQ protocol's receive side (spec.md §4.6):
// accept a connection, decode and validate Data Frames, ACK/NACK per
// protocol, hand reassembled payloads to an output file, and validate
// that file against the original input once the transfer ends.
// Grounded on the teacher's cmd/can-server wiring (internal/server.Server,
// signal-driven graceful shutdown) and the Python originals' top-level
// "Receiver(...).receive_data()" entry points.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/arq/gobackn"
	"github.com/kstaniek/linkarq/internal/arq/selectiverepeat"
	"github.com/kstaniek/linkarq/internal/arq/stopwait"
	"github.com/kstaniek/linkarq/internal/bitstring"
	"github.com/kstaniek/linkarq/internal/delivery"
	"github.com/kstaniek/linkarq/internal/fcs"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/metrics"
	"github.com/kstaniek/linkarq/internal/protocolset"
	serialport "github.com/kstaniek/linkarq/internal/serial"
	"github.com/kstaniek/linkarq/internal/server"
	"github.com/kstaniek/linkarq/internal/source"
)

func main() {
	cfg, showVersion, err := parseFlags()
	if showVersion {
		fmt.Printf("receiver %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer stop()
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metrics.SetReadinessFunc(func() bool { return true })
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	codec, ok := fcs.ByName(cfg.technique)
	if !ok {
		l.Error("config_error", "error", fmt.Sprintf("unknown technique %q", cfg.technique))
		os.Exit(2)
	}
	selfAddr, err := frame.ParseHexAddress(cfg.selfAddr)
	if err != nil {
		l.Error("config_error", "error", err)
		os.Exit(2)
	}

	logFile, err := os.Create(cfg.sessionLog)
	if err != nil {
		l.Error("log_file_error", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	sessionErr := make(chan error, 1)
	handle := func(ctx context.Context, rw io.ReadWriter, remote string) error {
		err := runSession(cfg, codec, selfAddr, arq.NewSessionLog(logFile), l.With("remote", remote), rw)
		select {
		case sessionErr <- err:
		default:
		}
		return err
	}

	var runErr error
	switch cfg.transport {
	case "serial":
		port, serr := serialport.Open(cfg.serialDevice, cfg.serialBaud, 0)
		if serr != nil {
			l.Error("transport_error", "error", serr)
			os.Exit(1)
		}
		defer port.Close()
		l.Info("serial_open", "device", cfg.serialDevice, "baud", cfg.serialBaud)
		runErr = handle(ctx, port, cfg.serialDevice)
	default:
		srv := server.NewServer(
			server.WithListenAddr(cfg.listenAddr),
			server.WithLogger(l),
			server.WithMaxSessions(1),
			server.WithSession(func(ctx context.Context, conn net.Conn) error {
				return handle(ctx, conn, conn.RemoteAddr().String())
			}),
		)
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ctx) }()

		select {
		case <-srv.Ready():
			l.Info("listening", "addr", srv.Addr())
		case err := <-serveErr:
			l.Error("listen_error", "error", err)
			os.Exit(1)
		}

		select {
		case runErr = <-sessionErr:
		case <-ctx.Done():
			l.Info("shutdown_signal")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("shutdown_error", "error", err)
		}
		cancelShutdown()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		l.Error("transfer_error", "error", runErr)
		os.Exit(1)
	}
	l.Info("transfer_complete")
}

// runSession drives one full receive over rw: builds the delivery queue
// and output sink, dispatches to the selected protocol's Receiver, drains
// delivered payloads to the output file, and validates it against the
// original input once the protocol loop returns.
func runSession(cfg *appConfig, codec fcs.Codec, self frame.Address, sessionLog *arq.SessionLog, l *slog.Logger, rw io.ReadWriter) error {
	outFile, err := os.Create(cfg.outputPath)
	if err != nil {
		return fmt.Errorf("create output %s: %w", cfg.outputPath, err)
	}
	defer outFile.Close()
	sink := source.NewLineSink(outFile)

	policy := delivery.PolicyDrop
	if cfg.deliveryPolicy == "kick" {
		policy = delivery.PolicyKick
	}
	queue := delivery.New(cfg.deliveryBuffer, policy)

	drainDone := make(chan struct{})
	var drainErr error
	go func() {
		defer close(drainDone)
		for p := range queue.Out() {
			bits, perr := bitstring.Parse(p.Bits)
			if perr != nil {
				drainErr = perr
				metrics.IncError(metrics.ErrSinkWrite)
				continue
			}
			if werr := sink.Write(p.Seq, bits); werr != nil {
				drainErr = werr
				metrics.IncError(metrics.ErrSinkWrite)
			}
		}
	}()

	rcfg := arq.ReceiverConfig{Self: self, Codec: codec, Log: sessionLog}
	var payloadBits int
	var runErr error

	l.Info("session_start", "protocol", cfg.protocol.String(), "technique", cfg.technique)
	switch cfg.protocol {
	case protocolset.StopAndWait:
		recv := stopwait.NewReceiver(rcfg, queue)
		runErr = recv.Run(rw)
		payloadBits = recv.PayloadBits
	case protocolset.GoBackN:
		recv := gobackn.NewReceiver(rcfg, queue)
		runErr = recv.Run(rw)
		payloadBits = recv.PayloadBits
	case protocolset.SelectiveRepeat:
		recv := selectiverepeat.NewReceiver(rcfg, queue, cfg.window)
		runErr = recv.Run(rw)
		payloadBits = recv.PayloadBits
	default:
		runErr = fmt.Errorf("receiver: unhandled protocol %v", cfg.protocol)
	}

	queue.Close()
	<-drainDone

	if runErr != nil {
		return fmt.Errorf("receiver run: %w", runErr)
	}
	if drainErr != nil {
		return fmt.Errorf("receiver drain: %w", drainErr)
	}

	if cfg.validateOnClose && payloadBits > 0 {
		if err := source.Validate(cfg.inputPath, cfg.outputPath, payloadBits, sink.Lines()); err != nil {
			return fmt.Errorf("receiver validate: %w", err)
		}
		l.Info("validate_complete", "lines", len(sink.Lines()))
	}
	return nil
}
