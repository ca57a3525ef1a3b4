// Command sender drives one of the three ARQ protocols (spec.md §4.5)
// end to end: read an input file, chunk it, transmit through a simulated
// lossy channel, and retransmit per protocol until every chunk is
// acknowledged. Grounded on the teacher's cmd/can-server wiring and on
// the Python originals' top-level "Sender(...).send_data()" entry points.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/arq/gobackn"
	"github.com/kstaniek/linkarq/internal/arq/selectiverepeat"
	"github.com/kstaniek/linkarq/internal/arq/stopwait"
	"github.com/kstaniek/linkarq/internal/channel"
	"github.com/kstaniek/linkarq/internal/fcs"
	"github.com/kstaniek/linkarq/internal/frame"
	"github.com/kstaniek/linkarq/internal/metrics"
	"github.com/kstaniek/linkarq/internal/protocolset"
	serialport "github.com/kstaniek/linkarq/internal/serial"
	"github.com/kstaniek/linkarq/internal/source"
	"github.com/kstaniek/linkarq/internal/transport"
)

func main() {
	cfg, showVersion, err := parseFlags()
	if showVersion {
		fmt.Printf("sender %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
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

	src, err := source.NewFileBitSource(cfg.filePath, cfg.packetSize)
	if err != nil {
		l.Error("source_error", "error", err)
		metrics.IncError(metrics.ErrSourceRead)
		os.Exit(1)
	}

	srcAddr, err := frame.ParseHexAddress(cfg.srcAddr)
	if err != nil {
		l.Error("config_error", "error", err)
		os.Exit(2)
	}
	dstAddr, err := frame.ParseHexAddress(cfg.dstAddr)
	if err != nil {
		l.Error("config_error", "error", err)
		os.Exit(2)
	}

	port, cleanup, err := openTransport(cfg)
	if err != nil {
		l.Error("transport_error", "error", err)
		metrics.IncError(metrics.ErrTransportWrite)
		os.Exit(1)
	}
	defer cleanup()

	logFile, err := os.Create(cfg.sessionLog)
	if err != nil {
		l.Error("log_file_error", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	senderCfg := arq.SenderConfig{
		Src:         srcAddr,
		Dst:         dstAddr,
		PayloadSize: cfg.packetSize,
		Codec:       codec,
		Channel:     channel.Channel{FrameLossProbability: cfg.lossProb, ErrorProbability: cfg.errorProb},
		RNG:         rand.New(rand.NewSource(cfg.seed)),
		Window:      cfg.window,
		Timeout:     cfg.timeout,
		Log:         arq.NewSessionLog(logFile),
	}

	l.Info("transfer_start", "protocol", cfg.protocol.String(), "file", cfg.filePath, "packet_size", cfg.packetSize, "technique", cfg.technique)
	start := time.Now()

	var runErr error
	switch cfg.protocol {
	case protocolset.StopAndWait:
		runErr = stopwait.NewSender(senderCfg, src).Run(port)
	case protocolset.GoBackN:
		runErr = gobackn.NewSender(senderCfg, src).Run(port)
	case protocolset.SelectiveRepeat:
		runErr = selectiverepeat.NewSender(senderCfg, src).Run(port)
	default:
		runErr = fmt.Errorf("sender: unhandled protocol %v", cfg.protocol)
	}

	snap := metrics.Snap()
	if runErr != nil {
		l.Error("transfer_error", "error", runErr, "elapsed", time.Since(start),
			"frames_sent", snap.Sent, "frames_resent", snap.Resent, "acks_received", snap.AcksRecv)
		os.Exit(1)
	}
	l.Info("transfer_complete", "elapsed", time.Since(start),
		"frames_sent", snap.Sent, "frames_resent", snap.Resent, "acks_received", snap.AcksRecv, "timeouts", snap.Timeouts)
}

// openTransport dials the receiver over TCP or opens a serial line,
// returning a transport.Port and a cleanup func to close it.
func openTransport(cfg *appConfig) (transport.Port, func(), error) {
	switch cfg.transport {
	case "serial":
		p, err := serialport.Open(cfg.serialDevice, cfg.serialBaud, 0)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open serial %s: %w", cfg.serialDevice, err)
		}
		return p, func() { _ = p.Close() }, nil
	default:
		conn, err := net.Dial("tcp", cfg.peerAddr)
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial %s: %w", cfg.peerAddr, err)
		}
		return conn, func() { _ = conn.Close() }, nil
	}
}
