package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/linkarq/internal/arq"
	"github.com/kstaniek/linkarq/internal/channel"
	"github.com/kstaniek/linkarq/internal/protocolset"
)

// appConfig holds the parsed sender configuration: the positional
// protocol/file/packet-size/technique quartet from spec.md §6 plus
// teacher-style transport, window, timeout, and channel flags.
type appConfig struct {
	protocol   protocolset.Protocol
	filePath   string
	packetSize int
	technique  string

	transport    string
	peerAddr     string
	serialDevice string
	serialBaud   int

	srcAddr string
	dstAddr string

	window    int
	timeout   time.Duration
	lossProb  float64
	errorProb float64
	seed      int64

	logFormat       string
	logLevel        string
	metricsAddr     string
	sessionLog      string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool, error) {
	cfg := &appConfig{}
	transport := flag.String("transport", "tcp", "Transport: tcp|serial")
	peer := flag.String("peer", "localhost:12345", "Receiver address (tcp transport)")
	serialDevice := flag.String("serial-device", "/dev/ttyUSB0", "Serial device path (serial transport)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate (serial transport)")
	srcAddr := flag.String("src", "01:00:00:00:00:01", "Source address (colon-hex, 6 octets)")
	dstAddr := flag.String("dst", "01:00:00:00:00:02", "Destination address (colon-hex, 6 octets)")
	window := flag.Int("window", arq.DefaultWindowSize, "Sliding window size (Go-Back-N, Selective Repeat)")
	timeout := flag.Duration("timeout", arq.DefaultTimeout, "Retransmit timeout")
	lossProb := flag.Float64("loss-prob", channel.DefaultFrameLossProbability, "Simulated channel frame-loss probability [0,1]")
	errorProb := flag.Float64("error-prob", channel.DefaultErrorProbability, "Simulated channel bit-error probability [0,1]")
	seed := flag.Int64("seed", 1, "Channel/error-injection RNG seed")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	sessionLog := flag.String("log-file", "log.txt", "Per-session action log path")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		return nil, true, nil
	}

	args := flag.Args()
	if len(args) != 4 {
		return nil, false, fmt.Errorf("usage: sender <protocol> <file_path> <packet_size_bytes> <technique> [flags]")
	}
	proto, err := protocolset.Parse(args[0])
	if err != nil {
		return nil, false, err
	}
	packetSize, err := strconv.Atoi(args[2])
	if err != nil || packetSize <= 0 {
		return nil, false, fmt.Errorf("packet_size_bytes must be a positive integer, got %q", args[2])
	}

	cfg.protocol = proto
	cfg.filePath = args[1]
	cfg.packetSize = packetSize
	cfg.technique = args[3]
	cfg.transport = *transport
	cfg.peerAddr = *peer
	cfg.serialDevice = *serialDevice
	cfg.serialBaud = *serialBaud
	cfg.srcAddr = *srcAddr
	cfg.dstAddr = *dstAddr
	cfg.window = *window
	cfg.timeout = *timeout
	cfg.lossProb = *lossProb
	cfg.errorProb = *errorProb
	cfg.seed = *seed
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.sessionLog = *sessionLog
	cfg.logMetricsEvery = *logMetricsEvery

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, err
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.transport {
	case "tcp", "serial":
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.window <= 0 {
		return fmt.Errorf("window must be > 0 (got %d)", c.window)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.lossProb < 0 || c.lossProb > 1 {
		return fmt.Errorf("loss-prob must be in [0,1] (got %f)", c.lossProb)
	}
	if c.errorProb < 0 || c.errorProb > 1 {
		return fmt.Errorf("error-prob must be in [0,1] (got %f)", c.errorProb)
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	return nil
}

// applyEnvOverrides maps ARQ_SENDER_* environment variables onto cfg,
// skipping any field whose flag was explicitly set (flag wins), mirroring
// the teacher's CAN_SERVER_* precedence rule.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["peer"]; !ok {
		if v, ok := get("ARQ_SENDER_PEER"); ok && v != "" {
			c.peerAddr = v
		}
	}
	if _, ok := set["transport"]; !ok {
		if v, ok := get("ARQ_SENDER_TRANSPORT"); ok && v != "" {
			c.transport = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ARQ_SENDER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ARQ_SENDER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ARQ_SENDER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["window"]; !ok {
		if v, ok := get("ARQ_SENDER_WINDOW"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.window = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_SENDER_WINDOW: %w", err)
			}
		}
	}
	if _, ok := set["timeout"]; !ok {
		if v, ok := get("ARQ_SENDER_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.timeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_SENDER_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["loss-prob"]; !ok {
		if v, ok := get("ARQ_SENDER_LOSS_PROB"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.lossProb = f
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_SENDER_LOSS_PROB: %w", err)
			}
		}
	}
	if _, ok := set["error-prob"]; !ok {
		if v, ok := get("ARQ_SENDER_ERROR_PROB"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.errorProb = f
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_SENDER_ERROR_PROB: %w", err)
			}
		}
	}
	return firstErr
}
