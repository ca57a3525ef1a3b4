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
	"github.com/kstaniek/linkarq/internal/protocolset"
)

// appConfig holds the parsed receiver configuration: the positional
// protocol/technique pair from spec.md §6 plus teacher-style transport,
// delivery, and output flags.
type appConfig struct {
	protocol  protocolset.Protocol
	technique string

	transport    string
	listenAddr   string
	serialDevice string
	serialBaud   int

	selfAddr string

	window          int
	deliveryBuffer  int
	deliveryPolicy  string
	inputPath       string
	outputPath      string
	validateOnClose bool

	logFormat       string
	logLevel        string
	metricsAddr     string
	sessionLog      string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool, error) {
	cfg := &appConfig{}
	transport := flag.String("transport", "tcp", "Transport: tcp|serial")
	listen := flag.String("listen", "localhost:12345", "TCP listen address (tcp transport)")
	serialDevice := flag.String("serial-device", "/dev/ttyUSB0", "Serial device path (serial transport)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate (serial transport)")
	selfAddr := flag.String("self", "01:00:00:00:00:02", "This receiver's address (colon-hex, 6 octets)")
	window := flag.Int("window", arq.DefaultWindowSize, "Reorder buffer size (Selective Repeat)")
	deliveryBuffer := flag.Int("delivery-buffer", 512, "Delivered-payload queue buffer size")
	deliveryPolicy := flag.String("delivery-policy", "drop", "Backpressure policy when the delivery queue is full: drop|kick")
	inputPath := flag.String("input", "input.txt", "Original input file, used to validate the delivered output")
	outputPath := flag.String("output", "output.txt", "Output file receiving delivered payload lines")
	validateOnClose := flag.Bool("validate", true, "Validate output against input once the session ends")
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
	if len(args) != 2 {
		return nil, false, fmt.Errorf("usage: receiver <protocol> <technique> [flags]")
	}
	proto, err := protocolset.Parse(args[0])
	if err != nil {
		return nil, false, err
	}

	cfg.protocol = proto
	cfg.technique = args[1]
	cfg.transport = *transport
	cfg.listenAddr = *listen
	cfg.serialDevice = *serialDevice
	cfg.serialBaud = *serialBaud
	cfg.selfAddr = *selfAddr
	cfg.window = *window
	cfg.deliveryBuffer = *deliveryBuffer
	cfg.deliveryPolicy = *deliveryPolicy
	cfg.inputPath = *inputPath
	cfg.outputPath = *outputPath
	cfg.validateOnClose = *validateOnClose
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
	switch c.deliveryPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid delivery-policy: %s", c.deliveryPolicy)
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
	if c.deliveryBuffer <= 0 {
		return fmt.Errorf("delivery-buffer must be > 0 (got %d)", c.deliveryBuffer)
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	return nil
}

// applyEnvOverrides maps ARQ_RECEIVER_* environment variables onto cfg,
// skipping any field whose flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["listen"]; !ok {
		if v, ok := get("ARQ_RECEIVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["transport"]; !ok {
		if v, ok := get("ARQ_RECEIVER_TRANSPORT"); ok && v != "" {
			c.transport = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ARQ_RECEIVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ARQ_RECEIVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ARQ_RECEIVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["delivery-buffer"]; !ok {
		if v, ok := get("ARQ_RECEIVER_DELIVERY_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.deliveryBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_RECEIVER_DELIVERY_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["delivery-policy"]; !ok {
		if v, ok := get("ARQ_RECEIVER_DELIVERY_POLICY"); ok && v != "" {
			c.deliveryPolicy = v
		}
	}
	if _, ok := set["window"]; !ok {
		if v, ok := get("ARQ_RECEIVER_WINDOW"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.window = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ARQ_RECEIVER_WINDOW: %w", err)
			}
		}
	}
	return firstErr
}
