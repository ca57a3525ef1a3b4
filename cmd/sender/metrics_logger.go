package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/linkarq/internal/metrics"
)

// startMetricsLogger periodically logs a metrics snapshot for operators
// not scraping Prometheus, mirroring the teacher's metrics_logger.go.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_sent", snap.Sent,
					"frames_resent", snap.Resent,
					"acks_received", snap.AcksRecv,
					"nacks_received", snap.NacksRecv,
					"timeouts", snap.Timeouts,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
