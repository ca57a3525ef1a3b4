package server

import (
	"errors"

	"github.com/kstaniek/linkarq/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen  = errors.New("listen")
	ErrAccept  = errors.New("accept")
	ErrSession = errors.New("session")
	ErrContext = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen), errors.Is(err, ErrSession):
		return metrics.ErrTransportRead
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
