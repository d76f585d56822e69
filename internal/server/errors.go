package server

import (
	"errors"

	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrEncode    = errors.New("encode")
	ErrCommand   = errors.New("command")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrCommand):
		return metrics.ErrFeedRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrFeedWrite
	case errors.Is(err, ErrEncode):
		return metrics.ErrFeedEncode
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrFeedAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
