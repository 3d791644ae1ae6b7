package pipeline

import (
	"errors"

	"candlefeed-go/internal/merge"
	"candlefeed-go/internal/reconcile"
)

// ErrFeedEnded is returned when the live stream stops without a cause.
var ErrFeedEnded = errors.New("live trade stream ended")

// IsFatal reports whether err invalidates the product's candle data. Fatal
// pipelines stay down until restarted.
func IsFatal(err error) bool {
	return Kind(err) != "other"
}

// Kind classifies err for logging and metrics.
func Kind(err error) string {
	var (
		broken  *merge.ContinuityBrokenError
		lag     *merge.HistoryLagError
		timeout *reconcile.SyncTimeoutError
	)
	switch {
	case errors.As(err, &broken):
		return "continuity"
	case errors.As(err, &lag):
		return "history_lag"
	case errors.As(err, &timeout):
		return "sync_timeout"
	default:
		return "other"
	}
}
