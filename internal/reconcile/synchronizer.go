// Package reconcile aligns the locally built candle history with the
// exchange's REST candles.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"candlefeed-go/internal/exchange"
	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
	"candlefeed-go/internal/util"
)

// CandleSource returns minute candles for a product in any order.
type CandleSource interface {
	Candles(ctx context.Context, productID string, q exchange.CandleQuery) ([]market.Candle, error)
}

// Config tunes the bootstrap poll.
type Config struct {
	RetryInterval time.Duration
	MaxAttempts   int
}

// SyncTimeoutError means REST candles never caught up with the local last
// closed minute within the attempt budget.
type SyncTimeoutError struct {
	ProductID    string
	Attempts     int
	LocalBucket  int64
	HasLocal     bool
	RemoteBucket int64
	Err          error
}

func (e *SyncTimeoutError) Error() string {
	local := "none"
	if e.HasLocal {
		local = fmt.Sprint(e.LocalBucket)
	}
	msg := fmt.Sprintf("candle sync for %s timed out after %d attempts (local %s, remote %d)",
		e.ProductID, e.Attempts, local, e.RemoteBucket)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncTimeoutError) Unwrap() error { return e.Err }

// Synchronizer polls REST candles for one product.
type Synchronizer struct {
	productID string
	source    CandleSource
	cfg       Config
	log       zerolog.Logger
}

func NewSynchronizer(productID string, source CandleSource, cfg Config, log zerolog.Logger) *Synchronizer {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 350 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 200
	}
	return &Synchronizer{
		productID: productID,
		source:    source,
		cfg:       cfg,
		log:       util.ForProduct(log, productID, "sync"),
	}
}

// Bootstrap polls until the newest closed REST candle matches the bucket
// reported by lastClosed, then returns the closed REST candles oldest first.
// The newest REST candle is still forming and is never compared or returned.
func (s *Synchronizer) Bootstrap(ctx context.Context, lastClosed func() (int64, bool)) ([]market.Candle, error) {
	var (
		lastErr error
		remote  int64
		local   int64
		hasLoc  bool
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		metrics.SyncAttemptsTotal.WithLabelValues(s.productID).Inc()
		candles, err := s.source.Candles(ctx, s.productID, exchange.CandleQuery{Granularity: exchange.GranularityMinute})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("candle poll failed")
		} else {
			lastErr = nil
			closed := closedDescending(candles)
			local, hasLoc = lastClosed()
			if len(closed) > 0 {
				remote = closed[0].Bucket
				if hasLoc && remote == local {
					seed := reverse(closed)
					s.log.Info().
						Int("attempt", attempt).
						Int("candles", len(seed)).
						Int64("bucket", remote).
						Msg("candle history synchronized")
					return seed, nil
				}
			}
			s.log.Debug().
				Int("attempt", attempt).
				Int64("remote", remote).
				Int64("local", local).
				Bool("has_local", hasLoc).
				Msg("rest candles not caught up")
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.RetryInterval):
		}
	}
	return nil, &SyncTimeoutError{
		ProductID:    s.productID,
		Attempts:     s.cfg.MaxAttempts,
		LocalBucket:  local,
		HasLocal:     hasLoc,
		RemoteBucket: remote,
		Err:          lastErr,
	}
}

// closedDescending sorts newest first and drops the still-forming newest candle.
func closedDescending(candles []market.Candle) []market.Candle {
	if len(candles) < 2 {
		return nil
	}
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bucket > sorted[j].Bucket })
	return sorted[1:]
}

func reverse(candles []market.Candle) []market.Candle {
	out := make([]market.Candle, len(candles))
	for i, c := range candles {
		out[len(candles)-1-i] = c
	}
	return out
}
