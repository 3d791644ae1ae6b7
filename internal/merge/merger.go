// Package merge joins a REST trade window with a live trade stream into one
// gap-free sequence keyed by trade ID.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"candlefeed-go/internal/exchange"
	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
	"candlefeed-go/internal/util"
)

// TradeSource returns pages of historical trades, newest first.
type TradeSource interface {
	Trades(ctx context.Context, productID string, q exchange.TradeQuery) (exchange.TradePage, error)
}

// ErrLiveClosed is returned when the live channel closes before the merge completes.
var ErrLiveClosed = errors.New("live feed closed before merge")

// Config tunes the merger.
type Config struct {
	Cooldown         time.Duration
	MaxFetchAttempts int
	HistoryPages     int
	PageLimit        int
	MaxPending       int
}

func (c *Config) applyDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = 10
	}
	if c.HistoryPages <= 0 {
		c.HistoryPages = 1
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1000
	}
}

// Result is the merged historical sequence plus the live handle continuing it.
type Result struct {
	Trades []market.Trade
	LastID int64
	Live   *Stream
}

// Merger reconciles history and live trades for one product.
type Merger struct {
	productID string
	source    TradeSource
	cfg       Config
	log       zerolog.Logger
}

func NewMerger(productID string, source TradeSource, cfg Config, log zerolog.Logger) *Merger {
	cfg.applyDefaults()
	return &Merger{
		productID: productID,
		source:    source,
		cfg:       cfg,
		log:       util.ForProduct(log, productID, "merge"),
	}
}

type fetchResult struct {
	trades []market.Trade
	err    error
}

// Merge takes ownership of live. It buffers every live trade, fetches the REST
// window after the cooldown until it overlaps the buffer, then returns the
// deduplicated ascending history and a Stream carrying later trades.
func (m *Merger) Merge(ctx context.Context, live <-chan market.Trade) (*Result, error) {
	buffered := make(map[int64]market.Trade)
	var oldestLive int64

	timer := time.NewTimer(m.cfg.Cooldown)
	defer timer.Stop()
	fetched := make(chan fetchResult, 1)

	attempts := 0
	var (
		lastErr    error
		newestREST int64
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case t, ok := <-live:
			if !ok {
				return nil, ErrLiveClosed
			}
			if t.ProductID != m.productID {
				continue
			}
			if _, seen := buffered[t.TradeID]; seen {
				continue
			}
			buffered[t.TradeID] = t
			if oldestLive == 0 || t.TradeID < oldestLive {
				oldestLive = t.TradeID
			}
		case <-timer.C:
			go func() {
				trades, err := m.fetchWindow(ctx)
				fetched <- fetchResult{trades: trades, err: err}
			}()
		case res := <-fetched:
			attempts++
			metrics.MergeFetchAttemptsTotal.WithLabelValues(m.productID).Inc()
			if res.err != nil {
				lastErr = res.err
				m.log.Warn().Err(res.err).Int("attempt", attempts).Msg("trade history fetch failed")
			} else {
				lastErr = nil
				newestREST = maxID(res.trades)
				if len(buffered) > 0 && len(res.trades) > 0 && newestREST >= oldestLive {
					return m.finish(ctx, live, res.trades, buffered)
				}
				m.log.Info().
					Int("attempt", attempts).
					Int64("newest_rest", newestREST).
					Int64("oldest_live", oldestLive).
					Int("buffered", len(buffered)).
					Msg("trade history behind live buffer; retrying")
			}
			if attempts >= m.cfg.MaxFetchAttempts {
				return nil, &HistoryLagError{
					ProductID:  m.productID,
					Attempts:   attempts,
					NewestREST: newestREST,
					OldestLive: oldestLive,
					Err:        lastErr,
				}
			}
			timer.Reset(m.cfg.Cooldown)
		}
	}
}

func (m *Merger) finish(ctx context.Context, live <-chan market.Trade, rest []market.Trade, buffered map[int64]market.Trade) (*Result, error) {
	// Buffered live copies arrived first, so they win over REST duplicates.
	set := make(map[int64]market.Trade, len(buffered)+len(rest))
	for id, t := range buffered {
		set[id] = t
	}
	for _, t := range rest {
		if _, ok := set[t.TradeID]; !ok {
			set[t.TradeID] = t
		}
	}
	merged := make([]market.Trade, 0, len(set))
	for _, t := range set {
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TradeID < merged[j].TradeID })

	for i := 1; i < len(merged); i++ {
		if merged[i].TradeID != merged[i-1].TradeID+1 {
			return nil, &ContinuityBrokenError{
				ProductID: m.productID,
				Expected:  merged[i-1].TradeID + 1,
				Got:       merged[i].TradeID,
				Reason:    "gap inside merged history",
			}
		}
	}

	lastID := merged[len(merged)-1].TradeID
	stream := newStream(m.productID, lastID, m.cfg.MaxPending, m.log)
	go stream.run(ctx, live)

	m.log.Info().
		Int("trades", len(merged)).
		Int("rest", len(rest)).
		Int("live", len(buffered)).
		Int64("first_id", merged[0].TradeID).
		Int64("last_id", lastID).
		Msg("trade history merged")
	return &Result{Trades: merged, LastID: lastID, Live: stream}, nil
}

// fetchWindow reads the newest page and up to HistoryPages-1 older pages.
func (m *Merger) fetchWindow(ctx context.Context) ([]market.Trade, error) {
	var (
		out   []market.Trade
		after string
	)
	for page := 0; page < m.cfg.HistoryPages; page++ {
		res, err := m.source.Trades(ctx, m.productID, exchange.TradeQuery{Limit: m.cfg.PageLimit, After: after})
		if err != nil {
			if page > 0 {
				m.log.Warn().Err(err).Int("page", page).Msg("older trade page failed; using partial window")
				break
			}
			return nil, fmt.Errorf("fetch trades: %w", err)
		}
		out = append(out, res.Trades...)
		metrics.TradesTotal.WithLabelValues(m.productID, exchange.SourceREST).Add(float64(len(res.Trades)))
		if res.After == "" || len(res.Trades) == 0 {
			break
		}
		after = res.After
	}
	return out, nil
}

func maxID(trades []market.Trade) int64 {
	var newest int64
	for _, t := range trades {
		if t.TradeID > newest {
			newest = t.TradeID
		}
	}
	return newest
}
