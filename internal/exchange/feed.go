// Package exchange hosts the Coinbase connectors: live trade feed, REST client and message normalization.
package exchange

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic trades (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderCoinbase streams live matches from the Coinbase Exchange websocket feed.
	ProviderCoinbase = "coinbase"
)

// Feed represents a pluggable live trade stream implementation.
type Feed struct {
	provider      string
	products      []string
	log           zerolog.Logger
	websocketURL  string
	stubInterval  time.Duration
	stubFirstID   int64
	stubBasePrice decimal.Decimal
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultWebsocketURL = "wss://ws-feed.exchange.coinbase.com"
	defaultStubInterval = 500 * time.Millisecond
)

// WithWebsocketURL overrides the Coinbase websocket endpoint.
func WithWebsocketURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.websocketURL = u
		}
	}
}

// WithStubInterval overrides the cadence of synthetic trades.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStubFirstTradeID sets the id of the first synthetic trade per product.
func WithStubFirstTradeID(id int64) Option {
	return func(f *Feed) {
		if id > 0 {
			f.stubFirstID = id
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, products []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:      strings.ToLower(provider),
		products:      uniqueProducts(products),
		log:           log,
		websocketURL:  defaultWebsocketURL,
		stubInterval:  defaultStubInterval,
		stubFirstID:   1,
		stubBasePrice: decimal.NewFromInt(100),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Products returns the tracked product ids (deduplicated, sorted for determinism).
func (f *Feed) Products() []string {
	out := make([]string, len(f.products))
	copy(out, f.products)
	return out
}

// Run pushes trades onto the provided channel until the context is canceled.
// Cancelling the context is how a consumer unsubscribes.
func (f *Feed) Run(ctx context.Context, out chan<- market.Trade) error {
	switch f.provider {
	case ProviderCoinbase:
		return f.runCoinbase(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- market.Trade) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	step := decimal.RequireFromString("0.1")
	size := decimal.RequireFromString("0.5")
	next := f.stubFirstID
	px := f.stubBasePrice
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px = px.Add(step)
			side := market.Buy
			if next%2 == 0 {
				side = market.Sell
			}
			for _, p := range f.products {
				tr := market.Trade{ProductID: p, TradeID: next, Price: px, Size: size, Side: side, Time: ts.UTC()}
				select {
				case out <- tr:
					metrics.TradesTotal.WithLabelValues(p, SourceLive).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			next++
		}
	}
}

func uniqueProducts(products []string) []string {
	set := make(map[string]struct{}, len(products))
	for _, p := range products {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
