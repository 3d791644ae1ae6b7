// Package candle folds an ordered trade sequence into minute OHLCV candles and keeps a bounded history of them.
package candle

import (
	"errors"
	"fmt"

	"candlefeed-go/internal/market"
)

var (
	// ErrStaleTrade is returned for a trade older than the current candle's minute.
	ErrStaleTrade = errors.New("trade is older than the current candle")
	// ErrWrongProduct is returned for a trade of another product.
	ErrWrongProduct = errors.New("trade belongs to another product")
)

// Hooks receive builder events synchronously on the caller's goroutine.
// When a trade opens a new minute the order is always:
// OnMinuteAdvanced, OnClosed (the finished candle), OnCurrent (the new candle).
// Any hook may be nil.
type Hooks struct {
	OnMinuteAdvanced func(closedBucket, nextBucket int64)
	OnClosed         func(c market.Candle)
	OnCurrent        func(c market.Candle)
}

// Builder owns the single mutable "current" candle of one product.
type Builder struct {
	productID  string
	hooks      Hooks
	current    *market.Candle
	lastClosed int64
	hasClosed  bool
}

// NewBuilder returns a builder with no current candle.
func NewBuilder(productID string, hooks Hooks) *Builder {
	return &Builder{productID: productID, hooks: hooks}
}

// Add folds one trade. Trades must arrive in trade-id order.
func (b *Builder) Add(t market.Trade) error {
	if t.ProductID != b.productID {
		return fmt.Errorf("%w: %s", ErrWrongProduct, t.ProductID)
	}
	bucket := t.Bucket()

	if b.current == nil {
		b.open(t, bucket)
		return nil
	}

	switch {
	case bucket == b.current.Bucket:
		c := b.current
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume = c.Volume.Add(t.Size)
		c.LastTime = t.Time
		b.emitCurrent()
	case bucket > b.current.Bucket:
		closed := *b.current
		b.lastClosed = closed.Bucket
		b.hasClosed = true
		if b.hooks.OnMinuteAdvanced != nil {
			b.hooks.OnMinuteAdvanced(closed.Bucket, bucket)
		}
		if b.hooks.OnClosed != nil {
			b.hooks.OnClosed(closed)
		}
		b.open(t, bucket)
	default:
		return fmt.Errorf("%w: trade %d in bucket %d, current %d", ErrStaleTrade, t.TradeID, bucket, b.current.Bucket)
	}
	return nil
}

func (b *Builder) open(t market.Trade, bucket int64) {
	b.current = &market.Candle{
		ProductID: b.productID,
		Bucket:    bucket,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Size,
		FirstTime: t.Time,
		LastTime:  t.Time,
	}
	b.emitCurrent()
}

func (b *Builder) emitCurrent() {
	if b.hooks.OnCurrent != nil {
		b.hooks.OnCurrent(*b.current)
	}
}

// Current returns a copy of the in-progress candle.
func (b *Builder) Current() (market.Candle, bool) {
	if b.current == nil {
		return market.Candle{}, false
	}
	return *b.current, true
}

// LastClosedBucket returns the bucket of the most recently closed candle.
func (b *Builder) LastClosedBucket() (int64, bool) {
	return b.lastClosed, b.hasClosed
}
