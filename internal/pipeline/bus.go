package pipeline

import (
	"sync"

	"candlefeed-go/internal/indicator"
	"candlefeed-go/internal/market"
)

// Bus fans pipeline events out to registered callbacks. Callbacks run
// synchronously on the pipeline goroutine and must not block. For a trade
// that opens a new minute the delivery order is:
//
//	OnMinuteAdvanced, OnCandleClosed, OnIndicator (one per indicator), OnCurrentCandle
//
// Closed candles are only delivered once the history is synchronized; the
// seed itself is delivered once through OnHistorySeeded.
type Bus struct {
	mu        sync.RWMutex
	minute    []func(closedBucket, nextBucket int64)
	closed    []func(market.Candle)
	current   []func(market.Candle)
	indicator []func(indicator.Result)
	seeded    []func([]market.Candle)
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) OnMinuteAdvanced(fn func(closedBucket, nextBucket int64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minute = append(b.minute, fn)
}

func (b *Bus) OnCandleClosed(fn func(market.Candle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, fn)
}

func (b *Bus) OnCurrentCandle(fn func(market.Candle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = append(b.current, fn)
}

func (b *Bus) OnIndicator(fn func(indicator.Result)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indicator = append(b.indicator, fn)
}

func (b *Bus) OnHistorySeeded(fn func([]market.Candle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seeded = append(b.seeded, fn)
}

func (b *Bus) publishMinute(closed, next int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.minute {
		fn(closed, next)
	}
}

// Each subscriber gets its own copy so indicator pointers are never shared.
func (b *Bus) publishClosed(c market.Candle) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.closed {
		fn(c.Clone())
	}
}

func (b *Bus) publishCurrent(c market.Candle) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.current {
		fn(c.Clone())
	}
}

func (b *Bus) publishIndicator(r indicator.Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.indicator {
		fn(r)
	}
}

func (b *Bus) publishSeeded(cs []market.Candle) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.seeded {
		out := make([]market.Candle, len(cs))
		for i, c := range cs {
			out[i] = c.Clone()
		}
		fn(out)
	}
}
