package candle

import (
	"errors"
	"fmt"
	"sync"

	"candlefeed-go/internal/market"
)

// ErrBucketNotIncreasing is returned when an appended candle does not follow the newest one.
var ErrBucketNotIncreasing = errors.New("candle bucket is not after the newest history entry")

// History is a bounded, append-only ring of closed candles for one product.
// The oldest candle is evicted once capacity is reached.
type History struct {
	mu        sync.RWMutex
	productID string
	buf       []market.Candle
	start     int
	size      int
}

// NewHistory creates an empty history holding at most capacity candles.
func NewHistory(productID string, capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{productID: productID, buf: make([]market.Candle, capacity)}
}

// Seed replaces the contents with candles (oldest first). Only the newest
// Cap() entries are kept; the sequence must be strictly increasing.
func (h *History) Seed(candles []market.Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].Bucket <= candles[i-1].Bucket {
			return fmt.Errorf("seed index %d: %w", i, ErrBucketNotIncreasing)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(candles) > len(h.buf) {
		candles = candles[len(candles)-len(h.buf):]
	}
	for i := range h.buf {
		h.buf[i] = market.Candle{}
	}
	for i, c := range candles {
		h.buf[i] = c.Clone()
	}
	h.start = 0
	h.size = len(candles)
	return nil
}

// Append adds a closed candle, evicting the oldest when full.
func (h *History) Append(c market.Candle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size > 0 {
		newest := h.buf[(h.start+h.size-1)%len(h.buf)]
		if c.Bucket <= newest.Bucket {
			return fmt.Errorf("%w: %d <= %d", ErrBucketNotIncreasing, c.Bucket, newest.Bucket)
		}
	}
	c = c.Clone()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = c
		h.size++
		return nil
	}
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
	return nil
}

// Snapshot returns a copy of the candles, oldest first.
func (h *History) Snapshot() []market.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]market.Candle, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)].Clone()
	}
	return out
}

// Last returns the newest candle.
func (h *History) Last() (market.Candle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return market.Candle{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)].Clone(), true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Cap() int { return len(h.buf) }

func (h *History) ProductID() string { return h.productID }
