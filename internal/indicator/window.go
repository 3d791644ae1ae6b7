// Package indicator maintains rolling SMA and Bollinger Bands over closing prices.
package indicator

import "github.com/shopspring/decimal"

// PriceWindow is a bounded FIFO of closing prices. The oldest price is evicted
// once Cap() is reached.
type PriceWindow struct {
	buf   []decimal.Decimal
	start int
	size  int
}

// NewPriceWindow returns an empty window holding at most capacity prices.
func NewPriceWindow(capacity int) *PriceWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriceWindow{buf: make([]decimal.Decimal, capacity)}
}

// Push appends a price, evicting the oldest when full.
func (w *PriceWindow) Push(p decimal.Decimal) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = p
		w.size++
		return
	}
	w.buf[w.start] = p
	w.start = (w.start + 1) % len(w.buf)
}

// Tail returns up to n of the newest prices, oldest first.
func (w *PriceWindow) Tail(n int) []decimal.Decimal {
	if n > w.size {
		n = w.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]decimal.Decimal, n)
	offset := w.size - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(w.start+offset+i)%len(w.buf)]
	}
	return out
}

// Values returns every held price, oldest first.
func (w *PriceWindow) Values() []decimal.Decimal { return w.Tail(w.size) }

func (w *PriceWindow) Len() int { return w.size }

func (w *PriceWindow) Cap() int { return len(w.buf) }

func (w *PriceWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = decimal.Decimal{}
	}
	w.start, w.size = 0, 0
}
