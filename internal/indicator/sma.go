package indicator

import "github.com/shopspring/decimal"

// SMA is a simple moving average updated in O(1) per price.
type SMA struct {
	period int
	ring   []decimal.Decimal
	next   int
	count  int
	sum    decimal.Decimal
}

// NewSMA builds an average over period prices; period < 1 is treated as 1.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{period: period, ring: make([]decimal.Decimal, period)}
}

func (s *SMA) Period() int { return s.period }

// Update folds one price. ok is false until period prices have been seen.
func (s *SMA) Update(price decimal.Decimal) (decimal.Decimal, bool) {
	if s.count == s.period {
		s.sum = s.sum.Sub(s.ring[s.next])
	} else {
		s.count++
	}
	s.ring[s.next] = price
	s.sum = s.sum.Add(price)
	s.next = (s.next + 1) % s.period
	return s.Value()
}

// Value returns the current average without folding anything.
func (s *SMA) Value() (decimal.Decimal, bool) {
	if s.count < s.period {
		return decimal.Decimal{}, false
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.period))), true
}

// Recalculate discards state and replays the last Period() prices of w.
func (s *SMA) Recalculate(w *PriceWindow) (decimal.Decimal, bool) {
	s.Reset()
	var (
		v  decimal.Decimal
		ok bool
	)
	for _, p := range w.Tail(s.period) {
		v, ok = s.Update(p)
	}
	return v, ok
}

func (s *SMA) Reset() {
	for i := range s.ring {
		s.ring[i] = decimal.Decimal{}
	}
	s.next, s.count = 0, 0
	s.sum = decimal.Zero
}
