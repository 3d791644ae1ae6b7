package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"candlefeed-go/internal/market"
)

// DefaultMultiplier is the band width in standard deviations.
const DefaultMultiplier = 2.0

const sqrtPrecision int32 = 16

// Bollinger computes bands around an SMA using the population standard
// deviation of the same window. Sums are exact, so incremental and replayed
// results are identical.
type Bollinger struct {
	period int
	k      decimal.Decimal
	ring   []decimal.Decimal
	next   int
	count  int
	sum    decimal.Decimal
	sumSq  decimal.Decimal
}

func NewBollinger(period int, multiplier float64) *Bollinger {
	if period < 1 {
		period = 1
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return &Bollinger{
		period: period,
		k:      decimal.NewFromFloat(multiplier),
		ring:   make([]decimal.Decimal, period),
	}
}

func (b *Bollinger) Period() int { return b.period }

// Update folds one price. ok is false during warm-up.
func (b *Bollinger) Update(price decimal.Decimal) (market.Bands, bool) {
	if b.count == b.period {
		old := b.ring[b.next]
		b.sum = b.sum.Sub(old)
		b.sumSq = b.sumSq.Sub(old.Mul(old))
	} else {
		b.count++
	}
	b.ring[b.next] = price
	b.sum = b.sum.Add(price)
	b.sumSq = b.sumSq.Add(price.Mul(price))
	b.next = (b.next + 1) % b.period
	return b.Value()
}

// Value returns the current bands without folding anything.
func (b *Bollinger) Value() (market.Bands, bool) {
	if b.count < b.period {
		return market.Bands{}, false
	}
	n := decimal.NewFromInt(int64(b.period))
	mean := b.sum.Div(n)
	// n·Σx² − (Σx)² is exact; dividing once keeps rounding in a single place.
	variance := n.Mul(b.sumSq).Sub(b.sum.Mul(b.sum)).DivRound(n.Mul(n), sqrtPrecision+4)
	if variance.Sign() < 0 {
		variance = decimal.Zero
	}
	width := b.k.Mul(sqrt(variance))
	return market.Bands{
		Upper:  mean.Add(width),
		Middle: mean,
		Lower:  mean.Sub(width),
	}, true
}

// Recalculate discards state and replays the last Period() prices of w.
func (b *Bollinger) Recalculate(w *PriceWindow) (market.Bands, bool) {
	b.Reset()
	var (
		v  market.Bands
		ok bool
	)
	for _, p := range w.Tail(b.period) {
		v, ok = b.Update(p)
	}
	return v, ok
}

func (b *Bollinger) Reset() {
	for i := range b.ring {
		b.ring[i] = decimal.Decimal{}
	}
	b.next, b.count = 0, 0
	b.sum, b.sumSq = decimal.Zero, decimal.Zero
}

// sqrt runs Newton's method at fixed precision, seeded from float64.
// The result depends only on v.
func sqrt(v decimal.Decimal) decimal.Decimal {
	if v.Sign() <= 0 {
		return decimal.Zero
	}
	f, _ := v.Float64()
	x := decimal.NewFromFloat(math.Sqrt(f))
	if x.Sign() <= 0 {
		x = v
	}
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		next := x.Add(v.DivRound(x, sqrtPrecision+4)).DivRound(two, sqrtPrecision+4)
		if next.Equal(x) {
			break
		}
		x = next
	}
	return x.Round(sqrtPrecision)
}
