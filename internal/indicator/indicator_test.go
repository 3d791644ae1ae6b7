package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlefeed-go/internal/market"
)

func prices(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

var series = prices("100", "101.5", "99.25", "102", "103.75", "101", "98.5", "100.125", "104", "105.5", "103")

func TestPriceWindowEvictsOldest(t *testing.T) {
	w := NewPriceWindow(3)
	for _, p := range prices("1", "2", "3", "4") {
		w.Push(p)
	}
	require.Equal(t, 3, w.Len())
	assert.Equal(t, []string{"2", "3", "4"}, asStrings(w.Values()))
	assert.Equal(t, []string{"3", "4"}, asStrings(w.Tail(2)))
	assert.Len(t, w.Tail(10), 3)
}

func asStrings(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func TestSMAWarmUp(t *testing.T) {
	s := NewSMA(3)
	w := NewPriceWindow(10)
	for _, p := range prices("10", "11") {
		_, ok := s.Update(p)
		assert.False(t, ok)
		w.Push(p)
	}
	_, ok := s.Recalculate(w)
	assert.False(t, ok)

	v, ok := s.Update(decimal.NewFromInt(12))
	require.True(t, ok)
	assert.Equal(t, "11", v.String())
}

func TestBollingerWarmUp(t *testing.T) {
	b := NewBollinger(3, 2)
	w := NewPriceWindow(10)
	for _, p := range prices("10", "11") {
		_, ok := b.Update(p)
		assert.False(t, ok)
		w.Push(p)
	}
	_, ok := b.Recalculate(w)
	assert.False(t, ok)
}

func TestIncrementalMatchesRecalculate(t *testing.T) {
	for _, period := range []int{1, 3, 5} {
		s := NewSMA(period)
		b := NewBollinger(period, 2)
		w := NewPriceWindow(8)
		for _, p := range series {
			w.Push(p)
			incSMA, smaOK := s.Update(p)
			incBands, bandsOK := b.Update(p)

			replaySMA, replaySMAOK := NewSMA(period).Recalculate(w)
			replayBands, replayBandsOK := NewBollinger(period, 2).Recalculate(w)

			require.Equal(t, smaOK, replaySMAOK)
			require.Equal(t, bandsOK, replayBandsOK)
			if smaOK {
				assert.True(t, incSMA.Equal(replaySMA), "period %d: %s != %s", period, incSMA, replaySMA)
			}
			if bandsOK {
				assert.True(t, incBands.Upper.Equal(replayBands.Upper))
				assert.True(t, incBands.Middle.Equal(replayBands.Middle))
				assert.True(t, incBands.Lower.Equal(replayBands.Lower))
			}
		}
	}
}

func TestBollingerKnownValues(t *testing.T) {
	b := NewBollinger(4, 2)
	var bands market.Bands
	var ok bool
	for _, p := range prices("2", "4", "4", "6") {
		bands, ok = b.Update(p)
	}
	require.True(t, ok)
	// mean 4, population variance 2, sigma sqrt(2)
	assert.Equal(t, "4", bands.Middle.String())
	sigma := bands.Upper.Sub(bands.Middle).Div(decimal.NewFromInt(2))
	assert.True(t, sigma.Sub(decimal.RequireFromString("1.4142135623730950")).Abs().LessThan(decimal.New(1, -15)), sigma.String())
	assert.True(t, bands.Middle.Sub(bands.Lower).Equal(bands.Upper.Sub(bands.Middle)))
}

func TestBollingerFlatSeriesHasZeroWidth(t *testing.T) {
	b := NewBollinger(3, 2)
	var bands market.Bands
	for _, p := range prices("5", "5", "5", "5") {
		bands, _ = b.Update(p)
	}
	assert.True(t, bands.Upper.Equal(bands.Lower))
	assert.Equal(t, "5", bands.Middle.String())
}

func TestEngineAnnotatesCandles(t *testing.T) {
	e := NewEngine(Params{SMAPeriod: 2, BBPeriod: 3, BBMultiplier: 2, WindowSize: 1})
	require.Equal(t, 3, e.Window().Cap())

	closes := prices("10", "12", "14")
	var results []Result
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{ProductID: "ETH-USD", Bucket: int64(i), Close: c}
		results = e.Apply(&candles[i])
	}

	assert.Nil(t, candles[0].SMA)
	assert.Nil(t, candles[0].Bands)
	require.NotNil(t, candles[1].SMA)
	assert.Equal(t, "11", candles[1].SMA.String())
	assert.Nil(t, candles[1].Bands)
	require.NotNil(t, candles[2].Bands)
	assert.Equal(t, "12", candles[2].Bands.Middle.String())

	require.Len(t, results, 2)
	assert.Equal(t, NameSMA, results[0].Name)
	assert.True(t, results[0].Ready())
	assert.Equal(t, int64(2), results[1].Bucket)

	again := candles[2]
	again.SMA, again.Bands = nil, nil
	e.Recalculate(&again)
	assert.True(t, again.SMA.Equal(*candles[2].SMA))
	assert.True(t, again.Bands.Upper.Equal(candles[2].Bands.Upper))

	e.Reset()
	fresh := market.Candle{Close: decimal.NewFromInt(1)}
	res := e.Apply(&fresh)
	assert.False(t, res[0].Ready())
	assert.Nil(t, fresh.SMA)
}
