package indicator

import (
	"github.com/shopspring/decimal"

	"candlefeed-go/internal/market"
)

// Indicator names carried on Result.
const (
	NameSMA       = "sma"
	NameBollinger = "bollinger"
)

// Result is one indicator output for one closed candle. Value (SMA) or Bands
// (Bollinger) is nil while the indicator is warming up.
type Result struct {
	Name      string           `json:"name"`
	ProductID string           `json:"product_id"`
	Bucket    int64            `json:"bucket"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Bands     *market.Bands    `json:"bands,omitempty"`
}

// Ready reports whether the indicator produced a value.
func (r Result) Ready() bool { return r.Value != nil || r.Bands != nil }

// Params expresses the tunable knobs of an Engine.
type Params struct {
	SMAPeriod    int
	BBPeriod     int
	BBMultiplier float64
	WindowSize   int
}

// Engine owns one product's price window and indicator states. It is not
// safe for concurrent use; the product pipeline is its only caller.
type Engine struct {
	window    *PriceWindow
	sma       *SMA
	bollinger *Bollinger
}

// NewEngine builds an engine, widening the window to the longest period if needed.
func NewEngine(params Params) *Engine {
	if params.SMAPeriod <= 0 {
		params.SMAPeriod = 7
	}
	if params.BBPeriod <= 0 {
		params.BBPeriod = 20
	}
	size := params.WindowSize
	if size < params.SMAPeriod {
		size = params.SMAPeriod
	}
	if size < params.BBPeriod {
		size = params.BBPeriod
	}
	return &Engine{
		window:    NewPriceWindow(size),
		sma:       NewSMA(params.SMAPeriod),
		bollinger: NewBollinger(params.BBPeriod, params.BBMultiplier),
	}
}

// Apply appends c.Close to the window, updates both indicators and attaches
// their results to c. Fields stay nil during warm-up.
func (e *Engine) Apply(c *market.Candle) []Result {
	e.window.Push(c.Close)
	smaValue, smaOK := e.sma.Update(c.Close)
	bands, bandsOK := e.bollinger.Update(c.Close)
	return e.attach(c, smaValue, smaOK, bands, bandsOK)
}

// Recalculate rebuilds both indicators from the window and attaches the
// results to c, which should be the candle whose close was pushed last.
func (e *Engine) Recalculate(c *market.Candle) []Result {
	smaValue, smaOK := e.sma.Recalculate(e.window)
	bands, bandsOK := e.bollinger.Recalculate(e.window)
	return e.attach(c, smaValue, smaOK, bands, bandsOK)
}

func (e *Engine) attach(c *market.Candle, smaValue decimal.Decimal, smaOK bool, bands market.Bands, bandsOK bool) []Result {
	c.SMA, c.Bands = nil, nil
	smaResult := Result{Name: NameSMA, ProductID: c.ProductID, Bucket: c.Bucket}
	bandsResult := Result{Name: NameBollinger, ProductID: c.ProductID, Bucket: c.Bucket}
	if smaOK {
		v := smaValue
		c.SMA = &v
		r := v
		smaResult.Value = &r
	}
	if bandsOK {
		b := bands
		c.Bands = &b
		r := bands
		bandsResult.Bands = &r
	}
	return []Result{smaResult, bandsResult}
}

// Reset clears the window and both indicators.
func (e *Engine) Reset() {
	e.window.Reset()
	e.sma.Reset()
	e.bollinger.Reset()
}

// Window exposes the price window for inspection.
func (e *Engine) Window() *PriceWindow { return e.window }
