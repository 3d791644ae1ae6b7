// Package market standardizes payloads shared between the feed, candle and indicator layers.
package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side reported by the exchange.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide maps the exchange enumeration verbatim; anything else is rejected.
func ParseSide(raw string) (Side, error) {
	switch Side(raw) {
	case Buy, Sell:
		return Side(raw), nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

// Trade is a single exchange fill in canonical form.
type Trade struct {
	ProductID string
	TradeID   int64
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	Time      time.Time
}

// Bucket returns the minute bucket the trade belongs to.
func (t Trade) Bucket() int64 { return MinuteBucket(t.Time) }

// Bands holds one Bollinger Bands result.
type Bands struct {
	Upper  decimal.Decimal `json:"upper"`
	Middle decimal.Decimal `json:"middle"`
	Lower  decimal.Decimal `json:"lower"`
}

// Candle aggregates trades over one minute bucket. SMA and Bands stay nil while
// the indicator producing them is still warming up.
type Candle struct {
	ProductID string           `json:"product_id"`
	Bucket    int64            `json:"bucket"`
	Open      decimal.Decimal  `json:"open"`
	High      decimal.Decimal  `json:"high"`
	Low       decimal.Decimal  `json:"low"`
	Close     decimal.Decimal  `json:"close"`
	Volume    decimal.Decimal  `json:"volume"`
	FirstTime time.Time        `json:"first_time"`
	LastTime  time.Time        `json:"last_time"`
	SMA       *decimal.Decimal `json:"sma,omitempty"`
	Bands     *Bands           `json:"bands,omitempty"`
}

// Time returns the start of the candle's minute.
func (c Candle) Time() time.Time { return BucketTime(c.Bucket) }

// Clone returns a deep copy so indicator pointers are not shared.
func (c Candle) Clone() Candle {
	out := c
	if c.SMA != nil {
		v := *c.SMA
		out.SMA = &v
	}
	if c.Bands != nil {
		b := *c.Bands
		out.Bands = &b
	}
	return out
}

// MinuteBucket truncates a timestamp to its minute index since the unix epoch.
func MinuteBucket(t time.Time) int64 {
	sec := t.Unix()
	if sec < 0 && sec%60 != 0 {
		return sec/60 - 1
	}
	return sec / 60
}

// BucketTime is the inverse of MinuteBucket.
func BucketTime(bucket int64) time.Time {
	return time.Unix(bucket*60, 0).UTC()
}
