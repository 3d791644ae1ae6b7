package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"candlefeed-go/internal/market"
)

const (
	SourceREST   = "rest"
	SourceLive   = "live"
	SourceCandle = "candle"
)

// MalformedMessageError reports a single exchange message that could not be normalized.
// The message is dropped; the stream it came from keeps running.
type MalformedMessageError struct {
	Source string
	Field  string
	Value  string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed %s message: field %s=%q: %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// RESTTrade is one element of GET /products/{id}/trades.
type RESTTrade struct {
	Time    string          `json:"time"`
	TradeID json.RawMessage `json:"trade_id"`
	Price   string          `json:"price"`
	Size    string          `json:"size"`
	Side    string          `json:"side"`
}

// MatchMessage is a "match" or "last_match" message from the websocket matches channel.
type MatchMessage struct {
	Type         string          `json:"type"`
	TradeID      json.RawMessage `json:"trade_id"`
	Sequence     int64           `json:"sequence"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	Time         string          `json:"time"`
	ProductID    string          `json:"product_id"`
	Size         string          `json:"size"`
	Price        string          `json:"price"`
	Side         string          `json:"side"`
}

// NormalizeRESTTrade converts a REST trade record into the canonical trade for productID.
func NormalizeRESTTrade(raw RESTTrade, productID string) (market.Trade, error) {
	return normalize(SourceREST, productID, raw.TradeID, raw.Price, raw.Size, raw.Side, raw.Time)
}

// NormalizeMatch converts a live match message into the canonical trade for productID.
func NormalizeMatch(msg MatchMessage, productID string) (market.Trade, error) {
	return normalize(SourceLive, productID, msg.TradeID, msg.Price, msg.Size, msg.Side, msg.Time)
}

func normalize(source, productID string, rawID json.RawMessage, rawPrice, rawSize, rawSide, rawTime string) (market.Trade, error) {
	id, err := parseTradeID(rawID)
	if err != nil {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "trade_id", Value: string(rawID), Err: err}
	}
	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "price", Value: rawPrice, Err: err}
	}
	if !price.IsPositive() {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "price", Value: rawPrice, Err: errNotPositive}
	}
	size, err := decimal.NewFromString(rawSize)
	if err != nil {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "size", Value: rawSize, Err: err}
	}
	if !size.IsPositive() {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "size", Value: rawSize, Err: errNotPositive}
	}
	side, err := market.ParseSide(rawSide)
	if err != nil {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "side", Value: rawSide, Err: err}
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return market.Trade{}, &MalformedMessageError{Source: source, Field: "time", Value: rawTime, Err: err}
	}
	return market.Trade{
		ProductID: productID,
		TradeID:   id,
		Price:     price,
		Size:      size,
		Side:      side,
		Time:      ts.UTC(),
	}, nil
}

var errNotPositive = errors.New("must be positive")

// parseTradeID accepts a bare JSON integer; quoted, fractional or non-positive ids are rejected.
func parseTradeID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing trade id")
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("trade id is not an integer: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("trade id must be positive")
	}
	return id, nil
}

// ParseCandleTuple converts a REST candle bucket [time, low, high, open, close, volume].
func ParseCandleTuple(tuple []json.Number, productID string) (market.Candle, error) {
	if len(tuple) != 6 {
		return market.Candle{}, &MalformedMessageError{Source: SourceCandle, Field: "tuple", Value: fmt.Sprint(tuple), Err: fmt.Errorf("expected 6 elements, got %d", len(tuple))}
	}
	sec, err := tuple[0].Int64()
	if err != nil {
		return market.Candle{}, &MalformedMessageError{Source: SourceCandle, Field: "time", Value: tuple[0].String(), Err: err}
	}
	names := [...]string{"low", "high", "open", "close", "volume"}
	var vals [5]decimal.Decimal
	for i, name := range names {
		v, err := decimal.NewFromString(tuple[i+1].String())
		if err != nil {
			return market.Candle{}, &MalformedMessageError{Source: SourceCandle, Field: name, Value: tuple[i+1].String(), Err: err}
		}
		vals[i] = v
	}
	start := time.Unix(sec, 0).UTC()
	return market.Candle{
		ProductID: productID,
		Bucket:    market.MinuteBucket(start),
		Low:       vals[0],
		High:      vals[1],
		Open:      vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		FirstTime: start,
		LastTime:  start,
	}, nil
}
