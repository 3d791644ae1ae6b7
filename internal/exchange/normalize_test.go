package exchange

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"candlefeed-go/internal/market"
)

func TestNormalizeRESTTrade(t *testing.T) {
	raw := RESTTrade{
		Time:    "2022-10-01T22:07:58.060191Z",
		TradeID: json.RawMessage("363539038"),
		Price:   "1315.26000000",
		Size:    "0.00283594",
		Side:    "buy",
	}
	tr, err := NormalizeRESTTrade(raw, "ETH-USD")
	if err != nil {
		t.Fatalf("NormalizeRESTTrade returned error: %v", err)
	}
	if tr.TradeID != 363539038 || tr.ProductID != "ETH-USD" || tr.Side != market.Buy {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if tr.Price.String() != "1315.26" {
		t.Fatalf("unexpected price %s", tr.Price)
	}
	want := time.Date(2022, 10, 1, 22, 7, 58, 60191000, time.UTC)
	if !tr.Time.Equal(want) {
		t.Fatalf("unexpected time %s", tr.Time)
	}
}

func TestNormalizeMatch(t *testing.T) {
	body := `{"type":"match","trade_id":363415764,"maker_order_id":"a5061d9b","taker_order_id":"0e0a4b73","side":"sell","size":"0.16793782","price":"1319.3","product_id":"ETH-USD","sequence":36833737703,"time":"2022-10-01T16:18:18.157446Z"}`
	var msg MatchMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tr, err := NormalizeMatch(msg, "ETH-USD")
	if err != nil {
		t.Fatalf("NormalizeMatch returned error: %v", err)
	}
	if tr.TradeID != 363415764 || tr.Side != market.Sell || tr.Size.String() != "0.16793782" {
		t.Fatalf("unexpected trade: %+v", tr)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	good := RESTTrade{Time: "2022-10-01T22:07:58Z", TradeID: json.RawMessage("7"), Price: "1", Size: "2", Side: "buy"}
	cases := []struct {
		name   string
		field  string
		mutate func(r *RESTTrade)
	}{
		{"price not decimal", "price", func(r *RESTTrade) { r.Price = "abc" }},
		{"price zero", "price", func(r *RESTTrade) { r.Price = "0" }},
		{"price negative", "price", func(r *RESTTrade) { r.Price = "-1319.3" }},
		{"size empty", "size", func(r *RESTTrade) { r.Size = "" }},
		{"size zero", "size", func(r *RESTTrade) { r.Size = "0.000" }},
		{"size negative", "size", func(r *RESTTrade) { r.Size = "-5" }},
		{"trade id quoted", "trade_id", func(r *RESTTrade) { r.TradeID = json.RawMessage(`"7"`) }},
		{"side unknown", "side", func(r *RESTTrade) { r.Side = "short" }},
		{"time unparseable", "time", func(r *RESTTrade) { r.Time = "yesterday" }},
	}
	for _, tc := range cases {
		raw := good
		tc.mutate(&raw)
		_, err := NormalizeRESTTrade(raw, "ETH-USD")
		var malformed *MalformedMessageError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedMessageError, got %v", tc.name, err)
		}
		if malformed.Field != tc.field || malformed.Source != SourceREST {
			t.Fatalf("%s: unexpected error detail %+v", tc.name, malformed)
		}
	}

	msg := MatchMessage{Type: "match", TradeID: json.RawMessage("8"), Side: "buy", Size: "-5", Price: "2", ProductID: "ETH-USD", Time: "2022-10-01T22:07:58Z"}
	var malformed *MalformedMessageError
	if _, err := NormalizeMatch(msg, "ETH-USD"); !errors.As(err, &malformed) || malformed.Field != "size" || malformed.Source != SourceLive {
		t.Fatalf("expected negative live size to be rejected, got %v", err)
	}

	raw := good
	raw.TradeID = json.RawMessage("1.5")
	if _, err := NormalizeRESTTrade(raw, "ETH-USD"); err == nil {
		t.Fatalf("expected fractional trade id to be rejected")
	}
}

func TestParseCandleTuple(t *testing.T) {
	tuple := []json.Number{"1664662800", "1310.5", "1312.1", "1311", "1311.9", "45.3"}
	c, err := ParseCandleTuple(tuple, "ETH-USD")
	if err != nil {
		t.Fatalf("ParseCandleTuple returned error: %v", err)
	}
	if c.Bucket != 1664662800/60 {
		t.Fatalf("unexpected bucket %d", c.Bucket)
	}
	if c.Low.String() != "1310.5" || c.High.String() != "1312.1" || c.Open.String() != "1311" || c.Close.String() != "1311.9" || c.Volume.String() != "45.3" {
		t.Fatalf("unexpected candle %+v", c)
	}

	if _, err := ParseCandleTuple(tuple[:5], "ETH-USD"); err == nil {
		t.Fatalf("expected short tuple to fail")
	}
	bad := append([]json.Number(nil), tuple...)
	bad[0] = "1664662800.5"
	if _, err := ParseCandleTuple(bad, "ETH-USD"); err == nil {
		t.Fatalf("expected fractional time to fail")
	}
}
