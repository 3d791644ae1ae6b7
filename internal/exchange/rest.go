package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
)

// GranularityMinute is the only candle granularity the engine requests.
const GranularityMinute = 60

// MaxCandlesPerRequest is the most buckets the candles endpoint returns for one start/end range.
const MaxCandlesPerRequest = 300

const (
	defaultRestBaseURL = "https://api.exchange.coinbase.com"
	userAgent          = "candlefeed-go/1.0"
)

// StatusError is returned for any non-200 REST response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// TradeQuery selects a page of REST trades. After walks towards older trades,
// Before towards newer ones; both are opaque cursors returned by the previous page.
type TradeQuery struct {
	Limit  int
	Before string
	After  string
}

// TradePage is one page of normalized trades, newest first as the exchange returns them.
type TradePage struct {
	Trades  []market.Trade
	Before  string
	After   string
	Dropped int
}

// CandleQuery selects REST candles. Start and End are optional but only honored together.
type CandleQuery struct {
	Granularity int
	Start       time.Time
	End         time.Time
}

// Client talks to the public Coinbase Exchange REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// ClientOption configures Client construction parameters.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cl *Client) {
		if rps > 0 {
			if burst <= 0 {
				burst = 1
			}
			cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewClient constructs a REST client rooted at baseURL.
func NewClient(baseURL string, log zerolog.Logger, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultRestBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(8), 15),
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trades fetches one page of historical trades. Malformed records are dropped, logged and counted.
func (c *Client) Trades(ctx context.Context, productID string, q TradeQuery) (TradePage, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		params.Set("before", q.Before)
	}
	if q.After != "" {
		params.Set("after", q.After)
	}
	endpoint := fmt.Sprintf("%s/products/%s/trades", c.baseURL, url.PathEscape(productID))
	resp, err := c.get(ctx, endpoint, params)
	if err != nil {
		return TradePage{}, err
	}
	defer resp.Body.Close()

	var raw []RESTTrade
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return TradePage{}, fmt.Errorf("decode trades: %w", err)
	}
	page := TradePage{
		Trades: make([]market.Trade, 0, len(raw)),
		Before: resp.Header.Get("Cb-Before"),
		After:  resp.Header.Get("Cb-After"),
	}
	for _, r := range raw {
		tr, err := NormalizeRESTTrade(r, productID)
		if err != nil {
			page.Dropped++
			metrics.MalformedMessagesTotal.WithLabelValues(SourceREST).Inc()
			c.log.Warn().Err(err).Str("product", productID).Msg("dropping malformed rest trade")
			continue
		}
		page.Trades = append(page.Trades, tr)
	}
	return page, nil
}

// Candles fetches REST candles for a product. Malformed buckets are dropped, logged and counted.
func (c *Client) Candles(ctx context.Context, productID string, q CandleQuery) ([]market.Candle, error) {
	params := url.Values{}
	granularity := q.Granularity
	if granularity <= 0 {
		granularity = GranularityMinute
	}
	params.Set("granularity", strconv.Itoa(granularity))
	if !q.Start.IsZero() && !q.End.IsZero() {
		params.Set("start", q.Start.UTC().Format(time.RFC3339))
		params.Set("end", q.End.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/products/%s/candles", c.baseURL, url.PathEscape(productID))
	resp, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var raw [][]json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	out := make([]market.Candle, 0, len(raw))
	for _, tuple := range raw {
		cd, err := ParseCandleTuple(tuple, productID)
		if err != nil {
			metrics.MalformedMessagesTotal.WithLabelValues(SourceCandle).Inc()
			c.log.Warn().Err(err).Str("product", productID).Msg("dropping malformed rest candle")
			continue
		}
		out = append(out, cd)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
