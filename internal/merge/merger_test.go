package merge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlefeed-go/internal/exchange"
	"candlefeed-go/internal/market"
)

const product = "ETH-USD"

func tr(id int64) market.Trade {
	return market.Trade{
		ProductID: product,
		TradeID:   id,
		Price:     decimal.NewFromInt(100 + id),
		Size:      decimal.NewFromInt(1),
		Side:      market.Buy,
		Time:      time.Unix(1664640000+id, 0).UTC(),
	}
}

// window returns trades hi..lo, newest first like the exchange.
func window(lo, hi int64) []market.Trade {
	var out []market.Trade
	for id := hi; id >= lo; id-- {
		out = append(out, tr(id))
	}
	return out
}

type fakeSource struct {
	mu      sync.Mutex
	ready   chan struct{}
	calls   int
	queries []exchange.TradeQuery
	respond func(call int, q exchange.TradeQuery) (exchange.TradePage, error)
}

func (f *fakeSource) Trades(ctx context.Context, productID string, q exchange.TradeQuery) (exchange.TradePage, error) {
	if f.ready != nil {
		select {
		case <-f.ready:
		case <-ctx.Done():
			return exchange.TradePage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.respond(call, q)
}

func testConfig() Config {
	return Config{Cooldown: time.Millisecond, MaxFetchAttempts: 3, HistoryPages: 1, PageLimit: 100, MaxPending: 4}
}

// startMerge feeds the buffered ids, then lets the source answer.
func startMerge(t *testing.T, src *fakeSource, cfg Config, live chan market.Trade, buffered ...int64) (*Result, error) {
	t.Helper()
	src.ready = make(chan struct{})
	m := NewMerger(product, src, cfg, zerolog.Nop())
	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		res, err := m.Merge(ctx, live)
		done <- out{res, err}
	}()
	for _, id := range buffered {
		live <- tr(id)
	}
	close(src.ready)
	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("merge did not finish")
		return nil, nil
	}
}

func ids(trades []market.Trade) []int64 {
	out := make([]int64, len(trades))
	for i, t := range trades {
		out[i] = t.TradeID
	}
	return out
}

func recv(t *testing.T, s *Stream) market.Trade {
	t.Helper()
	select {
	case tr, ok := <-s.Trades():
		require.True(t, ok, "stream closed")
		return tr
	case err := <-s.Err():
		t.Fatalf("stream failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live trade")
	}
	return market.Trade{}
}

func TestMergeDeliversEachTradeOnceInOrder(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: window(1, 10)}, nil
	}}
	live := make(chan market.Trade)
	res, err := startMerge(t, src, testConfig(), live, 9, 8, 10, 9, 11, 12)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, ids(res.Trades))
	assert.Equal(t, int64(12), res.LastID)

	live <- tr(12)
	live <- tr(13)
	live <- tr(15)
	live <- tr(14)
	live <- tr(13)
	assert.Equal(t, int64(13), recv(t, res.Live).TradeID)
	assert.Equal(t, int64(14), recv(t, res.Live).TradeID)
	assert.Equal(t, int64(15), recv(t, res.Live).TradeID)

	res.Live.Close()
	res.Live.Close()
}

func TestMergeFirstCopyWins(t *testing.T) {
	restCopy := tr(5)
	restCopy.Price = decimal.NewFromInt(1)
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: append([]market.Trade{restCopy}, window(1, 4)...)}, nil
	}}
	live := make(chan market.Trade)
	res, err := startMerge(t, src, testConfig(), live, 5, 6)
	require.NoError(t, err)
	require.Len(t, res.Trades, 6)
	assert.True(t, res.Trades[4].Price.Equal(tr(5).Price))
}

func TestMergeRetriesUntilHistoryCatchesUp(t *testing.T) {
	src := &fakeSource{respond: func(call int, _ exchange.TradeQuery) (exchange.TradePage, error) {
		if call < 3 {
			return exchange.TradePage{Trades: window(1, 5)}, nil
		}
		return exchange.TradePage{Trades: window(3, 10)}, nil
	}}
	live := make(chan market.Trade)
	res, err := startMerge(t, src, testConfig(), live, 9, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []int64{3, 4, 5, 6, 7, 8, 9, 10, 11}, ids(res.Trades))
}

func TestMergeHistoryLag(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: window(1, 5)}, nil
	}}
	live := make(chan market.Trade)
	_, err := startMerge(t, src, testConfig(), live, 20)
	var lag *HistoryLagError
	require.True(t, errors.As(err, &lag), "got %v", err)
	assert.Equal(t, 3, lag.Attempts)
	assert.Equal(t, int64(5), lag.NewestREST)
	assert.Equal(t, int64(20), lag.OldestLive)
}

func TestMergeTransportErrorsSurface(t *testing.T) {
	boom := &exchange.StatusError{Code: 503, Body: "unavailable"}
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{}, boom
	}}
	live := make(chan market.Trade)
	_, err := startMerge(t, src, testConfig(), live, 1)
	var lag *HistoryLagError
	require.True(t, errors.As(err, &lag))
	var status *exchange.StatusError
	assert.True(t, errors.As(err, &status))
	assert.Equal(t, 503, status.Code)
}

func TestMergeGapIsFatal(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: window(1, 5)}, nil
	}}
	live := make(chan market.Trade)
	_, err := startMerge(t, src, testConfig(), live, 5, 7)
	var broken *ContinuityBrokenError
	require.True(t, errors.As(err, &broken), "got %v", err)
	assert.Equal(t, int64(6), broken.Expected)
	assert.Equal(t, int64(7), broken.Got)
}

func TestStreamFirstTradeMustFollowHistory(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: window(1, 3)}, nil
	}}
	live := make(chan market.Trade)
	res, err := startMerge(t, src, testConfig(), live, 3)
	require.NoError(t, err)

	live <- tr(5)
	select {
	case err := <-res.Live.Err():
		var broken *ContinuityBrokenError
		require.True(t, errors.As(err, &broken))
		assert.Equal(t, product, broken.ProductID)
		assert.Equal(t, int64(4), broken.Expected)
		assert.Equal(t, int64(5), broken.Got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected continuity failure")
	}
	_, open := <-res.Live.Trades()
	assert.False(t, open)
}

func TestStreamPendingOverflow(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{Trades: window(1, 3)}, nil
	}}
	live := make(chan market.Trade)
	cfg := testConfig()
	cfg.MaxPending = 2
	res, err := startMerge(t, src, cfg, live, 3)
	require.NoError(t, err)

	live <- tr(4)
	assert.Equal(t, int64(4), recv(t, res.Live).TradeID)
	live <- tr(6)
	live <- tr(7)
	live <- tr(8)
	select {
	case err := <-res.Live.Err():
		var broken *ContinuityBrokenError
		require.True(t, errors.As(err, &broken))
		assert.Equal(t, int64(5), broken.Expected)
	case <-time.After(2 * time.Second):
		t.Fatal("expected overflow failure")
	}
}

func TestMergeWalksOlderPages(t *testing.T) {
	src := &fakeSource{respond: func(_ int, q exchange.TradeQuery) (exchange.TradePage, error) {
		if q.After == "" {
			return exchange.TradePage{Trades: window(6, 10), After: "6"}, nil
		}
		return exchange.TradePage{Trades: window(1, 5), After: "1"}, nil
	}}
	cfg := testConfig()
	cfg.HistoryPages = 2
	live := make(chan market.Trade)
	res, err := startMerge(t, src, cfg, live, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Trades[0].TradeID)
	assert.Len(t, res.Trades, 10)
	require.Len(t, src.queries, 2)
	assert.Equal(t, "6", src.queries[1].After)
	assert.Equal(t, 100, src.queries[1].Limit)
}

func TestMergeLiveClosed(t *testing.T) {
	src := &fakeSource{respond: func(int, exchange.TradeQuery) (exchange.TradePage, error) {
		return exchange.TradePage{}, nil
	}}
	live := make(chan market.Trade)
	close(live)
	m := NewMerger(product, src, testConfig(), zerolog.Nop())
	_, err := m.Merge(context.Background(), live)
	assert.ErrorIs(t, err, ErrLiveClosed)
}

func TestCheckContinuity(t *testing.T) {
	cases := []struct {
		last, first int64
		ok          bool
	}{
		{100, 101, true},
		{100, 100, false},
		{100, 102, false},
		{100, 99, false},
		{0, 1, true},
	}
	for _, tc := range cases {
		err := CheckContinuity(tc.last, tc.first)
		if tc.ok {
			assert.NoError(t, err, "last=%d first=%d", tc.last, tc.first)
			continue
		}
		var broken *ContinuityBrokenError
		require.True(t, errors.As(err, &broken), "last=%d first=%d", tc.last, tc.first)
		assert.Equal(t, tc.last+1, broken.Expected)
		assert.Equal(t, tc.first, broken.Got)
	}
}
