package candle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlefeed-go/internal/market"
)

func candleAt(bucket int64) market.Candle {
	return market.Candle{ProductID: "ETH-USD", Bucket: bucket}
}

func buckets(cs []market.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Bucket
	}
	return out
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory("ETH-USD", 3)
	for b := int64(1); b <= 5; b++ {
		require.NoError(t, h.Append(candleAt(b)))
		assert.LessOrEqual(t, h.Len(), h.Cap())
	}
	assert.Equal(t, []int64{3, 4, 5}, buckets(h.Snapshot()))

	require.NoError(t, h.Append(candleAt(6)))
	assert.Equal(t, []int64{4, 5, 6}, buckets(h.Snapshot()))

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, int64(6), last.Bucket)
}

func TestHistoryRejectsDuplicateBuckets(t *testing.T) {
	h := NewHistory("ETH-USD", 3)
	require.NoError(t, h.Append(candleAt(10)))
	assert.True(t, errors.Is(h.Append(candleAt(10)), ErrBucketNotIncreasing))
	assert.True(t, errors.Is(h.Append(candleAt(9)), ErrBucketNotIncreasing))
	assert.Equal(t, 1, h.Len())
}

func TestHistorySeedKeepsNewest(t *testing.T) {
	h := NewHistory("ETH-USD", 2)
	require.NoError(t, h.Append(candleAt(1)))
	require.NoError(t, h.Seed([]market.Candle{candleAt(5), candleAt(6), candleAt(7)}))
	assert.Equal(t, []int64{6, 7}, buckets(h.Snapshot()))

	require.NoError(t, h.Append(candleAt(8)))
	assert.Equal(t, []int64{7, 8}, buckets(h.Snapshot()))

	err := h.Seed([]market.Candle{candleAt(3), candleAt(3)})
	assert.True(t, errors.Is(err, ErrBucketNotIncreasing))
	assert.Equal(t, []int64{7, 8}, buckets(h.Snapshot()))
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory("ETH-USD", 0)
	assert.Equal(t, 1, h.Cap())
	_, ok := h.Last()
	assert.False(t, ok)
	assert.Empty(t, h.Snapshot())
}
