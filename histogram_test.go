package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramRecordAndQuery(t *testing.T) {
	t.Parallel()

	h := New(1, 3600000000, 3)
	for _, v := range []int64{1000, 2000, 3000, 4000, 5000, 100000} {
		require.NoError(t, h.RecordValue(v))
	}

	assert.EqualValues(t, 6, h.GetTotalCount())
	assert.InDelta(t, 100000, h.GetMax(), 1000)
	assert.InDelta(t, 1000, h.GetMin(), 10)

	p50, err := h.GetValueAtPercentile(50)
	require.NoError(t, err)
	assert.Greater(t, p50, int64(0))

	p100, err := h.GetValueAtPercentile(100)
	require.NoError(t, err)
	assert.Equal(t, h.GetMax(), p100)
}

func TestHistogramRecordValueOutOfRange(t *testing.T) {
	t.Parallel()

	h := NewFixed(1000, 3)
	err := h.RecordValue(1001)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestHistogramRecordValuesNegativeCount(t *testing.T) {
	t.Parallel()

	h := NewFixed(1000, 3)
	err := h.RecordValues(5, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHistogramGetValueAtPercentileInvalid(t *testing.T) {
	t.Parallel()

	h := NewFixed(1000, 3)
	_, err := h.GetValueAtPercentile(101)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestHistogramResetClearsState(t *testing.T) {
	t.Parallel()

	h := NewFixed(1000, 3)
	require.NoError(t, h.RecordValue(500))
	h.Reset()
	assert.EqualValues(t, 0, h.GetTotalCount())
	assert.EqualValues(t, 0, h.GetMax())
	assert.EqualValues(t, 0, h.GetMin())
}

func TestHistogramAddMergesBuckets(t *testing.T) {
	t.Parallel()

	a := NewFixed(100000, 3)
	b := NewFixed(100000, 3)
	require.NoError(t, a.RecordValue(100))
	require.NoError(t, b.RecordValue(200))
	require.NoError(t, b.RecordValue(300))

	require.NoError(t, a.Add(b))
	assert.EqualValues(t, 3, a.GetTotalCount())
}

func TestHistogramAddOutOfRange(t *testing.T) {
	t.Parallel()

	a := NewFixed(1000, 3)
	b := NewFixed(100000, 3)
	require.NoError(t, b.RecordValue(50000))

	err := a.Add(b)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestHistogramSubtractUnderflow(t *testing.T) {
	t.Parallel()

	a := NewFixed(100000, 3)
	b := NewFixed(100000, 3)
	require.NoError(t, a.RecordValue(500))
	require.NoError(t, b.RecordValue(500))
	require.NoError(t, b.RecordValue(500))

	err := a.Subtract(b)
	assert.ErrorIs(t, err, ErrUnderflow)
	// a failed subtract must leave the receiver untouched
	assert.EqualValues(t, 1, a.GetCountAtValue(a.lowestEquivalentValue(500)))
}

func TestHistogramSubtractRemovesCounts(t *testing.T) {
	t.Parallel()

	a := NewFixed(100000, 3)
	b := NewFixed(100000, 3)
	require.NoError(t, a.RecordValue(500))
	require.NoError(t, a.RecordValue(500))
	require.NoError(t, b.RecordValue(500))

	require.NoError(t, a.Subtract(b))
	assert.EqualValues(t, 1, a.GetTotalCount())
}

func TestHistogramCumulativeDistributionReachesTotal(t *testing.T) {
	t.Parallel()

	h := NewFixed(1000000, 3)
	for i := int64(1); i <= 1000; i++ {
		require.NoError(t, h.RecordValue(i))
	}
	dist := h.CumulativeDistribution()
	require.NotEmpty(t, dist)
	last := dist[len(dist)-1]
	assert.Equal(t, 100.0, last.Quantile)
	assert.EqualValues(t, 1000, last.Count)
}

func TestHistogramByteSizeGrowsWithRange(t *testing.T) {
	t.Parallel()

	small := NewFixed(1000, 3)
	large := NewFixed(1000000000, 3)
	assert.Less(t, small.ByteSize(), large.ByteSize())
}
