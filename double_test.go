package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleHistogramWideRatioShift(t *testing.T) {
	t.Parallel()

	d := NewDoubleHistogram(1e9, 2, 1)
	require.NoError(t, d.RecordValue(1e-3))
	require.NoError(t, d.RecordValue(1e6))

	assert.EqualValues(t, 2, d.GetTotalCount())
	assert.InDelta(t, 1e6, d.GetMax(), 1e6*0.01)
}

func TestDoubleHistogramRejectsNegative(t *testing.T) {
	t.Parallel()

	d := NewDoubleHistogram(1e6, 3, 1)
	err := d.RecordValue(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDoubleHistogramZeroRecordedWithoutShifting(t *testing.T) {
	t.Parallel()

	d := NewDoubleHistogram(1e6, 3, 1)
	require.NoError(t, d.RecordValue(0))
	assert.EqualValues(t, 1, d.GetTotalCount())
	assert.EqualValues(t, 0, d.state.Load().shift)
}

func TestDoubleHistogramConstructorPanicsOnSmallRatio(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewDoubleHistogram(1, 3, 1)
	})
}

func TestDoubleHistogramPercentileTracksMagnitude(t *testing.T) {
	t.Parallel()

	d := NewDoubleHistogram(1e6, 3, 1)
	for _, v := range []float64{1.0, 2.0, 3.0, 4.0, 5.0} {
		require.NoError(t, d.RecordValue(v))
	}

	p50, err := d.GetValueAtPercentile(50)
	require.NoError(t, err)
	assert.Greater(t, p50, 0.0)
	assert.LessOrEqual(t, p50, 5.0*1.01)
}

func TestDoubleHistogramResetClearsShiftAndCounts(t *testing.T) {
	t.Parallel()

	d := NewDoubleHistogram(1e9, 3, 1)
	require.NoError(t, d.RecordValue(1e-3))
	d.Reset()

	assert.EqualValues(t, 0, d.GetTotalCount())
	assert.EqualValues(t, 0, d.state.Load().shift)
}
