package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestIntervalRecorderSnapshotIsDeltaSinceLastRead(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)
	require.NoError(t, r.RecordValue(100))
	require.NoError(t, r.RecordValue(200))

	first, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.GetTotalCount())

	require.NoError(t, r.RecordValue(300))
	second, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.GetTotalCount())
}

func TestIntervalRecorderOutOfRangeAtHighestPlusOne(t *testing.T) {
	t.Parallel()

	const highest = int64(1000000)
	r := NewIntervalRecorderFixed(highest, 3)
	err := r.RecordValue(highest + 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestIntervalRecorderRecordCorrectedValueProducesExpectedCount(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)
	require.NoError(t, r.RecordCorrectedValue(100, 10))

	snap, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 10, snap.GetTotalCount())
}

func TestIntervalRecorderConcurrentWritersAndReader(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)

	const writers = 20
	const perWriter = 100

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				if err := r.RecordValue(int64(i + 1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	snap, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, writers*perWriter, snap.GetTotalCount())
}

func TestIntervalRecorderGetIntervalHistogramRecycledRejectsForeignBuffer(t *testing.T) {
	t.Parallel()

	r1 := NewIntervalRecorderFixed(1000000, 3)
	r2 := NewIntervalRecorderFixed(1000000, 3)

	foreign, err := r2.GetIntervalHistogram()
	require.NoError(t, err)

	_, err = r1.GetIntervalHistogramRecycled(foreign)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIntervalRecorderGetIntervalHistogramRecycledAcceptsOwnBuffer(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)
	require.NoError(t, r.RecordValue(10))
	first, err := r.GetIntervalHistogram()
	require.NoError(t, err)

	require.NoError(t, r.RecordValue(20))
	second, err := r.GetIntervalHistogramRecycled(first)
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.GetTotalCount())
}

func TestIntervalRecorderGetIntervalHistogramIntoCopiesSnapshot(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)
	require.NoError(t, r.RecordValue(10))
	require.NoError(t, r.RecordValue(20))

	target := New(1, 1000000, 3)
	require.NoError(t, r.GetIntervalHistogramInto(target))
	assert.EqualValues(t, 2, target.GetTotalCount())
}

func TestIntervalRecorderResetClearsBothBuffers(t *testing.T) {
	t.Parallel()

	r := NewIntervalRecorderFixed(1000000, 3)
	require.NoError(t, r.RecordValue(10))
	r.Reset()

	snap, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 0, snap.GetTotalCount())
}

func TestDoubleIntervalRecorderSnapshotTracksWideRange(t *testing.T) {
	t.Parallel()

	r := NewDoubleIntervalRecorder(1e9, 2)
	require.NoError(t, r.RecordValue(1e-3))
	require.NoError(t, r.RecordValue(1e6))

	snap, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.GetTotalCount())
}

func TestSingleWriterIntervalRecorderSnapshotIsDelta(t *testing.T) {
	t.Parallel()

	r := NewSingleWriterIntervalRecorder(1, 1000000, 3)
	require.NoError(t, r.RecordValue(100))

	first, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.GetTotalCount())

	second, err := r.GetIntervalHistogram()
	require.NoError(t, err)
	assert.EqualValues(t, 0, second.GetTotalCount())
}
