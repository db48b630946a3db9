package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrentHistogramParallelWriters(t *testing.T) {
	t.Parallel()

	h := NewConcurrent(1, 1000000, 3, 1)

	const writers = 50
	const perWriter = 200

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				if err := h.RecordValue(int64(w + 1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, writers*perWriter, h.GetTotalCount())
}

func TestConcurrentHistogramMaxMinUnderContention(t *testing.T) {
	t.Parallel()

	h := NewConcurrent(1, 1000000, 3, 1)

	var g errgroup.Group
	for _, v := range []int64{10, 5000, 1, 999999, 42} {
		v := v
		g.Go(func() error {
			return h.RecordValue(v)
		})
	}
	require.NoError(t, g.Wait())

	assert.InDelta(t, 999999, h.GetMax(), 1000)
	assert.InDelta(t, 1, h.GetMin(), 1)
}

func TestConcurrentHistogramSnapshotIntoIsConsistent(t *testing.T) {
	t.Parallel()

	h := NewConcurrent(1, 1000000, 3, 1)
	for i := int64(1); i <= 100; i++ {
		require.NoError(t, h.RecordValue(i))
	}

	dst := New(1, 1000000, 3)
	h.snapshotInto(dst)

	assert.EqualValues(t, 100, dst.GetTotalCount())
	assert.Equal(t, h.GetMax(), dst.GetMax())
}

func TestConcurrentHistogramGetValueAtPercentileBounds(t *testing.T) {
	t.Parallel()

	h := NewConcurrent(1, 1000000, 3, 1)
	for i := int64(1); i <= 1000; i++ {
		require.NoError(t, h.RecordValue(i))
	}

	p100, err := h.GetValueAtPercentile(100)
	require.NoError(t, err)
	assert.Equal(t, h.GetMax(), p100)

	_, err = h.GetValueAtPercentile(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
