package hdrhistogram

import "go.uber.org/atomic"

// ConcurrentHistogram is the atomic-counter integer histogram used by the
// interval recorder (spec §4.5). Every counter is a 64-bit atomic;
// recordValue uses fetch-add, and max/min are updated via CAS loops. It
// does not need per-slot generations of its own: the phaser discipline in
// recorder.go guarantees no writer ever touches the buffer while it is
// being reset for reuse as the new inactive buffer.
type ConcurrentHistogram struct {
	geometry

	instanceId int64

	totalCount      atomic.Int64
	maxValue        atomic.Int64
	minNonZeroValue atomic.Int64
	counts          []atomic.Int64

	startTimeStampMsec atomic.Int64
	endTimeStampMsec   atomic.Int64
}

// NewConcurrent returns a concurrent histogram with the given geometry and
// a fresh instanceId. Recorders use this to build their active/inactive
// buffer pair (spec §3.4).
func NewConcurrent(lowestDiscernibleValue, highestTrackableValue int64, significantDigits int, instanceId int64) *ConcurrentHistogram {
	g := newGeometry(lowestDiscernibleValue, highestTrackableValue, significantDigits)
	h := &ConcurrentHistogram{
		geometry:   g,
		instanceId: instanceId,
		counts:     make([]atomic.Int64, g.countsArrayLength),
	}
	h.minNonZeroValue.Store(int64(1)<<63 - 1)
	return h
}

// RecordValue records a single occurrence of v. Wait-free modulo the
// underlying atomic fetch-add primitive; safe to call from any number of
// concurrent writer goroutines (spec §4.5).
func (h *ConcurrentHistogram) RecordValue(v int64) error {
	return h.RecordValues(v, 1)
}

// RecordValues records n occurrences of v.
func (h *ConcurrentHistogram) RecordValues(v, n int64) error {
	if n < 0 {
		return validationf("count must be nonnegative (was %d)", n)
	}
	idx := h.indexFor(v)
	if idx < 0 {
		return outOfRangef("value %d exceeds highestTrackableValue %d", v, h.highestTrackableValue)
	}
	h.counts[idx].Add(n)
	h.totalCount.Add(n)
	if n > 0 {
		h.updateMax(v)
		if v != 0 {
			h.updateMinNonZero(v)
		}
	}
	return nil
}

// RecordCorrectedValue records v and synthesizes coordinated-omission
// phantom samples (spec §4.3).
func (h *ConcurrentHistogram) RecordCorrectedValue(v, expectedInterval int64) error {
	return recordWithCorrection(h.RecordValue, v, expectedInterval)
}

func (h *ConcurrentHistogram) updateMax(v int64) {
	for {
		cur := h.maxValue.Load()
		if v <= cur {
			return
		}
		if h.maxValue.CAS(cur, v) {
			return
		}
	}
}

func (h *ConcurrentHistogram) updateMinNonZero(v int64) {
	for {
		cur := h.minNonZeroValue.Load()
		if v >= cur {
			return
		}
		if h.minNonZeroValue.CAS(cur, v) {
			return
		}
	}
}

// Reset zeroes every counter and restores min/max/timestamps. Callers must
// guarantee no writer is concurrently recording into this buffer — the
// interval recorder only calls Reset on a buffer it holds exclusive
// ownership of (spec §4.7).
func (h *ConcurrentHistogram) Reset() {
	h.totalCount.Store(0)
	h.maxValue.Store(0)
	h.minNonZeroValue.Store(int64(1)<<63 - 1)
	h.startTimeStampMsec.Store(0)
	h.endTimeStampMsec.Store(0)
	for i := range h.counts {
		h.counts[i].Store(0)
	}
}

// GetCountAtValue returns the count recorded in v's bucket.
func (h *ConcurrentHistogram) GetCountAtValue(v int64) int64 {
	idx := h.indexFor(v)
	if idx < 0 {
		return 0
	}
	return h.counts[idx].Load()
}

// GetTotalCount returns the number of recorded samples. May lag the true
// sum during concurrent recording; exact at quiescence (spec §3.2).
func (h *ConcurrentHistogram) GetTotalCount() int64 { return h.totalCount.Load() }

// GetMax returns the maximum recorded value's highest-equivalent value.
func (h *ConcurrentHistogram) GetMax() int64 {
	if h.totalCount.Load() == 0 {
		return 0
	}
	return h.highestEquivalentValue(h.maxValue.Load())
}

// GetMin returns the minimum nonzero recorded value's lowest-equivalent
// value.
func (h *ConcurrentHistogram) GetMin() int64 {
	min := h.minNonZeroValue.Load()
	if h.totalCount.Load() == 0 || min == int64(1)<<63-1 {
		return 0
	}
	return h.lowestEquivalentValue(min)
}

// GetMean returns the approximate arithmetic mean of recorded values.
func (h *ConcurrentHistogram) GetMean() float64 {
	total := h.totalCount.Load()
	if total == 0 {
		return 0
	}
	var sum int64
	i := h.iterator()
	for i.next() {
		if i.countAtIdx != 0 {
			sum += i.countAtIdx * h.medianEquivalentValue(i.valueFromIdx)
		}
	}
	return float64(sum) / float64(total)
}

// GetValueAtPercentile returns the value at or below which p percent of
// recorded samples fall. p must be in [0, 100].
func (h *ConcurrentHistogram) GetValueAtPercentile(p float64) (int64, error) {
	if p < 0 || p > 100 {
		return 0, outOfRangef("percentile %v not in [0, 100]", p)
	}
	if p == 100 {
		return h.GetMax(), nil
	}
	total := h.totalCount.Load()
	if total == 0 {
		return 0, nil
	}
	countAtPercentile := int64((p/100)*float64(total) + 0.5)
	if countAtPercentile < 1 {
		countAtPercentile = 1
	}
	var seen int64
	i := h.iterator()
	for i.next() {
		seen += i.countAtIdx
		if seen >= countAtPercentile {
			return h.highestEquivalentValue(i.valueFromIdx), nil
		}
	}
	return h.GetMax(), nil
}

// GetCountBetweenValues returns the sum of counts whose values fall in
// [lo, hi].
func (h *ConcurrentHistogram) GetCountBetweenValues(lo, hi int64) int64 {
	var total int64
	i := h.iterator()
	for i.next() {
		if i.countAtIdx != 0 && i.valueFromIdx >= lo && i.valueFromIdx <= hi {
			total += i.countAtIdx
		}
	}
	return total
}

// Add adds every nonzero bucket of other to the receiver, re-bucketing by
// value (spec §4.2, extended to the concurrent variant's snapshot-add use
// case — e.g. accumulating several interval snapshots into a running
// total outside the recorder).
func (h *ConcurrentHistogram) Add(other *ConcurrentHistogram) error {
	i := other.iterator()
	for i.next() {
		if i.countAtIdx == 0 {
			continue
		}
		if err := h.RecordValues(i.valueFromIdx, i.countAtIdx); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConcurrentHistogram) iterator() *concurrentIterator {
	return &concurrentIterator{h: h, subBucketIdx: -1}
}

type concurrentIterator struct {
	h                       *ConcurrentHistogram
	bucketIdx, subBucketIdx int32
	countAtIdx, countToIdx  int64
	valueFromIdx            int64
}

func (it *concurrentIterator) next() bool {
	it.subBucketIdx++
	if it.subBucketIdx >= it.h.subBucketCount {
		it.subBucketIdx = it.h.subBucketHalfCount
		it.bucketIdx++
	}
	if it.bucketIdx >= it.h.bucketCount {
		return false
	}
	idx := it.h.countsIndex(it.bucketIdx, it.subBucketIdx)
	it.countAtIdx = it.h.counts[idx].Load()
	it.countToIdx += it.countAtIdx
	it.valueFromIdx = it.h.valueFromIndex(it.bucketIdx, it.subBucketIdx)
	return true
}

// validateQuiescent sums every bucket and compares it against totalCount,
// returning ErrStateCorruption on disagreement (spec §7). Only meaningful
// once no writer can be concurrently recording — callers call this after a
// phaser drain guarantees quiescence, e.g. IntervalRecorder.GetIntervalHistogram.
func (h *ConcurrentHistogram) validateQuiescent() error {
	var sum int64
	i := h.iterator()
	for i.next() {
		sum += i.countAtIdx
	}
	if sum != h.totalCount.Load() {
		return stateCorruptionf("bucket sum %d disagrees with totalCount %d", sum, h.totalCount.Load())
	}
	return nil
}

// snapshotInto copies every bucket of h into a plain (non-concurrent)
// Histogram, used by the recorder when handing a quiesced buffer to a
// caller that wants to query it with the simpler Histogram API. h must be
// quiescent (no in-flight writer) — guaranteed by the phaser discipline
// that produced it.
func (h *ConcurrentHistogram) snapshotInto(dst *Histogram) {
	dst.geometry = h.geometry
	if cap(dst.counts) < int(h.countsArrayLength) {
		dst.counts = make([]int64, h.countsArrayLength)
	} else {
		dst.counts = dst.counts[:h.countsArrayLength]
	}
	for i := range dst.counts {
		dst.counts[i] = h.counts[i].Load()
	}
	dst.totalCount = h.totalCount.Load()
	dst.maxValue = h.maxValue.Load()
	dst.minNonZeroValue = h.minNonZeroValue.Load()
	dst.startTimeStampMsec = h.startTimeStampMsec.Load()
	dst.endTimeStampMsec = h.endTimeStampMsec.Load()
}
