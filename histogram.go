package hdrhistogram

import "math"

// Bracket is a single point of a cumulative distribution, as returned by
// CumulativeDistribution.
type Bracket struct {
	Quantile float64
	Count    int64
}

// Histogram is the fixed-memory, logarithmic-bucket counter described by
// spec §3.2/§4.2. It is not safe for concurrent use; see ConcurrentHistogram
// for the atomic-counter variant used by the interval recorder.
type Histogram struct {
	geometry

	totalCount      int64
	maxValue        int64
	minNonZeroValue int64
	counts          []int64

	startTimeStampMsec int64
	endTimeStampMsec   int64
}

// New returns a histogram capable of tracking values in
// [lowestDiscernibleValue, highestTrackableValue] with significantDigits
// decimal digits of resolution (spec §6's "full" constructor arity).
func New(lowestDiscernibleValue, highestTrackableValue int64, significantDigits int) *Histogram {
	g := newGeometry(lowestDiscernibleValue, highestTrackableValue, significantDigits)
	return &Histogram{
		geometry:        g,
		minNonZeroValue: math.MaxInt64,
		counts:          make([]int64, g.countsArrayLength),
	}
}

// NewFixed returns a histogram with lowestDiscernibleValue fixed at 1
// (spec §6's "fixed-range" constructor arity).
func NewFixed(highestTrackableValue int64, significantDigits int) *Histogram {
	return New(1, highestTrackableValue, significantDigits)
}

// ByteSize returns an estimate of the memory allocated to the histogram,
// in bytes. Does not account for slice-header overhead.
func (h *Histogram) ByteSize() int {
	return 6*8 + 5*4 + len(h.counts)*8
}

// RecordValue records a single occurrence of v (spec §4.2).
func (h *Histogram) RecordValue(v int64) error {
	return h.RecordValues(v, 1)
}

// RecordValues records n occurrences of v (spec §4.2's
// recordValueWithCount). n must be nonnegative.
func (h *Histogram) RecordValues(v, n int64) error {
	if n < 0 {
		return validationf("count must be nonnegative (was %d)", n)
	}
	idx := h.indexFor(v)
	if idx < 0 {
		return outOfRangef("value %d exceeds highestTrackableValue %d", v, h.highestTrackableValue)
	}
	h.counts[idx] += n
	h.totalCount += n
	if n > 0 {
		if v > h.maxValue {
			h.maxValue = v
		}
		if v != 0 && v < h.minNonZeroValue {
			h.minNonZeroValue = v
		}
	}
	return nil
}

// RecordCorrectedValue records v, then synthesizes the coordinated-omission
// phantom samples implied by expectedInterval (spec §4.3). See
// correction.go.
func (h *Histogram) RecordCorrectedValue(v, expectedInterval int64) error {
	return recordWithCorrection(h.RecordValue, v, expectedInterval)
}

// Reset zeroes all counters and restores min/max/timestamps to their
// initial state (spec §4.2).
func (h *Histogram) Reset() {
	h.totalCount = 0
	h.maxValue = 0
	h.minNonZeroValue = math.MaxInt64
	h.startTimeStampMsec = 0
	h.endTimeStampMsec = 0
	for i := range h.counts {
		h.counts[i] = 0
	}
}

// Add adds every nonzero bucket of other to the receiver, re-bucketing by
// value rather than by index since the two histograms' geometries may
// differ (spec §4.2). Returns ErrOutOfRange if a value in other exceeds
// the receiver's highestTrackableValue.
func (h *Histogram) Add(other *Histogram) error {
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

// Merge is an alias for Add retained from the teacher's naming for
// drop-in familiarity; unlike the historical Merge it never silently
// drops out-of-range samples.
func (h *Histogram) Merge(other *Histogram) error {
	return h.Add(other)
}

// Subtract removes every nonzero bucket of other from the receiver,
// re-bucketing by value. Returns ErrUnderflow if any bucket would go
// negative, leaving the receiver unmodified on error.
func (h *Histogram) Subtract(other *Histogram) error {
	// Validate before mutating so a failing subtract never leaves the
	// receiver in a partially-updated state (spec §7: "no partial state
	// change").
	deltas := make(map[int32]int64, other.geometry.countsArrayLength)
	i := other.iterator()
	for i.next() {
		if i.countAtIdx == 0 {
			continue
		}
		idx := h.indexFor(i.valueFromIdx)
		if idx < 0 {
			return outOfRangef("value %d exceeds highestTrackableValue %d", i.valueFromIdx, h.highestTrackableValue)
		}
		if h.counts[idx]+deltas[idx]-i.countAtIdx < 0 {
			return underflowf("bucket for value %d would go negative", i.valueFromIdx)
		}
		deltas[idx] -= i.countAtIdx
	}
	for idx, d := range deltas {
		h.counts[idx] += d
		h.totalCount += d
	}
	return nil
}

// GetCountAtValue returns the count recorded in v's bucket.
func (h *Histogram) GetCountAtValue(v int64) int64 {
	idx := h.indexFor(v)
	if idx < 0 {
		return 0
	}
	return h.counts[idx]
}

// GetCountBetweenValues returns the sum of counts whose values fall in
// [lo, hi].
func (h *Histogram) GetCountBetweenValues(lo, hi int64) int64 {
	var total int64
	i := h.iterator()
	for i.next() {
		if i.countAtIdx != 0 && i.valueFromIdx >= lo && i.valueFromIdx <= hi {
			total += i.countAtIdx
		}
	}
	return total
}

// GetTotalCount returns the number of recorded samples.
func (h *Histogram) GetTotalCount() int64 { return h.totalCount }

// GetMax returns the maximum recorded value's highest-equivalent value, or
// 0 if nothing has been recorded.
func (h *Histogram) GetMax() int64 {
	if h.totalCount == 0 {
		return 0
	}
	return h.highestEquivalentValue(h.maxValue)
}

// GetMin returns the minimum nonzero recorded value's lowest-equivalent
// value, or 0 if nothing has been recorded.
func (h *Histogram) GetMin() int64 {
	if h.totalCount == 0 || h.minNonZeroValue == math.MaxInt64 {
		return 0
	}
	return h.lowestEquivalentValue(h.minNonZeroValue)
}

// GetMean returns the approximate arithmetic mean of recorded values.
func (h *Histogram) GetMean() float64 {
	if h.totalCount == 0 {
		return 0
	}
	var total int64
	i := h.iterator()
	for i.next() {
		if i.countAtIdx != 0 {
			total += i.countAtIdx * h.medianEquivalentValue(i.valueFromIdx)
		}
	}
	return float64(total) / float64(h.totalCount)
}

// GetStdDeviation returns the approximate standard deviation of recorded
// values.
func (h *Histogram) GetStdDeviation() float64 {
	if h.totalCount == 0 {
		return 0
	}
	mean := h.GetMean()
	var geometricDevTotal float64
	i := h.iterator()
	for i.next() {
		if i.countAtIdx != 0 {
			dev := float64(h.medianEquivalentValue(i.valueFromIdx)) - mean
			geometricDevTotal += dev * dev * float64(i.countAtIdx)
		}
	}
	return math.Sqrt(geometricDevTotal / float64(h.totalCount))
}

// GetValueAtPercentile returns the value at or below which p percent of
// recorded samples fall (spec §4.2). p must be in [0, 100].
func (h *Histogram) GetValueAtPercentile(p float64) (int64, error) {
	if p < 0 || p > 100 {
		return 0, outOfRangef("percentile %v not in [0, 100]", p)
	}
	if p == 100 {
		return h.GetMax(), nil
	}
	if h.totalCount == 0 {
		return 0, nil
	}
	countAtPercentile := int64((p/100)*float64(h.totalCount) + 0.5)
	if countAtPercentile < 1 {
		countAtPercentile = 1
	}
	var total int64
	i := h.iterator()
	for i.next() {
		total += i.countAtIdx
		if total >= countAtPercentile {
			return h.highestEquivalentValue(i.valueFromIdx), nil
		}
	}
	return h.GetMax(), nil
}

// CumulativeDistribution returns an ordered list of (quantile, count)
// brackets describing the recorded distribution. Pretty-printing and
// on-disk encodings of this are external collaborators (spec §1); this is
// the raw query primitive they would consume.
func (h *Histogram) CumulativeDistribution() []Bracket {
	var result []Bracket
	i := h.percentileIterator(1)
	for i.next() {
		result = append(result, Bracket{Quantile: i.percentile, Count: i.countToIdx})
	}
	return result
}

// validateQuiescent sums every bucket and compares it against totalCount,
// returning ErrStateCorruption on disagreement (spec §7). Meant to be
// called once a buffer is known to be quiescent, e.g. after a recorder's
// phaser drain.
func (h *Histogram) validateQuiescent() error {
	var sum int64
	for _, c := range h.counts {
		sum += c
	}
	if sum != h.totalCount {
		return stateCorruptionf("bucket sum %d disagrees with totalCount %d", sum, h.totalCount)
	}
	return nil
}

func (h *Histogram) iterator() *histIterator {
	return &histIterator{h: h, subBucketIdx: -1}
}

func (h *Histogram) percentileIterator(ticksPerHalfDistance int32) *percentileIterator {
	return &percentileIterator{
		histIterator:         histIterator{h: h, subBucketIdx: -1},
		ticksPerHalfDistance: ticksPerHalfDistance,
	}
}

// histIterator walks every counts[] slot in ascending value order,
// reporting only the value and count at each step; it does not skip
// zero-count slots (callers that want only occupied buckets should check
// countAtIdx != 0, matching the teacher's rIterator split).
type histIterator struct {
	h                       *Histogram
	bucketIdx, subBucketIdx int32
	countAtIdx, countToIdx  int64
	valueFromIdx            int64
	highestEquivalentValue  int64
}

func (it *histIterator) next() bool {
	if it.countToIdx >= it.h.totalCount {
		return false
	}
	it.subBucketIdx++
	if it.subBucketIdx >= it.h.subBucketCount {
		it.subBucketIdx = it.h.subBucketHalfCount
		it.bucketIdx++
	}
	if it.bucketIdx >= it.h.bucketCount {
		return false
	}
	idx := it.h.countsIndex(it.bucketIdx, it.subBucketIdx)
	it.countAtIdx = it.h.counts[idx]
	it.countToIdx += it.countAtIdx
	it.valueFromIdx = it.h.valueFromIndex(it.bucketIdx, it.subBucketIdx)
	it.highestEquivalentValue = it.h.highestEquivalentValue(it.valueFromIdx)
	return true
}

// percentileIterator walks occupied buckets, reporting the percentile
// reached at each step with exponentially-increasing granularity near 100%
// (the teacher's pIterator).
type percentileIterator struct {
	histIterator
	seenLastValue          bool
	ticksPerHalfDistance   int32
	percentileToIteratorTo float64
	percentile             float64
}

func (p *percentileIterator) next() bool {
	if !(p.countToIdx < p.h.totalCount) {
		if p.seenLastValue {
			return false
		}
		p.seenLastValue = true
		p.percentile = 100
		return true
	}

	if p.subBucketIdx == -1 && !p.histIterator.next() {
		return false
	}

	for {
		currentPercentile := (100.0 * float64(p.countToIdx)) / float64(p.h.totalCount)
		if p.countAtIdx != 0 && p.percentileToIteratorTo <= currentPercentile {
			p.percentile = p.percentileToIteratorTo
			halfDistance := math.Pow(2, (math.Log(100.0/(100.0-p.percentileToIteratorTo))/math.Log(2))+1)
			percentileReportingTicks := float64(p.ticksPerHalfDistance) * halfDistance
			p.percentileToIteratorTo += 100.0 / percentileReportingTicks
			return true
		}
		if !p.histIterator.next() {
			return false
		}
	}
}
