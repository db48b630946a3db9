package hdrhistogram

import (
	"math"

	"go.uber.org/atomic"
)

// doubleState is the (shift, integer histogram) pair a DoubleHistogram
// reads and swaps atomically: shift alone, or hist alone, is never a
// coherent snapshot on its own, so the two always travel together behind
// one pointer — the same "atomic.Pointer[state]" shape used elsewhere in
// the ecosystem for a small immutable struct swapped as a unit.
type doubleState struct {
	shift int32
	hist  *ConcurrentHistogram
}

// DoubleHistogram is the sliding-range floating-point wrapper described by
// spec §3.3/§4.6: an embedded concurrent integer histogram over the fixed
// integer range [1, R), plus a scaling shift that tracks which
// power-of-two window of doubles that integer range currently represents.
//
// The writer path (RecordValue*) never takes a lock: it loads the current
// state, and if the value fits the current window, records into it with
// the same wait-free fetch-add ConcurrentHistogram itself uses. Growing
// the window is the rare path and is reader/phaser-driven, exactly like
// the interval recorder's buffer swap (spec §4.4, §4.7) — it is the one
// non-local mutation this type performs, and it is never executed inline
// on a writer's hot path.
type DoubleHistogram struct {
	highestToLowestValueRatio int64
	significantDigits         int
	instanceId                int64

	phaser *writerReaderPhaser
	state  atomic.Pointer[doubleState]
}

// NewDoubleHistogram returns a double histogram spanning the given
// highestToLowestValueRatio with significantDigits decimal digits of
// resolution (spec §3.3, §6).
func NewDoubleHistogram(highestToLowestValueRatio int64, significantDigits int, instanceId int64) *DoubleHistogram {
	if highestToLowestValueRatio < 2 {
		panic(errorf("highestToLowestValueRatio must be >= 2 (was %d)", highestToLowestValueRatio))
	}
	d := &DoubleHistogram{
		highestToLowestValueRatio: highestToLowestValueRatio,
		significantDigits:         significantDigits,
		instanceId:                instanceId,
		phaser:                    newWriterReaderPhaser(),
	}
	d.state.Store(&doubleState{
		shift: 0,
		hist:  NewConcurrent(1, highestToLowestValueRatio, significantDigits, instanceId),
	})
	return d
}

// RecordValue records a single occurrence of v (spec §4.6). v must be
// nonnegative.
func (d *DoubleHistogram) RecordValue(v float64) error {
	return d.RecordValues(v, 1)
}

// RecordValues records n occurrences of v. The common case — v already
// fits the current window — is wait-free: one phaser critical section
// around a single ConcurrentHistogram record, no lock taken. Only when v
// falls outside the current window does this call out to growWindowFor,
// which takes the phaser's reader lock to grow the window exactly once
// (spec §4.6 step 3) before the value is retried.
func (d *DoubleHistogram) RecordValues(v float64, n int64) error {
	if v < 0 {
		return outOfRangef("value %v is negative", v)
	}

	for {
		tok := d.phaser.writerCriticalSectionEnter()
		st := d.state.Load()
		if v == 0 || fitsWindow(v, st.shift, d.highestToLowestValueRatio) {
			scaled := scaleToInteger(v, st.shift)
			err := st.hist.RecordValues(scaled, n)
			d.phaser.writerCriticalSectionExit(tok)
			return err
		}
		d.phaser.writerCriticalSectionExit(tok)

		if err := d.growWindowFor(v); err != nil {
			return err
		}
		// Loop back and retry now that the window has grown to fit v.
	}
}

// RecordCorrectedValue records v and synthesizes coordinated-omission
// phantom samples at the double precision (spec §4.3, §4.6).
func (d *DoubleHistogram) RecordCorrectedValue(v, expectedInterval float64) error {
	if err := d.RecordValue(v); err != nil {
		return err
	}
	if expectedInterval <= 0 || v <= expectedInterval {
		return nil
	}
	missing := v - expectedInterval
	for missing >= expectedInterval {
		if err := d.RecordValue(missing); err != nil {
			return err
		}
		missing -= expectedInterval
	}
	return nil
}

// fitsWindow reports whether v maps into the integer histogram's
// trackable range [1, ratio) under shift, i.e. v/2^shift lands in
// [1, ratio).
func fitsWindow(v float64, shift int32, ratio int64) bool {
	lowCeil := math.Ldexp(1, int(shift))
	return v >= lowCeil && v < lowCeil*float64(ratio)
}

// scaleToInteger converts v into the integer histogram's current [1, R)
// window under shift.
func scaleToInteger(v float64, shift int32) int64 {
	return int64(v / math.Ldexp(1, int(shift)))
}

// growShiftToFit widens or slides shift, one power-of-two step at a time
// anchored at the window currently in use, until v/2^shift lands in
// [1, ratio). Starting from the current shift rather than re-deriving it
// from v's magnitude alone means a value that already fits the configured
// range keeps its full resolution instead of collapsing to the bottom of
// the integer window.
func growShiftToFit(v float64, shift int32, ratio int64) int32 {
	lowCeil := math.Ldexp(1, int(shift))
	if v < lowCeil {
		for v < lowCeil {
			shift--
			lowCeil = math.Ldexp(1, int(shift))
		}
		return shift
	}
	highCeil := lowCeil * float64(ratio)
	for v >= highCeil {
		shift++
		lowCeil = math.Ldexp(1, int(shift))
		highCeil = lowCeil * float64(ratio)
	}
	return shift
}

// growWindowFor grows the current window to fit v, rescaling every
// occupied bucket of the integer histogram into a freshly built
// replacement (spec §4.6 step 3). This is the only place a DoubleHistogram
// write touches a lock, and it is the phaser's reader lock, not a plain
// mutex: concurrent callers serialize here the same way
// IntervalRecorder.getIntervalHistogram serializes buffer swaps
// (recorder.go), and the trailing flipPhase drains any writer that had
// already loaded the pre-swap state before the Store below, so by the
// time this returns nothing can still be recording into the histogram
// being replaced.
func (d *DoubleHistogram) growWindowFor(v float64) error {
	d.phaser.readerLock()
	defer d.phaser.readerUnlock()

	st := d.state.Load()
	if fitsWindow(v, st.shift, d.highestToLowestValueRatio) {
		return nil // a racing writer already grew the window for us
	}

	newShift := growShiftToFit(v, st.shift, d.highestToLowestValueRatio)
	replacement, err := rescaleHistogram(st.hist, d.highestToLowestValueRatio, d.significantDigits, newShift-st.shift)
	if err != nil {
		return err
	}

	d.state.Store(&doubleState{shift: newShift, hist: replacement})
	d.phaser.flipPhase(flipPhaseYield)
	return nil
}

// rescaleHistogram copies every occupied bucket of old into a fresh
// ConcurrentHistogram with the same geometry, rescaling each value by the
// shift delta between the old and new window.
func rescaleHistogram(old *ConcurrentHistogram, ratio int64, significantDigits int, delta int32) (*ConcurrentHistogram, error) {
	replacement := NewConcurrent(1, ratio, significantDigits, old.instanceId)

	// shift is growing by delta, so each stored integer value
	// (v / 2^oldShift) must shrink by the same factor to keep representing
	// the same double value under the new shift.
	scale := math.Ldexp(1, -int(delta))
	i := old.iterator()
	for i.next() {
		if i.countAtIdx == 0 {
			continue
		}
		rescaledValue := int64(float64(i.valueFromIdx) * scale)
		if rescaledValue < 1 && i.valueFromIdx != 0 {
			rescaledValue = 1
		}
		if err := replacement.RecordValues(rescaledValue, i.countAtIdx); err != nil {
			return nil, outOfRangef("double histogram shift by %d would push a value out of [1, %d)", delta, ratio)
		}
	}
	replacement.startTimeStampMsec.Store(old.startTimeStampMsec.Load())
	replacement.endTimeStampMsec.Store(old.endTimeStampMsec.Load())
	return replacement, nil
}

// GetTotalCount returns the number of recorded samples.
func (d *DoubleHistogram) GetTotalCount() int64 {
	return d.state.Load().hist.GetTotalCount()
}

// GetValueAtPercentile returns the value at or below which p percent of
// recorded samples fall, translated back into double precision.
func (d *DoubleHistogram) GetValueAtPercentile(p float64) (float64, error) {
	st := d.state.Load()
	iv, err := st.hist.GetValueAtPercentile(p)
	if err != nil {
		return 0, err
	}
	return float64(iv) * math.Ldexp(1, int(st.shift)), nil
}

// GetMax returns the maximum recorded value, translated back into double
// precision.
func (d *DoubleHistogram) GetMax() float64 {
	st := d.state.Load()
	return float64(st.hist.GetMax()) * math.Ldexp(1, int(st.shift))
}

// GetMin returns the minimum nonzero recorded value, translated back into
// double precision.
func (d *DoubleHistogram) GetMin() float64 {
	st := d.state.Load()
	return float64(st.hist.GetMin()) * math.Ldexp(1, int(st.shift))
}

// Reset zeroes the embedded integer histogram and resets the shift.
// Callers must guarantee no writer is concurrently recording, the same
// contract ConcurrentHistogram.Reset documents.
func (d *DoubleHistogram) Reset() {
	st := d.state.Load()
	st.hist.Reset()
	d.state.Store(&doubleState{shift: 0, hist: st.hist})
}

// validateQuiescent sums every bucket of the embedded integer histogram
// and compares it against totalCount, returning ErrStateCorruption on
// disagreement (spec §7). Only meaningful once no writer can be
// concurrently recording; recorder.go calls this after a phaser drain
// guarantees that.
func (d *DoubleHistogram) validateQuiescent() error {
	return d.state.Load().hist.validateQuiescent()
}

// setStartTimeStampMsec and setEndTimeStampMsec are used by
// DoubleIntervalRecorder to stamp the active/inactive buffers across a
// swap (spec §4.7 step 6).
func (d *DoubleHistogram) setStartTimeStampMsec(t int64) {
	d.state.Load().hist.startTimeStampMsec.Store(t)
}

func (d *DoubleHistogram) setEndTimeStampMsec(t int64) {
	d.state.Load().hist.endTimeStampMsec.Store(t)
}

// snapshotInto is the double-variant analogue of
// ConcurrentHistogram.snapshotInto: it copies d's ratio, significant
// digits, shift and buckets into dst.
func (d *DoubleHistogram) snapshotInto(dst *DoubleHistogram) {
	st := d.state.Load()
	dstSt := dst.state.Load()
	dst.highestToLowestValueRatio = d.highestToLowestValueRatio
	dst.significantDigits = d.significantDigits
	st.hist.snapshotIntoConcurrent(dstSt.hist)
	dst.state.Store(&doubleState{shift: st.shift, hist: dstSt.hist})
}

// snapshotIntoConcurrent copies every bucket of h into dst, both
// ConcurrentHistogram instances. DoubleHistogram.snapshotInto uses it to
// copy the embedded integer histogram, where the destination is a
// concurrent histogram rather than a plain Histogram.
func (h *ConcurrentHistogram) snapshotIntoConcurrent(dst *ConcurrentHistogram) {
	dst.geometry = h.geometry
	if len(dst.counts) != len(h.counts) {
		dst.counts = make([]atomic.Int64, len(h.counts))
	}
	for i := range h.counts {
		dst.counts[i].Store(h.counts[i].Load())
	}
	dst.totalCount.Store(h.totalCount.Load())
	dst.maxValue.Store(h.maxValue.Load())
	dst.minNonZeroValue.Store(h.minNonZeroValue.Load())
	dst.startTimeStampMsec.Store(h.startTimeStampMsec.Load())
	dst.endTimeStampMsec.Store(h.endTimeStampMsec.Load())
}
