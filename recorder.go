package hdrhistogram

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// flipPhaseYield is the default cooperative sleep granularity flipPhase
// uses while draining writers (spec §5's "default 500 µs").
const flipPhaseYield = 500 * time.Microsecond

// defaultAutoResizeHighestTrackableValue and defaultAutoResizeRatio stand
// in for true auto-resizing, which spec §9 allows stubbing as "a
// fixed-size failure": recorders built with the auto-resize constructors
// use these as generously large fixed ceilings and return ErrOutOfRange
// for anything beyond them, rather than growing the backing array.
const (
	defaultAutoResizeHighestTrackableValue = int64(1) << 42
	defaultAutoResizeRatio                 = int64(1) << 32
)

var nextInstanceId = atomic.NewInt64(0)

// newInstanceId returns a process-wide monotonically increasing
// identifier (spec §3.4), used to reject recycle buffers from a foreign
// recorder.
func newInstanceId() int64 {
	return nextInstanceId.Inc()
}

func nowMillisec() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// IntervalRecorder lets unbounded concurrent writers call RecordValue*
// while a single reader takes consistent "delta since last read"
// snapshots via GetIntervalHistogram, without the writer path ever taking
// a lock (spec §3.4, §4.7).
type IntervalRecorder struct {
	instanceId int64
	phaser     *writerReaderPhaser
	active     atomic.Pointer[ConcurrentHistogram]
}

// NewIntervalRecorder returns a fixed-range recorder (spec §6's full
// constructor arity).
func NewIntervalRecorder(lowestDiscernibleValue, highestTrackableValue int64, significantDigits int) *IntervalRecorder {
	id := newInstanceId()
	r := &IntervalRecorder{instanceId: id, phaser: newWriterReaderPhaser()}
	r.active.Store(NewConcurrent(lowestDiscernibleValue, highestTrackableValue, significantDigits, id))
	return r
}

// NewIntervalRecorderFixed returns a recorder with lowestDiscernibleValue
// fixed at 1 (spec §6's fixed-range constructor arity).
func NewIntervalRecorderFixed(highestTrackableValue int64, significantDigits int) *IntervalRecorder {
	return NewIntervalRecorder(1, highestTrackableValue, significantDigits)
}

// NewAutoResizingIntervalRecorder returns a recorder with no explicit
// range. Per spec §9, auto-resize is stubbed rather than implemented: this
// recorder uses a generously large fixed ceiling and fails ErrOutOfRange
// beyond it instead of growing the backing array.
func NewAutoResizingIntervalRecorder(significantDigits int) *IntervalRecorder {
	return NewIntervalRecorder(1, defaultAutoResizeHighestTrackableValue, significantDigits)
}

// RecordValue records a single occurrence of v into the currently-active
// histogram (spec §4.7 step 1-3). Wait-free modulo the phaser's atomic
// fetch-add.
func (r *IntervalRecorder) RecordValue(v int64) error {
	return r.RecordValues(v, 1)
}

// RecordValues records n occurrences of v.
func (r *IntervalRecorder) RecordValues(v, n int64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	return r.active.Load().RecordValues(v, n)
}

// RecordCorrectedValue records v and synthesizes coordinated-omission
// phantom samples, all within a single phaser critical section so the
// synthesized samples land in the same snapshot as the real one.
func (r *IntervalRecorder) RecordCorrectedValue(v, expectedInterval int64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	h := r.active.Load()
	return recordWithCorrection(h.RecordValue, v, expectedInterval)
}

// GetIntervalHistogram swaps in a fresh active buffer and returns the
// buffer that was active since the previous call, now quiesced (spec
// §4.7). Ownership of the returned histogram transfers to the caller.
func (r *IntervalRecorder) GetIntervalHistogram() (*ConcurrentHistogram, error) {
	return r.getIntervalHistogram(nil)
}

// GetIntervalHistogramRecycled is GetIntervalHistogram, but reuses recycle
// (a previously-returned snapshot) instead of allocating, provided its
// instanceId and geometry match this recorder's (spec §4.7 step 2).
func (r *IntervalRecorder) GetIntervalHistogramRecycled(recycle *ConcurrentHistogram) (*ConcurrentHistogram, error) {
	if recycle == nil {
		return r.getIntervalHistogram(nil)
	}
	return r.getIntervalHistogram(recycle)
}

func (r *IntervalRecorder) getIntervalHistogram(recycle *ConcurrentHistogram) (*ConcurrentHistogram, error) {
	cur := r.active.Load()

	if recycle == nil {
		recycle = NewConcurrent(cur.lowestDiscernibleValue, cur.highestTrackableValue, int(cur.significantDigits), r.instanceId)
	} else {
		if recycle.instanceId != r.instanceId {
			return nil, validationf("recycle buffer belongs to a different recorder instance")
		}
		if !recycle.geometry.sameGeometry(cur.geometry) {
			return nil, validationf("recycle buffer geometry does not match recorder geometry")
		}
	}
	recycle.Reset()

	r.phaser.readerLock()
	defer r.phaser.readerUnlock()

	oldActive := r.active.Load()
	r.active.Store(recycle)

	now := nowMillisec()
	recycle.startTimeStampMsec.Store(now)
	oldActive.endTimeStampMsec.Store(now)

	r.phaser.flipPhase(flipPhaseYield)

	if err := oldActive.validateQuiescent(); err != nil {
		logger.Error("IntervalRecorder: quiescent buffer failed validation", zap.Error(err))
		return nil, err
	}

	return oldActive, nil
}

// GetIntervalHistogramInto copies the interval snapshot into target
// instead of handing back a fresh concurrent buffer, for callers that
// only need to query a plain Histogram (spec §6).
func (r *IntervalRecorder) GetIntervalHistogramInto(target *Histogram) error {
	snapshot, err := r.getIntervalHistogram(nil)
	if err != nil {
		return err
	}
	snapshot.snapshotInto(target)
	return nil
}

// Reset clears both the active and the not-yet-returned buffer by running
// two snapshot cycles back to back (spec §4.7).
func (r *IntervalRecorder) Reset() {
	_, _ = r.getIntervalHistogram(nil)
	_, _ = r.getIntervalHistogram(nil)
}

// SingleWriterIntervalRecorder is the single-writer optimization variant
// from spec §9's Open Question: it follows the same swap-and-flip recorder
// protocol as IntervalRecorder, in its own copy of the code, but records
// into a plain (non-atomic) Histogram, relying on the caller's
// single-writer discipline instead of per-bucket atomics. The phaser's
// atomic fetch-add at critical-section exit still provides the release
// fence a reader's flipPhase synchronizes with. One difference is
// observable: a recycled buffer is checked for matching geometry only.
// Histogram carries no instanceId, so a buffer from another recorder with
// the same geometry is accepted.
type SingleWriterIntervalRecorder struct {
	instanceId int64
	phaser     *writerReaderPhaser
	active     atomic.Pointer[Histogram]
}

// NewSingleWriterIntervalRecorder returns a fixed-range single-writer
// recorder.
func NewSingleWriterIntervalRecorder(lowestDiscernibleValue, highestTrackableValue int64, significantDigits int) *SingleWriterIntervalRecorder {
	id := newInstanceId()
	r := &SingleWriterIntervalRecorder{instanceId: id, phaser: newWriterReaderPhaser()}
	r.active.Store(New(lowestDiscernibleValue, highestTrackableValue, significantDigits))
	return r
}

// RecordValue must only be called from a single writer goroutine at a
// time; concurrent callers must external synchronize their own calls to
// RecordValue* (that is the discipline this optimization trades for
// avoiding per-bucket atomics).
func (r *SingleWriterIntervalRecorder) RecordValue(v int64) error {
	return r.RecordValues(v, 1)
}

// RecordValues records n occurrences of v.
func (r *SingleWriterIntervalRecorder) RecordValues(v, n int64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	return r.active.Load().RecordValues(v, n)
}

// RecordCorrectedValue records v and synthesizes coordinated-omission
// phantom samples.
func (r *SingleWriterIntervalRecorder) RecordCorrectedValue(v, expectedInterval int64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	h := r.active.Load()
	return recordWithCorrection(h.RecordValue, v, expectedInterval)
}

// GetIntervalHistogram returns the buffer that was active since the
// previous call, now quiesced.
func (r *SingleWriterIntervalRecorder) GetIntervalHistogram() (*Histogram, error) {
	return r.getIntervalHistogram(nil)
}

// GetIntervalHistogramRecycled reuses recycle instead of allocating,
// provided its geometry matches this recorder's. Which recorder recycle
// came from is not checked.
func (r *SingleWriterIntervalRecorder) GetIntervalHistogramRecycled(recycle *Histogram) (*Histogram, error) {
	return r.getIntervalHistogram(recycle)
}

func (r *SingleWriterIntervalRecorder) getIntervalHistogram(recycle *Histogram) (*Histogram, error) {
	cur := r.active.Load()
	if recycle == nil {
		recycle = New(cur.lowestDiscernibleValue, cur.highestTrackableValue, int(cur.significantDigits))
	} else if !recycle.geometry.sameGeometry(cur.geometry) {
		return nil, validationf("recycle buffer geometry does not match recorder geometry")
	}
	recycle.Reset()

	r.phaser.readerLock()
	defer r.phaser.readerUnlock()

	oldActive := r.active.Load()
	r.active.Store(recycle)

	now := nowMillisec()
	recycle.startTimeStampMsec = now
	oldActive.endTimeStampMsec = now

	r.phaser.flipPhase(flipPhaseYield)

	if err := oldActive.validateQuiescent(); err != nil {
		logger.Error("SingleWriterIntervalRecorder: quiescent buffer failed validation", zap.Error(err))
		return nil, err
	}

	return oldActive, nil
}

// Reset clears both buffers by running two snapshot cycles back to back.
func (r *SingleWriterIntervalRecorder) Reset() {
	_, _ = r.getIntervalHistogram(nil)
	_, _ = r.getIntervalHistogram(nil)
}

// DoubleIntervalRecorder is the double-precision analogue of
// IntervalRecorder, double-buffering DoubleHistogram instead of
// ConcurrentHistogram (spec §3.4, §4.6, §4.7, §6).
type DoubleIntervalRecorder struct {
	instanceId int64
	phaser     *writerReaderPhaser
	active     atomic.Pointer[DoubleHistogram]
}

// NewDoubleIntervalRecorder returns a recorder spanning
// highestToLowestValueRatio with significantDigits decimal digits of
// resolution (spec §6).
func NewDoubleIntervalRecorder(highestToLowestValueRatio int64, significantDigits int) *DoubleIntervalRecorder {
	id := newInstanceId()
	r := &DoubleIntervalRecorder{instanceId: id, phaser: newWriterReaderPhaser()}
	r.active.Store(NewDoubleHistogram(highestToLowestValueRatio, significantDigits, id))
	return r
}

// NewAutoResizingDoubleIntervalRecorder returns a recorder with a
// generously large fixed ratio standing in for auto-resize (spec §9).
func NewAutoResizingDoubleIntervalRecorder(significantDigits int) *DoubleIntervalRecorder {
	return NewDoubleIntervalRecorder(defaultAutoResizeRatio, significantDigits)
}

// RecordValue records a single occurrence of v.
func (r *DoubleIntervalRecorder) RecordValue(v float64) error {
	return r.RecordValues(v, 1)
}

// RecordValues records n occurrences of v.
func (r *DoubleIntervalRecorder) RecordValues(v float64, n int64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	return r.active.Load().RecordValues(v, n)
}

// RecordCorrectedValue records v and synthesizes coordinated-omission
// phantom samples at double precision.
func (r *DoubleIntervalRecorder) RecordCorrectedValue(v, expectedInterval float64) error {
	t := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(t)
	return r.active.Load().RecordCorrectedValue(v, expectedInterval)
}

// GetIntervalHistogram returns the buffer that was active since the
// previous call, now quiesced.
func (r *DoubleIntervalRecorder) GetIntervalHistogram() (*DoubleHistogram, error) {
	return r.getIntervalHistogram(nil)
}

// GetIntervalHistogramRecycled reuses recycle instead of allocating,
// provided its instanceId and highestToLowestValueRatio/significantDigits
// match this recorder's (spec §4.7 step 2).
func (r *DoubleIntervalRecorder) GetIntervalHistogramRecycled(recycle *DoubleHistogram) (*DoubleHistogram, error) {
	return r.getIntervalHistogram(recycle)
}

func (r *DoubleIntervalRecorder) getIntervalHistogram(recycle *DoubleHistogram) (*DoubleHistogram, error) {
	cur := r.active.Load()

	if recycle == nil {
		recycle = NewDoubleHistogram(cur.highestToLowestValueRatio, cur.significantDigits, r.instanceId)
	} else {
		if recycle.instanceId != r.instanceId {
			return nil, validationf("recycle buffer belongs to a different recorder instance")
		}
		if recycle.highestToLowestValueRatio != cur.highestToLowestValueRatio || recycle.significantDigits != cur.significantDigits {
			return nil, validationf("recycle buffer geometry does not match recorder geometry")
		}
	}
	recycle.Reset()

	r.phaser.readerLock()
	defer r.phaser.readerUnlock()

	oldActive := r.active.Load()
	r.active.Store(recycle)

	now := nowMillisec()
	recycle.setStartTimeStampMsec(now)
	oldActive.setEndTimeStampMsec(now)

	r.phaser.flipPhase(flipPhaseYield)

	if err := oldActive.validateQuiescent(); err != nil {
		logger.Error("DoubleIntervalRecorder: quiescent buffer failed validation", zap.Error(err))
		return nil, err
	}

	return oldActive, nil
}

// Reset clears both buffers by running two snapshot cycles back to back.
func (r *DoubleIntervalRecorder) Reset() {
	_, _ = r.getIntervalHistogram(nil)
	_, _ = r.getIntervalHistogram(nil)
}
