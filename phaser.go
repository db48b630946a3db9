package hdrhistogram

import (
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// phaserStallWarnThreshold bounds how long flipPhase will spin/yield
// before it logs a Warn-level diagnostic. It does not bound correctness:
// flipPhase still waits for every pre-flip writer to exit no matter how
// long that takes (spec §4.4 — flipPhase is not cancellable).
const phaserStallWarnThreshold = 100 * time.Millisecond

const epochMin = int64(math.MinInt64)

// writerReaderPhaser is the wait-free-writer / reader-blocking
// synchronization primitive from spec §4.4. Writers call enter/exit around
// a critical section; at no point does a writer take a lock. A single
// reader calls readerLock/flipPhase/readerUnlock to wait until every
// writer that entered before the flip has exited, without blocking new
// writers entering the next phase.
//
// Each phase (even/odd) owns a dedicated end-epoch counter. A flip resets
// startEpoch and the *incoming* phase's end-epoch counter to the same
// fresh base (0 for even, epochMin for odd) so the two always stay in
// lockstep: every writer token handed out during a phase, and every
// increment of that phase's end-epoch on exit, is counted from that same
// base, so "end-epoch caught up to the start-epoch snapshot taken at
// flip time" is a precise drain signal.
type writerReaderPhaser struct {
	startEpoch   atomic.Int64
	evenEndEpoch atomic.Int64
	oddEndEpoch  atomic.Int64
	readerMu     sync.Mutex
}

func newWriterReaderPhaser() *writerReaderPhaser {
	p := &writerReaderPhaser{}
	p.oddEndEpoch.Store(epochMin)
	return p
}

// writerCriticalSectionEnter is wait-free on platforms with a wait-free
// atomic fetch-add. It returns a token that writerCriticalSectionExit must
// be passed, whose sign selects which end-epoch counter this writer will
// increment on exit.
func (p *writerReaderPhaser) writerCriticalSectionEnter() int64 {
	return p.startEpoch.Add(1) - 1 // fetch-add semantics: return the pre-increment value
}

// writerCriticalSectionExit must run on every path out of the critical
// section, including panics — callers should defer it immediately after a
// successful enter.
func (p *writerReaderPhaser) writerCriticalSectionExit(token int64) {
	if token < 0 {
		p.oddEndEpoch.Add(1)
	} else {
		p.evenEndEpoch.Add(1)
	}
}

// readerLock/readerUnlock serialize flipPhase callers; writers never
// contend on this mutex.
func (p *writerReaderPhaser) readerLock() {
	p.readerMu.Lock()
}

func (p *writerReaderPhaser) readerUnlock() {
	p.readerMu.Unlock()
}

// flipPhase must only be called with the reader lock held. It returns
// once every writer that entered its critical section before the flip has
// exited (spec §4.4); it does not bound how long any individual writer's
// critical section takes. sleepUnits is the cooperative yield granularity
// used while draining; zero spins without sleeping.
func (p *writerReaderPhaser) flipPhase(sleepUnits time.Duration) {
	// The current phase is even iff startEpoch is nonnegative (tokens
	// are handed out by incrementing from 0 for even, from epochMin for
	// odd, so sign alone identifies the phase).
	nextPhaseIsEven := p.startEpoch.Load() < 0

	var initialStartValue int64
	if nextPhaseIsEven {
		initialStartValue = 0
	} else {
		initialStartValue = epochMin
	}

	// Reset the end-epoch counter the INCOMING phase's writers will exit
	// into, to the same fresh base startEpoch is about to adopt, before
	// any of those writers can possibly have entered (they can't enter
	// until the startEpoch swap below makes their token sign match).
	if nextPhaseIsEven {
		p.evenEndEpoch.Store(initialStartValue)
	} else {
		p.oddEndEpoch.Store(initialStartValue)
	}

	startValueAtFlip := p.startEpoch.Swap(initialStartValue)

	begin := time.Now()
	warned := false
	for {
		var outgoingEndEpoch int64
		if nextPhaseIsEven {
			// Outgoing phase was odd.
			outgoingEndEpoch = p.oddEndEpoch.Load()
		} else {
			outgoingEndEpoch = p.evenEndEpoch.Load()
		}
		if outgoingEndEpoch == startValueAtFlip {
			return
		}
		if !warned && time.Since(begin) > phaserStallWarnThreshold {
			logger.Warn("writerReaderPhaser: flipPhase stall draining in-flight writers")
			warned = true
		}
		if sleepUnits <= 0 {
			runtime.Gosched()
			continue
		}
		time.Sleep(sleepUnits)
	}
}
