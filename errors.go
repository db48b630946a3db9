package hdrhistogram

import "github.com/pkg/errors"

// Error kinds from spec §7. Callers can match with errors.Is against
// these sentinels; Wrap/Errorf calls below attach a stack trace and
// context while preserving the sentinel for errors.Is.
var (
	// ErrOutOfRange is returned when a value exceeds a non-resizing
	// histogram's highestTrackableValue, or when a percentile argument
	// falls outside [0, 100].
	ErrOutOfRange = errors.New("hdrhistogram: value out of range")

	// ErrValidation is returned for recycle-buffer instanceId/geometry
	// mismatches and negative counts. Constructors do not return it: they
	// panic on out-of-range parameters.
	ErrValidation = errors.New("hdrhistogram: validation failed")

	// ErrUnderflow is returned when subtract would drive a bucket count
	// negative.
	ErrUnderflow = errors.New("hdrhistogram: subtract would underflow bucket count")

	// ErrStateCorruption marks a broken internal invariant (bucket sum
	// disagrees with totalCount at quiescence). It is fatal: callers
	// should treat it as a bug report, not a recoverable condition.
	ErrStateCorruption = errors.New("hdrhistogram: internal state corruption")
)

func errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func outOfRangef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrOutOfRange, format, args...)
}

func validationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

func underflowf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnderflow, format, args...)
}

func stateCorruptionf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrStateCorruption, format, args...)
}
