package hdrhistogram

import "go.uber.org/zap"

// logger is the package-wide diagnostic sink. It stays a no-op until a
// host application opts in with SetLogger, matching the rest of the pack's
// pattern of defaulting to a discard logger rather than writing to stderr
// by default.
var logger = zap.NewNop()

// SetLogger installs the *zap.Logger used for StateCorruption and phaser
// stall diagnostics. Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
