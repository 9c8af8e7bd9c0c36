package metrics

import "errors"

// ErrCPUTimeUnavailable is returned when the kernel does not report time
// counters for a CPU, which is the normal state for an offline CPU.
var ErrCPUTimeUnavailable error = errors.New("cpu time counters unavailable")

// Internal helper constants for logging
const (
	cpuLogKey     = "cpu"
	loadLogKey    = "load"
	wallLogKey    = "wallDelta"
	idleLogKey    = "idleDelta"
	percentFactor = 100
)
