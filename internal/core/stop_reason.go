package core

// StopReason explains why the application is shutting down. It is attached
// to the final log lines so operators can tell a signal from a crash.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopSignal
	StopConfigFatal
	StopComponentFailure
)

func (r StopReason) String() string {
	switch r {
	case StopSignal:
		return "signal"
	case StopConfigFatal:
		return "config_fatal"
	case StopComponentFailure:
		return "component_failure"
	default:
		return "unknown"
	}
}
