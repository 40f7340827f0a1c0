package agent

import "fmt"

// StuckAction is the configured reaction to a detected stuck pattern.
type StuckAction string

const (
	StuckNudge StuckAction = "nudge"
	StuckStop  StuckAction = "stop"
)

// StuckConfig configures the detector.
type StuckConfig struct {
	Enabled       bool
	RepeatWindow  int // how many identical trailing records trigger a signal
	Action        StuckAction
}

// DefaultStuckConfig uses a repeat window of 3.
func DefaultStuckConfig() StuckConfig {
	return StuckConfig{Enabled: true, RepeatWindow: 3, Action: StuckNudge}
}

// StuckSignal reports a detected repeat pattern.
type StuckSignal struct {
	RepeatCount int
	Message     string
}

// StuckDetector records (tool_name, serialized_args) pairs and flags when
// the trailing window is all identical.
type StuckDetector struct {
	cfg     StuckConfig
	history []string
}

// NewStuckDetector returns a detector using cfg.
func NewStuckDetector(cfg StuckConfig) *StuckDetector {
	return &StuckDetector{cfg: cfg}
}

// key serializes a (tool, args) pair into a comparable history entry.
func key(toolName, serializedArgs string) string {
	return toolName + "\x00" + serializedArgs
}

// Record adds one (tool, args) observation and reports a signal if the
// trailing RepeatWindow entries are now all identical.
func (d *StuckDetector) Record(toolName, serializedArgs string) (StuckSignal, bool) {
	if !d.cfg.Enabled {
		return StuckSignal{}, false
	}

	entry := key(toolName, serializedArgs)
	d.history = append(d.history, entry)

	window := d.cfg.RepeatWindow
	if window <= 0 || len(d.history) < window {
		return StuckSignal{}, false
	}

	tail := d.history[len(d.history)-window:]
	for _, e := range tail {
		if e != entry {
			return StuckSignal{}, false
		}
	}

	return StuckSignal{
		RepeatCount: window,
		Message: fmt.Sprintf(
			"you have called %q with the same arguments %d times in a row; try a different approach or ask for help",
			toolName, window),
	}, true
}
