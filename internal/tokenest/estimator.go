package tokenest

import (
	"math"
	"sync"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

// perMessageOverheadTokens accounts for the role wrapper every chat-format
// API adds around a message's content.
const perMessageOverheadTokens = 4

// bytesPerToken is the crude bytes-to-token ratio applied before
// calibration kicks in.
const bytesPerToken = 4

// Estimator approximates prompt token counts from message bytes and
// calibrates itself against the token counts models actually report.
// Construct with NewEstimator: the zero value's calibration factor is 0,
// not 1.
type Estimator struct {
	mu       sync.Mutex
	factor   float64
	samples  int
	cooldown int
}

// NewEstimator returns an Estimator with calibration_factor = 1.
func NewEstimator() *Estimator {
	return &Estimator{factor: 1}
}

// rawTokens computes the uncalibrated token estimate for a single message.
func rawTokens(m chatmsg.Message) int {
	n := len(m.Content)/bytesPerToken + perMessageOverheadTokens
	for _, tc := range m.ToolCalls {
		n += (len(tc.ID) + len(tc.Name) + len(tc.Arguments)) / bytesPerToken
	}
	if m.Role == chatmsg.RoleTool {
		n += len(m.ToolCallID) / bytesPerToken
	}
	return n
}

// RawTokens returns the sum of uncalibrated per-message estimates, with no
// calibration factor applied.
func RawTokens(msgs []chatmsg.Message) int {
	total := 0
	for _, m := range msgs {
		total += rawTokens(m)
	}
	return total
}

// Estimate returns the calibrated token estimate for msgs.
func (e *Estimator) Estimate(msgs []chatmsg.Message) int {
	e.mu.Lock()
	factor := e.factor
	e.mu.Unlock()
	return int(math.Ceil(float64(RawTokens(msgs)) * factor))
}

// Calibrate updates the calibration factor from a model-reported
// prompt_tokens count and the estimate that was computed for the same
// request. Zero inputs are ignored.
func (e *Estimator) Calibrate(estimated, actual int) {
	if estimated <= 0 || actual <= 0 {
		return
	}
	ratio := float64(actual) / float64(estimated)

	e.mu.Lock()
	defer e.mu.Unlock()

	alpha := 0.2
	if e.samples < 5 {
		alpha = 0.5
	}
	e.factor = (1-alpha)*e.factor + alpha*ratio
	e.samples++
}

// Factor returns the current calibration factor.
func (e *Estimator) Factor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factor
}

// SetCooldown sets the compaction cooldown counter, clamping negative
// values to 0.
func (e *Estimator) SetCooldown(n int) {
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	e.cooldown = n
	e.mu.Unlock()
}

// TickCooldown decrements the cooldown counter once, saturating at 0. Call
// it once per executor iteration.
func (e *Estimator) TickCooldown() {
	e.mu.Lock()
	if e.cooldown > 0 {
		e.cooldown--
	}
	e.mu.Unlock()
}

// CompactAllowed reports whether the cooldown counter has reached 0.
func (e *Estimator) CompactAllowed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cooldown == 0
}
