package contextmgr

import (
	"context"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/tokenest"
)

// cooldownAfterIneffective and cooldownAfterError are the iteration counts
// the estimator's compaction cooldown is set to after a wasted or failed
// compact attempt, preventing compaction loops.
const (
	cooldownAfterIneffective = 5
	cooldownAfterError       = 3
)

// Manager bundles a Config and an Estimator and exposes the same
// operations the ReAct executor drives each iteration. It holds no
// message buffer of its own — the executor's AgentState owns that.
type Manager struct {
	Config    Config
	Estimator *tokenest.Estimator
}

// New returns a Manager with a fresh, zero-state Estimator.
func New(cfg Config) *Manager {
	return &Manager{Config: cfg, Estimator: tokenest.NewEstimator()}
}

// Prune runs the zero-cost stage once, after the loop ends.
func (m *Manager) Prune(msgs []chatmsg.Message) ([]chatmsg.Message, PruneStats) {
	return Prune(msgs, m.Config)
}

// ShouldCompact reports whether compaction should run on this iteration:
// the cooldown must have reached zero and the estimate must exceed the
// trigger ratio of the context window.
func (m *Manager) ShouldCompact(msgs []chatmsg.Message) bool {
	if !m.Estimator.CompactAllowed() {
		return false
	}
	return ShouldCompact(m.Estimator.Estimate(msgs), m.Config)
}

// Compact runs the model-assisted stage and, on an ineffective result or
// an error, starts the appropriate cooldown so the executor does not
// immediately try again next iteration.
func (m *Manager) Compact(ctx context.Context, msgs []chatmsg.Message, summarize Summarizer) ([]chatmsg.Message, CompactResult, error) {
	out, result, err := Compact(ctx, msgs, m.Config, m.Estimator, summarize)
	if err != nil {
		m.Estimator.SetCooldown(cooldownAfterError)
		return msgs, result, err
	}
	if !result.Effective() {
		m.Estimator.SetCooldown(cooldownAfterIneffective)
	}
	return out, result, nil
}

// Sanitize enforces the closed tool-call chain invariant.
func (m *Manager) Sanitize(msgs []chatmsg.Message) []chatmsg.Message {
	return Sanitize(msgs)
}

// Estimate returns the calibrated token estimate for msgs.
func (m *Manager) Estimate(msgs []chatmsg.Message) int {
	return m.Estimator.Estimate(msgs)
}

// TickCooldown decrements the compaction cooldown once; call it once per
// executor iteration before checking ShouldCompact.
func (m *Manager) TickCooldown() {
	m.Estimator.TickCooldown()
}
