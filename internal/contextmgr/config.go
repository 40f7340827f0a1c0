// Package contextmgr implements the two-stage context-window policy: a
// zero-cost prune stage and a model-assisted compact stage, plus the
// tool-call history sanitizer the executor runs before every request.
//
// The manager is deliberately a free-function surface over a message
// buffer plus a config rather than a self-referential object — the
// executor owns the buffer, the manager only mutates it.
package contextmgr

// Config controls prune and compact behavior. All ratios are in (0,1];
// ContextWindow must be > 0 to enable compaction at all.
type Config struct {
	ContextWindow         int
	PruneToolMax          int
	PruneProtectedTurns   int
	MinPruneSavingsTokens int
	CompactTriggerRatio   float64
	CompactPreserveTokens int
}

// DefaultConfig returns the values this module's executor defaults to.
func DefaultConfig() Config {
	return Config{
		ContextWindow:         128_000,
		PruneToolMax:          2048,
		PruneProtectedTurns:   2,
		MinPruneSavingsTokens: 5000,
		CompactTriggerRatio:   0.90,
		CompactPreserveTokens: 4000,
	}
}

// HandoffPrompt is the fixed system prompt sent with the compaction
// transcript, instructing the model to write a session summary. It is an
// inlined constant, not an external resource, matching context_manager.rs.
const HandoffPrompt = `You are compacting a long-running agent conversation. Read the transcript
below and write a concise session summary that preserves: the user's goal,
decisions already made, files or resources touched, and any open next
steps. Do not include pleasantries. Output only the summary text.`
