package contextmgr

import (
	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/tokenest"
)

// PruneStats reports what a Prune call did.
type PruneStats struct {
	Applied           bool
	MessagesTruncated int
	TokensSaved       int
}

// protectionBoundary returns the index of the protectedTurns-th-most-recent
// User message, or 0 if fewer than protectedTurns User messages exist.
// Index 0 is always the system prompt and is never itself the boundary
// of a real conversation.
func protectionBoundary(msgs []chatmsg.Message, protectedTurns int) int {
	if protectedTurns <= 0 {
		return 0
	}
	count := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chatmsg.RoleUser {
			count++
			if count == protectedTurns {
				return i
			}
		}
	}
	return 0
}

// Prune runs the zero-cost stage: it never touches index 0 (system
// prompt), never touches non-Tool messages, and never modifies messages
// at or past the protection boundary. It is idempotent: running it twice
// with the same config on its own output yields Applied=false.
func Prune(msgs []chatmsg.Message, cfg Config) ([]chatmsg.Message, PruneStats) {
	boundary := protectionBoundary(msgs, cfg.PruneProtectedTurns)

	var candidates []int
	savingsBytes := 0
	for i := 1; i < boundary; i++ {
		m := msgs[i]
		if m.Role != chatmsg.RoleTool {
			continue
		}
		if len(m.Content) > cfg.PruneToolMax {
			candidates = append(candidates, i)
			savingsBytes += len(m.Content) - cfg.PruneToolMax
		}
	}

	if savingsBytes/4 < cfg.MinPruneSavingsTokens {
		return msgs, PruneStats{}
	}

	out := make([]chatmsg.Message, len(msgs))
	copy(out, msgs)

	tokensSaved := 0
	for _, idx := range candidates {
		before := len(out[idx].Content)
		truncated := tokenest.MiddleTruncate(out[idx].Content, cfg.PruneToolMax)
		out[idx].Content = truncated
		tokensSaved += (before - len(truncated)) / 4
	}

	return out, PruneStats{
		Applied:           true,
		MessagesTruncated: len(candidates),
		TokensSaved:       tokensSaved,
	}
}
