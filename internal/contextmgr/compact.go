package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/tokenest"
)

// transcriptTruncateCap bounds a single rendered message's content inside
// the handoff transcript.
const transcriptTruncateCap = 4000

// Summarizer sends a rendered transcript to the model and returns its
// summary text. It is the only model call the context manager makes.
type Summarizer func(ctx context.Context, systemPrompt, transcript string) (string, error)

// CompactResult reports what a Compact call did.
type CompactResult struct {
	MessagesReplaced int
	EstimateBefore   int
	EstimateAfter    int
}

// Effective reports whether this compaction actually shrank the buffer by
// more than 30% and replaced at least one message.
func (r CompactResult) Effective() bool {
	if r.MessagesReplaced <= 0 || r.EstimateBefore <= 0 {
		return false
	}
	return float64(r.EstimateAfter)/float64(r.EstimateBefore) < 0.70
}

// ShouldCompact reports whether the estimated token count exceeds the
// configured trigger ratio of the context window.
func ShouldCompact(estimate int, cfg Config) bool {
	if cfg.ContextWindow <= 0 {
		return false
	}
	return float64(estimate) > float64(cfg.ContextWindow)*cfg.CompactTriggerRatio
}

// FindCompactSplit computes the index at which the message buffer should
// be split: messages[1:split] get summarized, messages[split:] are kept
// verbatim. It walks backward from the tail accumulating raw token counts
// until at least preserveTokens have been kept, then adjusts the split so
// it never orphans a tool-result message from its parent assistant
// tool-call message. Returns a split <= 1 when no safe non-trivial split
// exists (the caller must then skip compaction).
func FindCompactSplit(msgs []chatmsg.Message, preserveTokens int) int {
	split := len(msgs)
	acc := 0
	for split > 1 && acc < preserveTokens {
		split--
		acc += tokenest.RawTokens(msgs[split : split+1])
	}

	for split > 0 && split < len(msgs) {
		if msgs[split].Role == chatmsg.RoleTool {
			// split lands inside a run of tool results; pull the whole
			// run (and its parent assistant call) into the preserved tail.
			split--
			continue
		}
		if split > 0 && msgs[split-1].HasToolCalls() {
			// split lands immediately after an assistant tool-call message
			// whose results would otherwise be orphaned ahead of it.
			split--
			continue
		}
		break
	}

	if split < 0 {
		split = 0
	}
	return split
}

// renderTranscript renders messages[1:split] as a handoff transcript: one
// line per message with a role label, contents middle-truncated at a
// fixed cap, tool calls rendered as a summary line.
func renderTranscript(msgs []chatmsg.Message, split int) string {
	var b strings.Builder
	for i := 1; i < split; i++ {
		m := msgs[i]
		fmt.Fprintf(&b, "[%s]\n", strings.ToUpper(string(m.Role)))
		if m.Content != "" {
			b.WriteString(tokenest.MiddleTruncate(m.Content, transcriptTruncateCap))
			b.WriteString("\n")
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  tool_call %s(%s) args=%s\n", tc.Name, tc.ID,
				tokenest.MiddleTruncate(tc.Arguments, 400))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Compact runs the model-assisted stage. On a non-empty summary it
// replaces messages[1:split] with a single "[Session Summary]" User
// message; on an empty or whitespace-only summary it aborts and returns
// the buffer unchanged with MessagesReplaced = 0.
func Compact(ctx context.Context, msgs []chatmsg.Message, cfg Config, est EstimatorLike, summarize Summarizer) ([]chatmsg.Message, CompactResult, error) {
	before := est.Estimate(msgs)

	split := FindCompactSplit(msgs, cfg.CompactPreserveTokens)
	if split <= 1 {
		return msgs, CompactResult{EstimateBefore: before, EstimateAfter: before}, nil
	}

	transcript := renderTranscript(msgs, split)
	summary, err := summarize(ctx, HandoffPrompt, transcript)
	if err != nil {
		return msgs, CompactResult{EstimateBefore: before, EstimateAfter: before}, err
	}

	if strings.TrimSpace(summary) == "" {
		return msgs, CompactResult{EstimateBefore: before, EstimateAfter: before}, nil
	}

	out := make([]chatmsg.Message, 0, len(msgs)-split+2)
	out = append(out, msgs[0])
	out = append(out, chatmsg.Message{
		Role:    chatmsg.RoleUser,
		Content: "[Session Summary]\n\n" + summary,
	})
	out = append(out, msgs[split:]...)

	after := est.Estimate(out)
	return out, CompactResult{
		MessagesReplaced: split - 1,
		EstimateBefore:   before,
		EstimateAfter:    after,
	}, nil
}

// EstimatorLike is the subset of *tokenest.Estimator the compact stage
// needs, kept as an interface so tests can supply a fixed estimator.
type EstimatorLike = interface {
	Estimate(msgs []chatmsg.Message) int
}
