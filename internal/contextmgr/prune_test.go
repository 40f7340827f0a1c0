package contextmgr

import (
	"strings"
	"testing"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

func msg(role chatmsg.Role, content string) chatmsg.Message {
	return chatmsg.Message{Role: role, Content: content}
}

func toolMsg(id, content string) chatmsg.Message {
	return chatmsg.Message{Role: chatmsg.RoleTool, Content: content, ToolCallID: id}
}

// S1 (prune applied).
func TestScenarioS1PruneApplied(t *testing.T) {
	msgs := []chatmsg.Message{
		msg(chatmsg.RoleSystem, "sys"),
		toolMsg("c1", strings.Repeat("x", 20000)),
		toolMsg("c2", strings.Repeat("x", 20000)),
		msg(chatmsg.RoleUser, "u1"),
		msg(chatmsg.RoleAssistant, "a1"),
		msg(chatmsg.RoleUser, "u2"),
		msg(chatmsg.RoleAssistant, "a2"),
		msg(chatmsg.RoleUser, "u3"),
		msg(chatmsg.RoleAssistant, "a3"),
		msg(chatmsg.RoleUser, "u4"),
	}
	cfg := Config{PruneToolMax: 2048, PruneProtectedTurns: 2, MinPruneSavingsTokens: 100}

	out, stats := Prune(msgs, cfg)

	if !stats.Applied {
		t.Fatalf("expected prune applied")
	}
	if stats.MessagesTruncated != 2 {
		t.Fatalf("expected 2 messages truncated, got %d", stats.MessagesTruncated)
	}
	if len(out[1].Content) > 2048 || len(out[2].Content) > 2048 {
		t.Fatalf("expected both tool contents <= 2048")
	}
	if out[0].Content != "sys" {
		t.Fatalf("system prompt must be unchanged")
	}
}

// S2 (prune skipped near budget).
func TestScenarioS2PruneSkipped(t *testing.T) {
	msgs := []chatmsg.Message{
		msg(chatmsg.RoleSystem, "sys"),
		toolMsg("c1", strings.Repeat("x", 3000)),
		msg(chatmsg.RoleUser, "u1"),
		msg(chatmsg.RoleAssistant, "a1"),
		msg(chatmsg.RoleUser, "u2"),
		msg(chatmsg.RoleAssistant, "a2"),
		msg(chatmsg.RoleUser, "u3"),
		msg(chatmsg.RoleAssistant, "a3"),
		msg(chatmsg.RoleUser, "u4"),
	}
	cfg := Config{PruneToolMax: 2048, PruneProtectedTurns: 2, MinPruneSavingsTokens: 5000}

	out, stats := Prune(msgs, cfg)

	if stats.Applied {
		t.Fatalf("expected prune to be skipped")
	}
	if len(out[1].Content) != 3000 {
		t.Fatalf("expected content length unchanged at 3000, got %d", len(out[1].Content))
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	msgs := []chatmsg.Message{
		msg(chatmsg.RoleSystem, "sys"),
		toolMsg("c1", strings.Repeat("x", 20000)),
		msg(chatmsg.RoleUser, "u1"),
		msg(chatmsg.RoleAssistant, "a1"),
		msg(chatmsg.RoleUser, "u2"),
		msg(chatmsg.RoleAssistant, "a2"),
		msg(chatmsg.RoleUser, "u3"),
	}
	cfg := Config{PruneToolMax: 2048, PruneProtectedTurns: 2, MinPruneSavingsTokens: 100}

	once, stats1 := Prune(msgs, cfg)
	if !stats1.Applied {
		t.Fatalf("expected first prune to apply")
	}

	twice, stats2 := Prune(once, cfg)
	if stats2.Applied {
		t.Fatalf("expected second prune to be a no-op")
	}
	if len(twice[1].Content) != len(once[1].Content) {
		t.Fatalf("expected no further changes on second prune")
	}
}

func TestPruneNeverTouchesIndexZeroOrNonTool(t *testing.T) {
	msgs := []chatmsg.Message{
		msg(chatmsg.RoleSystem, strings.Repeat("s", 50000)),
		msg(chatmsg.RoleUser, strings.Repeat("u", 50000)),
		msg(chatmsg.RoleAssistant, strings.Repeat("a", 50000)),
		msg(chatmsg.RoleUser, "u2"),
	}
	cfg := Config{PruneToolMax: 10, PruneProtectedTurns: 1, MinPruneSavingsTokens: 1}

	out, stats := Prune(msgs, cfg)
	if stats.Applied {
		t.Fatalf("expected no-op: no Tool messages present")
	}
	for i := range out {
		if len(out[i].Content) != len(msgs[i].Content) {
			t.Fatalf("index %d was modified but contains no prunable Tool message", i)
		}
	}
}

func TestPruneNeverModifiesAtOrPastBoundary(t *testing.T) {
	msgs := []chatmsg.Message{
		msg(chatmsg.RoleSystem, "sys"),
		msg(chatmsg.RoleUser, "u1"),
		toolMsg("c1", strings.Repeat("x", 20000)), // past boundary for protectedTurns=1
	}
	cfg := Config{PruneToolMax: 2048, PruneProtectedTurns: 1, MinPruneSavingsTokens: 1}

	out, stats := Prune(msgs, cfg)
	if stats.Applied {
		t.Fatalf("expected no-op: only candidate is at/after protection boundary")
	}
	if len(out[2].Content) != 20000 {
		t.Fatalf("tool message within the protected region must be unchanged")
	}
}
