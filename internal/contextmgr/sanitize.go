package contextmgr

import "github.com/lhwzds/agentcore/internal/chatmsg"

// Sanitize enforces the "closed tool-call chain" invariant required by
// mainstream model APIs: every tool-result message must be preceded by an
// assistant message carrying the matching tool_call id, and vice versa.
// It must run before every model request.
func Sanitize(msgs []chatmsg.Message) []chatmsg.Message {
	assistantIDs := make(map[string]struct{})
	resultIDs := make(map[string]struct{})
	for _, m := range msgs {
		if m.HasToolCalls() {
			for _, tc := range m.ToolCalls {
				assistantIDs[tc.ID] = struct{}{}
			}
		}
		if m.IsToolResult() && m.ToolCallID != "" {
			resultIDs[m.ToolCallID] = struct{}{}
		}
	}

	valid := make(map[string]struct{}, len(assistantIDs))
	for id := range assistantIDs {
		if _, ok := resultIDs[id]; ok {
			valid[id] = struct{}{}
		}
	}

	out := make([]chatmsg.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.HasToolCalls():
			filtered := m.ToolCalls[:0:0]
			for _, tc := range m.ToolCalls {
				if _, ok := valid[tc.ID]; ok {
					filtered = append(filtered, tc)
				}
			}
			if len(filtered) == 0 && m.Content == "" {
				continue // drop: no valid calls and nothing else to say
			}
			m.ToolCalls = filtered
			out = append(out, m)
		case m.IsToolResult():
			if _, ok := valid[m.ToolCallID]; !ok {
				continue // orphaned tool result, drop
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out
}
