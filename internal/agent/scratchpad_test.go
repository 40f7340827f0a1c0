package agent

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readScratchpadLines(t *testing.T, path string) []scratchpadLine {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open scratchpad file: %v", err)
	}
	defer f.Close()

	var lines []scratchpadLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l scratchpadLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("unmarshal scratchpad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan scratchpad file: %v", err)
	}
	return lines
}

func TestScratchpadWriterAppendsRequiredEventTypes(t *testing.T) {
	dir := t.TempDir()
	w := NewScratchpadWriter(dir, "exec-1")

	w.ExecutionStart("exec-1")
	w.IterationBegin(0)
	w.ToolCall(0, "call_1", "echo", `{"x":1}`)
	w.ToolResult(0, "call_1", "echo", true, `{"echoed":1}`)
	w.TextDelta(0, "hello")
	w.Thinking(0, "pondering")
	w.Error(0, "something went wrong")
	w.ExecutionComplete(0, true, "done")

	lines := readScratchpadLines(t, filepath.Join(dir, "exec-1.jsonl"))
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d", len(lines))
	}

	want := []ScratchpadEventType{
		ScratchpadExecutionStart,
		ScratchpadIterationBegin,
		ScratchpadToolCall,
		ScratchpadToolResult,
		ScratchpadTextDelta,
		ScratchpadThinking,
		ScratchpadError,
		ScratchpadExecutionComplete,
	}
	for i, l := range lines {
		if l.EventType != want[i] {
			t.Errorf("line %d: got event_type %q, want %q", i, l.EventType, want[i])
		}
		if l.Timestamp == "" {
			t.Errorf("line %d: missing timestamp", i)
		}
	}

	if lines[2].ToolCallID != "call_1" || lines[2].ToolName != "echo" {
		t.Errorf("tool_call line missing call id/name: %+v", lines[2])
	}
	if lines[3].Success == nil || !*lines[3].Success {
		t.Errorf("tool_result line should report success=true: %+v", lines[3])
	}
}

func TestScratchpadWriterNilWhenDirEmpty(t *testing.T) {
	w := NewScratchpadWriter("", "exec-1")
	if w != nil {
		t.Fatalf("expected nil writer for empty dir")
	}
	// Must not panic on a nil receiver.
	w.ExecutionStart("exec-1")
	w.IterationBegin(0)
	w.ToolCall(0, "c", "t", "{}")
	w.ToolResult(0, "c", "t", true, "{}")
	w.TextDelta(0, "x")
	w.Thinking(0, "x")
	w.Error(0, "x")
	w.ExecutionComplete(0, true, "x")
}

func TestScratchpadWriterIsAppendOnlyAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	w1 := NewScratchpadWriter(dir, "exec-1")
	w1.ExecutionStart("exec-1")

	w2 := NewScratchpadWriter(dir, "exec-1")
	w2.IterationBegin(0)

	lines := readScratchpadLines(t, filepath.Join(dir, "exec-1.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected append across writer instances to yield 2 lines, got %d", len(lines))
	}
}
