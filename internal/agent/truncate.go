package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lhwzds/agentcore/internal/tokenest"
)

// HardMaxToolResultChars bounds a tool's rendered output before a
// scratchpad file even comes into play.
const HardMaxToolResultChars = 400_000

// OutputTruncator shrinks oversized tool output and, when a scratchpad
// directory is configured, persists the full original text so the agent
// can retrieve it later via the file tool.
type OutputTruncator struct {
	ScratchpadDir string
	Max           int
}

// NewOutputTruncator returns a truncator with HardMaxToolResultChars as
// its default cap.
func NewOutputTruncator(scratchpadDir string) *OutputTruncator {
	return &OutputTruncator{ScratchpadDir: scratchpadDir, Max: HardMaxToolResultChars}
}

// Truncate returns output unchanged if it already fits within Max.
// Otherwise it middle-truncates it and, if a scratchpad directory is
// configured, writes the full original text to
// <scratchpad>/tool-output/<tool>-<callID>.txt and appends a retrieval
// hint naming that path.
func (t *OutputTruncator) Truncate(toolName, callID, output string) string {
	max := t.Max
	if max <= 0 {
		max = HardMaxToolResultChars
	}
	if len(output) <= max {
		return output
	}

	var hint string
	if t.ScratchpadDir != "" {
		path, err := t.persist(toolName, callID, output)
		if err == nil {
			hint = fmt.Sprintf(
				"\n\n[Full output (%d chars) saved to: %s. Use file read tool with offset/limit to view specific sections, or use search to find specific content.]",
				len(output), path)
		}
	}

	return tokenest.MiddleTruncate(output, max-len(hint)) + hint
}

func (t *OutputTruncator) persist(toolName, callID, output string) (string, error) {
	dir := filepath.Join(t.ScratchpadDir, "tool-output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.txt", toolName, callID))
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
