package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/lhwzds/agentcore/internal/storage"
)

// RenderInput renders a task's effective input. If input_template is set
// it is rendered with a single-pass substitution over a fixed placeholder
// table; a placeholder occurring inside a substituted value is never
// re-expanded, since strings.Replacer performs exactly one left-to-right
// pass over the input. Otherwise input is used as-is.
func RenderInput(task *storage.BackgroundAgent, now time.Time) string {
	if task.InputTemplate == "" {
		return task.Input
	}
	return renderTemplate(task.InputTemplate, task, now)
}

func renderTemplate(tmpl string, task *storage.BackgroundAgent, now time.Time) string {
	lastRun := ""
	if task.LastRunAt != nil {
		lastRun = task.LastRunAt.UTC().Format(time.RFC3339)
	}
	nextRun := ""
	if task.NextRunAt != nil {
		nextRun = task.NextRunAt.UTC().Format(time.RFC3339)
	}

	replacer := strings.NewReplacer(
		"{{task.id}}", task.ID,
		"{{task.name}}", task.Name,
		"{{task.agent_id}}", task.AgentID,
		"{{task.description}}", task.Description,
		"{{task.input}}", task.Input,
		"{{input}}", task.Input,
		"{{task.last_run_at}}", lastRun,
		"{{task.next_run_at}}", nextRun,
		"{{now.iso}}", now.UTC().Format(time.RFC3339),
		"{{now.unix_ms}}", strconv.FormatInt(now.UnixMilli(), 10),
	)
	return replacer.Replace(tmpl)
}
