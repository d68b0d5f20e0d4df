package controller

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/llm"
)

// buildSystemPrompt renders the template objective plus output constraints
// into the system turn.
func buildSystemPrompt(execCtx *agent.ExecutionContext) string {
	var b strings.Builder
	b.WriteString(execCtx.Objective)

	if execCtx.Constraints.Format != "" {
		fmt.Fprintf(&b, "\n\nRespond in %s format.", execCtx.Constraints.Format)
	}
	if execCtx.Constraints.MaxLength > 0 {
		fmt.Fprintf(&b, "\nKeep the final answer under %d characters.", execCtx.Constraints.MaxLength)
	}
	return b.String()
}

// buildInitialMessages produces the conversation every run starts from:
// system objective, then the task with any spawn context attached.
func buildInitialMessages(execCtx *agent.ExecutionContext) []llm.Message {
	task := execCtx.Instance.Task
	if len(execCtx.Instance.Context) > 0 {
		if raw, err := json.MarshalIndent(execCtx.Instance.Context, "", "  "); err == nil {
			task += "\n\nContext:\n" + string(raw)
		}
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(execCtx)},
		{Role: llm.RoleUser, Content: task},
	}
}

// planInstruction is appended to the task on the planner's first turn.
const planInstruction = "\n\nBefore doing anything else, produce an explicit numbered plan " +
	"for this task. Do not call any tools on this turn; reply with the plan only."
