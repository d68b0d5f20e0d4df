package controller

import (
	"context"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
)

// PlannerController demands an explicit plan on the first turn, records it,
// then hands the conversation to the multi-step loop. The plan turn counts
// against the step cap and the token budget like any other turn.
type PlannerController struct {
	loop *MultiStepController
}

// NewPlannerController creates the plan-first controller.
func NewPlannerController() *PlannerController {
	return &PlannerController{loop: NewMultiStepController()}
}

// Run executes the plan turn, then the loop.
func (c *PlannerController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	messages := buildInitialMessages(execCtx)
	messages[len(messages)-1].Content += planInstruction

	record(ctx, execCtx, models.EventStepStarted, map[string]any{"step": 0, "phase": "plan"}, 0)

	resp, err := completeWithRetry(ctx, execCtx.LLM, llm.Request{
		Model:    execCtx.Model,
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			record(ctx, execCtx, models.EventCancelled, nil, 0)
			return &agent.ExecutionResult{Status: agent.ResultCancelled}, nil
		}
		record(ctx, execCtx, models.EventFailed, map[string]any{
			"error_kind": agent.ErrKindModelUnavailable, "error": err.Error(),
		}, 0)
		return &agent.ExecutionResult{
			Status:    agent.ResultFailed,
			ErrorKind: agent.ErrKindModelUnavailable,
		}, nil
	}

	record(ctx, execCtx, models.EventModelTurn, map[string]any{
		"phase": "plan", "plan": truncate(resp.Content), "model": resp.Model,
	}, resp.Usage.TotalTokens)

	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
		llm.Message{Role: llm.RoleUser, Content: "Proceed with the plan, one step at a time."},
	)

	return c.loop.runLoop(ctx, execCtx, messages, 1, resp.Usage.TotalTokens, resp.Content)
}

// Resume delegates to the loop; the plan turn never gates.
func (c *PlannerController) Resume(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	snap *agent.Snapshot,
	call *approval.PendingCall,
	approved bool,
) (*agent.ExecutionResult, error) {
	return c.loop.Resume(ctx, execCtx, snap, call, approved)
}
