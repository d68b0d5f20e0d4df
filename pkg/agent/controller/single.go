package controller

import (
	"context"
	"fmt"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
)

// SingleShotController performs exactly one model call with no tools bound.
// Should the model emit tool calls anyway, they are ignored and a warning
// is appended to the answer.
type SingleShotController struct{}

// NewSingleShotController creates the single-call controller.
func NewSingleShotController() *SingleShotController {
	return &SingleShotController{}
}

// Run executes the single call.
func (c *SingleShotController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	messages := buildInitialMessages(execCtx)

	record(ctx, execCtx, models.EventStepStarted, map[string]any{"step": 0}, 0)

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
		"content": truncate(resp.Content), "tool_calls": len(resp.ToolCalls), "model": resp.Model,
	}, resp.Usage.TotalTokens)

	answer := resp.Content
	if n := len(resp.ToolCalls); n > 0 {
		answer += fmt.Sprintf(
			"\n\n[warning: %d tool call(s) ignored; this agent runs in single mode]", n)
	}

	record(ctx, execCtx, models.EventCompleted, map[string]any{
		"answer": truncate(answer),
	}, resp.Usage.TotalTokens)

	return &agent.ExecutionResult{
		Status:      agent.ResultCompleted,
		FinalAnswer: answer,
		TokensUsed:  resp.Usage.TotalTokens,
		Steps:       1,
	}, nil
}
