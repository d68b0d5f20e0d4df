package controller

import (
	"context"
	"fmt"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
)

// defaultMaxSteps applies when neither the template nor the role policy
// caps the loop.
const defaultMaxSteps = 10

// MultiStepController runs the reason/act/observe loop with native
// function calling. Tool failures feed back into the conversation as
// observations; only provider failures, budget exhaustion, the step cap,
// and cancellation end the run without a final answer.
type MultiStepController struct{}

// NewMultiStepController creates the loop controller.
func NewMultiStepController() *MultiStepController {
	return &MultiStepController{}
}

// Run executes the loop from a fresh conversation.
func (c *MultiStepController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	return c.runLoop(ctx, execCtx, buildInitialMessages(execCtx), 0, 0, "")
}

// Resume continues a run that surrendered for approval. The gated call is
// Snapshot.Calls[0]; on approval it executes with the arguments the human
// approved, on rejection the model sees a rejection observation. Remaining
// calls from the same assistant turn are processed before the loop resumes.
func (c *MultiStepController) Resume(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	snap *agent.Snapshot,
	call *approval.PendingCall,
	approved bool,
) (*agent.ExecutionResult, error) {
	if snap == nil || len(snap.Calls) == 0 {
		return nil, fmt.Errorf("resume without a gated call snapshot")
	}
	messages := snap.Messages
	tokens := snap.TokensUsed
	gated := snap.Calls[0]

	if approved {
		record(ctx, execCtx, models.EventToolCallApproved, map[string]any{
			"pending_id": call.ID, "tool": call.Tool,
		}, 0)
		out, err := execCtx.Dispatcher.Dispatch(ctx, call.Tool, call.Args)
		if err != nil {
			out = dispatchFailure(call.Tool, err)
		}
		messages = appendToolResult(ctx, execCtx, messages, gated, out)
	} else {
		record(ctx, execCtx, models.EventToolCallRejected, map[string]any{
			"pending_id": call.ID, "tool": call.Tool,
		}, 0)
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: gated.ID,
			Content:    "tool call rejected by the user",
		})
	}

	if surrender := c.processCalls(ctx, execCtx, &messages, snap.Calls[1:], snap.Step, &tokens); surrender != nil {
		return surrender, nil
	}
	return c.runLoop(ctx, execCtx, messages, snap.Step+1, tokens, "")
}

func (c *MultiStepController) runLoop(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []llm.Message,
	startStep, tokens int,
	lastAssistant string,
) (*agent.ExecutionResult, error) {
	maxSteps := execCtx.Perms.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	toolDescs := execCtx.Dispatcher.Tools()

	step := startStep
	for ; step < maxSteps; step++ {
		if ctx.Err() != nil {
			record(ctx, execCtx, models.EventCancelled, nil, tokens)
			return &agent.ExecutionResult{Status: agent.ResultCancelled, TokensUsed: tokens, Steps: step}, nil
		}

		// The budget is checked before each turn, so a single turn may
		// overshoot it; the next turn is refused.
		if budget := execCtx.Perms.TokenBudget; budget > 0 && tokens >= budget {
			record(ctx, execCtx, models.EventFailed, map[string]any{
				"error_kind": agent.ErrKindBudgetExhausted, "tokens_used": tokens, "budget": budget,
			}, tokens)
			return &agent.ExecutionResult{
				Status:     agent.ResultFailed,
				ErrorKind:  agent.ErrKindBudgetExhausted,
				TokensUsed: tokens,
				Steps:      step,
			}, nil
		}

		record(ctx, execCtx, models.EventStepStarted, map[string]any{"step": step}, 0)

		resp, err := completeWithRetry(ctx, execCtx.LLM, llm.Request{
			Model:    execCtx.Model,
			Messages: messages,
			Tools:    toolDescs,
		})
		if err != nil {
			if ctx.Err() != nil {
				record(ctx, execCtx, models.EventCancelled, nil, tokens)
				return &agent.ExecutionResult{Status: agent.ResultCancelled, TokensUsed: tokens, Steps: step}, nil
			}
			record(ctx, execCtx, models.EventFailed, map[string]any{
				"error_kind": agent.ErrKindModelUnavailable, "error": err.Error(),
			}, tokens)
			return &agent.ExecutionResult{
				Status:     agent.ResultFailed,
				ErrorKind:  agent.ErrKindModelUnavailable,
				TokensUsed: tokens,
				Steps:      step,
			}, nil
		}

		tokens += resp.Usage.TotalTokens
		record(ctx, execCtx, models.EventModelTurn, map[string]any{
			"content":    truncate(resp.Content),
			"tool_calls": len(resp.ToolCalls),
			"model":      resp.Model,
		}, resp.Usage.TotalTokens)

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			record(ctx, execCtx, models.EventCompleted, map[string]any{
				"answer": truncate(resp.Content),
			}, tokens)
			return &agent.ExecutionResult{
				Status:      agent.ResultCompleted,
				FinalAnswer: resp.Content,
				TokensUsed:  tokens,
				Steps:       step + 1,
			}, nil
		}
		if resp.Content != "" {
			lastAssistant = resp.Content
		}

		if surrender := c.processCalls(ctx, execCtx, &messages, resp.ToolCalls, step, &tokens); surrender != nil {
			return surrender, nil
		}
	}

	record(ctx, execCtx, models.EventFailed, map[string]any{
		"error_kind": agent.ErrKindMaxSteps, "partial": truncate(lastAssistant),
	}, tokens)
	return &agent.ExecutionResult{
		Status:      agent.ResultFailed,
		ErrorKind:   agent.ErrKindMaxSteps,
		FinalAnswer: lastAssistant,
		TokensUsed:  tokens,
		Steps:       step,
	}, nil
}

// processCalls handles one assistant turn's tool calls in emitted order.
// A non-nil return means the loop surrendered for approval; the snapshot
// carries the gated call and everything after it.
func (c *MultiStepController) processCalls(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages *[]llm.Message,
	calls []llm.ToolCall,
	step int,
	tokens *int,
) *agent.ExecutionResult {
	for i, call := range calls {
		if !execCtx.Dispatcher.Allowed(call.Name) {
			record(ctx, execCtx, models.EventToolCallResult, map[string]any{
				"tool": call.Name, "error": "tool_not_allowed",
			}, 0)
			*messages = append(*messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("tool_not_allowed: %q is outside this agent's permitted tool set", call.Name),
			})
			continue
		}

		safety, reason := execCtx.Dispatcher.Safety(call.Name, call.Args)
		record(ctx, execCtx, models.EventToolCallIssued, map[string]any{
			"tool": call.Name, "args": call.Args, "safety": string(safety), "reason": reason,
		}, 0)

		decision := execCtx.Session.Pending().Gate(
			execCtx.Session.Mode(),
			execCtx.Instance.ID,
			execCtx.Principal.ID,
			call.Name, call.Args, safety, reason,
		)
		if !decision.Allowed {
			snapMessages := make([]llm.Message, len(*messages))
			copy(snapMessages, *messages)
			return &agent.ExecutionResult{
				Status:     agent.ResultAwaitingApproval,
				Pending:    decision.Pending,
				TokensUsed: *tokens,
				Steps:      step,
				Snapshot: &agent.Snapshot{
					Messages:   snapMessages,
					Step:       step,
					TokensUsed: *tokens,
					Calls:      calls[i:],
				},
			}
		}

		out, err := execCtx.Dispatcher.Dispatch(ctx, call.Name, call.Args)
		if err != nil {
			out = dispatchFailure(call.Name, err)
		}
		*messages = appendToolResult(ctx, execCtx, *messages, call, out)
	}
	return nil
}

// appendToolResult records the result event and appends the tool turn with
// the matching tool_call_id. Text parts are serialized; image parts ride
// along as structured parts for the driver to encode.
func appendToolResult(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []llm.Message,
	call llm.ToolCall,
	out *models.ToolOutput,
) []llm.Message {
	summary := ""
	if len(out.Content) > 0 {
		summary = out.Content[0].Text
	}
	record(ctx, execCtx, models.EventToolCallResult, map[string]any{
		"tool": call.Name, "status": out.Status, "result": truncate(summary),
	}, 0)

	return append(messages, llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Parts:      out.Content,
	})
}

// dispatchFailure wraps a routing error (unknown server, bad name) as a
// tool observation so the loop keeps going.
func dispatchFailure(tool string, err error) *models.ToolOutput {
	return &models.ToolOutput{
		Status:  "error",
		Content: []models.ContentPart{models.TextPart(fmt.Sprintf("dispatch %s: %s", tool, err))},
		Safety:  models.SafetyModerate,
	}
}
