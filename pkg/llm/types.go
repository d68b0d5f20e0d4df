// Package llm defines the chat-completion collaborator interface and the
// default OpenAI-dialect driver. The platform treats the model endpoint as
// an opaque collaborator: any gateway speaking the chat-completions wire
// format works.
package llm

import (
	"context"
	"errors"

	"github.com/kestrelops/kestrel/pkg/models"
)

// ErrModelUnavailable is returned once transport-level retries are
// exhausted.
var ErrModelUnavailable = errors.New("model_unavailable")

// Message roles mirror the chat-completions wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result turn back to the assistant call that
	// produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Parts carries structured tool output (text plus images). When set it
	// takes precedence over Content for drivers that support parts.
	Parts []models.ContentPart `json:"parts,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`

	// RawArgs preserves the argument JSON exactly as the model emitted it,
	// for event payloads and debugging malformed calls.
	RawArgs string `json:"raw_args,omitempty"`
}

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []models.ToolDescriptor
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's reply.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Model     string     `json:"model"`
	Usage     Usage      `json:"usage"`
}

// ChatCompleter is the collaborator seam the agent loop calls through.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req Request) (*Response, error)
}
