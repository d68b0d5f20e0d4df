// Package agent defines the execution context and collaborator seams the
// loop controllers run against: the chat-completion client, the tool
// dispatcher, and the event recorder. Controllers live in the controller
// subpackage.
package agent

import (
	"context"
	"log/slog"

	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/session"
)

// ToolDispatcher is the loop's view of everything invocable: built-ins plus
// the mangled tools of visible MCP servers.
type ToolDispatcher interface {
	// Tools returns the descriptors offered to the model, already filtered
	// to the instance's effective permissions.
	Tools() []models.ToolDescriptor

	// Allowed reports whether the effective permissions cover a call to
	// name. The model can ask for any tool; this is the loop's check.
	Allowed(name string) bool

	// Safety classifies one proposed call before gating.
	Safety(name string, args map[string]any) (models.Safety, string)

	// Dispatch executes one call and returns its output. Tool failures are
	// outputs with an error status, not Go errors; a Go error means the
	// dispatcher itself could not route the call.
	Dispatch(ctx context.Context, name string, args map[string]any) (*models.ToolOutput, error)
}

// EventRecorder appends to the instance event log. Recording is best-effort
// from the loop's perspective; the recorder owns persistence errors.
type EventRecorder interface {
	Record(ctx context.Context, event models.Event)
}

// ExecutionContext carries everything one instance run needs.
type ExecutionContext struct {
	Principal models.Principal
	Instance  *models.Instance

	// Perms is the spawn-time capability intersection.
	Perms models.EffectivePermissions

	// Spec fields resolved from the template version this instance pinned.
	Objective   string
	Mode        models.ExecutionMode
	Constraints models.OutputConstraints

	// Model is the model identifier for this run (first allowed model, or
	// the platform default when the template names none).
	Model string

	LLM        llm.ChatCompleter
	Dispatcher ToolDispatcher
	Recorder   EventRecorder
	Session    *session.Session

	Logger *slog.Logger
}

// ResultStatus is the controller's verdict for one run (or run segment,
// when the loop surrenders for approval).
type ResultStatus string

const (
	ResultCompleted        ResultStatus = "completed"
	ResultFailed           ResultStatus = "failed"
	ResultCancelled        ResultStatus = "cancelled"
	ResultAwaitingApproval ResultStatus = "awaiting_approval"
)

// Failure kinds surfaced in ExecutionResult.ErrorKind.
const (
	ErrKindModelUnavailable = "model_unavailable"
	ErrKindMaxSteps         = "max_steps_reached"
	ErrKindBudgetExhausted  = "budget_exhausted"
)

// ExecutionResult is what a controller hands back to the runner.
type ExecutionResult struct {
	Status ResultStatus

	// FinalAnswer is the assistant's answer; on max_steps_reached it holds
	// the last assistant text as a partial result.
	FinalAnswer string

	// ErrorKind names the failure when Status is failed.
	ErrorKind string

	// Pending is set when Status is awaiting_approval.
	Pending *approval.PendingCall

	// Snapshot lets the runner resume the loop after the pending call is
	// resolved. Only set alongside Pending.
	Snapshot *Snapshot

	TokensUsed int
	Steps      int
}

// Snapshot freezes the loop state at the point of surrender: the
// conversation so far, the current step, and the not-yet-processed tool
// calls of the assistant turn that triggered the gate (index 0 is the
// gated call itself).
type Snapshot struct {
	Messages   []llm.Message
	Step       int
	TokensUsed int
	Calls      []llm.ToolCall
}
