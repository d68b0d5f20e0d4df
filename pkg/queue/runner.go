package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/agent/controller"
	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/mcp"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
	"github.com/kestrelops/kestrel/pkg/session"
	"github.com/kestrelops/kestrel/pkg/slack"
	"github.com/kestrelops/kestrel/pkg/tools"
)

// Deps are the collaborators a Runner needs.
type Deps struct {
	Instances *services.InstanceService
	Templates *services.TemplateService
	Events    *services.EventService
	Sessions  *session.Store
	Registry  *tools.Registry
	Mux       *mcp.Multiplexer // may be nil when no MCP servers are configured
	LLM       llm.ChatCompleter
	Policy    *config.Policy

	// Notifier announces approval events to Slack; nil disables delivery.
	Notifier *slack.Notifier

	// DefaultModel is used when a template names no allowed models.
	DefaultModel string
}

// Runner executes claimed instances and parks runs that surrender for
// approval until the pending call is resolved.
type Runner struct {
	deps    Deps
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	held map[string]*heldRun // pending call id → parked run
}

// heldRun is a surrendered run waiting for an approval decision.
type heldRun struct {
	instanceID string
	execCtx    *agent.ExecutionContext
	snap       *agent.Snapshot
	resumer    controller.Resumer
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, runTimeout time.Duration) *Runner {
	return &Runner{
		deps:    deps,
		timeout: runTimeout,
		held:    make(map[string]*heldRun),
		logger:  slog.Default().With("component", "runner"),
	}
}

// Execute drives one already-claimed (running) instance to its next rest
// state: terminal, or awaiting approval with the run parked.
func (r *Runner) Execute(ctx context.Context, inst *models.Instance) error {
	tmpl, err := r.deps.Templates.GetVersion(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		r.failInstance(ctx, inst.ID, fmt.Sprintf("template resolution: %v", err))
		return err
	}

	principal := models.Principal{ID: inst.PrincipalID, Role: roleFromContext(inst.Context)}
	perms, err := permsFromContext(inst.Context)
	if err != nil {
		// Derive from scratch; the spawn-time intersection is authoritative
		// but a hand-crafted instance may lack it.
		perms = r.deps.Policy.EffectivePermissions(tmpl, principal.Role)
	}

	sess := r.deps.Sessions.Get(principal)
	dispatcher := agent.NewDispatcher(r.deps.Registry, r.deps.Mux, sess, principal, perms)

	model := r.deps.DefaultModel
	if len(perms.Models) > 0 {
		model = perms.Models[0]
	}

	execCtx := &agent.ExecutionContext{
		Principal:   principal,
		Instance:    inst,
		Perms:       perms,
		Objective:   tmpl.Spec.Objective,
		Mode:        tmpl.Spec.ExecutionMode,
		Constraints: tmpl.Spec.OutputConstraints,
		Model:       model,
		LLM:         r.deps.LLM,
		Dispatcher:  dispatcher,
		Recorder:    r.deps.Events,
		Session:     sess,
		Logger:      r.logger.With("instance", inst.ID, "template", tmpl.ID),
	}

	ctrl, err := controller.For(tmpl.Spec.ExecutionMode)
	if err != nil {
		r.failInstance(ctx, inst.ID, err.Error())
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := ctrl.Run(runCtx, execCtx)
	if err != nil {
		r.failInstance(ctx, inst.ID, err.Error())
		return err
	}
	return r.applyResult(ctx, inst.ID, execCtx, ctrl, result)
}

// Resolve applies an approval decision to a parked run and resumes it.
// The resumed segment runs on the caller's context with a fresh timeout.
func (r *Runner) Resolve(ctx context.Context, pendingID string, approved bool) error {
	r.mu.Lock()
	held, ok := r.held[pendingID]
	if ok {
		delete(r.held, pendingID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotHeld, pendingID)
	}

	mgr := held.execCtx.Session.Pending()
	var call *approval.PendingCall
	var err error
	if approved {
		call, err = mgr.Approve(pendingID)
	} else {
		call, err = mgr.Reject(pendingID)
	}
	if err != nil {
		// Expired or already-resolved pending calls fail the run; the loop
		// cannot continue without a decision on the gated call.
		r.failInstance(ctx, held.instanceID, fmt.Sprintf("pending call %s: %v", pendingID, err))
		return err
	}

	if _, err := r.deps.Instances.Transition(ctx, held.instanceID, models.StatusRunning, nil); err != nil {
		return fmt.Errorf("resume instance %s: %w", held.instanceID, err)
	}
	r.deps.Notifier.NotifyResolved(ctx, call, approved)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := held.resumer.Resume(runCtx, held.execCtx, held.snap, call, approved)
	if err != nil {
		r.failInstance(ctx, held.instanceID, err.Error())
		return err
	}
	return r.applyResult(ctx, held.instanceID, held.execCtx, held.resumer, result)
}

// HeldRuns reports how many surrendered runs are parked.
func (r *Runner) HeldRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Holds reports whether a run is parked under the pending id.
func (r *Runner) Holds(pendingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[pendingID]
	return ok
}

// applyResult persists a controller verdict. A surrendering run is parked
// under its pending call id; everything else reaches a terminal status.
func (r *Runner) applyResult(
	ctx context.Context,
	instanceID string,
	execCtx *agent.ExecutionContext,
	ctrl any,
	result *agent.ExecutionResult,
) error {
	switch result.Status {
	case agent.ResultCompleted:
		_, err := r.deps.Instances.Transition(ctx, instanceID, models.StatusCompleted, func(inst *models.Instance) {
			inst.Result = map[string]any{"final_answer": result.FinalAnswer}
			inst.TokensUsed = result.TokensUsed
			inst.Step = result.Steps
		})
		return err

	case agent.ResultFailed:
		_, err := r.deps.Instances.Transition(ctx, instanceID, models.StatusFailed, func(inst *models.Instance) {
			inst.Error = result.ErrorKind
			inst.TokensUsed = result.TokensUsed
			inst.Step = result.Steps
			if result.FinalAnswer != "" {
				inst.Result = map[string]any{"partial_answer": result.FinalAnswer}
			}
		})
		return err

	case agent.ResultCancelled:
		_, err := r.deps.Instances.Transition(ctx, instanceID, models.StatusCancelled, func(inst *models.Instance) {
			inst.TokensUsed = result.TokensUsed
			inst.Step = result.Steps
		})
		return err

	case agent.ResultAwaitingApproval:
		resumer, ok := ctrl.(controller.Resumer)
		if !ok {
			// Single-shot never surrenders; reaching here is a bug.
			err := fmt.Errorf("controller for instance %s cannot resume", instanceID)
			r.failInstance(ctx, instanceID, err.Error())
			return err
		}
		_, err := r.deps.Instances.Transition(ctx, instanceID, models.StatusAwaitingApproval, func(inst *models.Instance) {
			inst.TokensUsed = result.TokensUsed
			inst.Step = result.Steps
		})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.held[result.Pending.ID] = &heldRun{
			instanceID: instanceID,
			execCtx:    execCtx,
			snap:       result.Snapshot,
			resumer:    resumer,
		}
		r.mu.Unlock()
		r.logger.Info("run parked for approval",
			"instance", instanceID, "pending", result.Pending.ID, "tool", result.Pending.Tool)
		r.deps.Notifier.NotifyPending(ctx, result.Pending)
		return nil
	}
	return fmt.Errorf("unknown result status %q for instance %s", result.Status, instanceID)
}

// failInstance best-effort moves an instance to failed with a reason.
func (r *Runner) failInstance(ctx context.Context, instanceID, reason string) {
	_, err := r.deps.Instances.Transition(ctx, instanceID, models.StatusFailed, func(inst *models.Instance) {
		inst.Error = reason
	})
	if err != nil {
		r.logger.Error("failed to mark instance failed",
			"instance", instanceID, "reason", reason, "error", err)
	}
}

// roleFromContext recovers the spawning principal's role recorded at spawn
// time. An unknown or missing role degrades to the weakest one.
func roleFromContext(instanceContext map[string]any) models.Role {
	raw, _ := instanceContext["_principal_role"].(string)
	role := models.Role(raw)
	if !role.Valid() {
		return models.RoleUser
	}
	return role
}

// permsFromContext decodes the spawn-time permission intersection.
func permsFromContext(instanceContext map[string]any) (models.EffectivePermissions, error) {
	var perms models.EffectivePermissions
	value, ok := instanceContext["_effective_permissions"]
	if !ok {
		return perms, fmt.Errorf("no effective permissions in context")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return perms, err
	}
	if err := json.Unmarshal(raw, &perms); err != nil {
		return perms, err
	}
	return perms, nil
}
