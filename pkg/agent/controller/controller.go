// Package controller implements the agent loop strategies: single (one
// model call), multi_step (the full reason/act/observe loop), and planner
// (an explicit plan turn followed by the loop).
package controller

import (
	"context"
	"fmt"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/models"
)

// Controller runs one instance to a result.
type Controller interface {
	Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error)
}

// Resumer continues a surrendered run once its pending call is resolved.
type Resumer interface {
	Resume(
		ctx context.Context,
		execCtx *agent.ExecutionContext,
		snap *agent.Snapshot,
		call *approval.PendingCall,
		approved bool,
	) (*agent.ExecutionResult, error)
}

// For returns the controller for an execution mode.
func For(mode models.ExecutionMode) (Controller, error) {
	switch mode {
	case models.ModeSingle:
		return NewSingleShotController(), nil
	case models.ModeMultiStep, "":
		return NewMultiStepController(), nil
	case models.ModePlanner:
		return NewPlannerController(), nil
	}
	return nil, fmt.Errorf("unknown execution mode %q", mode)
}
