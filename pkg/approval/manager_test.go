package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/tools"
)

func gateArgs() map[string]any {
	return map[string]any{"path": "notes.txt"}
}

func TestGateRequireApprovalCreatesPending(t *testing.T) {
	m := NewManager(0)

	decision := m.Gate(models.ModeRequireApproval, "inst-1", "u1",
		tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "descriptor default")

	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Pending)
	assert.NotEmpty(t, decision.Pending.ID)
	assert.Equal(t, "inst-1", decision.Pending.InstanceID)
	assert.Equal(t, tools.ToolWriteFile, decision.Pending.Tool)
	assert.Equal(t, models.SafetyModerate, decision.Pending.Safety)
}

func TestGateExemptToolsNeverGated(t *testing.T) {
	m := NewManager(0)

	for _, tool := range []string{tools.ToolThink, tools.ToolPlanTask} {
		decision := m.Gate(models.ModeRequireApproval, "inst-1", "u1",
			tool, nil, models.SafetySafe, "")
		assert.True(t, decision.Allowed, tool)
		assert.Nil(t, decision.Pending, tool)
	}
}

func TestGateTrustModeBypass(t *testing.T) {
	m := NewManager(0)

	// Moderate non-command calls pass under trust mode.
	decision := m.Gate(models.ModeTrust, "inst-1", "u1",
		tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")
	assert.True(t, decision.Allowed)

	// run_command is always gated, even when classified safe.
	decision = m.Gate(models.ModeTrust, "inst-1", "u1",
		tools.ToolRunCommand, map[string]any{"cmd": "ls"}, models.SafetySafe, "allowlisted")
	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Pending)

	// Dangerous calls are gated in every mode.
	decision = m.Gate(models.ModeTrust, "inst-1", "u1",
		tools.ToolRunPython, map[string]any{"code": "x"}, models.SafetyDangerous, "")
	assert.False(t, decision.Allowed)
}

func TestApproveReturnsCallAndRemoves(t *testing.T) {
	m := NewManager(0)
	decision := m.Gate(models.ModeRequireApproval, "inst-1", "u1",
		tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")
	id := decision.Pending.ID

	call, err := m.Approve(id)
	require.NoError(t, err)
	assert.Equal(t, tools.ToolWriteFile, call.Tool)
	assert.Equal(t, gateArgs(), call.Args)

	// Second approve of the same id fails: the entry is gone.
	_, err = m.Approve(id)
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestApproveUnknownID(t *testing.T) {
	m := NewManager(0)
	_, err := m.Approve("no-such-id")
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestApproveExpired(t *testing.T) {
	m := NewManager(time.Minute)
	decision := m.Gate(models.ModeRequireApproval, "inst-1", "u1",
		tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")
	id := decision.Pending.ID

	// Jump past the TTL.
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := m.Approve(id)
	assert.ErrorIs(t, err, ErrPendingExpired)

	// The expired entry was removed on the way out.
	_, err = m.Approve(id)
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestRejectRemoves(t *testing.T) {
	m := NewManager(0)
	decision := m.Gate(models.ModeRequireApproval, "inst-1", "u1",
		tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")
	id := decision.Pending.ID

	call, err := m.Reject(id)
	require.NoError(t, err)
	assert.Equal(t, id, call.ID)

	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestListFiltersByPrincipalAndSweeps(t *testing.T) {
	m := NewManager(time.Minute)
	m.Gate(models.ModeRequireApproval, "inst-1", "alice", tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")
	m.Gate(models.ModeRequireApproval, "inst-2", "bob", tools.ToolWriteFile, gateArgs(), models.SafetyModerate, "")

	assert.Len(t, m.List(""), 2)
	assert.Len(t, m.List("alice"), 1)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Empty(t, m.List(""))
}
