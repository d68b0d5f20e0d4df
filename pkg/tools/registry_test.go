package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/models"
)

func TestRegistryDescriptors(t *testing.T) {
	r := NewRegistry()

	descs := r.Descriptors()
	names := make(map[string]models.ToolDescriptor, len(descs))
	for _, d := range descs {
		names[d.Name] = d
	}

	for _, want := range []string{
		ToolReadFile, ToolWriteFile, ToolListDir, ToolSearchFiles,
		ToolRunCommand, ToolRunPython, ToolWebSearch, ToolRAGQuery,
		ToolThink, ToolPlanTask,
	} {
		assert.Contains(t, names, want)
	}

	assert.Equal(t, models.SafetySafe, names[ToolReadFile].SafetyDefault)
	assert.Equal(t, models.SafetyModerate, names[ToolWriteFile].SafetyDefault)
	assert.Equal(t, models.SafetyDangerous, names[ToolRunPython].SafetyDefault)
	for _, d := range names {
		assert.Equal(t, models.OriginBuiltin, d.Origin)
		assert.NotEmpty(t, d.InputSchema)
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.ValidateArgs(ToolReadFile, map[string]any{"path": "notes.txt"}))

	err := r.ValidateArgs(ToolReadFile, map[string]any{})
	assert.ErrorIs(t, err, ErrSchemaViolation)

	err = r.ValidateArgs(ToolReadFile, map[string]any{"path": 42})
	assert.ErrorIs(t, err, ErrSchemaViolation)

	err = r.ValidateArgs("no_such_tool", map[string]any{})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestSafetyForRunCommandIsPerCall(t *testing.T) {
	r := NewRegistry()

	safety, _ := r.SafetyFor(ToolRunCommand, map[string]any{"cmd": "ls -la"})
	assert.Equal(t, models.SafetySafe, safety)

	safety, reason := r.SafetyFor(ToolRunCommand, map[string]any{"cmd": "rm -rf /"})
	assert.Equal(t, models.SafetyDangerous, safety)
	assert.Contains(t, reason, "rm -rf")

	safety, _ = r.SafetyFor(ToolRunPython, map[string]any{"code": "print(1)"})
	assert.Equal(t, models.SafetyDangerous, safety)
}

func TestApprovalExempt(t *testing.T) {
	assert.True(t, ApprovalExempt(ToolThink))
	assert.True(t, ApprovalExempt(ToolPlanTask))
	assert.False(t, ApprovalExempt(ToolRunCommand))
	assert.False(t, ApprovalExempt(ToolReadFile))
}

func TestExecuteThinkAndPlanWithoutSandbox(t *testing.T) {
	r := NewRegistry()
	principal := models.Principal{ID: "u1", Role: models.RoleAgentUser}

	out, err := r.Execute(context.Background(), principal, nil, ToolThink,
		map[string]any{"thought": "check the config first"})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Contains(t, out.Content[0].Text, "check the config first")

	out, err = r.Execute(context.Background(), principal, nil, ToolPlanTask,
		map[string]any{"goal": "ship it", "steps": []any{"build", "test"}})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Contains(t, out.Content[0].Text, "1. build")
	assert.Contains(t, out.Content[0].Text, "2. test")
}

func TestExecuteFileToolWithoutSandboxFails(t *testing.T) {
	r := NewRegistry()
	principal := models.Principal{ID: "u1", Role: models.RoleAgentUser}

	out, err := r.Execute(context.Background(), principal, nil, ToolReadFile,
		map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)
	assert.Contains(t, out.Content[0].Text, "no sandbox")
}

func TestExecuteUnconfiguredDelegates(t *testing.T) {
	r := NewRegistry()
	principal := models.Principal{ID: "u1", Role: models.RoleAgentUser}

	out, err := r.Execute(context.Background(), principal, nil, ToolWebSearch,
		map[string]any{"query": "weather"})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)

	out, err = r.Execute(context.Background(), principal, nil, ToolRAGQuery,
		map[string]any{"query": "docs"})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)

	out, err = r.Execute(context.Background(), principal, nil, ToolReadURL,
		map[string]any{"url": "https://example.com/doc.md"})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)
}

type stubFetcher struct{ content string }

func (s *stubFetcher) Fetch(_ context.Context, _ string) (string, error) {
	return s.content, nil
}

func TestExecuteReadURLDelegates(t *testing.T) {
	r := NewRegistry()
	r.SetFetcher(&stubFetcher{content: "# runbook"})

	out, err := r.Execute(context.Background(), models.Principal{ID: "u1"}, nil,
		ToolReadURL, map[string]any{"url": "https://example.com/doc.md"})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "# runbook", out.Content[0].Text)
}

type stubInvoker struct{ out *models.ToolOutput }

func (s *stubInvoker) Invoke(_ context.Context, _ models.Principal, _ map[string]any) (*models.ToolOutput, error) {
	return s.out, nil
}

func TestRegisterExtra(t *testing.T) {
	r := NewRegistry()

	desc := models.ToolDescriptor{
		Origin:        models.OriginBuiltin,
		Name:          "spawn_agent",
		Description:   "spawn a sub-agent",
		InputSchema:   []byte(`{"type":"object","properties":{"template_id":{"type":"string"}},"required":["template_id"]}`),
		SafetyDefault: models.SafetyModerate,
	}
	inv := &stubInvoker{out: successOutput(models.SafetyModerate, "spawned")}
	require.NoError(t, r.RegisterExtra(desc, inv))

	// Duplicate registration is refused.
	assert.Error(t, r.RegisterExtra(desc, inv))

	out, err := r.Execute(context.Background(), models.Principal{ID: "u1"}, nil,
		"spawn_agent", map[string]any{"template_id": "tpl-1"})
	require.NoError(t, err)
	assert.Equal(t, "spawned", out.Content[0].Text)
}
