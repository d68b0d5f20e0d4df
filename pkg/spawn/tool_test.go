package spawn

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/tools"
)

func TestSpawnAgentTool(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))

	registry := tools.NewRegistry()
	require.NoError(t, Register(registry, env.spawner))
	assert.True(t, registry.Has("spawn_agent"))

	out, err := registry.Execute(context.Background(), agentUser, nil, "spawn_agent", map[string]any{
		"template_id": "research",
		"task":        "explain raft",
		"context":     map[string]any{"corpus": "papers"},
	})
	require.NoError(t, err)
	require.Equal(t, "success", out.Status)

	var result struct {
		InstanceID string `json:"instance_id"`
		Status     string `json:"status"`
		Depth      int    `json:"depth"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Content[0].Text), &result))
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, 0, result.Depth)

	inst, err := env.instances.Get(context.Background(), result.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "explain raft", inst.Task)
	assert.Equal(t, "papers", inst.Context["corpus"])
}

func TestSpawnAgentToolSurfacesGovernanceErrors(t *testing.T) {
	env := newSpawnEnv(t)
	registry := tools.NewRegistry()
	require.NoError(t, Register(registry, env.spawner))

	// Governance failures come back as errors for the loop to reify.
	_, err := registry.Execute(context.Background(), agentUser, nil, "spawn_agent", map[string]any{
		"template_id": "missing",
		"task":        "t",
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestSpawnAgentToolRejectsBadArgs(t *testing.T) {
	env := newSpawnEnv(t)
	registry := tools.NewRegistry()
	require.NoError(t, Register(registry, env.spawner))

	// Schema validation catches the missing task before the spawner runs.
	out, err := registry.Execute(context.Background(), agentUser, nil, "spawn_agent", map[string]any{
		"template_id": "research",
	})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)
}
