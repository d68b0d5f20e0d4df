package spawn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
)

func testPolicy() *config.Policy {
	return &config.Policy{
		MaxDepth:          3,
		MaxTotalInstances: 50,
		Roles: map[models.Role]*config.RoleGrant{
			models.RoleAgentUser: {
				Tools:       []string{"rag_query", "rag_ingest", "calculator", "web_search", "read_url", "run_python"},
				MaxSteps:    10,
				TokenBudget: 200_000,
			},
			models.RoleAdmin: {Tools: []string{"*"}, MaxSteps: 50, TokenBudget: 1_000_000},
		},
	}
}

type spawnEnv struct {
	spawner   *Spawner
	templates *services.TemplateService
	instances *services.InstanceService
	events    *services.EventService
	policy    *config.Policy
}

func newSpawnEnv(t *testing.T) *spawnEnv {
	t.Helper()
	store := services.NewMemoryStore()
	env := &spawnEnv{
		templates: services.NewTemplateService(store),
		instances: services.NewInstanceService(store),
		events:    services.NewEventService(store),
		policy:    testPolicy(),
	}
	env.spawner = NewSpawner(env.templates, env.instances, env.events, env.policy)
	return env
}

func (e *spawnEnv) createTemplate(t *testing.T, req models.CreateTemplateRequest) *models.Template {
	t.Helper()
	tmpl, err := e.templates.Create(context.Background(), req)
	require.NoError(t, err)
	return tmpl
}

func orgTemplate(id string) models.CreateTemplateRequest {
	return models.CreateTemplateRequest{
		ID:      id,
		OwnerID: "alice",
		Scope:   models.ScopeOrg,
		Spec: models.AgentSpec{
			Objective:     "research a topic",
			AllowedTools:  []string{"rag_query", "web_search", "run_python", "write_file"},
			ExecutionMode: models.ModeMultiStep,
			MaxSteps:      20,
		},
	}
}

var agentUser = models.Principal{ID: "bob", Role: models.RoleAgentUser}

func TestSpawnIntersectsPermissions(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))
	ctx := context.Background()

	inst, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{
		TemplateID: "research",
		Task:       "explain raft",
		Context:    map[string]any{"corpus": "papers"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusQueued, inst.Status)
	assert.Equal(t, inst.ID, inst.RootID)
	assert.Empty(t, inst.ParentID)
	assert.Equal(t, 0, inst.Depth)
	assert.Equal(t, 1, inst.TemplateVersion)

	// write_file is template-allowed but not role-granted.
	perms, ok := inst.Context["_effective_permissions"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"rag_query", "web_search", "run_python"}, perms["tools"])
	assert.EqualValues(t, 10, perms["max_steps"], "role cap below template cap wins")
	assert.Equal(t, "papers", inst.Context["corpus"])

	events, err := env.events.List(ctx, models.EventFilter{InstanceID: inst.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSpawned, events[0].Type)
	assert.Equal(t, "research", events[0].Payload["template_id"])
}

func TestSpawnDeepCopiesContext(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))

	shared := map[string]any{"notes": []any{"a"}}
	inst, err := env.spawner.Spawn(context.Background(), agentUser, models.SpawnRequest{
		TemplateID: "research",
		Task:       "first",
		Context:    shared,
	})
	require.NoError(t, err)

	// Mutating the caller's map after the spawn must not leak into the
	// instance.
	shared["notes"] = []any{"a", "b"}
	loaded, err := env.instances.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, loaded.Context["notes"])
}

func TestSpawnScopeVisibility(t *testing.T) {
	env := newSpawnEnv(t)
	personal := orgTemplate("private")
	personal.Scope = models.ScopePersonal
	env.createTemplate(t, personal)
	env.createTemplate(t, orgTemplate("shared"))
	global := orgTemplate("open")
	global.Scope = models.ScopeGlobal
	env.createTemplate(t, global)
	ctx := context.Background()

	// Personal is owner-only; other principals see nothing.
	_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "private", Task: "t"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	owner := models.Principal{ID: "alice", Role: models.RoleAgentUser}
	_, err = env.spawner.Spawn(ctx, owner, models.SpawnRequest{TemplateID: "private", Task: "t"})
	assert.NoError(t, err)

	// Org scope needs an agent-capable role.
	plainUser := models.Principal{ID: "carol", Role: models.RoleUser}
	_, err = env.spawner.Spawn(ctx, plainUser, models.SpawnRequest{TemplateID: "shared", Task: "t"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	// Global is open even to plain users (role table still bounds tools).
	_, err = env.spawner.Spawn(ctx, plainUser, models.SpawnRequest{TemplateID: "open", Task: "t"})
	assert.NoError(t, err)
}

func TestSpawnRequiredRoles(t *testing.T) {
	env := newSpawnEnv(t)
	gated := orgTemplate("gated")
	gated.RequiredRoles = []models.Role{models.RoleAdmin}
	env.createTemplate(t, gated)
	ctx := context.Background()

	_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "gated", Task: "t"})
	assert.ErrorIs(t, err, ErrInsufficientRole)

	admin := models.Principal{ID: "root", Role: models.RoleAdmin}
	_, err = env.spawner.Spawn(ctx, admin, models.SpawnRequest{TemplateID: "gated", Task: "t"})
	assert.NoError(t, err)

	// Owner outranks admin in the hierarchy and passes the same gate.
	siteOwner := models.Principal{ID: "site", Role: models.RoleOwner}
	_, err = env.spawner.Spawn(ctx, siteOwner, models.SpawnRequest{TemplateID: "gated", Task: "t"})
	assert.NoError(t, err)
}

func TestSpawnAncestry(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))
	ctx := context.Background()

	root, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research", Task: "root"})
	require.NoError(t, err)

	child, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{
		TemplateID: "research", Task: "child", ParentInstanceID: root.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, root.ID, child.RootID)
	assert.Equal(t, root.ID, child.ParentID)

	grandchild, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{
		TemplateID: "research", Task: "grandchild", ParentInstanceID: child.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, grandchild.Depth)
	assert.Equal(t, root.ID, grandchild.RootID)

	_, err = env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{
		TemplateID: "research", Task: "unknown parent", ParentInstanceID: "no-such-instance",
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestSpawnDepthCapIsExclusive(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))
	ctx := context.Background()

	parent := ""
	var last *models.Instance
	for i := 0; i < 3; i++ {
		req := models.SpawnRequest{TemplateID: "research", Task: "chain", ParentInstanceID: parent}
		inst, err := env.spawner.Spawn(ctx, agentUser, req)
		require.NoError(t, err, "depth %d fits under cap 3", i)
		assert.Equal(t, i, inst.Depth)
		parent = inst.ID
		last = inst
	}

	// Depth would be 3, which equals the cap.
	_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{
		TemplateID: "research", Task: "too deep", ParentInstanceID: last.ID,
	})
	assert.ErrorIs(t, err, ErrSpawnDepthExceeded)
}

func TestSpawnActiveInstanceCap(t *testing.T) {
	env := newSpawnEnv(t)
	env.policy.MaxTotalInstances = 2
	env.createTemplate(t, orgTemplate("research"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research", Task: "t"})
		require.NoError(t, err)
	}

	_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research", Task: "one too many"})
	assert.ErrorIs(t, err, services.ErrSpawnLimitExceeded)

	// Another principal's budget is separate.
	other := models.Principal{ID: "dana", Role: models.RoleAgentUser}
	_, err = env.spawner.Spawn(ctx, other, models.SpawnRequest{TemplateID: "research", Task: "t"})
	assert.NoError(t, err)
}

func TestSpawnValidatesInput(t *testing.T) {
	env := newSpawnEnv(t)
	ctx := context.Background()

	_, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{Task: "no template"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	_, err = env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestSpawnPinsTemplateVersion(t *testing.T) {
	env := newSpawnEnv(t)
	env.createTemplate(t, orgTemplate("research"))
	ctx := context.Background()

	inst, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research", Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, inst.TemplateVersion)

	// A template update bumps the version; later spawns pick it up, the
	// existing instance stays pinned.
	updated := orgTemplate("research")
	updated.Spec.MaxSteps = 4
	env.createTemplate(t, updated)

	next, err := env.spawner.Spawn(ctx, agentUser, models.SpawnRequest{TemplateID: "research", Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.TemplateVersion)

	pinned, err := env.templates.GetVersion(ctx, "research", inst.TemplateVersion)
	require.NoError(t, err)
	assert.Equal(t, 20, pinned.Spec.MaxSteps)
}
