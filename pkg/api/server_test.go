package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/queue"
	"github.com/kestrelops/kestrel/pkg/services"
	"github.com/kestrelops/kestrel/pkg/session"
	"github.com/kestrelops/kestrel/pkg/spawn"
	"github.com/kestrelops/kestrel/pkg/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiSearch struct {
	queries []string
}

func (f *apiSearch) Search(_ context.Context, query string, _ int) ([]string, error) {
	f.queries = append(f.queries, query)
	return []string{"result for " + query}, nil
}

type apiEnv struct {
	instances *services.InstanceService
	templates *services.TemplateService
	events    *services.EventService
	sessions  *session.Store
	spawner   *spawn.Spawner
	pool      *queue.RunnerPool
	search    *apiSearch
	router    *gin.Engine
}

func newAPIEnv(t *testing.T, turns ...llm.ScriptedTurn) *apiEnv {
	t.Helper()
	store := services.NewMemoryStore()
	env := &apiEnv{
		instances: services.NewInstanceService(store),
		templates: services.NewTemplateService(store),
		events:    services.NewEventService(store),
		sessions:  session.NewStore(0),
		search:    &apiSearch{},
	}
	registry := tools.NewRegistry()
	registry.SetSearchProvider(env.search)

	policy := &config.Policy{
		MaxDepth:          3,
		MaxTotalInstances: 50,
		Roles: map[models.Role]*config.RoleGrant{
			models.RoleAgentUser: {
				Tools:       []string{"think", "web_search"},
				MaxSteps:    10,
				TokenBudget: 10_000,
			},
		},
	}
	env.spawner = spawn.NewSpawner(env.templates, env.instances, env.events, policy)

	runner := queue.NewRunner(queue.Deps{
		Instances:    env.instances,
		Templates:    env.templates,
		Events:       env.events,
		Sessions:     env.sessions,
		Registry:     registry,
		LLM:          llm.NewScriptedClient(turns...),
		Policy:       policy,
		DefaultModel: "gpt-4o-mini",
	}, time.Minute)
	env.pool = queue.NewRunnerPool(queue.Options{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, env.instances, runner)

	server := NewServer(env.templates, env.instances, env.events,
		env.spawner, env.pool, env.sessions, nil, nil)
	env.router = server.Router()
	return env
}

// do issues a request with principal headers and returns the recorder.
func (e *apiEnv) do(t *testing.T, method, path string, body any, userID string, role models.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
		req.Header.Set(HeaderRole, string(role))
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (e *apiEnv) createTriageTemplate(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/templates", models.CreateTemplateRequest{
		ID:    "triage",
		Scope: models.ScopeOrg,
		Spec: models.AgentSpec{
			Objective:     "triage the report",
			AllowedTools:  []string{"think", "web_search"},
			ExecutionMode: models.ModeMultiStep,
			MaxSteps:      5,
		},
	}, "alice", models.RoleAgentDeveloper)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *apiEnv) spawnTriage(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/spawn",
		models.SpawnRequest{TemplateID: "triage", Task: "look into the outage"},
		"bob", models.RoleAgentUser)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestPrincipalHeadersRequired(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/templates", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/templates", nil, "bob", "made_up_role")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/templates", nil, "bob", models.RoleUser)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplateLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	env.createTriageTemplate(t)

	// Authoring needs the developer role.
	rec := env.do(t, http.MethodPost, "/api/v1/templates", models.CreateTemplateRequest{
		ID:   "other",
		Spec: models.AgentSpec{Objective: "x", AllowedTools: []string{"think"}},
	}, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/templates/triage", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "triage", body["id"])
	assert.Equal(t, "alice", body["owner_id"], "owner defaults to the authoring principal")

	rec = env.do(t, http.MethodGet, "/api/v1/templates", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/templates/triage", nil, "alice", models.RoleAgentDeveloper)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/templates/unknown", nil, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpawnEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.createTriageTemplate(t)

	id := env.spawnTriage(t)
	assert.NotEmpty(t, id)

	rec := env.do(t, http.MethodPost, "/api/v1/spawn",
		models.SpawnRequest{TemplateID: "no-such-template", Task: "anything"},
		"bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/spawn",
		models.SpawnRequest{TemplateID: "triage"},
		"bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "task is required")
}

func TestInstanceOwnershipHiddenAsNotFound(t *testing.T) {
	env := newAPIEnv(t)
	env.createTriageTemplate(t)
	id := env.spawnTriage(t)

	rec := env.do(t, http.MethodGet, "/api/v1/instances/"+id, nil, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/instances/"+id, nil, "carol", models.RoleAgentUser)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other principals cannot see the instance")

	rec = env.do(t, http.MethodGet, "/api/v1/instances/"+id, nil, "root", models.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code, "admins see everything")

	rec = env.do(t, http.MethodGet, "/api/v1/instances", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["instances"], 1)
}

func TestCancelQueuedInstance(t *testing.T) {
	env := newAPIEnv(t)
	env.createTriageTemplate(t)
	id := env.spawnTriage(t)

	rec := env.do(t, http.MethodPost, "/api/v1/instances/"+id+"/cancel", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.StatusCancelled), decodeBody(t, rec)["status"])

	// Cancelling a terminal instance is an illegal transition.
	rec = env.do(t, http.MethodPost, "/api/v1/instances/"+id+"/cancel", nil, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInstanceEventsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.createTriageTemplate(t)
	id := env.spawnTriage(t)

	rec := env.do(t, http.MethodGet, "/api/v1/instances/"+id+"/events", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	events := body["events"].([]any)
	require.NotEmpty(t, events)
	first := events[0].(map[string]any)
	assert.Equal(t, string(models.EventSpawned), first["event_type"])

	afterID := first["id"].(string)
	rec = env.do(t, http.MethodGet, "/api/v1/instances/"+id+"/events?after_id="+afterID, nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["events"], "catch-up read past the only event")

	rec = env.do(t, http.MethodGet, "/api/v1/instances/"+id+"/events?root=true", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["events"])
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	env := newAPIEnv(t,
		llm.ToolTurn(10, llm.ToolCall{ID: "call-1", Name: "web_search", Args: map[string]any{"query": "dns outage"}}),
		llm.TextTurn("confirmed: dns", 5),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.pool.Start(ctx)
	defer env.pool.Stop()

	env.createTriageTemplate(t)
	id := env.spawnTriage(t)

	require.Eventually(t, func() bool {
		inst, err := env.instances.Get(ctx, id)
		return err == nil && inst.Status == models.StatusAwaitingApproval
	}, 5*time.Second, 10*time.Millisecond, "worker should park the run on the gated call")

	rec := env.do(t, http.MethodGet, "/api/v1/approvals", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody(t, rec)["pending"].([]any)
	require.Len(t, pending, 1)
	pendingID := pending[0].(map[string]any)["id"].(string)

	// Another principal cannot resolve bob's pending call.
	rec = env.do(t, http.MethodPost, "/api/v1/approvals/"+pendingID+"/approve", nil, "carol", models.RoleAgentUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/"+pendingID+"/approve", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "resuming", decodeBody(t, rec)["status"])

	require.Eventually(t, func() bool {
		inst, err := env.instances.Get(ctx, id)
		return err == nil && inst.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	inst, err := env.instances.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "confirmed: dns", inst.Result["final_answer"])
	assert.Equal(t, []string{"dns outage"}, env.search.queries)
}

func TestSessionEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/session", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.ModeRequireApproval), decodeBody(t, rec)["approval_mode"])

	rec = env.do(t, http.MethodPut, "/api/v1/session/mode",
		SetModeRequest{Mode: models.ModeTrust}, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.ModeTrust), decodeBody(t, rec)["approval_mode"])

	rec = env.do(t, http.MethodPut, "/api/v1/session/mode",
		map[string]string{"mode": "yolo"}, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	root := t.TempDir()
	canonical, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPut, "/api/v1/session/sandbox",
		SetSandboxRequest{Root: root}, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, canonical, decodeBody(t, rec)["sandbox_root"])

	rec = env.do(t, http.MethodPut, "/api/v1/session/sandbox",
		SetSandboxRequest{Root: root + "/does-not-exist"}, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The failed update leaves the previous binding in place.
	rec = env.do(t, http.MethodGet, "/api/v1/session", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, canonical, decodeBody(t, rec)["sandbox_root"])
}

func TestMCPAdminEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/mcp/servers", nil, "bob", models.RoleAgentUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["servers"])

	body := map[string]any{
		"id": "filesystem",
		"transport": map[string]any{
			"type":    "stdio",
			"command": "npx",
			"args":    []string{"-y", "@modelcontextprotocol/server-filesystem"},
		},
	}
	rec = env.do(t, http.MethodPost, "/api/v1/mcp/servers", body, "bob", models.RoleAgentUser)
	assert.Equal(t, http.StatusForbidden, rec.Code, "server admin is admin-only")

	// No multiplexer configured in this deployment.
	rec = env.do(t, http.MethodPost, "/api/v1/mcp/servers", body, "root", models.RoleAdmin)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/mcp/servers/filesystem", nil, "root", models.RoleAdmin)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil, "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no workers running yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.pool.Start(ctx)
	defer env.pool.Stop()

	rec = env.do(t, http.MethodGet, "/healthz", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}
