package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/llm"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/session"
)

// fakeDispatcher returns canned outputs and records dispatch order.
type fakeDispatcher struct {
	mu         sync.Mutex
	allowAll   bool
	allowed    map[string]bool
	safety     map[string]models.Safety
	outputs    map[string]*models.ToolOutput
	dispatched []string
}

func newFakeDispatcher(allowedTools ...string) *fakeDispatcher {
	d := &fakeDispatcher{
		allowed: map[string]bool{},
		safety:  map[string]models.Safety{},
		outputs: map[string]*models.ToolOutput{},
	}
	for _, name := range allowedTools {
		if name == "*" {
			d.allowAll = true
		}
		d.allowed[name] = true
	}
	return d
}

func (d *fakeDispatcher) Tools() []models.ToolDescriptor {
	var result []models.ToolDescriptor
	for name := range d.allowed {
		result = append(result, models.ToolDescriptor{
			Origin:      models.OriginBuiltin,
			Name:        name,
			InputSchema: json.RawMessage(`{"type":"object"}`),
		})
	}
	return result
}

func (d *fakeDispatcher) Allowed(name string) bool {
	return d.allowAll || d.allowed[name]
}

func (d *fakeDispatcher) Safety(name string, _ map[string]any) (models.Safety, string) {
	if s, ok := d.safety[name]; ok {
		return s, "test override"
	}
	return models.SafetySafe, "default"
}

func (d *fakeDispatcher) Dispatch(_ context.Context, name string, _ map[string]any) (*models.ToolOutput, error) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, name)
	d.mu.Unlock()

	if out, ok := d.outputs[name]; ok {
		return out, nil
	}
	return &models.ToolOutput{
		Status:  "success",
		Content: []models.ContentPart{models.TextPart("ok: " + name)},
		Safety:  models.SafetySafe,
	}, nil
}

func (d *fakeDispatcher) dispatchedTools() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.dispatched...)
}

// captureRecorder collects emitted events.
type captureRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *captureRecorder) Record(_ context.Context, event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureRecorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		result[i] = e.Type
	}
	return result
}

type testEnv struct {
	execCtx    *agent.ExecutionContext
	dispatcher *fakeDispatcher
	recorder   *captureRecorder
	session    *session.Session
}

func newTestEnv(t *testing.T, client llm.ChatCompleter, dispatcher *fakeDispatcher, perms models.EffectivePermissions) *testEnv {
	t.Helper()
	principal := models.Principal{ID: "u1", Role: models.RoleAgentUser}
	sess := session.NewStore(0).Get(principal)
	recorder := &captureRecorder{}

	return &testEnv{
		dispatcher: dispatcher,
		recorder:   recorder,
		session:    sess,
		execCtx: &agent.ExecutionContext{
			Principal: principal,
			Instance: &models.Instance{
				ID:     "inst-1",
				Status: models.StatusRunning,
				Task:   "summarize the repo",
			},
			Perms:      perms,
			Objective:  "You are a focused assistant.",
			Mode:       models.ModeMultiStep,
			Model:      "test-model",
			LLM:        client,
			Dispatcher: dispatcher,
			Recorder:   recorder,
			Session:    sess,
		},
	}
}
