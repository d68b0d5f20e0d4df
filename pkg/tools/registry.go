// Package tools holds the built-in tool registry and the sandboxed
// implementations behind it. Descriptors are immutable once registered;
// execution state (the sandbox handle) lives with the session, not here.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/sandbox"
)

// Invoker executes a dynamically registered tool (e.g. spawn_agent).
type Invoker interface {
	Invoke(ctx context.Context, principal models.Principal, args map[string]any) (*models.ToolOutput, error)
}

// SearchProvider answers web_search calls. The implementation is an external
// collaborator; the core only defines the seam.
type SearchProvider interface {
	Search(ctx context.Context, query string, numResults int) ([]string, error)
}

// RAGQuerier answers rag_query calls; the retrieval pipeline itself is out
// of scope for the core.
type RAGQuerier interface {
	Query(ctx context.Context, query string, topK int) ([]string, error)
}

// Fetcher answers read_url calls.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Registry holds built-in tool descriptors plus dynamically registered
// extras. Reads vastly outnumber writes; a RWMutex keeps snapshots cheap.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]models.ToolDescriptor
	schemas     map[string]*jsonschema.Schema
	extras      map[string]Invoker

	search  SearchProvider
	rag     RAGQuerier
	fetcher Fetcher
}

// NewRegistry creates a registry seeded with the built-in descriptor set.
// Compiling a built-in schema cannot fail; a failure is a programming error
// in the descriptor table and panics at startup.
func NewRegistry() *Registry {
	r := &Registry{
		descriptors: make(map[string]models.ToolDescriptor, len(builtinDescriptors)),
		schemas:     make(map[string]*jsonschema.Schema, len(builtinDescriptors)),
		extras:      make(map[string]Invoker),
	}
	for _, desc := range builtinDescriptors {
		r.descriptors[desc.Name] = desc
		r.schemas[desc.Name] = mustCompile(desc.Name, desc.InputSchema)
	}
	return r
}

// SetSearchProvider wires the web_search collaborator.
func (r *Registry) SetSearchProvider(p SearchProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search = p
}

// SetRAGQuerier wires the rag_query collaborator.
func (r *Registry) SetRAGQuerier(q RAGQuerier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rag = q
}

// SetFetcher wires the read_url collaborator.
func (r *Registry) SetFetcher(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetcher = f
}

// RegisterExtra adds a dynamic tool (the spawner registers spawn_agent here).
// The descriptor name must not collide with a built-in.
func (r *Registry) RegisterExtra(desc models.ToolDescriptor, inv Invoker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}
	compiled, err := compileSchema(desc.Name, desc.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", desc.Name, err)
	}
	r.descriptors[desc.Name] = desc
	r.schemas[desc.Name] = compiled
	r.extras[desc.Name] = inv
	return nil
}

// Descriptors returns a snapshot of all registered descriptors.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]models.ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		result = append(result, d)
	}
	return result
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (models.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[name]
	if !ok {
		return models.ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return desc, nil
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[name]
	return ok
}

// ValidateArgs checks args against the tool's input schema.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	// The validator wants plain decoded JSON; args already is.
	if err := compiled.Validate(anyMap(args)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, name, err)
	}
	return nil
}

// SafetyFor classifies a call before gating. run_command derives safety
// from the command line; everything else uses the descriptor default.
func (r *Registry) SafetyFor(name string, args map[string]any) (models.Safety, string) {
	if name == ToolRunCommand {
		cmd, _ := args["cmd"].(string)
		return sandbox.ClassifyCommand(cmd)
	}
	desc, err := r.Get(name)
	if err != nil {
		return models.SafetyModerate, "unknown tool"
	}
	return desc.SafetyDefault, "descriptor default"
}

// Execute runs a tool. Built-ins needing filesystem or subprocess access go
// through the session's sandbox handle; the network and record-only tools
// work without one; extras carry their own dependencies.
func (r *Registry) Execute(
	ctx context.Context,
	principal models.Principal,
	handle *SandboxedTools,
	name string,
	args map[string]any,
) (*models.ToolOutput, error) {
	if err := r.ValidateArgs(name, args); err != nil {
		return errorOutput(models.SafetyModerate, err.Error()), nil
	}

	r.mu.RLock()
	extra, isExtra := r.extras[name]
	search, rag, fetcher := r.search, r.rag, r.fetcher
	r.mu.RUnlock()

	if isExtra {
		return extra.Invoke(ctx, principal, args)
	}

	switch name {
	case ToolThink:
		thought, _ := args["thought"].(string)
		return successOutput(models.SafetySafe, "Thought recorded: "+thought), nil

	case ToolPlanTask:
		return planTask(args), nil

	case ToolWebSearch:
		return delegateSearch(ctx, search, args), nil

	case ToolReadURL:
		return delegateFetch(ctx, fetcher, args), nil

	case ToolRAGQuery:
		return delegateRAG(ctx, rag, args), nil
	}

	// Everything below needs a sandbox.
	if handle == nil {
		return errorOutput(models.SafetyModerate, ErrNoSandbox.Error()), nil
	}

	switch name {
	case ToolReadFile:
		return handle.ReadFile(args)
	case ToolWriteFile:
		return handle.WriteFile(args)
	case ToolListDir:
		return handle.ListDir(args)
	case ToolSearchFiles:
		return handle.SearchFiles(args)
	case ToolRunCommand:
		return handle.RunCommand(ctx, args)
	case ToolRunPython:
		return handle.RunPython(ctx, args)
	}

	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

func mustCompile(name string, raw []byte) *jsonschema.Schema {
	compiled, err := compileSchema(name, raw)
	if err != nil {
		panic(fmt.Sprintf("builtin tool %q has invalid schema: %v", name, err))
	}
	return compiled
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	return jsonschema.CompileString(name+".schema.json", string(raw))
}

// anyMap widens a nil map to an empty object so schema validation of
// no-argument calls succeeds.
func anyMap(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
