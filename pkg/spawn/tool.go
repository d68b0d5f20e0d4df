package spawn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/tools"
)

// spawnToolSchema describes the spawn_agent arguments in the same JSON
// Schema dialect the built-in descriptors use.
const spawnToolSchema = `{
	"type": "object",
	"properties": {
		"template_id": {"type": "string", "description": "Template to instantiate"},
		"task": {"type": "string", "description": "Task for the child agent"},
		"context": {"type": "object", "description": "Initial context for the child"},
		"parent_instance_id": {"type": "string", "description": "Spawning instance id; sets ancestry"}
	},
	"required": ["template_id", "task"],
	"additionalProperties": false
}`

// ToolDescriptor is the spawn_agent descriptor for registry registration.
func ToolDescriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Origin:        models.OriginBuiltin,
		Name:          "spawn_agent",
		Description:   "Spawn a sub-agent from a template. The child runs asynchronously; the result is its instance id.",
		InputSchema:   json.RawMessage(spawnToolSchema),
		SafetyDefault: models.SafetyModerate,
	}
}

// Register exposes the spawner as the spawn_agent tool. Which principals
// actually see it is decided by the role grant tables, not here.
func Register(registry *tools.Registry, spawner *Spawner) error {
	return registry.RegisterExtra(ToolDescriptor(), &spawnInvoker{spawner: spawner})
}

type spawnInvoker struct {
	spawner *Spawner
}

// Invoke runs a spawn on behalf of an agent. Governance failures surface
// as errors so the loop reifies them into tool results for the model.
func (i *spawnInvoker) Invoke(ctx context.Context, principal models.Principal, args map[string]any) (*models.ToolOutput, error) {
	req := models.SpawnRequest{
		TemplateID:       stringArg(args, "template_id"),
		Task:             stringArg(args, "task"),
		ParentInstanceID: stringArg(args, "parent_instance_id"),
	}
	if child, ok := args["context"].(map[string]any); ok {
		req.Context = child
	}

	inst, err := i.spawner.Spawn(ctx, principal, req)
	if err != nil {
		return nil, err
	}

	summary, err := json.Marshal(map[string]any{
		"instance_id": inst.ID,
		"status":      inst.Status,
		"depth":       inst.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("encode spawn result: %w", err)
	}
	return &models.ToolOutput{
		Status:  "success",
		Content: []models.ContentPart{models.TextPart(string(summary))},
		Safety:  models.SafetyModerate,
	}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
