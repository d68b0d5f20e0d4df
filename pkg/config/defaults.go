package config

import (
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
)

// Defaults applied before validation. User YAML overrides these via mergo.
func defaultConfig() *KestrelYAMLConfig {
	return &KestrelYAMLConfig{
		Server: &ServerConfig{
			Port:            8080,
			ShutdownTimeout: Duration(15 * time.Second),
		},
		LLM: &LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			APIKeyEnv:   "LLM_API_KEY",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     Duration(120 * time.Second),
		},
		Policy: defaultPolicy(),
	}
}

// defaultPolicy is the platform policy used when kestrel.yaml omits one.
// Roles below agent_user cannot run agents at all; agent_user gets the
// read-mostly toolset; agent_developer adds write/execute tools and
// spawning; admin and owner get everything.
func defaultPolicy() *Policy {
	return &Policy{
		MaxDepth:          3,
		MaxTotalInstances: 50,
		PendingTTL:        Duration(10 * time.Minute),
		Roles: map[models.Role]*RoleGrant{
			models.RoleUser:    {Tools: []string{}},
			models.RoleRAGUser: {Tools: []string{"rag_query"}, MaxSteps: 5, TokenBudget: 50_000},
			models.RoleAgentUser: {
				Tools: []string{
					"read_file", "list_dir", "search_files", "web_search",
					"rag_query", "think", "plan_task",
				},
				MaxSteps:    15,
				TokenBudget: 200_000,
			},
			models.RoleAgentDeveloper: {
				Tools: []string{
					"read_file", "write_file", "list_dir", "search_files",
					"run_command", "run_python", "web_search", "rag_query",
					"think", "plan_task", "spawn_agent",
				},
				MaxSteps:    30,
				TokenBudget: 500_000,
			},
			models.RoleAdmin: {Tools: []string{"*"}, MaxSteps: 50, TokenBudget: 1_000_000},
			models.RoleOwner: {Tools: []string{"*"}, MaxSteps: 50, TokenBudget: 1_000_000},
		},
	}
}
