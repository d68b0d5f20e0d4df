package tools

import (
	"encoding/json"

	"github.com/kestrelops/kestrel/pkg/models"
)

// Built-in tool names. Stable: they appear in templates, role grants,
// and persisted events.
const (
	ToolReadFile    = "read_file"
	ToolWriteFile   = "write_file"
	ToolListDir     = "list_dir"
	ToolSearchFiles = "search_files"
	ToolRunCommand  = "run_command"
	ToolRunPython   = "run_python"
	ToolWebSearch   = "web_search"
	ToolReadURL     = "read_url"
	ToolRAGQuery    = "rag_query"
	ToolThink       = "think"
	ToolPlanTask    = "plan_task"
)

// ApprovalExempt reports whether a tool never requires approval.
// think and plan_task only record model output; there is nothing to gate.
func ApprovalExempt(name string) bool {
	return name == ToolThink || name == ToolPlanTask
}

// builtinDescriptors is the fixed descriptor set for built-in tools.
// run_command's safety is derived per call from the command classifier;
// the moderate default only covers paths that skip classification.
var builtinDescriptors = []models.ToolDescriptor{
	{
		Origin: models.OriginBuiltin, Name: ToolReadFile,
		Description:   "Read a file from the sandbox. Returns the file content as text.",
		InputSchema:   schema(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the sandbox root"}},"required":["path"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolWriteFile,
		Description:   "Write content to a file inside the sandbox, creating parent directories as needed.",
		InputSchema:   schema(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		SafetyDefault: models.SafetyModerate,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolListDir,
		Description:   "List entries of a directory inside the sandbox.",
		InputSchema:   schema(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path, empty for the sandbox root"}}}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolSearchFiles,
		Description:   "Search file contents under a directory for a substring pattern.",
		InputSchema:   schema(`{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string"}},"required":["pattern"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolRunCommand,
		Description:   "Run a shell command with the sandbox root as working directory. Safety is classified per command.",
		InputSchema:   schema(`{"type":"object","properties":{"cmd":{"type":"string"},"timeout":{"type":"integer","description":"Timeout in seconds"}},"required":["cmd"]}`),
		SafetyDefault: models.SafetyModerate,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolRunPython,
		Description:   "Execute a Python snippet in the sandbox. Always requires approval.",
		InputSchema:   schema(`{"type":"object","properties":{"code":{"type":"string"},"timeout":{"type":"integer","description":"Timeout in seconds"}},"required":["code"]}`),
		SafetyDefault: models.SafetyDangerous,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolWebSearch,
		Description:   "Search the web and return result snippets.",
		InputSchema:   schema(`{"type":"object","properties":{"query":{"type":"string"},"num_results":{"type":"integer"}},"required":["query"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolReadURL,
		Description:   "Fetch a document over HTTP and return its text content. GitHub blob links resolve to raw content.",
		InputSchema:   schema(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolRAGQuery,
		Description:   "Query the retrieval pipeline for relevant documents.",
		InputSchema:   schema(`{"type":"object","properties":{"query":{"type":"string"},"top_k":{"type":"integer"}},"required":["query"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolThink,
		Description:   "Record an intermediate thought. No side effects.",
		InputSchema:   schema(`{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`),
		SafetyDefault: models.SafetySafe,
	},
	{
		Origin: models.OriginBuiltin, Name: ToolPlanTask,
		Description:   "Record a structured plan for the stated goal.",
		InputSchema:   schema(`{"type":"object","properties":{"goal":{"type":"string"},"steps":{"type":"array","items":{"type":"string"}}},"required":["goal","steps"]}`),
		SafetyDefault: models.SafetySafe,
	},
}

func schema(s string) json.RawMessage { return json.RawMessage(s) }
