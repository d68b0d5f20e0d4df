package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelops/kestrel/pkg/models"
)

// successOutput builds a single-text-part success result.
func successOutput(safety models.Safety, text string) *models.ToolOutput {
	return &models.ToolOutput{
		Status:  "success",
		Content: []models.ContentPart{models.TextPart(text)},
		Safety:  safety,
	}
}

// errorOutput builds a single-text-part error result. Tool errors are data
// fed back to the model, never Go errors that abort the loop.
func errorOutput(safety models.Safety, text string) *models.ToolOutput {
	return &models.ToolOutput{
		Status:  "error",
		Content: []models.ContentPart{models.TextPart(text)},
		Safety:  safety,
	}
}

// planTask renders the structured plan back as confirmation. The event log
// carries the structured payload; the model sees the rendered form.
func planTask(args map[string]any) *models.ToolOutput {
	goal, _ := args["goal"].(string)
	var steps []string
	if raw, ok := args["steps"].([]any); ok {
		for i, s := range raw {
			steps = append(steps, fmt.Sprintf("%d. %v", i+1, s))
		}
	}
	var b strings.Builder
	b.WriteString("Plan recorded for goal: " + goal + "\n")
	b.WriteString(strings.Join(steps, "\n"))
	return successOutput(models.SafetySafe, b.String())
}

func delegateSearch(ctx context.Context, provider SearchProvider, args map[string]any) *models.ToolOutput {
	if provider == nil {
		return errorOutput(models.SafetySafe, "web_search is not configured on this deployment")
	}
	query, _ := args["query"].(string)
	numResults := intArg(args, "num_results", 5)

	results, err := provider.Search(ctx, query, numResults)
	if err != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("web_search failed: %s", err))
	}
	return successOutput(models.SafetySafe, strings.Join(results, "\n\n"))
}

func delegateFetch(ctx context.Context, fetcher Fetcher, args map[string]any) *models.ToolOutput {
	if fetcher == nil {
		return errorOutput(models.SafetySafe, "read_url is not configured on this deployment")
	}
	url, _ := args["url"].(string)

	content, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("read_url failed: %s", err))
	}
	return successOutput(models.SafetySafe, content)
}

func delegateRAG(ctx context.Context, querier RAGQuerier, args map[string]any) *models.ToolOutput {
	if querier == nil {
		return errorOutput(models.SafetySafe, "rag_query is not configured on this deployment")
	}
	query, _ := args["query"].(string)
	topK := intArg(args, "top_k", 5)

	docs, err := querier.Query(ctx, query, topK)
	if err != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("rag_query failed: %s", err))
	}
	return successOutput(models.SafetySafe, strings.Join(docs, "\n---\n"))
}

// intArg reads an integer argument that JSON decoding may have produced as
// float64, int, or json.Number-ish string.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}
