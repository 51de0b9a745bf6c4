// Package kb provides the chat tool-loop's vector knowledge-base search
// tool, backed by a domain's MMR-lite context builder.
package kb

import (
	"context"
	"fmt"

	"warden/internal/tools"
)

// Result is a single retrieved knowledge-base chunk.
type Result struct {
	Path    string
	Heading string
	Content string
	Score   float64
}

// Searcher is the narrow retrieval surface the kb_search tool depends on,
// satisfied by the runtime's adapter over internal/retrieval's context builder.
type Searcher interface {
	Search(ctx context.Context, domainID, query string, limit int) ([]Result, error)
}

// RegisterAll registers the kb_search tool against searcher for domainID.
func RegisterAll(registry *tools.Registry, searcher Searcher, domainID string) error {
	return registry.Register(searchTool(searcher, domainID))
}

func searchTool(searcher Searcher, domainID string) *tools.Tool {
	return &tools.Tool{
		Name:        "kb_search",
		Description: "Search this domain's knowledge base for relevant notes and return the most relevant passages",
		Category:    tools.CategoryKB,
		Priority:    80,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("KB_ERROR: validation — query is required")
			}
			limit := tools.IntArg(args, "limit", 5)

			results, err := searcher.Search(ctx, domainID, query, limit)
			if err != nil {
				return "", fmt.Errorf("KB_ERROR: executor — %w", err)
			}
			return formatResults(results), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {Type: "string", Description: "Natural-language search query"},
				"limit": {Type: "integer", Description: "Maximum passages to return (default 5)", Default: 5},
			},
		},
	}
}

func formatResults(results []Result) string {
	if len(results) == 0 {
		return "No matching knowledge-base content."
	}
	out := ""
	for _, r := range results {
		out += fmt.Sprintf("--- %s (%s) ---\n%s\n\n", r.Path, r.Heading, r.Content)
	}
	return out
}
