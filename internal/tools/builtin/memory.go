package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/tools"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY TOOLS
// ═══════════════════════════════════════════════════════════════════════════════

// RememberTool stores a fact about the user.
type RememberTool struct {
	store MemoryStore
}

// NewRememberTool creates the remember tool.
func NewRememberTool(s MemoryStore) *RememberTool { return &RememberTool{store: s} }

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Save a fact or preference the user wants you to remember across conversations."
}

func (t *RememberTool) Parameters() map[string]any {
	return schema(map[string]any{
		"content":    prop("string", "The fact to remember, phrased about the user"),
		"category":   prop("string", "fact, preference, person or place"),
		"importance": prop("number", "0 to 1; how important the fact is"),
	}, "content")
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) (*tools.Output, error) {
	user := tools.CallerFrom(ctx)
	if user == "" {
		return nil, fmt.Errorf("validation: no user to remember for")
	}
	content, err := requiredString(args, "content")
	if err != nil {
		return nil, err
	}
	importance, ok := floatArg(args, "importance")
	if !ok {
		importance = 0.7
	}

	inserted, err := t.store.AddMemory(ctx, &data.Memory{
		UserID:     user,
		Content:    content,
		Category:   stringArg(args, "category"),
		Importance: importance,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &tools.Output{Message: "I already knew that."}, nil
	}
	return &tools.Output{Message: "Saved."}, nil
}

// SearchMemoriesTool finds stored facts about the user.
type SearchMemoriesTool struct {
	store MemoryStore
}

// NewSearchMemoriesTool creates the search_memories tool.
func NewSearchMemoriesTool(s MemoryStore) *SearchMemoriesTool {
	return &SearchMemoriesTool{store: s}
}

func (t *SearchMemoriesTool) Name() string { return "search_memories" }

func (t *SearchMemoriesTool) Description() string {
	return "Search facts previously saved about the user."
}

func (t *SearchMemoriesTool) Parameters() map[string]any {
	return schema(map[string]any{
		"query": prop("string", "Words to look for"),
		"limit": prop("integer", "Maximum results (default 5)"),
	}, "query")
}

func (t *SearchMemoriesTool) Execute(ctx context.Context, args map[string]any) (*tools.Output, error) {
	user := tools.CallerFrom(ctx)
	if user == "" {
		return nil, fmt.Errorf("validation: no user to search for")
	}
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}

	mems, err := t.store.SearchMemories(ctx, user, query, intArg(args, "limit", 5))
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return &tools.Output{Message: "No matching memories."}, nil
	}

	lines := make([]string, len(mems))
	for i, m := range mems {
		lines[i] = "- " + m.Content
	}
	return &tools.Output{Message: strings.Join(lines, "\n"), Data: mems}, nil
}

// SearchDocumentsTool finds documents the user has shared.
type SearchDocumentsTool struct {
	docs enrich.DocumentSource
}

// NewSearchDocumentsTool creates the search_documents tool.
func NewSearchDocumentsTool(src enrich.DocumentSource) *SearchDocumentsTool {
	return &SearchDocumentsTool{docs: src}
}

func (t *SearchDocumentsTool) Name() string { return "search_documents" }

func (t *SearchDocumentsTool) Description() string {
	return "Search documents the user has shared, returning the most relevant titles and excerpts."
}

func (t *SearchDocumentsTool) Parameters() map[string]any {
	return schema(map[string]any{
		"query": prop("string", "What the document is about"),
		"limit": prop("integer", "Maximum results (default 3)"),
	}, "query")
}

func (t *SearchDocumentsTool) Execute(ctx context.Context, args map[string]any) (*tools.Output, error) {
	user := tools.CallerFrom(ctx)
	if user == "" {
		return nil, fmt.Errorf("validation: no user to search for")
	}
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}

	all, err := t.docs.ListDocuments(ctx, user, 200)
	if err != nil {
		return nil, err
	}
	found := enrich.RelevantDocuments(query, all, 0.01, intArg(args, "limit", 3))
	if len(found) == 0 {
		return &tools.Output{Message: "No matching documents."}, nil
	}

	var sb strings.Builder
	results := make([]map[string]string, 0, len(found))
	for _, d := range found {
		excerpt := []rune(d.Content)
		if len(excerpt) > 300 {
			excerpt = excerpt[:300]
		}
		fmt.Fprintf(&sb, "## %s\n%s\n", d.Title, string(excerpt))
		results = append(results, map[string]string{"id": d.ID, "title": d.Title})
	}
	return &tools.Output{Message: strings.TrimSpace(sb.String()), Data: results}, nil
}
