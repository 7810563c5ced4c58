package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/config"
)

const (
	searchTimeout      = 30 * time.Second
	webSearchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// searchResult is one hit from any engine.
type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// searchEngine abstracts Brave and DuckDuckGo.
type searchEngine interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

// WebSearchTool searches the web, caching recent queries so repeated
// lookups inside one planning run cost one request.
type WebSearchTool struct {
	engine     searchEngine
	maxResults int
	cache      *searchCache
}

func NewWebSearchTool(cfg config.WebSearchConfig) *WebSearchTool {
	var engine searchEngine
	if cfg.Engine == "brave" && cfg.BraveAPIKey != "" {
		engine = newBraveEngine(cfg.BraveAPIKey)
	} else {
		engine = newDuckDuckGoEngine()
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &WebSearchTool{
		engine:     engine,
		maxResults: maxResults,
		cache:      newSearchCache(ttl),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Timeout() time.Duration { return searchTimeout }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("web_search requires a non-empty query")
	}

	count := t.maxResults
	if v, ok := args["count"].(float64); ok && int(v) > 0 && int(v) < 20 {
		count = int(v)
	}

	if cached, ok := t.cache.get(query); ok {
		return searchResultToResult(query, cached)
	}

	if progress != nil {
		progress(fmt.Sprintf("searching %s for %q", t.engine.Name(), query))
	}
	results, err := t.engine.Search(ctx, query, count)
	if err != nil {
		return ErrorResult(fmt.Sprintf("web search failed: %v", err)).WithError(err)
	}
	if len(results) == 0 {
		return NewResult("No results found for: " + query)
	}

	t.cache.put(query, results)
	return searchResultToResult(query, results)
}

func searchResultToResult(query string, results []searchResult) *Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return StructuredResult(sb.String(), map[string]any{
		"query":   query,
		"results": results,
	})
}

// searchCache is a small TTL cache keyed by query.
type searchCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]cacheEntry
}

type cacheEntry struct {
	results []searchResult
	expires time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{ttl: ttl, m: make(map[string]cacheEntry)}
}

func (c *searchCache) get(query string) ([]searchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[query]
	if !ok || time.Now().After(e.expires) {
		delete(c.m, query)
		return nil, false
	}
	return e.results, true
}

func (c *searchCache) put(query string, results []searchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[query] = cacheEntry{results: results, expires: time.Now().Add(c.ttl)}
}
