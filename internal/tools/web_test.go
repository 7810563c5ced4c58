package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jennifer88huang/gtplanner/internal/config"
)

func TestExtractDDGResults(t *testing.T) {
	html := `
	<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=x">Go <b>Documentation</b></a>
	<a class="result__snippet" href="#">Learn how to <b>install</b> Go.</a>
	<a rel="nofollow" class="result__a" href="https://example.com/page">Example</a>
	`
	results := extractDDGResults(html, 5)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].URL != "https://go.dev/doc/" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Go Documentation" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].Description != "Learn how to install Go." {
		t.Errorf("snippet = %q", results[0].Description)
	}
	if results[1].URL != "https://example.com/page" {
		t.Errorf("plain URL mangled: %q", results[1].URL)
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>body{color:red}</style>
	<script>alert(1)</script></head>
	<body><h1>Title</h1><p>First &amp; second.</p><p>Third.</p></body></html>`
	text := htmlToText(html)
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked: %q", text)
	}
	for _, want := range []string{"Title", "First & second.", "Third."} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
}

func TestWebSearchCacheHit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`<a class="result__a" href="https://example.com">Hit</a>`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(config.WebSearchConfig{MaxResults: 3, CacheTTLMinutes: 5})
	tool.engine = &testEngine{url: srv.URL, requests: &requests}

	for i := 0; i < 3; i++ {
		res := tool.Execute(context.Background(), map[string]any{"query": "golang"}, nil)
		if res.IsError {
			t.Fatalf("search %d failed: %s", i, res.ForLLM)
		}
	}
	if requests != 1 {
		t.Errorf("engine hit %d times, want 1 (cache)", requests)
	}
}

// testEngine hits a local server once per Search call.
type testEngine struct {
	url      string
	requests *int
}

func (e *testEngine) Name() string { return "test" }

func (e *testEngine) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", e.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return []searchResult{{Title: "Hit", URL: "https://example.com"}}, nil
}

func TestWebFetchReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>hello world</p></body></html>`))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(config.WebFetchConfig{TimeoutSec: 5})
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	if res.IsError {
		t.Fatalf("fetch failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "hello world") {
		t.Errorf("content = %q", res.ForLLM)
	}
}

func TestWebFetchRejectsNonHTTP(t *testing.T) {
	tool := NewWebFetchTool(config.WebFetchConfig{})
	res := tool.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"}, nil)
	if !res.IsError {
		t.Error("non-http URL accepted")
	}
}

func TestWebFetchCapsBody(t *testing.T) {
	big := strings.Repeat("x", 100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(config.WebFetchConfig{MaxBytes: 1024, TimeoutSec: 5})
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	if res.IsError {
		t.Fatalf("fetch failed: %s", res.ForLLM)
	}
	if len(res.ForLLM) > 1024 {
		t.Errorf("body not capped: %d bytes", len(res.ForLLM))
	}
}
