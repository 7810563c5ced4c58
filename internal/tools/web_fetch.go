package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/config"
)

// WebFetchTool downloads a page and returns its text content, capped at a
// configured size.
type WebFetchTool struct {
	client   *http.Client
	maxBytes int
}

func NewWebFetchTool(cfg config.WebFetchConfig) *WebFetchTool {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 512 * 1024
	}
	return &WebFetchTool{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its readable text content."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The http(s) URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Timeout() time.Duration { return 30 * time.Second }

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	rawURL, _ := args["url"].(string)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ErrorResult("web_fetch requires an http(s) URL")
	}

	if progress != nil {
		progress("fetching " + rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err)).WithError(err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("fetch returned %d for %s", resp.StatusCode, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)).WithError(err)
	}

	text := htmlToText(string(body))
	return StructuredResult(text, map[string]any{
		"url":   rawURL,
		"bytes": len(body),
	})
}

var (
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	blockBreakRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br)[^>]*>|<br\s*/?>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// htmlToText strips markup into readable plain text. Crude but enough for
// feeding pages to the LLM.
func htmlToText(html string) string {
	s := scriptRe.ReplaceAllString(html, "")
	s = blockBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(s, "\n\n"))
}
