package tool

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"inkdesk/internal/domain"
	"inkdesk/internal/security"
)

// SearchResult is one hit from a web search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// ImageHit is one hit from an image search backend.
type ImageHit struct {
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// SearchBackend answers text web searches.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	Name() string
}

// ImageSearchBackend answers image searches. Backends typically need an
// API key; construction fails without one.
type ImageSearchBackend interface {
	SearchImages(ctx context.Context, query string, count int) ([]ImageHit, error)
	Name() string
}

// --- DuckDuckGo HTML backend ---

// DuckDuckGoBackend scrapes the HTML endpoint, which needs no API key.
type DuckDuckGoBackend struct {
	client   *http.Client
	endpoint string
}

// NewDuckDuckGoBackend builds the keyless search backend on an
// SSRF-safe transport.
func NewDuckDuckGoBackend() *DuckDuckGoBackend {
	return &DuckDuckGoBackend{
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(),
			Timeout:   15 * time.Second,
		},
		endpoint: "https://html.duckduckgo.com/html/",
	}
}

func (b *DuckDuckGoBackend) Name() string { return "duckduckgo" }

var (
	ddgResultRe  = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
)

func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.WrapOp("search.ddg", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "inkdesk/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, domain.NewDomainError("search.ddg", domain.ErrUpstream, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("search.ddg", domain.ErrUpstream,
			fmt.Sprintf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, domain.NewDomainError("search.ddg", domain.ErrUpstream, err.Error())
	}

	links := ddgResultRe.FindAllStringSubmatch(string(body), count)
	snippets := ddgSnippetRe.FindAllStringSubmatch(string(body), count)

	results := make([]SearchResult, 0, len(links))
	for i, m := range links {
		r := SearchResult{
			URL:   decodeDDGLink(m[1]),
			Title: cleanHTMLText(m[2]),
		}
		if i < len(snippets) {
			r.Snippet = cleanHTMLText(snippets[i][1])
		}
		results = append(results, r)
	}
	return results, nil
}

// decodeDDGLink unwraps the redirect URLs the HTML endpoint returns.
func decodeDDGLink(raw string) string {
	u, err := url.Parse(html.UnescapeString(raw))
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return u.String()
}

func cleanHTMLText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// --- Brave image backend ---

// BraveImageBackend queries the Brave image search API. It needs a
// subscription token.
type BraveImageBackend struct {
	client   *http.Client
	endpoint string
	key      string
}

// NewBraveImageBackend builds the keyed image backend, failing fast
// when no key is configured so callers can surface a useful error.
func NewBraveImageBackend(key string) (*BraveImageBackend, error) {
	if key == "" {
		return nil, domain.NewDomainError("search.brave", domain.ErrInvalidArgument,
			"image search requires an API key; set tools.image_search_key")
	}
	return &BraveImageBackend{
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(),
			Timeout:   15 * time.Second,
		},
		endpoint: "https://api.search.brave.com/res/v1/images/search",
		key:      key,
	}, nil
}

func (b *BraveImageBackend) Name() string { return "brave-images" }

type braveImageResponse struct {
	Results []struct {
		URL        string `json:"url"`
		Properties struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"properties"`
	} `json:"results"`
}

func (b *BraveImageBackend) SearchImages(ctx context.Context, query string, count int) ([]ImageHit, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", b.endpoint, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.WrapOp("search.brave", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.key)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, domain.NewDomainError("search.brave", domain.ErrUpstream, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("search.brave", domain.ErrUpstream,
			fmt.Sprintf("status %d", resp.StatusCode))
	}

	var parsed braveImageResponse
	if err := decodeJSONBody(resp.Body, &parsed); err != nil {
		return nil, domain.NewDomainError("search.brave", domain.ErrUpstream, err.Error())
	}

	hits := make([]ImageHit, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		hit := ImageHit{URL: r.Properties.URL, Source: r.URL,
			Width: r.Properties.Width, Height: r.Properties.Height}
		if hit.URL == "" {
			hit.URL = r.URL
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// --- search result cache ---

// searchCache memoizes search results for a short TTL so repeated agent
// queries within one session do not re-hit the backend.
type searchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	results []SearchResult
	expires time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *searchCache) get(key string) ([]SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return append([]SearchResult(nil), e.results...), true
}

func (c *searchCache) put(key string, results []SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		results: append([]SearchResult(nil), results...),
		expires: time.Now().Add(c.ttl),
	}
}
