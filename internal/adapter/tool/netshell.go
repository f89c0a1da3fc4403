package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"inkdesk/internal/domain"
	"inkdesk/internal/security"
)

// netCore carries the shared state for the network and shell tool group.
type netCore struct {
	tb      *Toolbox
	logger  *slog.Logger
	search  SearchBackend
	images  ImageSearchBackend
	client  *http.Client
	limiter *rate.Limiter
	cache   *searchCache
}

// NewNetworkTools builds the network and shell tool group. The image
// backend may be nil when no API key is configured; image_search then
// reports unavailability.
func NewNetworkTools(tb *Toolbox, logger *slog.Logger, search SearchBackend, images ImageSearchBackend) []domain.Tool {
	perMinute := tb.Limits.NetRatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	core := &netCore{
		tb:     tb,
		logger: logger.With("component", "tool.net"),
		search: search,
		images: images,
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(),
			Timeout:   30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		cache:   newSearchCache(5 * time.Minute),
	}
	return []domain.Tool{
		&webSearchTool{core},
		&imageSearchTool{core},
		&webFetchTool{core},
		&shellRunTool{core},
	}
}

// allow enforces the shared outbound rate limit across all net tools.
func (c *netCore) allow(op string) error {
	if !c.limiter.Allow() {
		return domain.NewDomainError(op, domain.ErrUnavailable,
			"outbound request rate limit reached; retry shortly")
	}
	return nil
}

func decodeJSONBody(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, 4<<20)).Decode(v)
}

// --- web_search ---

type webSearchTool struct{ *netCore }

func (t *webSearchTool) Name() string { return "web_search" }
func (t *webSearchTool) Description() string {
	return "Search the web and return titles, URLs, and snippets."
}

func (t *webSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Max results (default 5)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *webSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, _ trace.Span, p webSearchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			count := p.Count
			if count <= 0 {
				count = 5
			}

			cacheKey := fmt.Sprintf("%s|%d", strings.ToLower(p.Query), count)
			results, cached := t.cache.get(cacheKey)
			if !cached {
				if err := t.allow("web_search"); err != nil {
					return nil, err
				}
				var err error
				results, err = t.search.Search(ctx, p.Query, count)
				if err != nil {
					return nil, err
				}
				t.cache.put(cacheKey, results)
			}

			if len(results) == 0 {
				return TextResult(fmt.Sprintf("No results for %q.", p.Query)), nil
			}
			var sb strings.Builder
			for i, r := range results {
				fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
				if r.Snippet != "" {
					fmt.Fprintf(&sb, "   %s\n", r.Snippet)
				}
			}
			t.logger.Debug("web_search", "query", p.Query, "hits", len(results), "cached", cached)
			return TextResult(strings.TrimRight(sb.String(), "\n")), nil
		},
	)
}

// --- image_search ---

type imageSearchTool struct{ *netCore }

func (t *imageSearchTool) Name() string { return "image_search" }
func (t *imageSearchTool) Description() string {
	return "Search for images and return direct URLs with dimensions, suitable for add_image canvas commands."
}

func (t *imageSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Image search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Max results (default 4)"}
			},
			"required": ["query"]
		}`),
	}
}

type imageSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *imageSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.image_search", t.logger, params,
		func(ctx context.Context, _ trace.Span, p imageSearchParams) (any, error) {
			if t.images == nil {
				return nil, domain.NewDomainError("image_search", domain.ErrUnavailable,
					"image search is not configured; set tools.image_search_key")
			}
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			count := p.Count
			if count <= 0 {
				count = 4
			}
			if err := t.allow("image_search"); err != nil {
				return nil, err
			}

			hits, err := t.images.SearchImages(ctx, p.Query, count)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return TextResult(fmt.Sprintf("No images found for %q.", p.Query)), nil
			}

			var sb strings.Builder
			for i, h := range hits {
				w, he := h.Width, h.Height
				if w == 0 || he == 0 {
					w, he = t.probeDimensions(ctx, h.URL)
				}
				if w > 0 && he > 0 {
					fmt.Fprintf(&sb, "%d. %s (%dx%d)\n", i+1, h.URL, w, he)
				} else {
					fmt.Fprintf(&sb, "%d. %s (dimensions unknown)\n", i+1, h.URL)
				}
			}
			t.logger.Debug("image_search", "query", p.Query, "hits", len(hits))
			return TextResult(strings.TrimRight(sb.String(), "\n")), nil
		},
	)
}

// probeDimensions downloads just enough of the image to decode its
// header. Probing is best effort under a short deadline; a slow host
// reports unknown dimensions rather than stalling the whole result.
func (t *imageSearchTool) probeDimensions(ctx context.Context, imageURL string) (int, int) {
	probeCtx, cancel := context.WithTimeout(ctx, t.tb.Limits.ImageProbeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, 0
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, 0
	}
	defer resp.Body.Close()

	cfg, _, err := image.DecodeConfig(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// --- web_fetch ---

type webFetchTool struct{ *netCore }

func (t *webFetchTool) Name() string { return "web_fetch" }
func (t *webFetchTool) Description() string {
	return "Fetch a URL and return its readable text content. HTML markup is stripped."
}

func (t *webFetchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "HTTP or HTTPS URL to fetch"}
			},
			"required": ["url"]
		}`),
	}
}

type webFetchParams struct {
	URL string `json:"url"`
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	blockBreakRe  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|section|article)>|<br\s*/?>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

func (t *webFetchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_fetch", t.logger, params,
		func(ctx context.Context, _ trace.Span, p webFetchParams) (any, error) {
			if err := RequireField("url", p.URL); err != nil {
				return nil, err
			}
			if err := ValidateURL("url", p.URL); err != nil {
				return nil, err
			}
			if err := security.ValidateURL(p.URL); err != nil {
				return nil, err
			}
			if err := t.allow("web_fetch"); err != nil {
				return nil, err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
			if err != nil {
				return nil, domain.WrapOp("web_fetch", err)
			}
			req.Header.Set("User-Agent", "inkdesk/1.0")

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, domain.NewDomainError("web_fetch", domain.ErrUpstream, err.Error())
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, domain.NewDomainError("web_fetch", domain.ErrUpstream,
					fmt.Sprintf("%s returned status %d", p.URL, resp.StatusCode))
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			if err != nil {
				return nil, domain.NewDomainError("web_fetch", domain.ErrUpstream, err.Error())
			}

			text := body
			if strings.Contains(resp.Header.Get("Content-Type"), "html") ||
				bytes.Contains(body[:min(len(body), 512)], []byte("<html")) {
				text = []byte(stripMarkup(string(body)))
			}

			full := len(text)
			capped := t.tb.Limits.FetchMaxChars
			out := string(text)
			if capped > 0 && full > capped {
				out = out[:capped] + fmt.Sprintf("\n[truncated; full content is %d characters]", full)
			}
			t.logger.Debug("web_fetch", "url", p.URL, "length", full)
			return TextResult(out), nil
		},
	)
}

// stripMarkup reduces an HTML page to readable text.
func stripMarkup(htmlSrc string) string {
	s := scriptStyleRe.ReplaceAllString(htmlSrc, "")
	s = blockBreakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, " ")
	s = cleanWhitespace(s)
	return s
}

func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(cleanHTMLText(line)), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// --- shell_run ---

type shellRunTool struct{ *netCore }

func (t *shellRunTool) Name() string { return "shell_run" }
func (t *shellRunTool) Description() string {
	return "Run a shell command inside the workspace and return its exit code, stdout, and stderr. Desktop only."
}

func (t *shellRunTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command line to run in the workspace root"}
			},
			"required": ["command"]
		}`),
	}
}

type shellRunParams struct {
	Command string `json:"command"`
}

type shellRunResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// deployCLIs are publishing CLIs the agent must not drive from the
// shell; the publish tool is the supported path.
var deployCLIs = []string{"netlify", "vercel", "wrangler", "surge", "firebase"}

func (t *shellRunTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.shell_run", t.logger, params,
		func(ctx context.Context, _ trace.Span, p shellRunParams) (any, error) {
			if err := RequireField("command", p.Command); err != nil {
				return nil, err
			}
			if t.tb.Platform != "desktop" {
				return nil, domain.NewDomainError("shell_run", domain.ErrUnavailable,
					"shell commands are only available on desktop")
			}
			if err := screenShellCommand(p.Command); err != nil {
				return nil, err
			}

			timeout := t.tb.Limits.ShellTimeout
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", p.Command)
			cmd.Dir = t.tb.Resolver.Root()

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err := cmd.Run()
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, domain.NewDomainError("shell_run", domain.ErrTimeout,
					fmt.Sprintf("command exceeded %s", timeout))
			}
			code := 0
			if err != nil {
				exitErr, ok := err.(*exec.ExitError)
				if !ok {
					return nil, domain.NewDomainError("shell_run", domain.ErrUnavailable, err.Error())
				}
				code = exitErr.ExitCode()
			}

			maxChars := t.tb.Limits.ShellMaxChars
			if maxChars <= 0 {
				maxChars = 8000
			}

			t.logger.Debug("shell_run", "command", p.Command, "code", code)
			return shellRunResult{
				Code:   code,
				Stdout: capStream(stdout.String(), maxChars),
				Stderr: capStream(stderr.String(), maxChars),
			}, nil
		},
	)
}

// capStream truncates one output stream, noting the untruncated length.
func capStream(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + fmt.Sprintf("\n[truncated; full output is %d characters]", len(s))
}

// screenShellCommand rejects commands that would sidestep other tools'
// safety checks: writing canvas documents through redirection or
// editors, and driving deploy CLIs directly.
func screenShellCommand(command string) error {
	if strings.Contains(strings.ToLower(command), domain.CanvasSuffix) {
		return domain.NewDomainError("shell_run", domain.ErrSafetyBlock,
			"shell commands may not touch canvas documents; use canvas_op")
	}
	for _, token := range strings.Fields(command) {
		base := token[strings.LastIndexByte(token, '/')+1:]
		for _, cli := range deployCLIs {
			if base == cli {
				return domain.NewDomainError("shell_run", domain.ErrSafetyBlock,
					fmt.Sprintf("%s may not be run from the shell; use the publish tool", cli))
			}
		}
	}
	return nil
}
