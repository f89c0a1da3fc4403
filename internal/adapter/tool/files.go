package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"inkdesk/internal/domain"
)

// filesCore is the state shared by every file tool: the toolbox plus
// the write protocol in files_write.go.
type filesCore struct {
	tb     *Toolbox
	logger *slog.Logger
}

// NewFileTools creates the file executor's tool cluster.
func NewFileTools(tb *Toolbox, logger *slog.Logger) []domain.Tool {
	c := &filesCore{tb: tb, logger: logger}
	return []domain.Tool{
		&listTool{c},
		&readTool{c},
		&writeTool{c},
		&patchTool{c},
		&searchTool{c},
		&renameTool{c},
		&deleteTool{c},
		&scaffoldTool{c},
	}
}

// isTextFile reports whether data looks like prose the search tool
// should scan: valid UTF-8 with no NUL bytes.
func isTextFile(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

// --- fs_list ---

type listTool struct{ *filesCore }

func (t *listTool) Name() string { return "fs_list" }
func (t *listTool) Description() string {
	return "List the files and folders of the workspace as an indented tree"
}

func (t *listTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list, relative to the workspace root (default: the root)"}
			}
		}`),
	}
}

type listParams struct {
	Path string `json:"path,omitempty"`
}

func (t *listTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_list", t.logger, params,
		func(_ context.Context, _ trace.Span, p listParams) (any, error) {
			abs, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			var sb strings.Builder
			if err := t.walk(abs, 0, &sb); err != nil {
				return nil, fmt.Errorf("list: %w", err)
			}
			if sb.Len() == 0 {
				return TextResult("(empty directory)"), nil
			}

			t.logger.Debug("fs_list", "path", p.Path)
			return TextResult(sb.String()), nil
		},
	)
}

func (t *listTool) walk(dir string, depth int, sb *strings.Builder) error {
	entries, err := t.tb.FS.ReadDir(dir)
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)
	for _, e := range entries {
		// Dot-prefixed entries are workspace plumbing, not content.
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			fmt.Fprintf(sb, "%s%s/\n", indent, e.Name())
			if err := t.walk(filepath.Join(dir, e.Name()), depth+1, sb); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(sb, "%s%s\n", indent, e.Name())
		}
	}
	return nil
}

// --- fs_read ---

type readTool struct{ *filesCore }

func (t *readTool) Name() string { return "fs_read" }
func (t *readTool) Description() string {
	return "Read a file. Long files are paged: the result tells you which start_line to pass to continue."
}

func (t *readTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace root"},
				"start_line": {"type": "integer", "minimum": 1, "description": "First line to return (1-based, default 1)"},
				"end_line": {"type": "integer", "minimum": 1, "description": "Last line to return (inclusive, default: end of file)"}
			},
			"required": ["path"]
		}`),
	}
}

type readParams struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *readTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_read", t.logger, params,
		func(_ context.Context, _ trace.Span, p readParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}
			abs, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			data, err := t.tb.FS.ReadFile(abs)
			if err != nil {
				return nil, domain.NewDomainError("fs_read", domain.ErrNotFound, p.Path)
			}

			lines := strings.Split(string(data), "\n")
			start := p.StartLine
			if start < 1 {
				start = 1
			}
			if start > len(lines) {
				return nil, domain.NewDomainError("fs_read", domain.ErrInvalidArgument,
					fmt.Sprintf("start_line %d is past the end of %s (%d lines)", start, p.Path, len(lines)))
			}
			end := p.EndLine
			if end == 0 || end > len(lines) {
				end = len(lines)
			}
			if end < start {
				return nil, domain.NewDomainError("fs_read", domain.ErrInvalidArgument,
					fmt.Sprintf("end_line %d is before start_line %d", end, start))
			}

			// Hard cap per call; the agent continues by re-calling with
			// the reported start_line.
			maxChars := t.tb.Limits.ReadMaxChars
			var sb strings.Builder
			served := start - 1
			for i := start - 1; i < end; i++ {
				if sb.Len()+len(lines[i])+1 > maxChars && sb.Len() > 0 {
					break
				}
				sb.WriteString(lines[i])
				sb.WriteByte('\n')
				served = i + 1
			}

			out := sb.String()
			if served < end {
				out += fmt.Sprintf("\n[truncated at %d characters; re-call with start_line=%d to continue]",
					maxChars, served+1)
			}

			t.logger.Debug("fs_read", "path", p.Path, "lines", served-start+1)
			return TextResult(out), nil
		},
	)
}

// --- fs_search ---

type searchTool struct{ *filesCore }

func (t *searchTool) Name() string { return "fs_search" }
func (t *searchTool) Description() string {
	return "Search all text files in the workspace for a case-insensitive substring"
}

func (t *searchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The substring to look for"}
			},
			"required": ["query"]
		}`),
	}
}

type searchParams struct {
	Query string `json:"query"`
}

type searchHit struct {
	path    string
	line    int
	text    string
	context string
}

func (t *searchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_search", t.logger, params,
		func(_ context.Context, _ trace.Span, p searchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}

			maxHits := t.tb.Limits.SearchMaxHits
			lowerQuery := strings.ToLower(p.Query)

			var hits []searchHit
			searched := 0
			err := t.scan(t.tb.Resolver.Root(), lowerQuery, maxHits, &hits, &searched)
			if err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}

			if len(hits) == 0 {
				return TextResult(fmt.Sprintf("No matches for %q (%d files searched).", p.Query, searched)), nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "%d match(es) for %q:\n\n", len(hits), p.Query)
			for _, h := range hits {
				fmt.Fprintf(&sb, "%s:%d: %s\n", h.path, h.line, strings.TrimSpace(h.text))
				if h.context != "" {
					fmt.Fprintf(&sb, "    | %s\n", strings.TrimSpace(h.context))
				}
			}
			if len(hits) == maxHits {
				fmt.Fprintf(&sb, "\n[stopped at %d hits]", maxHits)
			}

			t.logger.Debug("fs_search", "query", p.Query, "hits", len(hits), "files", searched)
			return TextResult(sb.String()), nil
		},
	)
}

func (t *searchTool) scan(dir, lowerQuery string, maxHits int, hits *[]searchHit, searched *int) error {
	entries, err := t.tb.FS.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := t.scan(full, lowerQuery, maxHits, hits, searched); err != nil {
				return err
			}
			continue
		}
		// Canvas files are a shape graph, not prose.
		if domain.IsCanvasPath(e.Name()) {
			continue
		}
		data, err := t.tb.FS.ReadFile(full)
		if err != nil || !isTextFile(data) {
			continue
		}
		*searched++

		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if len(*hits) >= maxHits {
				return nil
			}
			if !strings.Contains(strings.ToLower(line), lowerQuery) {
				continue
			}
			h := searchHit{
				path: t.tb.Resolver.Rel(full),
				line: i + 1,
				text: line,
			}
			if i+1 < len(lines) {
				h.context = lines[i+1]
			}
			*hits = append(*hits, h)
		}
	}
	return nil
}
