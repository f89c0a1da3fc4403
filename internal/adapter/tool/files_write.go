package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/trace"

	"inkdesk/internal/domain"
)

// fileWrittenPayload is published on EventFileWritten and EventFileRecorded.
type fileWrittenPayload struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Content string `json:"content,omitempty"` // EventFileRecorded only
}

// lockedWrite is the write protocol every mutating file tool runs:
// acquire the advisory lock (which synchronously notifies subscribers,
// so the UI renders the locked state before any byte changes), perform
// the write, publish the written/recorded events, then hold the lock
// for a short grace period so the external file watcher's reload pass
// settles before the lock badge disappears. The unlock runs on every
// branch.
func (c *filesCore) lockedWrite(ctx context.Context, relPath string, write func() (content string, err error)) error {
	agentID := domain.AgentIDFromContext(ctx)
	if agentID == "" {
		agentID = "agent"
	}

	if err := c.tb.Locks.Lock(relPath, agentID); err != nil {
		return err
	}
	defer func() {
		time.Sleep(c.tb.Limits.WatcherGrace)
		c.tb.Locks.Unlock(relPath)
	}()

	content, err := write()
	if err != nil {
		return err
	}

	PublishToolEvent(ctx, c.tb.Bus, domain.EventFileWritten,
		fileWrittenPayload{Path: relPath, Size: len(content)})
	PublishToolEvent(ctx, c.tb.Bus, domain.EventFileRecorded,
		fileWrittenPayload{Path: relPath, Size: len(content), Content: content})
	return nil
}

// refuseCanvas blocks raw-text mutation of structured canvas documents.
// The same invariant is enforced again in fs_patch and in shell_run;
// the redundancy is deliberate.
func refuseCanvas(op, relPath string) error {
	if domain.IsCanvasPath(relPath) {
		return domain.NewDomainError(op, domain.ErrSafetyBlock,
			fmt.Sprintf("%s is a canvas document; use canvas_op to modify it", relPath))
	}
	return nil
}

// --- fs_write ---

type writeTool struct{ *filesCore }

func (t *writeTool) Name() string { return "fs_write" }
func (t *writeTool) Description() string {
	return "Create or overwrite a text file. Canvas documents cannot be written this way."
}

func (t *writeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace root"},
				"content": {"type": "string", "description": "Full file content (must not be empty)"}
			},
			"required": ["path", "content"]
		}`),
	}
}

type writeParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *writeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_write", t.logger, params,
		func(ctx context.Context, _ trace.Span, p writeParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}
			if strings.TrimSpace(p.Content) == "" {
				return nil, domain.NewDomainError("fs_write", domain.ErrInvalidArgument,
					"refusing to write empty content; use fs_delete to remove a file")
			}
			if err := refuseCanvas("fs_write", p.Path); err != nil {
				return nil, err
			}
			abs, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			err = t.lockedWrite(ctx, p.Path, func() (string, error) {
				if err := t.tb.FS.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
					return "", fmt.Errorf("create parent dirs: %w", err)
				}
				if err := t.tb.FS.WriteFile(abs, []byte(p.Content), 0o644); err != nil {
					return "", fmt.Errorf("write file: %w", err)
				}
				return p.Content, nil
			})
			if err != nil {
				return nil, err
			}

			t.logger.Debug("fs_write", "path", p.Path, "size", len(p.Content))
			return TextResult(fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path)), nil
		},
	)
}

// --- fs_patch ---

type patchTool struct{ *filesCore }

func (t *patchTool) Name() string { return "fs_patch" }
func (t *patchTool) Description() string {
	return "Replace an exact substring in a file. occurrence=0 replaces every occurrence; occurrence=N replaces only the Nth (1-based)."
}

func (t *patchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace root"},
				"find": {"type": "string", "description": "Exact substring to find"},
				"replace": {"type": "string", "description": "Replacement text (may be empty to delete)"},
				"occurrence": {"type": "integer", "minimum": 0, "description": "0 = all occurrences (default), N = only the Nth (1-based)"}
			},
			"required": ["path", "find"]
		}`),
	}
}

type patchParams struct {
	Path       string `json:"path"`
	Find       string `json:"find"`
	Replace    string `json:"replace"`
	Occurrence int    `json:"occurrence,omitempty"`
}

func (t *patchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_patch", t.logger, params,
		func(ctx context.Context, _ trace.Span, p patchParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}
			if p.Find == "" {
				return nil, domain.NewDomainError("fs_patch", domain.ErrInvalidArgument, "'find' is required")
			}
			if err := refuseCanvas("fs_patch", p.Path); err != nil {
				return nil, err
			}
			abs, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			data, err := t.tb.FS.ReadFile(abs)
			if err != nil {
				return nil, domain.NewDomainError("fs_patch", domain.ErrNotFound, p.Path)
			}
			content := string(data)

			total := strings.Count(content, p.Find)
			if total == 0 {
				return nil, domain.NewDomainError("fs_patch", domain.ErrNotFound,
					fmt.Sprintf("%q does not occur in %s", p.Find, p.Path))
			}
			if p.Occurrence > total {
				return nil, domain.NewDomainError("fs_patch", domain.ErrNotFound,
					fmt.Sprintf("%q occurs %d time(s) in %s, not %d", p.Find, total, p.Path, p.Occurrence))
			}

			var updated string
			replaced := 0
			if p.Occurrence == 0 {
				updated = strings.ReplaceAll(content, p.Find, p.Replace)
				replaced = total
			} else {
				updated = replaceNth(content, p.Find, p.Replace, p.Occurrence)
				replaced = 1
			}

			err = t.lockedWrite(ctx, p.Path, func() (string, error) {
				if err := t.tb.FS.WriteFile(abs, []byte(updated), 0o644); err != nil {
					return "", fmt.Errorf("write file: %w", err)
				}
				return updated, nil
			})
			if err != nil {
				return nil, err
			}

			t.logger.Debug("fs_patch", "path", p.Path, "replaced", replaced)
			return TextResult(fmt.Sprintf("Replaced %d occurrence(s) in %s\n%s",
				replaced, p.Path, diffPreview(content, updated))), nil
		},
	)
}

// replaceNth replaces only the nth (1-based) occurrence of find.
func replaceNth(content, find, replace string, n int) string {
	idx := 0
	for i := 0; i < n; i++ {
		pos := strings.Index(content[idx:], find)
		if pos < 0 {
			return content
		}
		idx += pos
		if i < n-1 {
			idx += len(find)
		}
	}
	return content[:idx] + replace + content[idx+len(find):]
}

// diffPreview renders a compact summary of what changed so the agent
// can verify the patch landed where it expected.
func diffPreview(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		text := d.Text
		if len(text) > 60 {
			text = text[:30] + "…" + text[len(text)-30:]
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&sb, "+%q ", text)
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&sb, "-%q ", text)
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "diff: " + strings.TrimSpace(sb.String())
}

// --- fs_rename ---

type renameTool struct{ *filesCore }

func (t *renameTool) Name() string { return "fs_rename" }
func (t *renameTool) Description() string {
	return "Rename or move a file. Missing destination directories are created; an existing destination is never overwritten."
}

func (t *renameTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Current path relative to the workspace root"},
				"new_path": {"type": "string", "description": "New path relative to the workspace root"}
			},
			"required": ["path", "new_path"]
		}`),
	}
}

type renameParams struct {
	Path    string `json:"path"`
	NewPath string `json:"new_path"`
}

type renamePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (t *renameTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_rename", t.logger, params,
		func(ctx context.Context, _ trace.Span, p renameParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}
			if err := RequireField("new_path", p.NewPath); err != nil {
				return nil, err
			}
			src, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}
			dst, err := t.tb.Resolver.Resolve(p.NewPath)
			if err != nil {
				return nil, err
			}
			if src == dst {
				return nil, domain.NewDomainError("fs_rename", domain.ErrInvalidArgument,
					fmt.Sprintf("%s and %s are the same path", p.Path, p.NewPath))
			}
			if _, err := t.tb.FS.Stat(src); err != nil {
				return nil, domain.NewDomainError("fs_rename", domain.ErrNotFound, p.Path)
			}
			if _, err := t.tb.FS.Stat(dst); err == nil {
				return nil, domain.NewDomainError("fs_rename", domain.ErrSafetyBlock,
					fmt.Sprintf("%s already exists; refusing to overwrite", p.NewPath))
			}

			err = t.lockedWrite(ctx, p.Path, func() (string, error) {
				if err := t.tb.FS.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
					return "", fmt.Errorf("create destination dirs: %w", err)
				}
				if err := t.tb.FS.Rename(src, dst); err != nil {
					return "", fmt.Errorf("rename: %w", err)
				}
				return "", nil
			})
			if err != nil {
				return nil, err
			}

			PublishToolEvent(ctx, t.tb.Bus, domain.EventFileRenamed,
				renamePayload{From: p.Path, To: p.NewPath})
			t.logger.Debug("fs_rename", "from", p.Path, "to", p.NewPath)
			return TextResult(fmt.Sprintf("Renamed %s to %s", p.Path, p.NewPath)), nil
		},
	)
}

// --- fs_delete ---

// deleteConfirmToken must be sent verbatim for a delete to proceed.
const deleteConfirmToken = "yes"

type deleteTool struct{ *filesCore }

func (t *deleteTool) Name() string { return "fs_delete" }
func (t *deleteTool) Description() string {
	return `Delete a file. Destructive: requires confirm="yes".`
}

func (t *deleteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace root"},
				"confirm": {"type": "string", "description": "Must be exactly \"yes\""}
			},
			"required": ["path", "confirm"]
		}`),
	}
}

type deleteParams struct {
	Path    string `json:"path"`
	Confirm string `json:"confirm"`
}

func (t *deleteTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_delete", t.logger, params,
		func(ctx context.Context, _ trace.Span, p deleteParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}
			if p.Confirm != deleteConfirmToken {
				return nil, domain.NewDomainError("fs_delete", domain.ErrConfirmRequired,
					fmt.Sprintf(`deleting %s requires confirm=%q`, p.Path, deleteConfirmToken))
			}
			if domain.IsMemoryPath(p.Path) {
				return nil, domain.NewDomainError("fs_delete", domain.ErrSafetyBlock,
					"the memory file cannot be deleted")
			}
			abs, err := t.tb.Resolver.Resolve(p.Path)
			if err != nil {
				return nil, err
			}
			if _, err := t.tb.FS.Stat(abs); err != nil {
				return nil, domain.NewDomainError("fs_delete", domain.ErrNotFound, p.Path)
			}

			err = t.lockedWrite(ctx, p.Path, func() (string, error) {
				if err := t.tb.FS.Remove(abs); err != nil {
					return "", fmt.Errorf("delete: %w", err)
				}
				return "", nil
			})
			if err != nil {
				return nil, err
			}

			PublishToolEvent(ctx, t.tb.Bus, domain.EventFileDeleted,
				fileWrittenPayload{Path: p.Path})
			t.logger.Debug("fs_delete", "path", p.Path)
			return TextResult(fmt.Sprintf("Deleted %s", p.Path)), nil
		},
	)
}

// --- fs_scaffold ---

type scaffoldTool struct{ *filesCore }

func (t *scaffoldTool) Name() string { return "fs_scaffold" }
func (t *scaffoldTool) Description() string {
	return "Create a batch of files and directories. Existing paths are skipped, so a partial scaffold is safe to retry."
}

func (t *scaffoldTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entries": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"path": {"type": "string", "description": "Path relative to the workspace root"},
							"type": {"type": "string", "enum": ["file", "dir"], "description": "What to create"},
							"content": {"type": "string", "description": "Initial file content (files only)"}
						},
						"required": ["path", "type"]
					}
				}
			},
			"required": ["entries"]
		}`),
	}
}

type scaffoldEntry struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type scaffoldParams struct {
	Entries []scaffoldEntry `json:"entries"`
}

func (t *scaffoldTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.fs_scaffold", t.logger, params,
		func(ctx context.Context, _ trace.Span, p scaffoldParams) (any, error) {
			if len(p.Entries) == 0 {
				return nil, domain.NewDomainError("fs_scaffold", domain.ErrInvalidArgument, "entries must not be empty")
			}

			var created, skipped, failed []string
			for _, e := range p.Entries {
				if err := t.scaffoldOne(ctx, e, &created, &skipped); err != nil {
					failed = append(failed, fmt.Sprintf("%s: %v", e.Path, err))
				}
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Scaffold: %d created, %d skipped, %d failed\n", len(created), len(skipped), len(failed))
			for _, p := range created {
				fmt.Fprintf(&sb, "  created %s\n", p)
			}
			for _, p := range skipped {
				fmt.Fprintf(&sb, "  skipped %s (exists)\n", p)
			}
			for _, msg := range failed {
				fmt.Fprintf(&sb, "  failed  %s\n", msg)
			}

			t.logger.Debug("fs_scaffold", "created", len(created), "skipped", len(skipped), "failed", len(failed))
			return TextResult(strings.TrimRight(sb.String(), "\n")), nil
		},
	)
}

func (t *scaffoldTool) scaffoldOne(ctx context.Context, e scaffoldEntry, created, skipped *[]string) error {
	if err := ValidateEnum("type", e.Type, "file", "dir"); err != nil {
		return err
	}
	if e.Type == "file" {
		if err := refuseCanvas("fs_scaffold", e.Path); err != nil {
			return err
		}
	}
	abs, err := t.tb.Resolver.Resolve(e.Path)
	if err != nil {
		return err
	}
	if _, err := t.tb.FS.Stat(abs); err == nil {
		*skipped = append(*skipped, e.Path)
		return nil
	}

	if e.Type == "dir" {
		if err := t.tb.FS.MkdirAll(abs, 0o755); err != nil {
			return err
		}
		*created = append(*created, e.Path+"/")
		return nil
	}

	err = t.lockedWrite(ctx, e.Path, func() (string, error) {
		if err := t.tb.FS.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", err
		}
		if err := t.tb.FS.WriteFile(abs, []byte(e.Content), 0o644); err != nil {
			return "", err
		}
		return e.Content, nil
	})
	if err != nil {
		return err
	}
	*created = append(*created, e.Path)
	return nil
}
