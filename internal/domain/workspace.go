package domain

import (
	"path"
	"strings"
	"time"
)

// Reserved workspace paths and suffixes.
const (
	// CanvasSuffix marks structured slide documents. Canvas files hold a
	// shape graph, not prose; raw-text mutation corrupts them, so every
	// write-shaped tool must refuse paths with this suffix.
	CanvasSuffix = ".canvas"

	// ConfigDir is the dot-prefixed workspace configuration directory.
	ConfigDir = ".inkdesk"

	// MemoryFile is the agent's persistent memory document. It may be
	// appended to through the memory tool but never deleted.
	MemoryFile = ConfigDir + "/memory.md"
)

// MaxQuickActions caps the number of custom quick-action buttons a
// workspace may define.
const MaxQuickActions = 6

// IsCanvasPath reports whether p names a structured canvas document.
func IsCanvasPath(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), CanvasSuffix)
}

// IsMemoryPath reports whether p names the reserved memory file.
func IsMemoryPath(p string) bool {
	return path.Clean(strings.TrimPrefix(p, "/")) == MemoryFile
}

// WorkspaceSettings is the workspace-level configuration the agent may
// read and patch. The engine only snapshots and emits patches; the
// surrounding application owns persistence.
type WorkspaceSettings struct {
	PreferredModel string        `json:"preferred_model,omitempty" yaml:"preferred_model,omitempty"`
	Language       string        `json:"language,omitempty" yaml:"language,omitempty"`
	InboxFile      string        `json:"inbox_file,omitempty" yaml:"inbox_file,omitempty"`
	QuickActions   []QuickAction `json:"quick_actions,omitempty" yaml:"quick_actions,omitempty"`
}

// QuickAction is a custom button the user can press to send a canned
// prompt to the agent.
type QuickAction struct {
	Label  string `json:"label" yaml:"label"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// ExportJob is a named export pipeline definition (e.g. "render the
// thesis folder to PDF"). Jobs are stored in workspace config and run
// by the export tool or on a cron schedule.
type ExportJob struct {
	Name     string `json:"name" yaml:"name"`
	Source   string `json:"source" yaml:"source"`     // workspace-relative file or directory
	Format   string `json:"format" yaml:"format"`     // "pdf", "html", "docx"
	OutDir   string `json:"out_dir" yaml:"out_dir"`   // workspace-relative output directory
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // optional cron expression
}

// DeferredTask is a task description queued for later execution on a
// surface with more capabilities than the current one.
type DeferredTask struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Reason      string    `json:"reason,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
