package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"inkdesk/internal/canvas"
	"inkdesk/internal/domain"
	"inkdesk/internal/infra/config"
	"inkdesk/internal/security"
	"inkdesk/internal/usecase"
)

// Toolbox is the request-scoped bag of collaborators shared by every
// executor: the path resolver, the lock registry, the event bus (the
// engine's only channel to the UI), the live canvas editor slot, the
// filesystem backend, and snapshots of workspace state. Executors read
// it; only the surrounding application replaces the snapshots.
type Toolbox struct {
	Resolver *security.Resolver
	Locks    *usecase.LockRegistry
	Bus      domain.EventBus
	Editor   *canvas.Editor
	FS       FilesystemBackend
	Platform string // "desktop" or "mobile"
	Limits   config.ToolsConfig

	mu         sync.RWMutex
	activeFile string
	settings   domain.WorkspaceSettings
	exportJobs []domain.ExportJob
}

// ActiveFile returns the workspace-relative path of the file currently
// open in the UI, or empty when none is.
func (tb *Toolbox) ActiveFile() string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.activeFile
}

// SetActiveFile records the file currently open in the UI.
func (tb *Toolbox) SetActiveFile(path string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.activeFile = path
}

// Settings returns a copy of the current workspace settings snapshot.
func (tb *Toolbox) Settings() domain.WorkspaceSettings {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	s := tb.settings
	s.QuickActions = append([]domain.QuickAction(nil), tb.settings.QuickActions...)
	return s
}

// SetSettings replaces the workspace settings snapshot.
func (tb *Toolbox) SetSettings(s domain.WorkspaceSettings) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.settings = s
}

// ExportJobs returns a copy of the current export job definitions.
func (tb *Toolbox) ExportJobs() []domain.ExportJob {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return append([]domain.ExportJob(nil), tb.exportJobs...)
}

// SetExportJobs replaces the export job definitions.
func (tb *Toolbox) SetExportJobs(jobs []domain.ExportJob) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.exportJobs = append([]domain.ExportJob(nil), jobs...)
}

// group is one registered domain executor: a named cluster of tools.
type group struct {
	name  string
	tools []domain.Tool
}

// Dispatcher routes tool calls to an ordered list of executor groups.
// The first group that recognizes a name handles the call; names no
// group recognizes produce an in-band "unknown tool" observation.
type Dispatcher struct {
	mu     sync.RWMutex
	groups []group
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
// If logger is non-nil, tools are wrapped with schema validation on
// registration; compilation errors are logged and the tool is
// registered unwrapped.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// RegisterGroup appends an executor group. Returns an error if any tool
// name is already registered by an earlier group.
func (d *Dispatcher) RegisterGroup(name string, tools ...domain.Tool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range tools {
		if existing, _ := d.lookupLocked(t.Name()); existing != nil {
			return fmt.Errorf("tool %q already registered", t.Name())
		}
	}

	wrapped := make([]domain.Tool, 0, len(tools))
	for _, t := range tools {
		if d.logger != nil {
			w, err := WithSchemaValidation(t)
			if err != nil {
				d.logger.Warn("schema validation disabled for tool",
					"tool", t.Name(), "error", err)
			} else {
				t = w
			}
		}
		wrapped = append(wrapped, t)
	}

	d.groups = append(d.groups, group{name: name, tools: wrapped})
	return nil
}

// Get retrieves a tool by name, scanning groups in registration order.
func (d *Dispatcher) Get(name string) (domain.Tool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, groupName := d.lookupLocked(name)
	if t == nil {
		return nil, domain.NewDomainError("Dispatcher.Get", domain.ErrToolNotFound, name)
	}
	_ = groupName
	return t, nil
}

// Execute routes a named call to its tool and returns the observation.
// It never returns a Go error to the caller: failures, including the
// unknown-tool case and panics in tool code, become error results.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) (result *domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", r)
			result = &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("tool %q panicked: %v", name, r),
			}
		}
	}()

	t, err := d.Get(name)
	if err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("unknown tool %q", name),
		}
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		// Tools convert their own failures in-band; an error here is an
		// engine bug, but the agent still gets an observation.
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("tool %q failed: %v", name, err),
		}
	}
	return res
}

// Schemas returns all tool schemas in group registration order, for the
// agent loop to advertise to the model.
func (d *Dispatcher) Schemas() []domain.ToolSchema {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var schemas []domain.ToolSchema
	for _, g := range d.groups {
		for _, t := range g.tools {
			schemas = append(schemas, t.Schema())
		}
	}
	return schemas
}

// Groups returns the registered group names in order.
func (d *Dispatcher) Groups() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.groups))
	for _, g := range d.groups {
		names = append(names, g.name)
	}
	return names
}

func (d *Dispatcher) lookupLocked(name string) (domain.Tool, string) {
	for _, g := range d.groups {
		for _, t := range g.tools {
			if t.Name() == name {
				return t, g.name
			}
		}
	}
	return nil, ""
}
