package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"inkdesk/internal/domain"
	"inkdesk/internal/usecase"
	"inkdesk/internal/usecase/eventbus"
)

// configCore carries the shared state for the config and memory group.
type configCore struct {
	tb        *Toolbox
	logger    *slog.Logger
	runner    *usecase.ExportRunner
	scheduler *usecase.ExportScheduler
	queue     *usecase.TaskQueue
}

// NewConfigTools builds the config and memory tool group. The scheduler
// and queue may be nil in reduced deployments; the affected tools then
// report unavailability.
func NewConfigTools(tb *Toolbox, logger *slog.Logger, runner *usecase.ExportRunner,
	scheduler *usecase.ExportScheduler, queue *usecase.TaskQueue,
) []domain.Tool {
	core := &configCore{
		tb:        tb,
		logger:    logger.With("component", "tool.config"),
		runner:    runner,
		scheduler: scheduler,
		queue:     queue,
	}
	return []domain.Tool{
		&exportRunTool{core},
		&exportJobsTool{core},
		&memoryAppendTool{core},
		&askUserTool{core},
		&workspaceSettingsTool{core},
		&queueTaskTool{core},
	}
}

// --- export_run ---

type exportRunTool struct{ *configCore }

func (t *exportRunTool) Name() string { return "export_run" }
func (t *exportRunTool) Description() string {
	return "Run a configured export job now, an ad-hoc export of one source file, or every enabled job when called without arguments."
}

func (t *exportRunTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job": {"type": "string", "description": "Name of a configured export job"},
				"source": {"type": "string", "description": "Source file for an ad-hoc export (ignored when job is set)"},
				"format": {"type": "string", "enum": ["markdown", "text", "html"], "description": "Ad-hoc export format"},
				"out_dir": {"type": "string", "description": "Ad-hoc output directory"}
			}
		}`),
	}
}

type exportRunParams struct {
	Job    string `json:"job,omitempty"`
	Source string `json:"source,omitempty"`
	Format string `json:"format,omitempty"`
	OutDir string `json:"out_dir,omitempty"`
}

func (t *exportRunTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.export_run", t.logger, params,
		func(ctx context.Context, _ trace.Span, p exportRunParams) (any, error) {
			var job domain.ExportJob
			switch {
			case p.Job != "":
				found := false
				for _, j := range t.tb.ExportJobs() {
					if j.Name == p.Job {
						job, found = j, true
						break
					}
				}
				if !found {
					return nil, domain.NewDomainError("export_run", domain.ErrNotFound,
						fmt.Sprintf("no export job named %q", p.Job))
				}
			case p.Source != "":
				job = domain.ExportJob{
					Name:   "adhoc",
					Source: p.Source,
					Format: p.Format,
					OutDir: p.OutDir,
				}
				if job.OutDir == "" {
					job.OutDir = "exports"
				}
			default:
				// No target named: run every enabled job and report each.
				var lines []string
				ran := 0
				for _, j := range t.tb.ExportJobs() {
					if !j.Enabled {
						continue
					}
					ran++
					artifact, err := t.runner.Run(j)
					if err != nil {
						lines = append(lines, fmt.Sprintf("%s: %v", j.Name, err))
					} else {
						lines = append(lines, fmt.Sprintf("%s: %s", j.Name, artifact))
					}
				}
				if ran == 0 {
					return nil, domain.NewDomainError("export_run", domain.ErrInvalidArgument,
						"no enabled export jobs; pass job or source")
				}
				return TextResult(fmt.Sprintf("Ran %d export job(s):\n%s", ran, strings.Join(lines, "\n"))), nil
			}

			artifact, err := t.runner.Run(job)
			if err != nil {
				return nil, err
			}
			return TextResult(fmt.Sprintf("Exported %s to %s", job.Source, artifact)), nil
		},
	)
}

// --- export_jobs ---

type exportJobsTool struct{ *configCore }

func (t *exportJobsTool) Name() string { return "export_jobs" }
func (t *exportJobsTool) Description() string {
	return "Manage export job definitions: list, add, update, remove, enable, disable. Jobs with a cron schedule run automatically while enabled."
}

func (t *exportJobsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["list", "add", "update", "remove", "enable", "disable"]},
				"name": {"type": "string", "description": "Job name (all actions but list)"},
				"source": {"type": "string", "description": "Source file (add, update)"},
				"format": {"type": "string", "enum": ["markdown", "text", "html"], "description": "Export format (add, update)"},
				"out_dir": {"type": "string", "description": "Output directory (add, update)"},
				"schedule": {"type": "string", "description": "Cron expression, empty for on-demand only (add, update)"}
			},
			"required": ["action"]
		}`),
	}
}

type exportJobsParams struct {
	Action   string `json:"action"`
	Name     string `json:"name,omitempty"`
	Source   string `json:"source,omitempty"`
	Format   string `json:"format,omitempty"`
	OutDir   string `json:"out_dir,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

func (t *exportJobsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.export_jobs", t.logger, params,
		Dispatch(func(p exportJobsParams) string { return p.Action }, ActionMap[exportJobsParams]{
			"list":    t.handleList,
			"add":     t.handleAdd,
			"update":  t.handleUpdate,
			"remove":  t.handleRemove,
			"enable":  t.handleToggle(true),
			"disable": t.handleToggle(false),
		}),
	)
}

func (t *exportJobsTool) handleList(ctx context.Context, _ exportJobsParams) (any, error) {
	jobs := t.tb.ExportJobs()
	if len(jobs) == 0 {
		return TextResult("No export jobs configured."), nil
	}
	var sb strings.Builder
	for _, j := range jobs {
		state := "disabled"
		if j.Enabled {
			state = "enabled"
		}
		sched := j.Schedule
		if sched == "" {
			sched = "on demand"
		}
		fmt.Fprintf(&sb, "%s: %s -> %s/ as %s (%s, %s)\n",
			j.Name, j.Source, j.OutDir, j.Format, sched, state)
	}
	return TextResult(strings.TrimRight(sb.String(), "\n")), nil
}

func (t *exportJobsTool) handleAdd(ctx context.Context, p exportJobsParams) (any, error) {
	if err := RequireField("name", p.Name); err != nil {
		return nil, err
	}
	if err := RequireField("source", p.Source); err != nil {
		return nil, err
	}
	jobs := t.tb.ExportJobs()
	for _, j := range jobs {
		if j.Name == p.Name {
			return nil, domain.NewDomainError("export_jobs", domain.ErrInvalidArgument,
				fmt.Sprintf("job %q already exists; use action=update", p.Name))
		}
	}
	job := domain.ExportJob{
		Name:     p.Name,
		Source:   p.Source,
		Format:   p.Format,
		OutDir:   p.OutDir,
		Schedule: p.Schedule,
		Enabled:  true,
	}
	if job.Format == "" {
		job.Format = "html"
	}
	if job.OutDir == "" {
		job.OutDir = "exports"
	}
	jobs = append(jobs, job)
	if err := t.commitJobs(ctx, jobs); err != nil {
		return nil, err
	}
	return TextResult(fmt.Sprintf("Added export job %q.", p.Name)), nil
}

func (t *exportJobsTool) handleUpdate(ctx context.Context, p exportJobsParams) (any, error) {
	if err := RequireField("name", p.Name); err != nil {
		return nil, err
	}
	jobs := t.tb.ExportJobs()
	for i := range jobs {
		if jobs[i].Name != p.Name {
			continue
		}
		if p.Source != "" {
			jobs[i].Source = p.Source
		}
		if p.Format != "" {
			jobs[i].Format = p.Format
		}
		if p.OutDir != "" {
			jobs[i].OutDir = p.OutDir
		}
		if p.Schedule != "" {
			jobs[i].Schedule = p.Schedule
		}
		if err := t.commitJobs(ctx, jobs); err != nil {
			return nil, err
		}
		return TextResult(fmt.Sprintf("Updated export job %q.", p.Name)), nil
	}
	return nil, domain.NewDomainError("export_jobs", domain.ErrNotFound,
		fmt.Sprintf("no export job named %q", p.Name))
}

func (t *exportJobsTool) handleRemove(ctx context.Context, p exportJobsParams) (any, error) {
	if err := RequireField("name", p.Name); err != nil {
		return nil, err
	}
	jobs := t.tb.ExportJobs()
	for i := range jobs {
		if jobs[i].Name != p.Name {
			continue
		}
		jobs = append(jobs[:i], jobs[i+1:]...)
		if err := t.commitJobs(ctx, jobs); err != nil {
			return nil, err
		}
		return TextResult(fmt.Sprintf("Removed export job %q.", p.Name)), nil
	}
	return nil, domain.NewDomainError("export_jobs", domain.ErrNotFound,
		fmt.Sprintf("no export job named %q", p.Name))
}

func (t *exportJobsTool) handleToggle(enabled bool) ActionHandler[exportJobsParams] {
	return func(ctx context.Context, p exportJobsParams) (any, error) {
		if err := RequireField("name", p.Name); err != nil {
			return nil, err
		}
		jobs := t.tb.ExportJobs()
		for i := range jobs {
			if jobs[i].Name != p.Name {
				continue
			}
			jobs[i].Enabled = enabled
			if err := t.commitJobs(ctx, jobs); err != nil {
				return nil, err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			return TextResult(fmt.Sprintf("Export job %q %s.", p.Name, state)), nil
		}
		return nil, domain.NewDomainError("export_jobs", domain.ErrNotFound,
			fmt.Sprintf("no export job named %q", p.Name))
	}
}

// commitJobs stores the new definitions, reschedules, and announces the
// change. A schedule error does not roll back the definitions; the job
// simply will not fire until its expression is fixed.
func (t *exportJobsTool) commitJobs(ctx context.Context, jobs []domain.ExportJob) error {
	t.tb.SetExportJobs(jobs)
	PublishToolEvent(ctx, t.tb.Bus, domain.EventExportConfigChanged, struct {
		Jobs int `json:"jobs"`
	}{Jobs: len(jobs)})
	if t.scheduler != nil {
		return t.scheduler.Reload(jobs)
	}
	return nil
}

// --- memory_append ---

type memoryAppendTool struct{ *configCore }

func (t *memoryAppendTool) Name() string { return "memory_append" }
func (t *memoryAppendTool) Description() string {
	return "Append an entry to the workspace memory file, filed under a heading."
}

func (t *memoryAppendTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"heading": {"type": "string", "description": "Section heading to file the entry under"},
				"entry": {"type": "string", "description": "Text to remember"}
			},
			"required": ["heading", "entry"]
		}`),
	}
}

type memoryAppendParams struct {
	Heading string `json:"heading"`
	Entry   string `json:"entry"`
}

func (t *memoryAppendTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory_append", t.logger, params,
		func(ctx context.Context, _ trace.Span, p memoryAppendParams) (any, error) {
			if err := RequireField("heading", p.Heading); err != nil {
				return nil, err
			}
			if err := RequireField("entry", p.Entry); err != nil {
				return nil, err
			}

			abs, err := t.tb.Resolver.Resolve(domain.MemoryFile)
			if err != nil {
				return nil, err
			}
			existing, _ := t.tb.FS.ReadFile(abs)
			entry := time.Now().Format("2006-01-02") + ": " + p.Entry
			updated := appendUnderHeading(string(existing), p.Heading, entry)

			if err := t.tb.FS.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return nil, fmt.Errorf("create config dir: %w", err)
			}
			if err := t.tb.FS.WriteFile(abs, []byte(updated), 0o644); err != nil {
				return nil, fmt.Errorf("write memory: %w", err)
			}

			PublishToolEvent(ctx, t.tb.Bus, domain.EventMemoryWritten, struct {
				Heading string `json:"heading"`
			}{Heading: p.Heading})
			t.logger.Debug("memory_append", "heading", p.Heading)
			return TextResult(fmt.Sprintf("Remembered under %q.", p.Heading)), nil
		},
	)
}

// appendUnderHeading inserts entry as a bullet under the "## heading"
// section, before the next heading. A missing section is created at the
// end of the file.
func appendUnderHeading(content, heading, entry string) string {
	want := "## " + heading
	bullet := "- " + entry

	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == want {
			start = i
			break
		}
	}
	if start < 0 {
		out := strings.TrimRight(content, "\n")
		if out != "" {
			out += "\n\n"
		}
		return out + want + "\n" + bullet + "\n"
	}

	insert := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
			insert = i
			break
		}
	}
	// Keep the blank separator above the next heading below the new entry.
	for insert > start+1 && strings.TrimSpace(lines[insert-1]) == "" {
		insert--
	}

	out := append([]string{}, lines[:insert]...)
	out = append(out, bullet)
	out = append(out, lines[insert:]...)
	return strings.Join(out, "\n")
}

// --- ask_user ---

type askUserTool struct{ *configCore }

func (t *askUserTool) Name() string { return "ask_user" }
func (t *askUserTool) Description() string {
	return "Ask the user a question and wait for their answer. Use sparingly; it blocks until they respond."
}

func (t *askUserTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "description": "Question to show the user"},
				"options": {"type": "array", "items": {"type": "string"}, "description": "Optional fixed choices"}
			},
			"required": ["question"]
		}`),
	}
}

type askUserParams struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type askUserRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type askUserReply struct {
	Answer string `json:"answer"`
}

func (t *askUserTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.ask_user", t.logger, params,
		func(ctx context.Context, _ trace.Span, p askUserParams) (any, error) {
			if err := RequireField("question", p.Question); err != nil {
				return nil, err
			}

			requestID := ulid.Make().String()
			raw, err := eventbus.Request(ctx, t.tb.Bus, requestID,
				domain.EventAskUserRequest, domain.EventAskUserReply,
				askUserRequest{Question: p.Question, Options: p.Options},
				t.tb.Limits.AskUserTimeout)
			if err != nil {
				return nil, domain.NewDomainError("ask_user", domain.ErrTimeout,
					"the user did not answer in time")
			}

			var reply askUserReply
			if err := json.Unmarshal(raw, &reply); err != nil || reply.Answer == "" {
				return nil, domain.NewDomainError("ask_user", domain.ErrUpstream,
					"malformed answer from the UI")
			}
			t.logger.Debug("ask_user answered", "request_id", requestID)
			return TextResult("User answered: " + reply.Answer), nil
		},
	)
}

// --- workspace_settings ---

type workspaceSettingsTool struct{ *configCore }

func (t *workspaceSettingsTool) Name() string { return "workspace_settings" }
func (t *workspaceSettingsTool) Description() string {
	return "Read or patch workspace settings: preferred model, language, inbox file, quick actions."
}

func (t *workspaceSettingsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["read", "patch"]},
				"preferred_model": {"type": "string"},
				"language": {"type": "string"},
				"inbox_file": {"type": "string"},
				"quick_actions": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"label": {"type": "string"},
							"prompt": {"type": "string"}
						},
						"required": ["label", "prompt"]
					}
				}
			},
			"required": ["action"]
		}`),
	}
}

type workspaceSettingsParams struct {
	Action         string               `json:"action"`
	PreferredModel string               `json:"preferred_model,omitempty"`
	Language       string               `json:"language,omitempty"`
	InboxFile      string               `json:"inbox_file,omitempty"`
	QuickActions   []domain.QuickAction `json:"quick_actions,omitempty"`
}

func (t *workspaceSettingsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.workspace_settings", t.logger, params,
		Dispatch(func(p workspaceSettingsParams) string { return p.Action }, ActionMap[workspaceSettingsParams]{
			"read":  t.handleRead,
			"patch": t.handlePatch,
		}),
	)
}

func (t *workspaceSettingsTool) handleRead(ctx context.Context, _ workspaceSettingsParams) (any, error) {
	return t.tb.Settings(), nil
}

func (t *workspaceSettingsTool) handlePatch(ctx context.Context, p workspaceSettingsParams) (any, error) {
	if len(p.QuickActions) > domain.MaxQuickActions {
		return nil, domain.NewDomainError("workspace_settings", domain.ErrInvalidArgument,
			fmt.Sprintf("at most %d quick actions are allowed", domain.MaxQuickActions))
	}

	s := t.tb.Settings()
	if p.PreferredModel != "" {
		s.PreferredModel = p.PreferredModel
	}
	if p.Language != "" {
		s.Language = p.Language
	}
	if p.InboxFile != "" {
		if _, err := t.tb.Resolver.Resolve(p.InboxFile); err != nil {
			return nil, err
		}
		s.InboxFile = p.InboxFile
	}
	if p.QuickActions != nil {
		s.QuickActions = p.QuickActions
	}
	t.tb.SetSettings(s)

	PublishToolEvent(ctx, t.tb.Bus, domain.EventWorkspaceConfigPatch, s)
	t.logger.Info("workspace settings patched")
	return TextResult("Workspace settings updated."), nil
}

// --- queue_task ---

type queueTaskTool struct{ *configCore }

func (t *queueTaskTool) Name() string { return "queue_task" }
func (t *queueTaskTool) Description() string {
	return "Record a task to handle later instead of doing it now, with the reason it was deferred."
}

func (t *queueTaskTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "What needs doing"},
				"reason": {"type": "string", "description": "Why it is being deferred"}
			},
			"required": ["description"]
		}`),
	}
}

type queueTaskParams struct {
	Description string `json:"description"`
	Reason      string `json:"reason,omitempty"`
}

func (t *queueTaskTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.queue_task", t.logger, params,
		func(ctx context.Context, _ trace.Span, p queueTaskParams) (any, error) {
			if t.queue == nil {
				return nil, domain.NewDomainError("queue_task", domain.ErrUnavailable,
					"the task queue is not available")
			}
			if err := RequireField("description", p.Description); err != nil {
				return nil, err
			}

			task := domain.DeferredTask{
				ID:          ulid.Make().String(),
				Description: p.Description,
				Reason:      p.Reason,
				AgentID:     domain.AgentIDFromContext(ctx),
				CreatedAt:   time.Now(),
			}
			if err := t.queue.Enqueue(ctx, task); err != nil {
				return nil, err
			}

			PublishToolEvent(ctx, t.tb.Bus, domain.EventTaskQueued, task)
			t.logger.Info("task queued", "task_id", task.ID)
			return TextResult(fmt.Sprintf("Queued task %s.", task.ID)), nil
		},
	)
}
