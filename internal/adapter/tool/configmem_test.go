package tool

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
	"inkdesk/internal/usecase"
	"inkdesk/internal/usecase/eventbus"
)

func newConfigTools(t *testing.T, tb *Toolbox) []domain.Tool {
	t.Helper()
	runner := usecase.NewExportRunner(tb.Resolver, testLogger())
	queue, err := usecase.OpenTaskQueue(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return NewConfigTools(tb, testLogger(), runner, nil, queue)
}

func TestMemoryAppendCreatesSectionAndFile(t *testing.T) {
	tb, _ := newTestToolbox(t)
	mem := findTool(t, newConfigTools(t, tb), "memory_append")

	res := call(t, mem, `{"heading":"Preferences","entry":"likes dark mode"}`)
	require.False(t, res.IsError, res.Content)

	got := readWorkspaceFile(t, tb, ".inkdesk/memory.md")
	today := time.Now().Format("2006-01-02")
	assert.Equal(t, "## Preferences\n- "+today+": likes dark mode\n", got)
}

func TestMemoryAppendInsertsBeforeNextHeading(t *testing.T) {
	tb, _ := newTestToolbox(t)
	mem := findTool(t, newConfigTools(t, tb), "memory_append")
	writeWorkspaceFile(t, tb, ".inkdesk/memory.md",
		"## Preferences\n- first\n\n## Projects\n- site redesign\n")

	res := call(t, mem, `{"heading":"Preferences","entry":"second"}`)
	require.False(t, res.IsError, res.Content)

	got := readWorkspaceFile(t, tb, ".inkdesk/memory.md")
	today := time.Now().Format("2006-01-02")
	assert.Equal(t, "## Preferences\n- first\n- "+today+": second\n\n## Projects\n- site redesign\n", got)
}

func TestWorkspaceSettingsReadAndPatch(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tb.SetSettings(domain.WorkspaceSettings{Language: "en"})
	ws := findTool(t, newConfigTools(t, tb), "workspace_settings")

	res := call(t, ws, `{"action":"read"}`)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, `"en"`)

	res = call(t, ws, `{"action":"patch","language":"de","preferred_model":"big-model"}`)
	require.False(t, res.IsError, res.Content)

	s := tb.Settings()
	assert.Equal(t, "de", s.Language)
	assert.Equal(t, "big-model", s.PreferredModel)
}

func TestWorkspaceSettingsQuickActionLimit(t *testing.T) {
	tb, _ := newTestToolbox(t)
	ws := findTool(t, newConfigTools(t, tb), "workspace_settings")

	actions := make([]domain.QuickAction, domain.MaxQuickActions+1)
	for i := range actions {
		actions[i] = domain.QuickAction{Label: "a", Prompt: "b"}
	}
	res := call(t, ws, mustJSON(t, map[string]any{
		"action":        "patch",
		"quick_actions": actions,
	}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "quick actions")
}

func TestWorkspaceSettingsUnknownAction(t *testing.T) {
	tb, _ := newTestToolbox(t)
	ws := findTool(t, newConfigTools(t, tb), "workspace_settings")

	res := call(t, ws, `{"action":"destroy"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "patch, read")
}

func TestExportJobsLifecycle(t *testing.T) {
	tb, _ := newTestToolbox(t)
	jobs := findTool(t, newConfigTools(t, tb), "export_jobs")

	res := call(t, jobs, `{"action":"list"}`)
	assert.Contains(t, res.Content, "No export jobs")

	res = call(t, jobs, `{"action":"add","name":"site","source":"index.md","format":"html"}`)
	require.False(t, res.IsError, res.Content)

	res = call(t, jobs, `{"action":"add","name":"site","source":"index.md"}`)
	require.True(t, res.IsError, "duplicate names are rejected")

	res = call(t, jobs, `{"action":"disable","name":"site"}`)
	require.False(t, res.IsError, res.Content)
	require.Len(t, tb.ExportJobs(), 1)
	assert.False(t, tb.ExportJobs()[0].Enabled)

	res = call(t, jobs, `{"action":"remove","name":"site"}`)
	require.False(t, res.IsError, res.Content)
	assert.Empty(t, tb.ExportJobs())

	res = call(t, jobs, `{"action":"remove","name":"site"}`)
	require.True(t, res.IsError)
}

func TestExportRunByJobName(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tools := newConfigTools(t, tb)
	run := findTool(t, tools, "export_run")
	writeWorkspaceFile(t, tb, "index.md", "# Home\n\nWelcome **back**.\n")
	tb.SetExportJobs([]domain.ExportJob{{
		Name: "site", Source: "index.md", Format: "html", OutDir: "public", Enabled: true,
	}})

	res := call(t, run, `{"job":"site"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "public/index.html")

	html := readWorkspaceFile(t, tb, "public/index.html")
	assert.Contains(t, html, "<h1>Home</h1>")
	assert.Contains(t, html, "<strong>back</strong>")
}

func TestExportRunUnknownJob(t *testing.T) {
	tb, _ := newTestToolbox(t)
	run := findTool(t, newConfigTools(t, tb), "export_run")

	res := call(t, run, `{"job":"nope"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, `no export job named "nope"`)
}

func TestQueueTaskPersists(t *testing.T) {
	tb, _ := newTestToolbox(t)
	queue, err := usecase.OpenTaskQueue(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	runner := usecase.NewExportRunner(tb.Resolver, testLogger())
	qt := findTool(t, NewConfigTools(tb, testLogger(), runner, nil, queue), "queue_task")

	ctx := domain.ContextWithAgentID(context.Background(), "agent-7")
	res, execErr := qt.Execute(ctx, []byte(`{"description":"index the archive","reason":"too slow now"}`))
	require.NoError(t, execErr)
	require.False(t, res.IsError, res.Content)

	tasks, err := queue.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "index the archive", tasks[0].Description)
	assert.Equal(t, "agent-7", tasks[0].AgentID)
}

func TestAskUserRoundTripThroughBus(t *testing.T) {
	tb, bus := newTestToolbox(t)
	ask := findTool(t, newConfigTools(t, tb), "ask_user")

	bus.Subscribe(domain.EventAskUserRequest, func(ctx context.Context, ev domain.Event) {
		var env struct {
			RequestID string          `json:"request_id"`
			Body      json.RawMessage `json:"body"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &env))
		var req struct {
			Question string `json:"question"`
		}
		require.NoError(t, json.Unmarshal(env.Body, &req))
		assert.Equal(t, "Which title?", req.Question)
		_ = eventbus.Reply(ctx, bus, domain.EventAskUserReply, env.RequestID,
			map[string]string{"answer": "the second one"})
	})

	res := call(t, ask, `{"question":"Which title?","options":["A","B"]}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "User answered: the second one", res.Content)
}

func TestAskUserTimesOut(t *testing.T) {
	tb, _ := newTestToolbox(t)
	ask := findTool(t, newConfigTools(t, tb), "ask_user")

	res := call(t, ask, `{"question":"anyone?"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "did not answer")
	assert.True(t, res.IsRetryable)
}
