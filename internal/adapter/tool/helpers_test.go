package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkdesk/internal/canvas"
	"inkdesk/internal/domain"
	"inkdesk/internal/infra/config"
	"inkdesk/internal/security"
	"inkdesk/internal/usecase"
	"inkdesk/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestToolbox builds a toolbox on a temp workspace with a live bus
// and fast timeouts.
func newTestToolbox(t *testing.T) (*Toolbox, *eventbus.Bus) {
	t.Helper()

	resolver, err := security.NewResolver(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New(testLogger())
	t.Cleanup(bus.Close)

	tb := &Toolbox{
		Resolver: resolver,
		Locks:    usecase.NewLockRegistry(),
		Bus:      bus,
		Editor:   canvas.NewEditor(),
		FS:       NewLocalFilesystemBackend(),
		Platform: "desktop",
		Limits: config.ToolsConfig{
			ReadMaxChars:     200,
			SearchMaxHits:    5,
			FetchMaxChars:    200,
			ShellTimeout:     5 * time.Second,
			WatcherGrace:     time.Millisecond,
			TabOpenTimeout:   100 * time.Millisecond,
			AskUserTimeout:   100 * time.Millisecond,
			ImageProbeWait:   50 * time.Millisecond,
			NetRatePerMinute: 600,
		},
	}
	return tb, bus
}

func writeWorkspaceFile(t *testing.T, tb *Toolbox, rel, content string) {
	t.Helper()
	abs := filepath.Join(tb.Resolver.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readWorkspaceFile(t *testing.T, tb *Toolbox, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(tb.Resolver.Root(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func findTool(t *testing.T, tools []domain.Tool, name string) domain.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("no tool named %q", name)
	return nil
}

func call(t *testing.T, tl domain.Tool, params string) *domain.ToolResult {
	t.Helper()
	res, err := tl.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
