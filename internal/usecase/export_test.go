package usecase

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
	"inkdesk/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T) (*ExportRunner, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := security.NewResolver(root)
	require.NoError(t, err)
	return NewExportRunner(resolver, testLogger()), root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestRunHTMLExport(t *testing.T) {
	r, root := newTestRunner(t)
	writeFile(t, root, "notes/post.md", "# Title\n\nSome **bold** text.\n\n- one\n- two\n")

	artifact, err := r.Run(domain.ExportJob{
		Name: "blog", Source: "notes/post.md", Format: "html", OutDir: "public",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("public", "post.html"), artifact)

	data, err := os.ReadFile(filepath.Join(root, "public", "post.html"))
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, "<li>one</li>")
	assert.Contains(t, html, "<ul>")
}

func TestRunTextExportStripsMarkdown(t *testing.T) {
	r, root := newTestRunner(t)
	writeFile(t, root, "post.md", "## Heading\n- item **bold**\n")

	artifact, err := r.Run(domain.ExportJob{
		Name: "txt", Source: "post.md", Format: "text", OutDir: "out",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, artifact))
	require.NoError(t, err)
	assert.Equal(t, "Heading\nitem bold\n", string(data))
}

func TestRunRejectsCanvasSource(t *testing.T) {
	r, root := newTestRunner(t)
	writeFile(t, root, "deck.canvas", `{"version":1,"shapes":[]}`)

	_, err := r.Run(domain.ExportJob{Name: "x", Source: "deck.canvas", Format: "html", OutDir: "out"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRunMissingSource(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(domain.ExportJob{Name: "x", Source: "absent.md", Format: "html", OutDir: "out"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunUnknownFormat(t *testing.T) {
	r, root := newTestRunner(t)
	writeFile(t, root, "a.md", "x")

	_, err := r.Run(domain.ExportJob{Name: "x", Source: "a.md", Format: "docx", OutDir: "out"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRunRejectsEscapingOutDir(t *testing.T) {
	r, root := newTestRunner(t)
	writeFile(t, root, "a.md", "x")

	_, err := r.Run(domain.ExportJob{Name: "x", Source: "a.md", Format: "html", OutDir: "../outside"})
	require.ErrorIs(t, err, domain.ErrPathTraversal)
}

func TestSchedulerReloadReportsBadExpressions(t *testing.T) {
	r, _ := newTestRunner(t)
	s := NewExportScheduler(r, testLogger())
	t.Cleanup(s.Stop)

	err := s.Reload([]domain.ExportJob{
		{Name: "ok", Source: "a.md", Enabled: true, Schedule: "@hourly"},
		{Name: "bad", Source: "b.md", Enabled: true, Schedule: "not a cron line"},
		{Name: "manual", Source: "c.md", Enabled: true}, // no schedule, fine
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), `bad`)

	// A clean reload succeeds.
	require.NoError(t, s.Reload([]domain.ExportJob{
		{Name: "ok", Source: "a.md", Enabled: true, Schedule: "@daily"},
	}))
}
