package usecase

import (
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"inkdesk/internal/domain"
	"inkdesk/internal/security"
)

// ExportRunner converts workspace documents into publishable artifacts.
// Canvas documents are never exported through this path; they have
// their own rendering.
type ExportRunner struct {
	resolver *security.Resolver
	logger   *slog.Logger
}

// NewExportRunner builds a runner rooted at the resolver's workspace.
func NewExportRunner(resolver *security.Resolver, logger *slog.Logger) *ExportRunner {
	return &ExportRunner{resolver: resolver, logger: logger.With("component", "export")}
}

// Run executes one export job: read the source, convert it to the
// job's format, and write the artifact under the output directory.
func (r *ExportRunner) Run(job domain.ExportJob) (string, error) {
	src, err := r.resolver.Resolve(job.Source)
	if err != nil {
		return "", err
	}
	if domain.IsCanvasPath(job.Source) {
		return "", domain.NewDomainError("export", domain.ErrInvalidArgument,
			fmt.Sprintf("%s is a canvas document; export its containing page instead", job.Source))
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", domain.NewDomainError("export", domain.ErrNotFound, job.Source)
	}

	var (
		out string
		ext string
	)
	switch job.Format {
	case "markdown", "":
		out, ext = string(data), ".md"
	case "text":
		out, ext = stripMarkdown(string(data)), ".txt"
	case "html":
		out, ext = renderHTML(job.Source, string(data)), ".html"
	default:
		return "", domain.NewDomainError("export", domain.ErrInvalidArgument,
			fmt.Sprintf("unknown format %q (markdown, text, html)", job.Format))
	}

	base := strings.TrimSuffix(filepath.Base(job.Source), filepath.Ext(job.Source))
	outRel := filepath.Join(job.OutDir, base+ext)
	outAbs, err := r.resolver.Resolve(outRel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outAbs), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(outAbs, []byte(out), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	r.logger.Info("export complete", "job", job.Name, "source", job.Source, "artifact", outRel)
	return outRel, nil
}

// renderHTML wraps markdown in a minimal standalone page. Headings,
// emphasis, and list items are converted; everything else passes
// through escaped.
func renderHTML(title, markdown string) string {
	var body strings.Builder
	inList := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			if !inList {
				body.WriteString("<ul>\n")
				inList = true
			}
			fmt.Fprintf(&body, "<li>%s</li>\n", inlineHTML(trimmed[2:]))
			continue
		case inList:
			body.WriteString("</ul>\n")
			inList = false
		}
		switch {
		case strings.HasPrefix(trimmed, "### "):
			fmt.Fprintf(&body, "<h3>%s</h3>\n", inlineHTML(trimmed[4:]))
		case strings.HasPrefix(trimmed, "## "):
			fmt.Fprintf(&body, "<h2>%s</h2>\n", inlineHTML(trimmed[3:]))
		case strings.HasPrefix(trimmed, "# "):
			fmt.Fprintf(&body, "<h1>%s</h1>\n", inlineHTML(trimmed[2:]))
		case trimmed == "":
			body.WriteString("\n")
		default:
			fmt.Fprintf(&body, "<p>%s</p>\n", inlineHTML(trimmed))
		}
	}
	if inList {
		body.WriteString("</ul>\n")
	}
	return fmt.Sprintf("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body></html>\n",
		html.EscapeString(title), body.String())
}

func inlineHTML(s string) string {
	s = html.EscapeString(s)
	for {
		replaced := boldOnce(s)
		if replaced == s {
			break
		}
		s = replaced
	}
	return s
}

func boldOnce(s string) string {
	start := strings.Index(s, "**")
	if start < 0 {
		return s
	}
	end := strings.Index(s[start+2:], "**")
	if end < 0 {
		return s
	}
	end += start + 2
	return s[:start] + "<strong>" + s[start+2:end] + "</strong>" + s[end+2:]
}

// stripMarkdown flattens markdown to plain text.
func stripMarkdown(markdown string) string {
	var out []string
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimLeft(line, "#")
		trimmed = strings.TrimPrefix(strings.TrimSpace(trimmed), "- ")
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// ExportScheduler runs enabled jobs with cron schedules in the
// background. Reload replaces the whole schedule; jobs without a
// schedule only run on demand through export_run.
type ExportScheduler struct {
	runner *ExportRunner
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewExportScheduler builds an idle scheduler.
func NewExportScheduler(runner *ExportRunner, logger *slog.Logger) *ExportScheduler {
	return &ExportScheduler{runner: runner, logger: logger.With("component", "export.scheduler")}
}

// Reload stops the current schedule and starts a new one covering every
// enabled job that carries a cron expression. Invalid expressions skip
// that job and are reported in the returned error.
func (s *ExportScheduler) Reload(jobs []domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = cron.New()

	var bad []string
	for _, job := range jobs {
		if !job.Enabled || job.Schedule == "" {
			continue
		}
		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() {
			if _, err := s.runner.Run(job); err != nil {
				s.logger.Warn("scheduled export failed", "job", job.Name, "error", err)
			}
		})
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s (%q): %v", job.Name, job.Schedule, err))
		}
	}
	s.cron.Start()

	if len(bad) > 0 {
		return domain.NewDomainError("export.Reload", domain.ErrInvalidArgument,
			"invalid schedules: "+strings.Join(bad, "; "))
	}
	return nil
}

// Stop halts the background schedule.
func (s *ExportScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
