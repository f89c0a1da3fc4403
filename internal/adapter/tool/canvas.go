package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"inkdesk/internal/canvas"
	"inkdesk/internal/domain"
	"inkdesk/internal/usecase/eventbus"
)

// canvasCore carries the shared state for the canvas tool group.
type canvasCore struct {
	tb     *Toolbox
	logger *slog.Logger
}

// NewCanvasTools builds the canvas tool group.
func NewCanvasTools(tb *Toolbox, logger *slog.Logger) []domain.Tool {
	core := &canvasCore{tb: tb, logger: logger.With("component", "tool.canvas")}
	return []domain.Tool{
		&canvasOpTool{core},
		&canvasScreenshotTool{core},
	}
}

type overlayPayload struct {
	Active bool `json:"active"`
}

type openTabPayload struct {
	Path string `json:"path"`
}

type canvasModifiedPayload struct {
	Path       string   `json:"path"`
	Applied    int      `json:"applied"`
	CreatedIDs []string `json:"created_ids,omitempty"`
}

// ensureOpen makes sure the live document matches expectedFile. When a
// switch is needed it asks the UI to open the tab and waits for the
// acknowledgement before loading the file, so commands never land on a
// document the user cannot see.
func (c *canvasCore) ensureOpen(ctx context.Context, expectedFile string) (*canvas.Document, error) {
	doc, live := c.tb.Editor.Live()

	if expectedFile == "" {
		if !live {
			return nil, domain.NewDomainError("canvas_op", domain.ErrInvalidArgument,
				"no canvas is open; pass expected_file to open one")
		}
		return doc, nil
	}
	if !domain.IsCanvasPath(expectedFile) {
		return nil, domain.NewDomainError("canvas_op", domain.ErrInvalidArgument,
			fmt.Sprintf("%s is not a canvas document", expectedFile))
	}
	if live && c.tb.ActiveFile() == expectedFile {
		return doc, nil
	}

	requestID := canvas.NewShapeID()
	_, err := eventbus.Request(ctx, c.tb.Bus, requestID,
		domain.EventCanvasOpenTab, domain.EventCanvasTabOpened,
		openTabPayload{Path: expectedFile}, c.tb.Limits.TabOpenTimeout)
	if err != nil {
		return nil, domain.NewDomainError("canvas_op", domain.ErrTimeout,
			fmt.Sprintf("tab switch to %s did not complete: %v", expectedFile, err))
	}

	abs, err := c.tb.Resolver.Resolve(expectedFile)
	if err != nil {
		return nil, err
	}
	data, err := c.tb.FS.ReadFile(abs)
	if err != nil {
		// A fresh canvas the UI just created may not be flushed yet;
		// start from an empty document rather than failing the batch.
		doc = canvas.NewDocument(expectedFile)
	} else {
		doc, err = canvas.Unmarshal(expectedFile, data)
		if err != nil {
			return nil, err
		}
	}

	c.tb.Editor.Open(doc)
	c.tb.SetActiveFile(expectedFile)
	return doc, nil
}

// persist writes the live document back to disk and announces the change.
func (c *canvasCore) persist(ctx context.Context, doc *canvas.Document, res *canvas.BatchResult) error {
	abs, err := c.tb.Resolver.Resolve(doc.Path())
	if err != nil {
		return err
	}
	data, err := canvas.Marshal(doc)
	if err != nil {
		return err
	}
	if err := c.tb.FS.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("persist canvas: %w", err)
	}
	PublishToolEvent(ctx, c.tb.Bus, domain.EventCanvasModified, canvasModifiedPayload{
		Path:       doc.Path(),
		Applied:    res.Applied,
		CreatedIDs: res.CreatedIDs,
	})
	return nil
}

// --- canvas_op ---

type canvasOpTool struct{ *canvasCore }

func (t *canvasOpTool) Name() string { return "canvas_op" }
func (t *canvasOpTool) Description() string {
	return "Apply a batch of drawing commands to the open canvas, one JSON object per line. Ops: add_note, add_text, add_rect, add_image, add_slide, move, update, delete, clear, apply_theme, duplicate_slide."
}

func (t *canvasOpTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"commands": {"type": "string", "description": "Newline-delimited JSON command objects"},
				"expected_file": {"type": "string", "description": "Canvas path the batch targets; the tab is switched first if it is not active"}
			},
			"required": ["commands"]
		}`),
	}
}

type canvasOpParams struct {
	Commands     string `json:"commands"`
	ExpectedFile string `json:"expected_file,omitempty"`
}

func (t *canvasOpTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.canvas_op", t.logger, params,
		func(ctx context.Context, _ trace.Span, p canvasOpParams) (any, error) {
			if err := RequireField("commands", p.Commands); err != nil {
				return nil, err
			}

			// Overlay on for the whole batch so the user sees the agent
			// is driving the canvas; off again on every exit path.
			PublishToolEvent(ctx, t.tb.Bus, domain.EventCanvasOverlay, overlayPayload{Active: true})
			defer PublishToolEvent(ctx, t.tb.Bus, domain.EventCanvasOverlay, overlayPayload{Active: false})

			doc, err := t.ensureOpen(ctx, p.ExpectedFile)
			if err != nil {
				return nil, err
			}

			agentID := domain.AgentIDFromContext(ctx)
			if agentID == "" {
				agentID = "agent"
			}
			if err := t.tb.Locks.Lock(doc.Path(), agentID); err != nil {
				return nil, err
			}
			defer func() {
				time.Sleep(t.tb.Limits.WatcherGrace)
				t.tb.Locks.Unlock(doc.Path())
			}()

			cmds, parseErrs, err := canvas.ParseBatch(p.Commands)
			if err != nil {
				return nil, err
			}
			res, err := canvas.Apply(doc, cmds, parseErrs)
			if err != nil {
				return nil, err
			}
			if err := t.persist(ctx, doc, res); err != nil {
				return nil, err
			}

			t.logger.Debug("canvas_op",
				"path", doc.Path(), "applied", res.Applied, "errors", len(res.Errors))
			return TextResult(formatBatchResult(doc, res, len(cmds)+len(parseErrs))), nil
		},
	)
}

func formatBatchResult(doc *canvas.Document, res *canvas.BatchResult, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Applied %d of %d commands to %s (%d shapes total).",
		res.Applied, total, doc.Path(), doc.ShapeCount())
	if len(res.CreatedIDs) > 0 {
		fmt.Fprintf(&sb, "\nCreated: %s", strings.Join(res.CreatedIDs, ", "))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&sb, "\nFailed: %s", e)
	}
	return sb.String()
}

// --- canvas_screenshot ---

type canvasScreenshotTool struct{ *canvasCore }

func (t *canvasScreenshotTool) Name() string { return "canvas_screenshot" }
func (t *canvasScreenshotTool) Description() string {
	return "Render the open canvas to an image so its current visual state can be inspected."
}

func (t *canvasScreenshotTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

type screenshotParams struct{}

func (t *canvasScreenshotTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.canvas_screenshot", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ screenshotParams) (any, error) {
			doc, live := t.tb.Editor.Live()
			if !live {
				return TextResult("No canvas is open."), nil
			}
			svg := renderSVG(doc)
			t.logger.Debug("canvas_screenshot", "path", doc.Path(), "shapes", doc.ShapeCount())
			return ImageResult("image/svg+xml",
				base64.StdEncoding.EncodeToString([]byte(svg))), nil
		},
	)
}

// renderSVG produces a schematic rendering of the document. Fidelity is
// deliberately coarse; the point is layout and text, not typography.
func renderSVG(doc *canvas.Document) string {
	shapes := doc.Shapes()

	maxX, maxY := 960.0, 540.0
	for _, s := range shapes {
		if s.X+s.W > maxX {
			maxX = s.X + s.W
		}
		if s.Y+s.H > maxY {
			maxY = s.Y + s.H
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">`+"\n",
		maxX+40, maxY+40, maxX+40, maxY+40)

	for _, s := range shapes {
		// Coordinates are page-absolute even for parented shapes.
		x, y := s.X, s.Y
		switch s.Type {
		case canvas.ShapeFrame:
			fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="white" stroke="gray"/>`+"\n",
				x, y, s.W, s.H)
			fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="12" fill="gray">%s</text>`+"\n",
				x, y-6, html.EscapeString(s.Name))
		case canvas.ShapeImage:
			fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="lightgray" stroke="black"/>`+"\n",
				x, y, s.W, s.H)
			fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="10">[image] %s</text>`+"\n",
				x+4, y+14, html.EscapeString(s.URL))
		case canvas.ShapeText:
			fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="%.0f" fill="%s">%s</text>`+"\n",
				x, y+defaultTextSize(s.Size), defaultTextSize(s.Size), fillColor(s.Color), html.EscapeString(s.Text))
		default: // note, rect
			fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" stroke="black"/>`+"\n",
				x, y, s.W, s.H, fillColor(s.Color))
			if s.Text != "" {
				fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="12">%s</text>`+"\n",
					x+4, y+16, html.EscapeString(s.Text))
			}
		}
	}
	sb.WriteString("</svg>\n")
	return sb.String()
}

func defaultTextSize(size float64) float64 {
	if size <= 0 {
		return 16
	}
	return size
}

func fillColor(color string) string {
	if color == "" {
		return "khaki"
	}
	return color
}
