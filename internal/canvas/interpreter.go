package canvas

import (
	"encoding/json"
	"fmt"
	"strings"

	"inkdesk/internal/domain"
)

// Command is one parsed canvas operation. The Op field selects which
// of the remaining fields apply. Commands are parsed fresh from text on
// every batch; only their effect on the document persists.
type Command struct {
	Op string `json:"op"`

	// Shape creation and addressing.
	ID    string  `json:"id,omitempty"`
	Text  string  `json:"text,omitempty"`
	URL   string  `json:"url,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	W     float64 `json:"w,omitempty"`
	H     float64 `json:"h,omitempty"`
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size,omitempty"`
	Font  string  `json:"font,omitempty"`
	Align string  `json:"align,omitempty"`

	// Slide references a frame; creation coordinates become relative to
	// the frame's origin, and the created shape is parented to it.
	Slide string `json:"slide,omitempty"`
	Name  string `json:"name,omitempty"` // add_slide

	// Theme selects a palette for apply_theme.
	Theme string `json:"theme,omitempty"`

	// Confirm is required by clear.
	Confirm bool `json:"confirm,omitempty"`
}

// BatchResult reports the outcome of applying a command batch.
type BatchResult struct {
	Applied    int
	CreatedIDs []string
	Errors     []string
}

// themes maps theme names to note/background color pairs.
var themes = map[string][2]string{
	"light": {"yellow", "white"},
	"dark":  {"slate", "black"},
	"sepia": {"amber", "cream"},
}

// ParseBatch splits newline-delimited JSON command objects, stripping
// any wrapping fence markers. Lines that fail to parse are returned as
// positional errors alongside the commands that did parse.
func ParseBatch(text string) ([]Command, []string, error) {
	text = stripFences(text)
	lines := strings.Split(text, "\n")

	var (
		cmds     []Command
		parseErr []string
		seen     int
	)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen++
		var c Command
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			parseErr = append(parseErr, fmt.Sprintf("line %d: invalid JSON: %v", i+1, err))
			continue
		}
		if c.Op == "" {
			parseErr = append(parseErr, fmt.Sprintf("line %d: missing \"op\" field", i+1))
			continue
		}
		cmds = append(cmds, c)
	}

	if seen == 0 {
		return nil, nil, domain.NewDomainError("canvas.ParseBatch", domain.ErrInvalidArgument,
			"empty command batch")
	}
	return cmds, parseErr, nil
}

// stripFences removes a wrapping ``` fence if present.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return text
	}
	lines = lines[1:] // opening fence (possibly with a language tag)
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Apply runs commands against doc one at a time, accumulating created
// shape IDs and per-command errors. If no command applies successfully,
// every partial effect is undone and the batch fails: the document is
// observably unchanged. A non-zero applied count is a success even when
// some commands failed; the result carries both so the agent can retry
// just the failed subset.
func Apply(doc *Document, cmds []Command, parseErrs []string) (*BatchResult, error) {
	res := &BatchResult{Errors: append([]string{}, parseErrs...)}
	var undos []Undo

	for i, c := range cmds {
		undo, created, err := applyOne(doc, c)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("command %d (%s): %v", i+1, c.Op, err))
			continue
		}
		res.Applied++
		res.CreatedIDs = append(res.CreatedIDs, created...)
		undos = append(undos, undo...)
	}

	if res.Applied == 0 {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
		return res, domain.NewDomainError("canvas.Apply", domain.ErrPartialFailure,
			fmt.Sprintf("0 of %d commands applied", len(cmds)+len(parseErrs)))
	}
	return res, nil
}

func applyOne(doc *Document, c Command) ([]Undo, []string, error) {
	switch c.Op {
	case "add_note", "add_text", "add_rect", "add_image":
		return addShape(doc, c)
	case "add_slide":
		return addSlide(doc, c)
	case "move":
		return moveShape(doc, c)
	case "update":
		return updateShape(doc, c)
	case "delete":
		return deleteShape(doc, c)
	case "clear":
		if !c.Confirm {
			return nil, nil, domain.NewDomainError("canvas.clear", domain.ErrConfirmRequired,
				`clear removes every shape; pass "confirm": true`)
		}
		return []Undo{doc.Clear()}, nil, nil
	case "apply_theme":
		return applyTheme(doc, c)
	case "duplicate_slide":
		return duplicateSlide(doc, c)
	default:
		return nil, nil, domain.NewDomainError("canvas.Apply", domain.ErrInvalidArgument,
			fmt.Sprintf("unknown op %q", c.Op))
	}
}

func addShape(doc *Document, c Command) ([]Undo, []string, error) {
	s := Shape{
		ID:    NewShapeID(),
		X:     c.X,
		Y:     c.Y,
		W:     c.W,
		H:     c.H,
		Color: c.Color,
		Size:  c.Size,
		Font:  c.Font,
		Align: c.Align,
	}

	switch c.Op {
	case "add_note":
		s.Type = ShapeNote
		s.Text = c.Text
		if s.Text == "" {
			return nil, nil, domain.NewDomainError("canvas.add_note", domain.ErrInvalidArgument, "text is required")
		}
	case "add_text":
		s.Type = ShapeText
		s.Text = c.Text
		if s.Text == "" {
			return nil, nil, domain.NewDomainError("canvas.add_text", domain.ErrInvalidArgument, "text is required")
		}
	case "add_rect":
		s.Type = ShapeRect
	case "add_image":
		s.Type = ShapeImage
		s.URL = c.URL
		if s.URL == "" {
			return nil, nil, domain.NewDomainError("canvas.add_image", domain.ErrInvalidArgument, "url is required")
		}
	}

	// A slide reference parents the shape to that frame and makes the
	// command coordinates frame-relative.
	if c.Slide != "" {
		frame, err := doc.ResolveFrame(c.Slide)
		if err != nil {
			return nil, nil, err
		}
		s.ParentID = frame.ID
		s.X = frame.X + c.X
		s.Y = frame.Y + c.Y
	}

	undo := doc.Add(s)
	return []Undo{undo}, []string{s.ID}, nil
}

func addSlide(doc *Document, c Command) ([]Undo, []string, error) {
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("Slide %d", countFrames(doc)+1)
	}
	s := Shape{
		ID:   NewShapeID(),
		Type: ShapeFrame,
		Name: name,
		X:    c.X,
		Y:    c.Y,
		W:    defaultFloat(c.W, 960),
		H:    defaultFloat(c.H, 540),
	}
	undo := doc.Add(s)
	return []Undo{undo}, []string{s.ID}, nil
}

func moveShape(doc *Document, c Command) ([]Undo, []string, error) {
	target, err := doc.Resolve(c.ID)
	if err != nil {
		return nil, nil, err
	}

	x, y := c.X, c.Y
	parentID := ""
	if c.Slide != "" {
		frame, err := doc.ResolveFrame(c.Slide)
		if err != nil {
			return nil, nil, err
		}
		x = frame.X + c.X
		y = frame.Y + c.Y
		parentID = frame.ID
	}

	undo, err := doc.Update(target.ID, func(s *Shape) {
		s.X = x
		s.Y = y
		if parentID != "" {
			s.ParentID = parentID
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return []Undo{undo}, nil, nil
}

func updateShape(doc *Document, c Command) ([]Undo, []string, error) {
	target, err := doc.Resolve(c.ID)
	if err != nil {
		return nil, nil, err
	}
	undo, err := doc.Update(target.ID, func(s *Shape) {
		if c.Text != "" {
			s.Text = c.Text
		}
		if c.URL != "" {
			s.URL = c.URL
		}
		if c.Color != "" {
			s.Color = c.Color
		}
		if c.Size > 0 {
			s.Size = c.Size
		}
		if c.Font != "" {
			s.Font = c.Font
		}
		if c.Align != "" {
			s.Align = c.Align
		}
		if c.W > 0 {
			s.W = c.W
		}
		if c.H > 0 {
			s.H = c.H
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return []Undo{undo}, nil, nil
}

func deleteShape(doc *Document, c Command) ([]Undo, []string, error) {
	target, err := doc.Resolve(c.ID)
	if err != nil {
		return nil, nil, err
	}
	undo, err := doc.Delete(target.ID)
	if err != nil {
		return nil, nil, err
	}
	return []Undo{undo}, nil, nil
}

func applyTheme(doc *Document, c Command) ([]Undo, []string, error) {
	palette, ok := themes[c.Theme]
	if !ok {
		return nil, nil, domain.NewDomainError("canvas.apply_theme", domain.ErrInvalidArgument,
			fmt.Sprintf("unknown theme %q (want: light, dark, sepia)", c.Theme))
	}

	var undos []Undo
	for _, s := range doc.Shapes() {
		color := palette[0]
		if s.Type == ShapeFrame || s.Type == ShapeRect {
			color = palette[1]
		}
		undo, err := doc.Update(s.ID, func(sh *Shape) { sh.Color = color })
		if err != nil {
			continue
		}
		undos = append(undos, undo)
	}
	if len(undos) == 0 {
		return nil, nil, domain.NewDomainError("canvas.apply_theme", domain.ErrNotFound, "document has no shapes")
	}
	return undos, nil, nil
}

func duplicateSlide(doc *Document, c Command) ([]Undo, []string, error) {
	if c.Slide == "" {
		return nil, nil, domain.NewDomainError("canvas.duplicate_slide", domain.ErrInvalidArgument, "slide is required")
	}
	frame, err := doc.ResolveFrame(c.Slide)
	if err != nil {
		return nil, nil, err
	}

	offset := frame.W + 40 // place the copy to the right of the original

	copyFrame := frame
	copyFrame.ID = NewShapeID()
	copyFrame.Name = frame.Name + " copy"
	copyFrame.X += offset

	undos := []Undo{doc.Add(copyFrame)}
	created := []string{copyFrame.ID}

	for _, child := range doc.Children(frame.ID) {
		dup := child
		dup.ID = NewShapeID()
		dup.ParentID = copyFrame.ID
		dup.X += offset
		undos = append(undos, doc.Add(dup))
		created = append(created, dup.ID)
	}
	return undos, created, nil
}

func countFrames(doc *Document) int {
	n := 0
	for _, s := range doc.Shapes() {
		if s.Type == ShapeFrame {
			n++
		}
	}
	return n
}

func defaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
