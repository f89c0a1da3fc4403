package canvas

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"inkdesk/internal/domain"
)

// ShapeType enumerates the kinds of shapes a canvas document holds.
type ShapeType string

const (
	ShapeNote  ShapeType = "note"
	ShapeText  ShapeType = "text"
	ShapeRect  ShapeType = "rect"
	ShapeImage ShapeType = "image"
	ShapeFrame ShapeType = "frame" // a "slide" grouping other shapes
)

// Shape is a single element of a canvas document. Coordinates are
// page-absolute; shapes inside a frame additionally carry the frame's
// ID in ParentID.
type Shape struct {
	ID       string    `json:"id"`
	Type     ShapeType `json:"type"`
	ParentID string    `json:"parent_id,omitempty"`
	Name     string    `json:"name,omitempty"` // frames only
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"` // images only
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	W        float64   `json:"w,omitempty"`
	H        float64   `json:"h,omitempty"`
	Color    string    `json:"color,omitempty"`
	Size     float64   `json:"size,omitempty"` // font size
	Font     string    `json:"font,omitempty"`
	Align    string    `json:"align,omitempty"`
}

// idLen is the length of shape identifiers. Commands reference shapes
// by this short suffix rather than the full internal ID.
const idLen = 10

var idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// NewShapeID mints a short shape identifier: the tail of a ULID, which
// is the monotonic-entropy portion and unique enough within one document.
func NewShapeID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
	return strings.ToLower(id[len(id)-idLen:])
}

// Document is a live, in-memory canvas document. All mutation goes
// through methods that return an undo closure so a command batch can
// be rolled back if nothing in it succeeds.
type Document struct {
	mu     sync.Mutex
	path   string // workspace-relative path of the backing file
	shapes []Shape
	index  map[string]int // id -> position in shapes
}

// NewDocument creates an empty canvas document backed by path.
func NewDocument(path string) *Document {
	return &Document{
		path:  path,
		index: make(map[string]int),
	}
}

// FromShapes builds a document from deserialized shapes.
func FromShapes(path string, shapes []Shape) *Document {
	d := NewDocument(path)
	d.shapes = append(d.shapes, shapes...)
	for i, s := range d.shapes {
		d.index[s.ID] = i
	}
	return d
}

// Path returns the workspace-relative path of the backing file.
func (d *Document) Path() string { return d.path }

// Shapes returns a copy of the document's shapes.
func (d *Document) Shapes() []Shape {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Shape, len(d.shapes))
	copy(out, d.shapes)
	return out
}

// ShapeCount returns the number of shapes in the document.
func (d *Document) ShapeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shapes)
}

// Get returns the shape with the given ID.
func (d *Document) Get(id string) (Shape, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return Shape{}, false
	}
	return d.shapes[i], true
}

// Resolve finds a shape by its identifier. IDs are matched exactly
// first, then as a suffix, so agents may reference shapes by the short
// tail they saw in an earlier observation.
func (d *Document) Resolve(ref string) (Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref == "" {
		return Shape{}, domain.NewDomainError("Document.Resolve", domain.ErrInvalidArgument, "empty shape id")
	}
	if i, ok := d.index[ref]; ok {
		return d.shapes[i], nil
	}
	for _, s := range d.shapes {
		if strings.HasSuffix(s.ID, ref) {
			return s, nil
		}
	}
	return Shape{}, domain.NewDomainError("Document.Resolve", domain.ErrNotFound,
		fmt.Sprintf("no shape with id %q", ref))
}

// ResolveFrame finds a frame by ID suffix or by name (e.g. "Slide 2").
func (d *Document) ResolveFrame(ref string) (Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.shapes {
		if s.Type != ShapeFrame {
			continue
		}
		if s.ID == ref || strings.HasSuffix(s.ID, ref) || strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	return Shape{}, domain.NewDomainError("Document.ResolveFrame", domain.ErrNotFound,
		fmt.Sprintf("no frame %q", ref))
}

// Undo reverses a single applied operation.
type Undo func()

// Add appends a shape and returns its undo.
func (d *Document) Add(s Shape) Undo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shapes = append(d.shapes, s)
	d.index[s.ID] = len(d.shapes) - 1
	return func() { d.remove(s.ID) }
}

// Delete removes the shape with the given ID. Deleting a frame also
// removes the shapes it contains.
func (d *Document) Delete(id string) (Undo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return nil, domain.NewDomainError("Document.Delete", domain.ErrNotFound, id)
	}

	victim := d.shapes[i]
	removed := []Shape{victim}
	if victim.Type == ShapeFrame {
		for _, s := range d.shapes {
			if s.ParentID == victim.ID {
				removed = append(removed, s)
			}
		}
	}

	for _, s := range removed {
		d.removeLocked(s.ID)
	}

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, s := range removed {
			d.shapes = append(d.shapes, s)
			d.index[s.ID] = len(d.shapes) - 1
		}
	}, nil
}

// Update applies fn to the shape with the given ID and returns an undo
// restoring the previous state.
func (d *Document) Update(id string, fn func(*Shape)) (Undo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return nil, domain.NewDomainError("Document.Update", domain.ErrNotFound, id)
	}
	prev := d.shapes[i]
	fn(&d.shapes[i])
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if j, ok := d.index[id]; ok {
			d.shapes[j] = prev
		}
	}, nil
}

// Clear removes all shapes and returns an undo restoring them.
func (d *Document) Clear() Undo {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.shapes
	prevIndex := d.index
	d.shapes = nil
	d.index = make(map[string]int)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shapes = prev
		d.index = prevIndex
	}
}

// Children returns the shapes contained in the given frame.
func (d *Document) Children(frameID string) []Shape {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Shape
	for _, s := range d.shapes {
		if s.ParentID == frameID {
			out = append(out, s)
		}
	}
	return out
}

func (d *Document) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(id)
}

func (d *Document) removeLocked(id string) {
	i, ok := d.index[id]
	if !ok {
		return
	}
	d.shapes = append(d.shapes[:i], d.shapes[i+1:]...)
	delete(d.index, id)
	// Reindex the tail.
	for j := i; j < len(d.shapes); j++ {
		d.index[d.shapes[j].ID] = j
	}
}
