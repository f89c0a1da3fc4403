package canvas

import (
	"encoding/json"
	"fmt"
	"sync"

	"inkdesk/internal/domain"
)

// fileFormat is the on-disk shape of a canvas document.
type fileFormat struct {
	Version int     `json:"version"`
	Shapes  []Shape `json:"shapes"`
}

const fileVersion = 1

// Marshal serializes a document to its on-disk JSON form.
func Marshal(d *Document) ([]byte, error) {
	data, err := json.MarshalIndent(fileFormat{Version: fileVersion, Shapes: d.Shapes()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal canvas: %w", err)
	}
	return data, nil
}

// Unmarshal parses on-disk canvas JSON into a live document.
func Unmarshal(path string, data []byte) (*Document, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domain.NewDomainError("canvas.Unmarshal", domain.ErrInvalidArgument,
			fmt.Sprintf("%s is not a valid canvas file: %v", path, err))
	}
	return FromShapes(path, f.Shapes), nil
}

// Editor is the single mutable slot holding the live canvas document.
// Only one document is live at a time; switching must complete before
// any command batch is applied against it.
type Editor struct {
	mu  sync.Mutex
	doc *Document
}

// NewEditor creates an editor with no live document.
func NewEditor() *Editor {
	return &Editor{}
}

// Open makes doc the live document, replacing any previous one.
func (e *Editor) Open(doc *Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = doc
}

// Close drops the live document.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = nil
}

// Live returns the live document, or false when no canvas is open.
func (e *Editor) Live() (*Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return nil, false
	}
	return e.doc, true
}
