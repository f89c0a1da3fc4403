package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inkdesk/internal/domain"
)

// Resolver enforces path containment for workspace file operations.
// Every executor resolves paths through it before touching the
// filesystem; nothing else in the engine builds absolute paths.
type Resolver struct {
	root string // absolute workspace root
}

// NewResolver creates a resolver rooted at the given directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", abs)
	}

	return &Resolver{root: abs}, nil
}

// Root returns the workspace root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve validates a workspace-relative path and returns its absolute
// form. The containment check is a left-to-right stack reduction over
// the path segments rather than a host normalization call: host
// cleaners may resolve symlinks or apply platform separator rules that
// differ from what the agent sent, and the decision must be made on
// the literal segments. A `..` that pops past the root fails with
// ErrPathTraversal, as does any reduction whose result is neither the
// root itself nor a strict descendant of it.
func (r *Resolver) Resolve(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(rel, "/")

	var stack []string
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
			// skip
		case "..":
			if len(stack) == 0 {
				return "", domain.NewDomainError("Resolver.Resolve", domain.ErrPathTraversal,
					fmt.Sprintf("%q escapes workspace root", rel))
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}

	abs := r.root
	if len(stack) > 0 {
		abs = filepath.Join(r.root, filepath.Join(stack...))
	}

	if abs != r.root && !strings.HasPrefix(abs, r.root+string(os.PathSeparator)) {
		return "", domain.NewDomainError("Resolver.Resolve", domain.ErrPathTraversal,
			fmt.Sprintf("resolved %q is outside root %q", abs, r.root))
	}

	return abs, nil
}

// Rel converts an absolute path under the root back to its
// workspace-relative, slash-separated form.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
