package usecase

import (
	"fmt"
	"sort"
	"sync"

	"inkdesk/internal/domain"
)

// LockRegistry tracks which agent is currently writing which workspace
// path. Locks are advisory within one running instance: they exist so
// the UI can render "being edited" badges and so a finished or crashed
// agent's locks can be cleaned up as a unit. A second agent asking for
// a held path is rejected outright rather than silently stealing
// ownership, which keeps per-agent cleanup scoped correctly.
type LockRegistry struct {
	mu        sync.Mutex
	owners    map[string]string // path -> agent ID
	listeners map[uint64]func([]string)
	nextID    uint64
}

// NewLockRegistry creates an empty lock registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		owners:    make(map[string]string),
		listeners: make(map[uint64]func([]string)),
	}
}

// Lock marks path as being written by agentID. Re-locking a path the
// same agent already holds is a no-op. A path held by a different
// agent fails with ErrLocked.
func (r *LockRegistry) Lock(path, agentID string) error {
	r.mu.Lock()
	owner, held := r.owners[path]
	if held {
		r.mu.Unlock()
		if owner == agentID {
			return nil
		}
		return domain.NewDomainError("LockRegistry.Lock", domain.ErrLocked,
			fmt.Sprintf("%s is held by agent %s", path, owner))
	}
	r.owners[path] = agentID
	snapshot := r.snapshotLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	notify(listeners, snapshot)
	return nil
}

// Unlock releases path. Unlocking a path that is not locked is a no-op
// and does not notify.
func (r *LockRegistry) Unlock(path string) {
	r.mu.Lock()
	if _, held := r.owners[path]; !held {
		r.mu.Unlock()
		return
	}
	delete(r.owners, path)
	snapshot := r.snapshotLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	notify(listeners, snapshot)
}

// UnlockAllForAgent releases every path owned by agentID, leaving other
// agents' locks intact. Called when an agent run completes, errors, or
// is cancelled so a crashed agent never leaves stale locks behind.
func (r *LockRegistry) UnlockAllForAgent(agentID string) {
	r.mu.Lock()
	changed := false
	for path, owner := range r.owners {
		if owner == agentID {
			delete(r.owners, path)
			changed = true
		}
	}
	if !changed {
		r.mu.Unlock()
		return
	}
	snapshot := r.snapshotLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	notify(listeners, snapshot)
}

// UnlockAll releases every lock. A call on an empty registry does not notify.
func (r *LockRegistry) UnlockAll() {
	r.mu.Lock()
	if len(r.owners) == 0 {
		r.mu.Unlock()
		return
	}
	r.owners = make(map[string]string)
	listeners := r.listenersLocked()
	r.mu.Unlock()

	notify(listeners, nil)
}

// Snapshot returns the currently locked paths, sorted. The slice is a
// copy; mutating it cannot affect registry state.
func (r *LockRegistry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Owner returns the agent holding path, if any.
func (r *LockRegistry) Owner(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, held := r.owners[path]
	return owner, held
}

// Subscribe registers a listener invoked synchronously with a snapshot
// of locked paths after every state-changing call. Returns an
// unsubscribe function.
func (r *LockRegistry) Subscribe(fn func(locked []string)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *LockRegistry) snapshotLocked() []string {
	paths := make([]string, 0, len(r.owners))
	for path := range r.owners {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (r *LockRegistry) listenersLocked() []func([]string) {
	fns := make([]func([]string), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	return fns
}

// notify runs outside the registry mutex so a listener may call back
// into the registry. Each listener gets its own copy of the snapshot.
func notify(listeners []func([]string), snapshot []string) {
	for _, fn := range listeners {
		cp := make([]string, len(snapshot))
		copy(cp, snapshot)
		fn(cp)
	}
}
