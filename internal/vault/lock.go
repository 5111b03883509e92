package vault

import (
	"context"
	"sort"
	"sync"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// dirLock is a reference-counted RWMutex for one directory id. Directories
// are locked by id (not by path) so a rename that changes a directory's
// storage path doesn't orphan a lock held across the rename.
type dirLock struct {
	mu   sync.RWMutex
	refs int
}

// LockManager hands out per-directory read/write locks keyed by dir id, and
// supports acquiring several at once in a fixed, deadlock-free order.
//
// Any vault operation that touches more than one directory (rename, move,
// cross-directory link) must acquire all of its locks through LockMany: it
// sorts dir ids lexicographically before locking, so two goroutines racing
// to rename in opposite directions between the same two directories always
// agree on which lock to take first.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*dirLock
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*dirLock)}
}

func (m *LockManager) acquire(dirID string) *dirLock {
	m.mu.Lock()
	l, ok := m.locks[dirID]
	if !ok {
		l = &dirLock{}
		m.locks[dirID] = l
	}
	l.refs++
	m.mu.Unlock()
	return l
}

func (m *LockManager) release(dirID string, l *dirLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, dirID)
	}
	m.mu.Unlock()
}

// Unlocker releases every lock acquired by a Lock/RLock call, in reverse
// acquisition order.
type Unlocker func()

// Lock acquires an exclusive (write) lock on dirID.
func (m *LockManager) Lock(ctx context.Context, dirID string) (Unlocker, error) {
	if err := ctx.Err(); err != nil {
		return nil, oxerr.Wrap(oxerr.Transient, "LockManager.Lock", err)
	}
	l := m.acquire(dirID)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.release(dirID, l)
	}, nil
}

// RLock acquires a shared (read) lock on dirID.
func (m *LockManager) RLock(ctx context.Context, dirID string) (Unlocker, error) {
	if err := ctx.Err(); err != nil {
		return nil, oxerr.Wrap(oxerr.Transient, "LockManager.RLock", err)
	}
	l := m.acquire(dirID)
	l.mu.RLock()
	return func() {
		l.mu.RUnlock()
		m.release(dirID, l)
	}, nil
}

// LockMany acquires exclusive locks on every (deduplicated) dirID in
// dirIDs, always in ascending lexicographic order of dirID, regardless of
// the order callers pass them in. This total order is what prevents the
// classic two-directory deadlock where operation A locks (X then Y) while
// concurrent operation B locks (Y then X).
func (m *LockManager) LockMany(ctx context.Context, dirIDs ...string) (Unlocker, error) {
	unique := dedupSorted(dirIDs)
	held := make([]Unlocker, 0, len(unique))
	for _, id := range unique {
		u, err := m.Lock(ctx, id)
		if err != nil {
			for i := len(held) - 1; i >= 0; i-- {
				held[i]()
			}
			return nil, err
		}
		held = append(held, u)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}, nil
}

func dedupSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
