// Package inode maintains the stable numeric identities a FUSE frontend
// needs on top of a vault's dir-id/name addressing: a path<->id table with
// stable 64-bit inode numbers, a short-TTL attribute cache, and prefix-based
// invalidation so a rename or delete never leaves a stale subtree cached.
package inode

import (
	"path"
	"strings"
	"sync"
	"time"
)

// ID is a stable, process-lifetime-unique inode number. 1 is reserved for
// the vault root, matching the FUSE convention that the root inode is 1.
type ID uint64

// RootID is the inode number of the vault's root directory.
const RootID ID = 1

// DefaultAttrTTL is how long a cached attribute stays valid before a
// frontend must re-fetch it from the vault.
const DefaultAttrTTL = 2 * time.Second

// Attr is the cached, FUSE-relevant metadata for one inode.
type Attr struct {
	Size    int64
	IsDir   bool
	ModTime time.Time
}

type attrEntry struct {
	attr      Attr
	expiresAt time.Time
}

// Table is a bidirectional path<->ID map plus a TTL'd attribute cache,
// scoped to one open vault. Paths are vault-relative, slash-separated, and
// always start with "/".
type Table struct {
	mu       sync.RWMutex
	nextID   ID
	pathToID map[string]ID
	idToPath map[ID]string
	attrs    map[ID]attrEntry
	ttl      time.Duration
}

// New builds an empty Table with the root path pre-registered as RootID.
func New(ttl time.Duration) *Table {
	t := &Table{
		nextID:   RootID + 1,
		pathToID: map[string]ID{"/": RootID},
		idToPath: map[ID]string{RootID: "/"},
		attrs:    make(map[ID]attrEntry),
		ttl:      ttl,
	}
	return t
}

// Lookup returns the ID for p, minting a fresh one if p hasn't been seen
// before. p must be a clean, vault-relative, slash-prefixed path.
func (t *Table) Lookup(p string) ID {
	p = cleanPath(p)

	t.mu.RLock()
	if id, ok := t.pathToID[p]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.pathToID[p]; ok {
		return id
	}
	id := t.nextID
	t.nextID++
	t.pathToID[p] = id
	t.idToPath[id] = p
	return id
}

// Path returns the path currently registered for id, if any.
func (t *Table) Path(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.idToPath[id]
	return p, ok
}

// SetAttr caches attr for id with the Table's configured TTL.
func (t *Table) SetAttr(id ID, attr Attr) {
	t.mu.Lock()
	t.attrs[id] = attrEntry{attr: attr, expiresAt: time.Now().Add(t.ttl)}
	t.mu.Unlock()
}

// GetAttr returns the cached attribute for id if present and not yet
// expired.
func (t *Table) GetAttr(id ID) (Attr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.attrs[id]
	if !ok || time.Now().After(e.expiresAt) {
		return Attr{}, false
	}
	return e.attr, true
}

// Rename moves every path entry rooted at oldPath (oldPath itself, plus any
// descendant if oldPath names a directory) to be rooted at newPath instead,
// preserving each entry's ID. Attribute cache entries for the moved
// subtree are dropped rather than relabeled, since a rename can change a
// directory's effective metadata in ways worth re-fetching.
func (t *Table) Rename(oldPath, newPath string) {
	oldPath = cleanPath(oldPath)
	newPath = cleanPath(newPath)

	t.mu.Lock()
	defer t.mu.Unlock()

	for p, id := range t.pathToID {
		if p != oldPath && !isDescendant(p, oldPath) {
			continue
		}
		rest := strings.TrimPrefix(p, oldPath)
		moved := cleanPath(newPath + rest)

		delete(t.pathToID, p)
		t.pathToID[moved] = id
		t.idToPath[id] = moved
		delete(t.attrs, id)
	}
}

// Invalidate drops p (and, if p names a directory, every cached path and
// attribute beneath it) from the table entirely, used when a delete makes
// the whole subtree's identity meaningless.
func (t *Table) Invalidate(p string) {
	p = cleanPath(p)

	t.mu.Lock()
	defer t.mu.Unlock()

	for entryPath, id := range t.pathToID {
		if entryPath != p && !isDescendant(entryPath, p) {
			continue
		}
		delete(t.pathToID, entryPath)
		delete(t.idToPath, id)
		delete(t.attrs, id)
	}
}

func isDescendant(p, prefix string) bool {
	if prefix == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, prefix+"/")
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	return cleaned
}
