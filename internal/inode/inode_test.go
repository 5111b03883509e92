package inode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIsStableAndMintsFreshIDs(t *testing.T) {
	tbl := New(time.Second)

	root, ok := tbl.Path(RootID)
	require.True(t, ok)
	assert.Equal(t, "/", root)

	a := tbl.Lookup("/foo")
	b := tbl.Lookup("/foo")
	assert.Equal(t, a, b, "looking up the same path twice must return the same ID")
	assert.NotEqual(t, RootID, a)

	c := tbl.Lookup("/bar")
	assert.NotEqual(t, a, c)
}

func TestLookupNormalizesPath(t *testing.T) {
	tbl := New(time.Second)

	a := tbl.Lookup("/foo/bar")
	b := tbl.Lookup("foo/bar/")
	assert.Equal(t, a, b, "lookup must clean paths before keying the table")
}

func TestAttrCacheExpiresAfterTTL(t *testing.T) {
	tbl := New(5 * time.Millisecond)
	id := tbl.Lookup("/foo")

	tbl.SetAttr(id, Attr{Size: 42})
	attr, ok := tbl.GetAttr(id)
	require.True(t, ok)
	assert.Equal(t, int64(42), attr.Size)

	time.Sleep(10 * time.Millisecond)
	_, ok = tbl.GetAttr(id)
	assert.False(t, ok, "attribute entry must expire once its TTL has elapsed")
}

func TestRenameMovesWholeSubtreePreservingIDs(t *testing.T) {
	tbl := New(time.Second)

	dir := tbl.Lookup("/a")
	child := tbl.Lookup("/a/b")
	grandchild := tbl.Lookup("/a/b/c")
	tbl.SetAttr(child, Attr{Size: 1})

	tbl.Rename("/a", "/z")

	p, ok := tbl.Path(dir)
	require.True(t, ok)
	assert.Equal(t, "/z", p)

	p, ok = tbl.Path(child)
	require.True(t, ok)
	assert.Equal(t, "/z/b", p)

	p, ok = tbl.Path(grandchild)
	require.True(t, ok)
	assert.Equal(t, "/z/b/c", p)

	_, ok = tbl.GetAttr(child)
	assert.False(t, ok, "rename must drop cached attributes for the moved subtree")

	assert.Equal(t, child, tbl.Lookup("/z/b"), "rename must preserve the original ID under the new path")
}

func TestRenameDoesNotTouchUnrelatedPaths(t *testing.T) {
	tbl := New(time.Second)

	sibling := tbl.Lookup("/ab")
	tbl.Lookup("/a")

	tbl.Rename("/a", "/z")

	p, ok := tbl.Path(sibling)
	require.True(t, ok)
	assert.Equal(t, "/ab", p, "a path that merely shares a prefix must not be treated as a descendant")
}

func TestInvalidateDropsSubtree(t *testing.T) {
	tbl := New(time.Second)

	dir := tbl.Lookup("/a")
	child := tbl.Lookup("/a/b")
	tbl.SetAttr(dir, Attr{IsDir: true})
	tbl.SetAttr(child, Attr{Size: 3})

	tbl.Invalidate("/a")

	_, ok := tbl.Path(dir)
	assert.False(t, ok)
	_, ok = tbl.Path(child)
	assert.False(t, ok)
	_, ok = tbl.GetAttr(dir)
	assert.False(t, ok)

	fresh := tbl.Lookup("/a")
	assert.NotEqual(t, dir, fresh, "a path re-looked-up after invalidation gets a fresh identity")
}
