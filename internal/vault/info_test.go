package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTypedSplitsKinds(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.WriteFile(ctx, RootDirID, "a.txt", []byte("hello")))
	_, err := v.CreateDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)
	require.NoError(t, v.CreateSymlink(ctx, RootDirID, "link", "/target"))

	files, err := v.ListFiles(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, int64(5), files[0].Size)

	dirs, err := v.ListDirectories(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "sub", dirs[0].Name)
	assert.NotEmpty(t, dirs[0].DirID)

	links, err := v.ListSymlinks(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "link", links[0].Name)

	af, ad, as, err := v.ListAll(ctx, RootDirID)
	require.NoError(t, err)
	assert.Len(t, af, 1)
	assert.Len(t, ad, 1)
	assert.Len(t, as, 1)
}

func TestFindFileDirectorySymlink(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.WriteFile(ctx, RootDirID, "a.txt", []byte("payload")))
	childID, err := v.CreateDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)
	require.NoError(t, v.CreateSymlink(ctx, RootDirID, "link", "/target"))

	fi, ok, err := v.FindFile(ctx, RootDirID, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(len("payload")), fi.Size)

	_, ok, err = v.FindFile(ctx, RootDirID, "sub")
	require.NoError(t, err)
	assert.False(t, ok, "a directory must not be found as a file")

	di, ok, err := v.FindDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, childID, di.DirID)

	_, ok, err = v.FindDirectory(ctx, RootDirID, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok, "a file must not be found as a directory")

	si, ok, err := v.FindSymlink(ctx, RootDirID, "link")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "link", si.Name)

	_, ok, err = v.FindFile(ctx, RootDirID, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadFileAndWriteFile(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.WriteFile(ctx, RootDirID, "note.txt", []byte("version one")))
	df, err := v.ReadFile(ctx, RootDirID, "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "version one", string(df.Content))
	assert.Equal(t, int64(len("version one")), df.Info.Size)

	require.NoError(t, v.WriteFile(ctx, RootDirID, "note.txt", []byte("version two, longer")))
	df, err = v.ReadFile(ctx, RootDirID, "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "version two, longer", string(df.Content))
}

func TestDeleteDirectoryRecursiveCountsEntries(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	subID, err := v.CreateDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)
	require.NoError(t, v.WriteFile(ctx, subID, "a.txt", []byte("x")))
	require.NoError(t, v.WriteFile(ctx, subID, "b.txt", []byte("y")))
	require.NoError(t, v.CreateSymlink(ctx, subID, "link", "/t"))
	nestedID, err := v.CreateDirectory(ctx, subID, "nested")
	require.NoError(t, err)
	require.NoError(t, v.WriteFile(ctx, nestedID, "c.txt", []byte("z")))

	files, dirs, symlinks, err := v.DeleteDirectoryRecursive(ctx, RootDirID, "sub")
	require.NoError(t, err)
	assert.Equal(t, 3, files)
	assert.Equal(t, 2, dirs)
	assert.Equal(t, 1, symlinks)

	entries, err := v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteDirectoryRecursiveMissingFails(t *testing.T) {
	v := newTestVault(t)
	_, _, _, err := v.DeleteDirectoryRecursive(context.Background(), RootDirID, "nope")
	assert.Error(t, err)
}

func TestResolvePathRootAndNested(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	dirID, isDir, err := v.ResolvePath(ctx, "/")
	require.NoError(t, err)
	assert.True(t, isDir)
	assert.Equal(t, RootDirID, dirID)

	subID, err := v.CreateDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)
	require.NoError(t, v.WriteFile(ctx, subID, "f.txt", []byte("x")))

	gotID, isDir, err := v.ResolvePath(ctx, "/sub")
	require.NoError(t, err)
	assert.True(t, isDir)
	assert.Equal(t, subID, gotID)

	parentID, isDir, err := v.ResolvePath(ctx, "/sub/f.txt")
	require.NoError(t, err)
	assert.False(t, isDir)
	assert.Equal(t, subID, parentID)

	_, _, err = v.ResolvePath(ctx, "/nope")
	assert.Error(t, err)

	_, _, err = v.ResolvePath(ctx, "/sub/f.txt/impossible")
	assert.Error(t, err, "walking through a file as if it were a directory must fail")
}

func TestResolveParentPath(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	subID, err := v.CreateDirectory(ctx, RootDirID, "sub")
	require.NoError(t, err)

	parentID, last, err := v.ResolveParentPath(ctx, "/sub/newfile.txt")
	require.NoError(t, err)
	assert.Equal(t, subID, parentID)
	assert.Equal(t, "newfile.txt", last)

	parentID, last, err = v.ResolveParentPath(ctx, "/top.txt")
	require.NoError(t, err)
	assert.Equal(t, RootDirID, parentID)
	assert.Equal(t, "top.txt", last)

	_, _, err = v.ResolveParentPath(ctx, "/")
	assert.Error(t, err, "the root has no parent component to resolve")
}

func TestOpenRangeReaderMatchesWholeFile(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	content := make([]byte, 3*ChunkPayloadSize+42)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, v.WriteFile(ctx, RootDirID, "big.bin", content))

	h, err := v.OpenRangeReader(ctx, RootDirID, "big.bin")
	require.NoError(t, err)
	defer h.Close()

	got, err := h.ReadRange(ChunkPayloadSize-5, 20)
	require.NoError(t, err)
	assert.Equal(t, content[ChunkPayloadSize-5:ChunkPayloadSize+15], got)
}

func TestOpenRangeReaderMissingFileFails(t *testing.T) {
	v := newTestVault(t)
	_, err := v.OpenRangeReader(context.Background(), RootDirID, "missing.bin")
	assert.Error(t, err)
}
