package vault

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	v, err := CreateVault(dir, "test passphrase")
	require.NoError(t, err)
	return v
}

func TestCreateVaultLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateVault(dir, "hunter2")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, ConfigFileName))
	assert.FileExists(t, filepath.Join(dir, MasterKeyFileName))

	entries, err := os.ReadDir(filepath.Join(dir, "d"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "GG", entries[0].Name())
}

func TestOpenVaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateVault(dir, "hunter2")
	require.NoError(t, err)

	v, err := OpenVault(dir, "hunter2")
	require.NoError(t, err)
	entries, err := v.ListDirectory(context.Background(), RootDirID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenVaultWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateVault(dir, "hunter2")
	require.NoError(t, err)

	_, err = OpenVault(dir, "wrong")
	assert.Error(t, err)
}

func TestCloseZeroesMasterKey(t *testing.T) {
	v := newTestVault(t)

	require.NoError(t, v.Close())
	for _, b := range v.masterKey.EncryptKey {
		assert.Zero(t, b)
	}
	for _, b := range v.masterKey.MacKey {
		assert.Zero(t, b)
	}
}

func TestCreateAndListFile(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	w, err := v.CreateFile(ctx, RootDirID, "hello.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello, vault"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
	assert.Equal(t, KindFile, entries[0].Kind)

	r, err := v.OpenRead(ctx, RootDirID, "hello.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello, vault", string(data))
}

func TestCreateFileAlreadyExistsOverwrites(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second version"} {
		w, err := v.CreateFile(ctx, RootDirID, "note.txt")
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	r, err := v.OpenRead(ctx, RootDirID, "note.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "second version", string(data))
}

func TestOpenReadMissingFileFails(t *testing.T) {
	v := newTestVault(t)
	_, err := v.OpenRead(context.Background(), RootDirID, "nope.txt")
	assert.Error(t, err)
}

func TestCreateListAndRemoveDirectory(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	childID, err := v.CreateDirectory(ctx, RootDirID, "subdir")
	require.NoError(t, err)
	require.NotEmpty(t, childID)

	entries, err := v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindDirectory, entries[0].Kind)
	assert.Equal(t, childID, entries[0].DirID)

	childEntries, err := v.ListDirectory(ctx, childID)
	require.NoError(t, err)
	assert.Empty(t, childEntries)

	require.NoError(t, v.RemoveDirectory(ctx, RootDirID, "subdir"))
	entries, err = v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.CreateDirectory(ctx, RootDirID, "subdir")
	require.NoError(t, err)
	childID, err := v.CreateDirectory(ctx, RootDirID, "subdir")
	assert.Error(t, err, "creating a directory with a name that already exists must fail")
	_ = childID

	listChildID := mustDirID(t, v, "subdir")
	w, err := v.CreateFile(ctx, listChildID, "inner.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = v.RemoveDirectory(ctx, RootDirID, "subdir")
	assert.ErrorContains(t, err, "directory not empty")
}

func mustDirID(t *testing.T, v *Vault, name string) string {
	t.Helper()
	entries, err := v.ListDirectory(context.Background(), RootDirID)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name == name {
			return e.DirID
		}
	}
	t.Fatalf("entry %q not found", name)
	return ""
}

func TestSymlinkRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.CreateSymlink(ctx, RootDirID, "link", "/some/target"))
	entries, err := v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindSymlink, entries[0].Kind)

	target, err := v.ReadSymlink(ctx, RootDirID, "link")
	require.NoError(t, err)
	assert.Equal(t, "/some/target", target)
}

func TestSymlinkTargetTooLongFails(t *testing.T) {
	v := newTestVault(t)
	huge := make([]byte, MaxSymlinkTargetBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	err := v.CreateSymlink(context.Background(), RootDirID, "link", string(huge))
	assert.Error(t, err)
}

func TestRenameWithinDirectory(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	w, err := v.CreateFile(ctx, RootDirID, "old.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, v.Rename(ctx, RootDirID, "old.txt", "new.txt"))

	_, err = v.OpenRead(ctx, RootDirID, "old.txt")
	assert.Error(t, err)
	r, err := v.OpenRead(ctx, RootDirID, "new.txt")
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestRenameOntoExistingNameFails(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt"} {
		w, err := v.CreateFile(ctx, RootDirID, name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	err := v.Rename(ctx, RootDirID, "a.txt", "b.txt")
	assert.Error(t, err)
}

func TestMoveAcrossDirectories(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	childID, err := v.CreateDirectory(ctx, RootDirID, "dest")
	require.NoError(t, err)

	w, err := v.CreateFile(ctx, RootDirID, "file.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, v.Move(ctx, RootDirID, "file.txt", childID, "file.txt"))

	_, err = v.OpenRead(ctx, RootDirID, "file.txt")
	assert.Error(t, err)

	r, err := v.OpenRead(ctx, childID, "file.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "payload", string(data))
}

func TestVerifyDirectoryDetectsRootIntegrity(t *testing.T) {
	v := newTestVault(t)
	assert.NoError(t, v.VerifyDirectory(RootDirID))
}

func TestRecoverDirIDFromBackupRejectsWrongCandidate(t *testing.T) {
	v := newTestVault(t)
	_, err := v.RecoverDirIDFromBackup("not-a-real-dir-id")
	assert.Error(t, err)
}

func TestLongFileNameIsShortened(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	longName := strings.Repeat("x", 200) + ".txt"

	w, err := v.CreateFile(ctx, RootDirID, longName)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := v.ListDirectory(ctx, RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, longName, entries[0].Name)

	// On disk the parent storage must hold exactly one .c9s directory
	// containing name.c9s (the full ciphertext + .c9r) and contents.c9r.
	rootStorage, err := v.storagePath(RootDirID)
	require.NoError(t, err)
	hostEntries, err := os.ReadDir(rootStorage)
	require.NoError(t, err)
	var c9s []os.DirEntry
	for _, he := range hostEntries {
		if he.Name() == dirIDBackupFile {
			continue
		}
		c9s = append(c9s, he)
	}
	require.Len(t, c9s, 1)
	require.True(t, c9s[0].IsDir())
	assert.Equal(t, shorteningExt, filepath.Ext(c9s[0].Name()))

	inner := filepath.Join(rootStorage, c9s[0].Name())
	nameBytes, err := os.ReadFile(filepath.Join(inner, nameBackupFile))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(nameBytes), ".c9r"))
	assert.Greater(t, len(nameBytes), ShorteningThreshold)
	assert.FileExists(t, filepath.Join(inner, contentsFile))

	r, err := v.OpenRead(ctx, RootDirID, longName)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))
}

func TestWriteFileLeavesNoTempResidue(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.WriteFile(ctx, RootDirID, "a.txt", []byte("v1")))
	require.NoError(t, v.WriteFile(ctx, RootDirID, "a.txt", []byte("v2")))

	rootStorage, err := v.storagePath(RootDirID)
	require.NoError(t, err)
	hostEntries, err := os.ReadDir(rootStorage)
	require.NoError(t, err)
	for _, he := range hostEntries {
		assert.False(t, strings.HasSuffix(he.Name(), ".tmp"),
			"no temporary file may survive a completed overwrite: %s", he.Name())
	}

	df, err := v.ReadFile(ctx, RootDirID, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(df.Content))
}
