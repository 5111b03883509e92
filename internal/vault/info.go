package vault

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// FileInfo is the frontend-facing metadata for a regular file entry: its
// cleartext name plus the plaintext size and mtime a getattr call needs,
// recovered from the ciphertext's size without decrypting it.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// DirInfo is the frontend-facing metadata for a subdirectory entry.
type DirInfo struct {
	Name    string
	DirID   string
	ModTime time.Time
}

// SymlinkInfo is the frontend-facing metadata for a symlink entry.
type SymlinkInfo struct {
	Name    string
	ModTime time.Time
}

// DecryptedFile is the result of a whole-file read: its metadata alongside
// the plaintext bytes.
type DecryptedFile struct {
	Info    FileInfo
	Content []byte
}

// ListFiles returns every regular-file entry of dirID, with metadata.
func (v *Vault) ListFiles(ctx context.Context, dirID string) ([]FileInfo, error) {
	entries, err := v.listTyped(ctx, dirID)
	if err != nil {
		return nil, err
	}
	return entries.files, nil
}

// ListDirectories returns every subdirectory entry of dirID, with metadata.
func (v *Vault) ListDirectories(ctx context.Context, dirID string) ([]DirInfo, error) {
	entries, err := v.listTyped(ctx, dirID)
	if err != nil {
		return nil, err
	}
	return entries.dirs, nil
}

// ListSymlinks returns every symlink entry of dirID, with metadata.
func (v *Vault) ListSymlinks(ctx context.Context, dirID string) ([]SymlinkInfo, error) {
	entries, err := v.listTyped(ctx, dirID)
	if err != nil {
		return nil, err
	}
	return entries.symlinks, nil
}

// ListAll scans dirID once and returns its files, directories and symlinks
// together, which is cheaper than calling the three List* methods
// separately when a caller (like a FUSE readdir) needs all three anyway.
func (v *Vault) ListAll(ctx context.Context, dirID string) (files []FileInfo, dirs []DirInfo, symlinks []SymlinkInfo, err error) {
	entries, err := v.listTyped(ctx, dirID)
	if err != nil {
		return nil, nil, nil, err
	}
	return entries.files, entries.dirs, entries.symlinks, nil
}

type typedEntries struct {
	files    []FileInfo
	dirs     []DirInfo
	symlinks []SymlinkInfo
}

func (v *Vault) listTyped(ctx context.Context, dirID string) (typedEntries, error) {
	raw, err := v.ListDirectory(ctx, dirID)
	if err != nil {
		return typedEntries{}, err
	}

	var out typedEntries
	for _, e := range raw {
		switch e.Kind {
		case KindDirectory:
			mt, _ := v.entryModTime(dirID, e.Name)
			out.dirs = append(out.dirs, DirInfo{Name: e.Name, DirID: e.DirID, ModTime: mt})
		case KindSymlink:
			mt, _ := v.entryModTime(dirID, e.Name)
			out.symlinks = append(out.symlinks, SymlinkInfo{Name: e.Name, ModTime: mt})
		default:
			size, mt, szErr := v.fileSizeAndModTime(dirID, e.Name)
			if szErr != nil {
				return typedEntries{}, szErr
			}
			out.files = append(out.files, FileInfo{Name: e.Name, Size: size, ModTime: mt})
		}
	}
	return out, nil
}

// FindFile looks up name inside parentDirID as a regular file in O(1):
// it computes the ciphertext path directly rather than scanning a listing.
// ok is false when no such entry exists (as a file).
func (v *Vault) FindFile(ctx context.Context, parentDirID, name string) (info FileInfo, ok bool, err error) {
	unlock, err := v.locks.RLock(ctx, parentDirID)
	if err != nil {
		return FileInfo{}, false, err
	}
	defer unlock()

	name = NormalizeName(name)
	entryPath, _, exists, err := v.entryStoragePath(parentDirID, name)
	if err != nil || !exists {
		return FileInfo{}, false, err
	}
	kind, _, err := v.classifyEntryByStat(entryPath)
	if err != nil {
		return FileInfo{}, false, err
	}
	if kind != KindFile {
		return FileInfo{}, false, nil
	}
	size, mt, err := v.fileSizeAndModTime(parentDirID, name)
	if err != nil {
		return FileInfo{}, false, err
	}
	return FileInfo{Name: name, Size: size, ModTime: mt}, true, nil
}

// FindDirectory looks up name inside parentDirID as a subdirectory in O(1).
func (v *Vault) FindDirectory(ctx context.Context, parentDirID, name string) (info DirInfo, ok bool, err error) {
	unlock, err := v.locks.RLock(ctx, parentDirID)
	if err != nil {
		return DirInfo{}, false, err
	}
	defer unlock()

	name = NormalizeName(name)
	path, _, exists, err := v.entryStoragePath(parentDirID, name)
	if err != nil || !exists {
		return DirInfo{}, false, err
	}
	kind, childDirID, err := v.classifyEntryByStat(path)
	if err != nil {
		return DirInfo{}, false, err
	}
	if kind != KindDirectory {
		return DirInfo{}, false, nil
	}
	mt, _ := v.entryModTime(parentDirID, name)
	return DirInfo{Name: name, DirID: childDirID, ModTime: mt}, true, nil
}

// FindSymlink looks up name inside parentDirID as a symlink in O(1).
func (v *Vault) FindSymlink(ctx context.Context, parentDirID, name string) (info SymlinkInfo, ok bool, err error) {
	unlock, err := v.locks.RLock(ctx, parentDirID)
	if err != nil {
		return SymlinkInfo{}, false, err
	}
	defer unlock()

	name = NormalizeName(name)
	path, _, exists, err := v.entryStoragePath(parentDirID, name)
	if err != nil || !exists {
		return SymlinkInfo{}, false, err
	}
	kind, _, err := v.classifyEntryByStat(path)
	if err != nil {
		return SymlinkInfo{}, false, err
	}
	if kind != KindSymlink {
		return SymlinkInfo{}, false, nil
	}
	mt, _ := v.entryModTime(parentDirID, name)
	return SymlinkInfo{Name: name, ModTime: mt}, true, nil
}

// classifyEntryByStat is classifyEntry's stat-first counterpart for callers
// (FindFile/FindDirectory/FindSymlink) that only have a path, not an
// already-read fs.DirEntry from a directory scan.
func (v *Vault) classifyEntryByStat(entryPath string) (EntryKind, string, error) {
	fi, err := os.Stat(entryPath)
	if err != nil {
		return 0, "", oxerr.Wrap(oxerr.Semantic, "classifyEntryByStat", err)
	}
	return v.classifyEntry(entryPath, dirEntryAdapter{fi})
}

// ReadFile reads and decrypts the entire content of name inside
// parentDirID, returning it together with its metadata.
func (v *Vault) ReadFile(ctx context.Context, parentDirID, name string) (DecryptedFile, error) {
	r, err := v.OpenRead(ctx, parentDirID, name)
	if err != nil {
		return DecryptedFile{}, err
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return DecryptedFile{}, oxerr.Wrap(oxerr.Integrity, "ReadFile", err)
	}
	size, mt, err := v.fileSizeAndModTime(parentDirID, name)
	if err != nil {
		return DecryptedFile{}, err
	}
	return DecryptedFile{Info: FileInfo{Name: NormalizeName(name), Size: size, ModTime: mt}, Content: content}, nil
}

// WriteFile overwrites (or creates) name inside parentDirID with content in
// one call, using CreateFile's atomic-temp-rename semantics.
func (v *Vault) WriteFile(ctx context.Context, parentDirID, name string, content []byte) error {
	w, err := v.CreateFile(ctx, parentDirID, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return oxerr.Wrap(oxerr.Fatal, "WriteFile", err)
	}
	return w.Close()
}

// DeleteDirectoryRecursive removes dirID's entry (name) inside parentDirID
// along with every descendant, walking post-order (children before their
// parent directory's own shard) so a crash mid-walk leaves only orphaned,
// still-removable shards rather than a half-linked tree. It returns how
// many files, directories and symlinks were removed.
func (v *Vault) DeleteDirectoryRecursive(ctx context.Context, parentDirID, name string) (files, dirs, symlinks int, err error) {
	target, ok, err := v.FindDirectory(ctx, parentDirID, name)
	if err != nil {
		return 0, 0, 0, err
	}
	if !ok {
		return 0, 0, 0, oxerr.Wrap(oxerr.Semantic, "DeleteDirectoryRecursive", oxerr.ErrNotFound)
	}

	f, d, s, err := v.deleteSubtree(ctx, target.DirID)
	if err != nil {
		return f, d, s, err
	}
	dirs++ // target.DirID itself
	if err := v.RemoveDirectory(ctx, parentDirID, name); err != nil {
		return files + f, dirs + d, symlinks + s, err
	}
	return files + f, dirs + d, symlinks + s, nil
}

func (v *Vault) deleteSubtree(ctx context.Context, dirID string) (files, dirs, symlinks int, err error) {
	entries, err := v.ListDirectory(ctx, dirID)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, e := range entries {
		switch e.Kind {
		case KindDirectory:
			cf, cd, cs, err := v.deleteSubtree(ctx, e.DirID)
			if err != nil {
				return files, dirs, symlinks, err
			}
			files += cf
			dirs += cd + 1
			symlinks += cs
			if err := v.RemoveDirectory(ctx, dirID, e.Name); err != nil {
				return files, dirs, symlinks, err
			}
		case KindSymlink:
			if err := v.RemoveFile(ctx, dirID, e.Name); err != nil {
				return files, dirs, symlinks, err
			}
			symlinks++
		default:
			if err := v.RemoveFile(ctx, dirID, e.Name); err != nil {
				return files, dirs, symlinks, err
			}
			files++
		}
	}
	return files, dirs, symlinks, nil
}

// ResolvePath walks a "/"-separated cleartext path from the root. When p
// names a directory it returns that directory's own dir id and isDir=true.
// When p names a file or symlink it returns the dir id of its *containing*
// directory and isDir=false — the caller already has the leaf's cleartext
// name (the path's last component) to look it up with Find*/OpenRead/etc.
// For path "" or "/": returns (RootDirID, true, nil).
func (v *Vault) ResolvePath(ctx context.Context, p string) (dirID string, isDir bool, err error) {
	components := splitPath(p)
	if len(components) == 0 {
		return RootDirID, true, nil
	}

	cur := RootDirID
	for i, comp := range components {
		last := i == len(components)-1
		d, ok, derr := v.FindDirectory(ctx, cur, comp)
		if derr != nil {
			return "", false, derr
		}
		if ok {
			cur = d.DirID
			continue
		}
		if !last {
			return "", false, oxerr.Wrap(oxerr.Semantic, "ResolvePath", oxerr.ErrNotDirectory)
		}
		if _, fok, ferr := v.FindFile(ctx, cur, comp); ferr != nil {
			return "", false, ferr
		} else if fok {
			return cur, false, nil
		}
		if _, sok, serr := v.FindSymlink(ctx, cur, comp); serr != nil {
			return "", false, serr
		} else if sok {
			return cur, false, nil
		}
		return "", false, oxerr.Wrap(oxerr.Semantic, "ResolvePath", oxerr.ErrNotFound)
	}
	return cur, true, nil
}

// ResolveParentPath splits p into the dir id of its containing directory
// and its final cleartext component, without checking that the final
// component actually exists (a caller about to create it doesn't want
// that check).
func (v *Vault) ResolveParentPath(ctx context.Context, p string) (parentDirID string, lastName string, err error) {
	components := splitPath(p)
	if len(components) == 0 {
		return "", "", oxerr.Wrap(oxerr.Semantic, "ResolveParentPath", oxerr.ErrEmptyPath)
	}
	parent := RootDirID
	for _, comp := range components[:len(components)-1] {
		d, ok, err := v.FindDirectory(ctx, parent, comp)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", oxerr.Wrap(oxerr.Semantic, "ResolveParentPath", oxerr.ErrNotFound)
		}
		parent = d.DirID
	}
	return parent, components[len(components)-1], nil
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func (v *Vault) entryModTime(parentDirID, name string) (time.Time, error) {
	path, _, exists, err := v.entryStoragePath(parentDirID, name)
	if err != nil || !exists {
		return time.Time{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, oxerr.Wrap(oxerr.Semantic, "entryModTime", err)
	}
	return fi.ModTime(), nil
}

func (v *Vault) fileSizeAndModTime(parentDirID, name string) (int64, time.Time, error) {
	path, enc, exists, err := v.entryStoragePath(parentDirID, name)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !exists {
		return 0, time.Time{}, oxerr.Wrap(oxerr.Semantic, "fileSizeAndModTime", oxerr.ErrNotFound)
	}
	contentPath := path
	if enc.Shortened {
		contentPath = filepath.Join(path, contentsFile)
	}
	fi, err := os.Stat(contentPath)
	if err != nil {
		return 0, time.Time{}, oxerr.Wrap(oxerr.Semantic, "fileSizeAndModTime", err)
	}
	return v.cryptor.DecryptedFileSize(fi.Size()), fi.ModTime(), nil
}

// dirEntryAdapter lets classifyEntry (which expects fs.DirEntry) accept a
// plain os.FileInfo from a direct Stat call.
type dirEntryAdapter struct{ fi os.FileInfo }

func (d dirEntryAdapter) Name() string               { return d.fi.Name() }
func (d dirEntryAdapter) IsDir() bool                 { return d.fi.IsDir() }
func (d dirEntryAdapter) Type() os.FileMode           { return d.fi.Mode().Type() }
func (d dirEntryAdapter) Info() (os.FileInfo, error) { return d.fi, nil }
