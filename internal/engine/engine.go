// Package engine wires the vault, the scheduler, the handle table and the
// inode table into the one object a frontend actually calls: open a path,
// get back a handle id; read or write through that id; close it. Nothing
// here is FUSE-specific — no mount point, no kernel callbacks — but every
// method maps directly onto the open/read/write/release shape a FUSE (or
// NFS, or WebDAV) frontend would drive, and Status turns any returned error
// into the fuse.Status a frontend replies with.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/agucova/oxcrypt/internal/fusestatus"
	"github.com/agucova/oxcrypt/internal/handle"
	"github.com/agucova/oxcrypt/internal/inode"
	"github.com/agucova/oxcrypt/internal/oxerr"
	"github.com/agucova/oxcrypt/internal/scheduler"
	"github.com/agucova/oxcrypt/internal/vault"
	"github.com/agucova/oxcrypt/internal/writebuffer"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Engine is the scheduled, handle-table-backed facade over one open Vault.
type Engine struct {
	vault   *vault.Vault
	sched   *scheduler.Scheduler
	handles *handle.Table
	inodes  *inode.Table
}

// New builds an Engine over an already-unlocked vault and a running
// scheduler. The caller owns both and must Shutdown the scheduler itself;
// Engine only closes handles it opened.
func New(v *vault.Vault, sched *scheduler.Scheduler) *Engine {
	return &Engine{
		vault:   v,
		sched:   sched,
		handles: handle.New(),
		inodes:  inode.New(inode.DefaultAttrTTL),
	}
}

// Status maps err to the fuse.Status a frontend callback should reply with.
func Status(err error) fuse.Status { return fusestatus.FromError(err) }

// OpenForRead opens name inside parentDirID for random-access reads,
// admitted through the Control lane (open/close are control ops, not reads)
// and registers a KindRange handle for it.
func (e *Engine) OpenForRead(ctx context.Context, parentDirID, name string) (handle.ID, error) {
	v, err := e.sched.Submit(ctx, scheduler.Control, 0, func(ctx context.Context) (any, error) {
		return e.vault.OpenRangeReader(ctx, parentDirID, name)
	})
	if err != nil {
		return 0, err
	}
	rr := v.(*vault.RangeHandle)
	return e.handles.OpenRange(rr), nil
}

// Read serves [offset, offset+length) of the file behind id through the
// scheduler's ReadForeground lane, single-flight dedup and read cache: two
// concurrent reads at the same (id, offset, length) collapse into one
// executor job.
func (e *Engine) Read(ctx context.Context, id handle.ID, offset, length int64) ([]byte, error) {
	rr, ok := e.handles.Range(id)
	if !ok {
		return nil, oxerr.Wrap(oxerr.Semantic, "Engine.Read", oxerr.ErrNotFound)
	}
	return e.sched.SubmitRead(ctx, uint64(id), offset, length, func(ctx context.Context) ([]byte, error) {
		return rr.ReadRange(offset, length)
	})
}

// CloseRead releases a handle opened by OpenForRead.
func (e *Engine) CloseRead(id handle.ID) error {
	return e.handles.Close(id)
}

// CreateForWrite registers a new buffered-write handle for fileID. Nothing
// touches the vault until Flush, which names the target entry: writes
// accumulate in an in-memory buffer charged against the scheduler's write
// budget.
func (e *Engine) CreateForWrite(fileID uint64) handle.ID {
	buf := writebuffer.New(fileID, e.sched.Budget())
	return e.handles.OpenWriteBuffer(buf)
}

// WriteAt appends p at offset into id's pending write buffer. This never
// touches the vault or the scheduler's lanes directly; it only reserves
// against the write budget, so many small frontend writes can coalesce
// before Flush does the one real I/O.
func (e *Engine) WriteAt(id handle.ID, p []byte, offset int64) (int, error) {
	buf, ok := e.handles.WriteBuffer(id)
	if !ok {
		return 0, oxerr.Wrap(oxerr.Semantic, "Engine.WriteAt", oxerr.ErrNotFound)
	}
	return buf.WriteAt(p, offset)
}

// Flush commits id's pending write buffer to the vault as a single
// structural op, ordered against any other structural op already queued on
// the same fileID: a prior failed flush or rename on this file
// fails this one with the same error instead of running it.
func (e *Engine) Flush(ctx context.Context, id handle.ID, fileID uint64, parentDirID, name string) error {
	buf, ok := e.handles.WriteBuffer(id)
	if !ok {
		return oxerr.Wrap(oxerr.Semantic, "Engine.Flush", oxerr.ErrNotFound)
	}
	if !buf.Dirty() {
		return nil
	}

	_, err := e.sched.Submit(ctx, scheduler.WriteStructural, fileID, func(ctx context.Context) (any, error) {
		w, err := e.vault.CreateFile(ctx, parentDirID, name)
		if err != nil {
			return nil, err
		}
		if err := buf.Flush(w); err != nil {
			_ = w.Close()
			return nil, err
		}
		return nil, w.Close()
	})
	return err
}

// CloseWrite flushes id's pending writes then retires the handle,
// discarding the buffer's memory regardless of whether the flush
// succeeded.
func (e *Engine) CloseWrite(ctx context.Context, id handle.ID, fileID uint64, parentDirID, name string) error {
	flushErr := e.Flush(ctx, id, fileID, parentDirID, name)
	if buf, ok := e.handles.WriteBuffer(id); ok {
		buf.Discard()
	}
	if closeErr := e.handles.Close(id); closeErr != nil && flushErr == nil {
		return closeErr
	}
	return flushErr
}

// CopyRange copies [srcOffset, srcOffset+length) of the open-for-read
// handle srcID into dstID's pending write buffer at dstOffset, as one
// copy-range job: the executor reads and decrypts the source range, then
// splices it into the destination buffer. dstIno is the destination file's
// inode (the same id the buffer was created with); it counts as having a
// pending write from admission until the job finishes, so a Fsync barrier
// taken after this call waits for it.
func (e *Engine) CopyRange(ctx context.Context, srcID handle.ID, srcOffset int64, dstID handle.ID, dstIno uint64, dstOffset, length int64) (int, error) {
	src, ok := e.handles.Range(srcID)
	if !ok {
		return 0, oxerr.Wrap(oxerr.Semantic, "Engine.CopyRange", oxerr.ErrNotFound)
	}
	dst, ok := e.handles.WriteBuffer(dstID)
	if !ok {
		return 0, oxerr.Wrap(oxerr.Semantic, "Engine.CopyRange", oxerr.ErrNotFound)
	}

	v, err := e.sched.SubmitCopyRange(ctx, dstIno, func(ctx context.Context) (any, error) {
		data, err := src.ReadRange(srcOffset, length)
		if err != nil {
			return nil, err
		}
		return dst.WriteAt(data, dstOffset)
	})
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// Fsync blocks until every async write (flush or copy-range) admitted for
// fileID before this call has completed and its dirty bytes are released,
// or until timeout elapses; timeout <= 0 waits indefinitely. It returns a
// Transient error on timeout so frontends reply EBUSY rather than EIO.
func (e *Engine) Fsync(fileID uint64, timeout time.Duration) error {
	if !e.sched.Budget().WaitPendingWrites(fileID, timeout) {
		return oxerr.Wrap(oxerr.Transient, "Engine.Fsync", oxerr.ErrDeadlineMissed)
	}
	return nil
}

// ReadFull reads the whole decrypted content behind a path, bypassing the
// handle table: the one-shot counterpart of OpenForRead+Read.
func (e *Engine) ReadFull(ctx context.Context, parentDirID, name string) ([]byte, error) {
	v, err := e.sched.Submit(ctx, scheduler.ReadForeground, 0, func(ctx context.Context) (any, error) {
		r, err := e.vault.OpenRead(ctx, parentDirID, name)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Inodes exposes the engine's path<->inode table to a frontend.
func (e *Engine) Inodes() *inode.Table { return e.inodes }
