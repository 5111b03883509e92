// Package writebuffer holds the pending plaintext content of a file opened
// for write, letting many small kernel-callback writes coalesce into the
// large sequential writes the vault's chunked cipher stream wants, without
// touching the ciphertext until a flush or close commits the buffer.
package writebuffer

import (
	"io"
	"sync"

	"github.com/agucova/oxcrypt/internal/oxerr"
	"github.com/agucova/oxcrypt/internal/scheduler"
)

// Buffer accumulates writes to one open file and tracks their size against
// a scheduler.WriteBudget for the file's lifetime. It is safe for concurrent
// use; the scheduler's per-file ordering is what actually keeps writes on
// one file from interleaving, this type just owns the bytes.
//
// reserved is the number of bytes currently charged against budget for this
// buffer: the whole buffer while any part of it is dirty, zero once it has
// been flushed. It is not simply len(data), since an overwrite of
// already-flushed bytes must re-reserve them even though the buffer doesn't
// grow.
type Buffer struct {
	mu     sync.Mutex
	fileID uint64
	budget *scheduler.WriteBudget

	data     []byte
	dirty    bool
	reserved int64
}

// New creates an empty write buffer for fileID, reserving/releasing bytes
// against budget as the buffer grows, shrinks, or flushes.
func New(fileID uint64, budget *scheduler.WriteBudget) *Buffer {
	return &Buffer{fileID: fileID, budget: budget}
}

// WriteAt copies p into the buffer at offset, growing it as needed, and
// reserves against the write budget so the buffer's whole length is charged
// while any part of it is dirty. A write that would exceed the budget is
// rejected before any bytes are copied or released.
func (b *Buffer) WriteAt(p []byte, offset int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	oldLen := int64(len(b.data))
	end := offset + int64(len(p))
	if end > oldLen {
		b.data = append(b.data, make([]byte, end-oldLen)...)
	}
	if err := b.reserveTo(int64(len(b.data))); err != nil {
		b.data = b.data[:oldLen]
		return 0, err
	}
	n := copy(b.data[offset:end], p)
	b.dirty = true
	return n, nil
}

// Truncate resizes the buffer to size. A truncate drops pending writes
// beyond the new size rather than preserving them for a later flush.
func (b *Buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldLen := int64(len(b.data))
	if size < oldLen {
		b.data = b.data[:size]
	} else if size > oldLen {
		b.data = append(b.data, make([]byte, size-oldLen)...)
	}
	if err := b.reserveTo(size); err != nil {
		b.data = b.data[:oldLen]
		return err
	}
	b.dirty = true
	return nil
}

// reserveTo adjusts the budget reservation to exactly want bytes, reserving
// more or releasing the difference as needed. Caller must hold b.mu.
func (b *Buffer) reserveTo(want int64) error {
	switch {
	case want > b.reserved:
		if err := b.budget.Reserve(b.fileID, want-b.reserved); err != nil {
			return err
		}
	case want < b.reserved:
		b.budget.Release(b.fileID, b.reserved-want)
	}
	b.reserved = want
	return nil
}

// Len reports the buffer's current plaintext size.
func (b *Buffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// Dirty reports whether the buffer holds writes not yet flushed.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Flush writes the buffer's full current content to w (a fresh vault
// ContentWriter) and releases its bytes from the write budget. It does not
// clear the buffer: a flushed buffer still answers reads of its own pending
// content until the handle is closed.
func (b *Buffer) Flush(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.dirty {
		return nil
	}
	if _, err := w.Write(b.data); err != nil {
		return oxerr.Wrap(oxerr.Transient, "Buffer.Flush", err)
	}
	b.budget.Release(b.fileID, b.reserved)
	b.reserved = 0
	b.dirty = false
	return nil
}

// Discard releases every byte this buffer holds reserved, without writing
// them anywhere, used when an open-for-write handle is abandoned (abort, or
// an error partway through a write).
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved > 0 {
		b.budget.Release(b.fileID, b.reserved)
		b.reserved = 0
	}
	b.dirty = false
	b.data = nil
}

// Bytes returns the buffer's current plaintext content. The returned slice
// must not be mutated by the caller.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}
