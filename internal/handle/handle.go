// Package handle maintains the shared map from an opaque integer handle id
// to one open file's state, the way a FUSE frontend's open/read/write/release
// callbacks expect: open mints an id, read/write look the id back up, release
// retires it. A handle owns either a decrypting reader or a pending write
// buffer, never both at once.
package handle

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/agucova/oxcrypt/internal/oxerr"
	"github.com/agucova/oxcrypt/internal/writebuffer"
)

// ID is an opaque, process-lifetime-unique open-file handle.
type ID uint64

// Kind distinguishes what an entry's ID currently refers to.
type Kind int

const (
	// KindNone marks an unused or already-released id.
	KindNone Kind = iota
	// KindReader is a handle opened for reading.
	KindReader
	// KindRange is a handle opened for random-access reads.
	KindRange
	// KindWriteBuffer is a handle opened for writing.
	KindWriteBuffer
	// KindLoaned marks a handle whose reader is on loan to an executor
	// worker: the slot exists (so it can't be deleted or reused) but its
	// reader is not retrievable until the loan is returned.
	KindLoaned
)

// RangeReader is satisfied by a handle that serves random-access plaintext
// reads, such as vault.RangeHandle, without requiring this package to
// import the vault package.
type RangeReader interface {
	ReadRange(offset, length int64) ([]byte, error)
	Close() error
}

type entry struct {
	kind   Kind
	reader io.ReadCloser
	rng    RangeReader
	buffer *writebuffer.Buffer
}

// Table is the shared, concurrency-safe map from handle ID to open-file
// state for one mounted vault.
type Table struct {
	mu      sync.Mutex
	next    uint64
	entries map[ID]*entry
}

// New builds an empty handle table.
func New() *Table {
	return &Table{entries: make(map[ID]*entry)}
}

func (t *Table) allocate() ID {
	return ID(atomic.AddUint64(&t.next, 1))
}

// OpenReader registers r under a freshly minted ID in KindReader state.
func (t *Table) OpenReader(r io.ReadCloser) ID {
	id := t.allocate()
	t.mu.Lock()
	t.entries[id] = &entry{kind: KindReader, reader: r}
	t.mu.Unlock()
	return id
}

// OpenRange registers r under a freshly minted ID in KindRange state.
func (t *Table) OpenRange(r RangeReader) ID {
	id := t.allocate()
	t.mu.Lock()
	t.entries[id] = &entry{kind: KindRange, rng: r}
	t.mu.Unlock()
	return id
}

// Range returns id's random-access reader if it is currently in KindRange
// state.
func (t *Table) Range(id ID) (RangeReader, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.kind != KindRange {
		return nil, false
	}
	return e.rng, true
}

// OpenWriteBuffer registers b under a freshly minted ID in KindWriteBuffer state.
func (t *Table) OpenWriteBuffer(b *writebuffer.Buffer) ID {
	id := t.allocate()
	t.mu.Lock()
	t.entries[id] = &entry{kind: KindWriteBuffer, buffer: b}
	t.mu.Unlock()
	return id
}

// Reader returns id's reader if it is currently in KindReader state.
func (t *Table) Reader(id ID) (io.ReadCloser, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.kind != KindReader {
		return nil, false
	}
	return e.reader, true
}

// WriteBuffer returns id's write buffer if it is currently in
// KindWriteBuffer state.
func (t *Table) WriteBuffer(id ID) (*writebuffer.Buffer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.kind != KindWriteBuffer {
		return nil, false
	}
	return e.buffer, true
}

// Loan marks id's reader as on loan to an executor worker, returning it for
// the duration of that job. While loaned the slot cannot be re-loaned;
// Close may still retire it, in which case Return discards the reader.
// Return must be called exactly once to give the reader back.
func (t *Table) Loan(id ID) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, oxerr.Wrap(oxerr.Semantic, "Table.Loan", oxerr.ErrNotFound)
	}
	if e.kind != KindReader {
		return nil, oxerr.Wrap(oxerr.Fatal, "Table.Loan", oxerr.ErrInvalidArgument)
	}
	r := e.reader
	e.reader = nil
	e.kind = KindLoaned
	return r, nil
}

// Return restores a loaned reader, making the handle usable again. It is a
// no-op if id was closed while the loan was outstanding.
func (t *Table) Return(id ID, r io.ReadCloser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.reader = r
	e.kind = KindReader
}

// Close retires id, closing its reader if it holds one. Closing a
// KindWriteBuffer handle does not flush or discard its buffer; the caller is
// expected to have already done so before releasing the handle. Closing a
// KindLoaned handle only removes the slot; the loaned reader, once returned
// by the executor, is simply discarded rather than reinserted.
func (t *Table) Close(id ID) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()

	if !ok {
		return oxerr.Wrap(oxerr.Semantic, "Table.Close", oxerr.ErrNotFound)
	}
	if e.kind == KindReader && e.reader != nil {
		return e.reader.Close()
	}
	if e.kind == KindRange && e.rng != nil {
		return e.rng.Close()
	}
	return nil
}

// Len reports the number of open handles, used by tests and stats snapshots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
