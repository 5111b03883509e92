package scheduler

import (
	"sync"
	"time"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// WriteBudget enforces the two dirty-byte ceilings a vault's write path
// must respect: a global one shared by every open file, and a per-file one
// that stops a single large write from starving every other file's share
// of the global ceiling.
type WriteBudget struct {
	mu   sync.Mutex
	cond *sync.Cond

	globalMax   int64
	globalUsed  int64
	perFileMax  int64
	perFileUsed map[uint64]int64

	// pending counts admitted-but-not-yet-completed async writes registered
	// through BeginPending (copy-range jobs) per file id; WaitPendingWrites
	// barriers on it.
	pending map[uint64]int
}

// NewWriteBudget builds a WriteBudget with the given global and per-file
// ceilings.
func NewWriteBudget(globalMax, perFileMax int64) *WriteBudget {
	b := &WriteBudget{
		globalMax:   globalMax,
		perFileMax:  perFileMax,
		perFileUsed: make(map[uint64]int64),
		pending:     make(map[uint64]int),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Check reports whether n more dirty bytes for fileID would fit within both
// ceilings, without reserving anything.
func (b *WriteBudget) Check(fileID uint64, n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.globalUsed+n > b.globalMax || b.perFileUsed[fileID]+n > b.perFileMax {
		return oxerr.Wrap(oxerr.Transient, "WriteBudget.Check", oxerr.ErrBudgetExceeded)
	}
	return nil
}

// Reserve attempts to admit n dirty bytes for fileID. It fails immediately
// with a Transient oxerr.ErrBudgetExceeded rather than blocking: a FUSE
// write that can't be admitted should be rejected (EBUSY-style) so the
// caller can retry after a flush, not stall the whole request.
func (b *WriteBudget) Reserve(fileID uint64, n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.globalUsed+n > b.globalMax {
		return oxerr.Wrap(oxerr.Transient, "WriteBudget.Reserve", oxerr.ErrBudgetExceeded)
	}
	if b.perFileUsed[fileID]+n > b.perFileMax {
		return oxerr.Wrap(oxerr.Transient, "WriteBudget.Reserve", oxerr.ErrBudgetExceeded)
	}

	b.globalUsed += n
	b.perFileUsed[fileID] += n
	return nil
}

// Release returns n dirty bytes for fileID to the budget once they've been
// flushed to durable storage, waking any WaitPendingWrites callers that may
// now be able to proceed.
func (b *WriteBudget) Release(fileID uint64, n int64) {
	b.mu.Lock()
	b.globalUsed -= n
	if b.globalUsed < 0 {
		b.globalUsed = 0
	}
	remaining := b.perFileUsed[fileID] - n
	if remaining <= 0 {
		delete(b.perFileUsed, fileID)
	} else {
		b.perFileUsed[fileID] = remaining
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// BeginPending registers one in-flight async write (flush or copy-range)
// against fileID. Call it at admission, before the write can possibly
// complete, so a barrier taken after admission always observes it.
func (b *WriteBudget) BeginPending(fileID uint64) {
	b.mu.Lock()
	b.pending[fileID]++
	b.mu.Unlock()
}

// EndPending retires one in-flight async write for fileID, waking barrier
// waiters once the count reaches zero.
func (b *WriteBudget) EndPending(fileID uint64) {
	b.mu.Lock()
	if n := b.pending[fileID] - 1; n <= 0 {
		delete(b.pending, fileID)
	} else {
		b.pending[fileID] = n
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// PendingWrites reports how many async writes are currently in flight for
// fileID.
func (b *WriteBudget) PendingWrites(fileID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[fileID]
}

// WaitPendingWrites blocks until fileID has no in-flight async writes and
// no outstanding reserved bytes, or until timeout elapses, implementing the
// barrier/flush semantics a structural op (rename, truncate, close) needs:
// it must not proceed while a write it ordered after is still in flight.
// timeout <= 0 waits indefinitely.
// Returns false only on timeout.
func (b *WriteBudget) WaitPendingWrites(fileID uint64, timeout time.Duration) bool {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, b.cond.Broadcast)
		defer timer.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.perFileUsed[fileID] > 0 || b.pending[fileID] > 0 {
		if hasDeadline && !time.Now().Before(deadline) {
			return false
		}
		b.cond.Wait()
	}
	return true
}

// PerFileDirtyBytes reports fileID's current reserved byte count, used by
// SchedulerSnapshot and tests asserting the budget was never exceeded.
func (b *WriteBudget) PerFileDirtyBytes(fileID uint64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perFileUsed[fileID]
}

// GlobalDirtyBytes reports the scheduler-wide reserved byte count.
func (b *WriteBudget) GlobalDirtyBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.globalUsed
}
