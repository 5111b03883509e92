package scheduler

import (
	"sync"
	"sync/atomic"
)

// fileOrderNode is one link in a per-file FIFO chain of structural ops. The
// op behind it waits on done before running, and then inspects err to learn
// whether the chain in front of it already failed.
type fileOrderNode struct {
	done chan struct{}
	err  error
}

func newFileOrderNode() *fileOrderNode {
	return &fileOrderNode{done: make(chan struct{})}
}

func (n *fileOrderNode) finish(err error) {
	n.err = err
	close(n.done)
}

// fileOrder serialises structural ops per file: structural ops on the
// same file id run in admission order, and a failed op's error propagates to
// every op already queued behind it without running them. It tracks only
// the chain tail per file id, so files with no pending structural op cost
// nothing.
type fileOrder struct {
	mu   sync.Mutex
	tail map[uint64]*fileOrderNode

	opsWaited        atomic.Uint64
	opsImmediate     atomic.Uint64
	errorsPropagated atomic.Uint64
}

func newFileOrder() *fileOrder {
	return &fileOrder{tail: make(map[uint64]*fileOrderNode)}
}

// Stats reports the per-file ordering counters: how many structural ops ran
// immediately versus waited behind a predecessor on the same file, and how
// many inherited a predecessor's errno instead of running.
func (o *fileOrder) Stats() (waited, immediate, errorsPropagated uint64) {
	return o.opsWaited.Load(), o.opsImmediate.Load(), o.errorsPropagated.Load()
}

// admit registers a new node behind fileID's current tail (prev is nil if
// nothing is pending for fileID) and makes the new node the tail.
func (o *fileOrder) admit(fileID uint64) (prev, cur *fileOrderNode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev = o.tail[fileID]
	cur = newFileOrderNode()
	o.tail[fileID] = cur
	return prev, cur
}

// retire drops fileID's tail entry if no later op has been admitted behind
// cur since. Must be called after cur.finish, from the same goroutine, so
// any op that raced past the admit lock already has cur as its prev.
func (o *fileOrder) retire(fileID uint64, cur *fileOrderNode) {
	o.mu.Lock()
	if o.tail[fileID] == cur {
		delete(o.tail, fileID)
	}
	o.mu.Unlock()
}
