package scheduler

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ReadDedup collapses concurrent identical reads — same inode, offset and
// size — into a single executor submission. Every caller waiting on the
// same key receives the same bytes and error; exactly one of them is the
// "leader" that actually runs the work.
type ReadDedup struct {
	group singleflight.Group
}

// NewReadDedup builds an empty ReadDedup.
func NewReadDedup() *ReadDedup { return &ReadDedup{} }

// ReadKey is the single-flight key for a read: identical (ino, offset,
// size) reads are deduplicated regardless of which caller issued them.
func ReadKey(ino uint64, offset, size int64) string {
	return fmt.Sprintf("%d:%d:%d", ino, offset, size)
}

// Do runs fn for key, or waits for and shares the result of an
// already-in-flight call with the same key. shared reports whether this
// caller was a dedup waiter rather than the leader that actually invoked fn.
func (d *ReadDedup) Do(key string, fn func() (any, error)) (val any, err error, shared bool) {
	// singleflight reports shared=true to the leader as well whenever the
	// result had waiters, so leadership is recorded inside the call itself;
	// fn runs synchronously in the leader's goroutine.
	leader := false
	v, err, _ := d.group.Do(key, func() (any, error) {
		leader = true
		return fn()
	})
	return v, err, !leader
}
