package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// State is a pending request's position in its lifecycle.
type State int32

const (
	Queued State = iota
	Dispatched
	Completed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Dispatched:
		return "dispatched"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Reply is what a caller receives for a submitted request: either the
// work's result, or an error explaining why it didn't arrive in time.
type Reply struct {
	Value any
	Err   error
}

// Work is the unit of executable work a request carries; ctx is cancelled
// once the request's deadline has passed and the heap has claimed it as
// timed out, so long-running work can observe cancellation promptly.
type Work func(ctx context.Context) (any, error)

// request is one scheduled unit of work, tracked from submission through
// whichever terminal state claims it first. Exactly one of the dispatcher
// (on completion) and the deadline tracker (on timeout) transitions it out
// of Dispatched/Queued — enforced with a compare-and-swap so a slow worker
// racing a fired deadline can never deliver two replies for the same
// request.
type request struct {
	id       uint64
	lane     Lane
	work     Work
	enqueued time.Time
	deadline time.Time

	state atomic.Int32
	// heapIndex is maintained by container/heap-style Swap/Push/Pop on the
	// deadline heap; -1 once removed.
	heapIndex int

	reply  chan Reply
	ctx    context.Context
	cancel context.CancelFunc

	// dedupKey is non-empty for reads eligible for single-flight
	// deduplication; fileID scopes write-structural ordering and the write
	// budget to one inode.
	dedupKey string
	fileID   uint64
	bytes    int64

	// onFinish, when set, runs exactly once, either after the work function
	// returns or once the dispatcher discovers the request was claimed
	// terminal (timed out, cancelled) before it could run. Copy-range
	// submissions use it to retire their pending-write registration.
	onFinish func()
}

// finish invokes onFinish at most once.
func (r *request) finish() {
	if r.onFinish != nil {
		r.onFinish()
		r.onFinish = nil
	}
}

// claim attempts to move the request from Queued or Dispatched into to. It
// returns true exactly once across any number of concurrent callers, which
// is what makes "deliver a reply" and "fire a timeout" mutually exclusive
// without a lock.
func (r *request) claim(to State) bool {
	for {
		cur := State(r.state.Load())
		if cur == Completed || cur == TimedOut || cur == Cancelled {
			return false
		}
		if r.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

func (r *request) currentState() State {
	return State(r.state.Load())
}
