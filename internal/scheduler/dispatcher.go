package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// laneQueue is a bounded, mutex-protected FIFO of pending requests for one
// lane. It is a plain slice rather than a channel because the dispatcher
// needs to peek at (and conditionally skip) the head of each lane without
// necessarily consuming it — channels give no way to do that.
type laneQueue struct {
	mu       sync.Mutex
	items    []*request
	capacity int
}

func newLaneQueue(capacity int) *laneQueue {
	return &laneQueue{capacity: capacity}
}

func (q *laneQueue) tryPush(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, r)
	return true
}

func (q *laneQueue) popFront() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

func (q *laneQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *laneQueue) oldest() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// laneSlots gates how many requests of one lane may run concurrently: a
// reserved sub-pool this lane never has to share, plus access to a shared
// overflow pool every lane draws from once its own reservation is full.
type laneSlots struct {
	reserved chan struct{}
	shared   *sharedPool
}

func newLaneSlots(reservedCount int, shared *sharedPool) *laneSlots {
	s := &laneSlots{reserved: make(chan struct{}, reservedCount), shared: shared}
	for i := 0; i < reservedCount; i++ {
		s.reserved <- struct{}{}
	}
	return s
}

// acquire grabs a reserved slot if one is free, else a shared one; it never
// blocks, returning ok=false when neither pool currently has room.
func (s *laneSlots) acquire() (fromShared bool, ok bool) {
	select {
	case <-s.reserved:
		return false, true
	default:
	}
	if s.shared.tryAcquire() {
		return true, true
	}
	return false, false
}

func (s *laneSlots) release(fromShared bool) {
	if fromShared {
		s.shared.release()
		return
	}
	s.reserved <- struct{}{}
}

type sharedPool struct {
	tokens chan struct{}
}

func newSharedPool(n int) *sharedPool {
	p := &sharedPool{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

func (p *sharedPool) tryAcquire() bool {
	select {
	case <-p.tokens:
		return true
	default:
		return false
	}
}

func (p *sharedPool) release() {
	p.tokens <- struct{}{}
}

// weightedCursor picks lanes in a deficit-round-robin order proportional to
// their configured Weight, so a lane with weight 4 gets roughly four turns
// for every turn a weight-1 lane gets, without starving the weight-1 lane
// entirely the way strict priority would. It is shared by every dispatch
// worker, so its state is mutex-protected.
type weightedCursor struct {
	mu      sync.Mutex
	order   []Lane
	weights map[Lane]int
	deficit map[Lane]int
	pos     int
}

func newWeightedCursor(cfgs map[Lane]LaneConfig) *weightedCursor {
	w := &weightedCursor{weights: make(map[Lane]int), deficit: make(map[Lane]int)}
	for _, l := range Lanes {
		w.order = append(w.order, l)
		w.weights[l] = cfgs[l].Weight
	}
	return w
}

// next returns the next lane to try dispatching from. quantum increments
// are applied lazily: each call spends one unit of deficit from the current
// lane (refilling it from weight once exhausted) and returns that lane; the
// cursor moves on to the next lane only once the current lane's deficit is
// spent.
func (w *weightedCursor) next() Lane {
	w.mu.Lock()
	defer w.mu.Unlock()
	l := w.order[w.pos]
	if w.deficit[l] <= 0 {
		w.deficit[l] = w.weights[l]
		if w.deficit[l] <= 0 {
			w.deficit[l] = 1
		}
	}
	w.deficit[l]--
	if w.deficit[l] <= 0 {
		w.pos = (w.pos + 1) % len(w.order)
	}
	return l
}

// bulkLimiter paces how often the Bulk lane is offered a dispatch attempt,
// keeping background/prefetch work from ever competing head-to-head with
// foreground lanes even when it has spare reserved slots.
func newBulkLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(50), 10)
}
