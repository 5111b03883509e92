package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// Config configures a Scheduler; the zero value is not usable, use
// NewDefaultConfig.
type Config struct {
	Lanes               map[Lane]LaneConfig
	Workers             int
	GlobalWriteBudget   int64
	PerFileWriteBudget  int64
	ReadCacheMaxEntries int
	ReadCacheMaxBytes   int64
	ReadCacheTTL        time.Duration
	Logger              *logrus.Logger
}

// NewDefaultConfig returns the vault's fixed scheduler configuration.
func NewDefaultConfig() Config {
	return Config{
		Lanes:               DefaultLaneConfigs(),
		Workers:             DefaultWorkerCount,
		GlobalWriteBudget:   DefaultGlobalWriteBudgetBytes,
		PerFileWriteBudget:  DefaultPerFileWriteBudgetBytes,
		ReadCacheMaxEntries: DefaultReadCacheMaxEntries,
		ReadCacheMaxBytes:   DefaultReadCacheMaxBytes,
		ReadCacheTTL:        DefaultReadCacheTTL,
		Logger:              logrus.StandardLogger(),
	}
}

// Scheduler dispatches FUSE-facing work across five priority lanes onto a
// bounded worker pool, guaranteeing every submitted request gets exactly
// one reply even if its work finishes after its deadline already fired a
// timeout.
type Scheduler struct {
	cfg Config

	queues   map[Lane]*laneQueue
	slots    map[Lane]*laneSlots
	shared   *sharedPool
	cursor   *weightedCursor
	bulkRate *rate.Limiter

	tracker *DeadlineTracker
	dedup   *ReadDedup
	cache   *ReadCache
	budget  *WriteBudget
	metrics *Metrics

	order *fileOrder

	nextID atomic.Uint64

	readyCh chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup

	lateCompletions atomic.Uint64
	dedupLeaders    atomic.Uint64
	dedupWaiters    atomic.Uint64
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64

	log *logrus.Logger
}

// New builds and starts a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	s := &Scheduler{
		cfg:       cfg,
		queues:    make(map[Lane]*laneQueue),
		slots:     make(map[Lane]*laneSlots),
		order:     newFileOrder(),
		readyCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		dedup:     NewReadDedup(),
		budget:    NewWriteBudget(cfg.GlobalWriteBudget, cfg.PerFileWriteBudget),
		metrics:   NewMetrics(),
		log:       cfg.Logger,
	}

	sumReserved := 0
	for _, c := range cfg.Lanes {
		sumReserved += c.ReservedSlots
	}
	sharedCapacity := cfg.Workers - sumReserved
	if sharedCapacity < 0 {
		sharedCapacity = 0
	}
	s.shared = newSharedPool(sharedCapacity)

	for lane, c := range cfg.Lanes {
		s.queues[lane] = newLaneQueue(c.Capacity)
		s.slots[lane] = newLaneSlots(c.ReservedSlots, s.shared)
	}
	s.cursor = newWeightedCursor(cfg.Lanes)
	s.bulkRate = newBulkLimiter()

	cache, err := NewReadCache(cfg.ReadCacheMaxEntries, cfg.ReadCacheMaxBytes, cfg.ReadCacheTTL)
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Fatal, "scheduler.New: read cache", err)
	}
	s.cache = cache

	s.tracker = NewDeadlineTracker(func(r *request) {
		s.metrics.TimedOut.WithLabelValues(r.lane.String()).Inc()
		s.log.WithFields(logrus.Fields{"lane": r.lane.String(), "id": r.id}).Warn("request deadline expired before completion")
	})

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.dispatchLoop()
	}

	return s, nil
}

// Cache exposes the scheduler's read cache to callers building dedup'd,
// cached read paths on top of Submit.
func (s *Scheduler) Cache() *ReadCache { return s.cache }

// Dedup exposes the scheduler's single-flight read dedup group.
func (s *Scheduler) Dedup() *ReadDedup { return s.dedup }

// Budget exposes the scheduler's write-budget accounting.
func (s *Scheduler) Budget() *WriteBudget { return s.budget }

// Submit enqueues work on lane and blocks until it completes, times out, or
// ctx is cancelled. fileID scopes per-file structural ordering (for
// WriteStructural) and is otherwise ignored.
func (s *Scheduler) Submit(ctx context.Context, lane Lane, fileID uint64, work Work) (any, error) {
	return s.submit(ctx, lane, fileID, work, nil)
}

// SubmitCopyRange enqueues a copy-range job targeting dstIno on the
// WriteStructural lane. The destination inode is registered as having a
// pending write for the whole life of the request — from admission until
// the work function returns (or the request is torn down unrun) — so a
// WaitPendingWrites barrier admitted after this call observes it.
func (s *Scheduler) SubmitCopyRange(ctx context.Context, dstIno uint64, work Work) (any, error) {
	s.budget.BeginPending(dstIno)
	return s.submit(ctx, WriteStructural, dstIno, work, func() {
		s.budget.EndPending(dstIno)
	})
}

func (s *Scheduler) submit(ctx context.Context, lane Lane, fileID uint64, work Work, onFinish func()) (any, error) {
	if s.stopped.Load() {
		if onFinish != nil {
			onFinish()
		}
		return nil, oxerr.Wrap(oxerr.Fatal, "Scheduler.Submit", oxerr.ErrShutdown)
	}

	cfg := s.cfg.Lanes[lane]
	now := time.Now()
	workCtx, cancel := context.WithCancel(ctx)

	r := &request{
		id:        s.nextID.Add(1),
		lane:      lane,
		work:      work,
		enqueued:  now,
		deadline:  now.Add(cfg.Deadline),
		reply:     make(chan Reply, 1),
		ctx:       workCtx,
		cancel:    cancel,
		fileID:    fileID,
		heapIndex: -1,
		onFinish:  onFinish,
	}

	if !s.queues[lane].tryPush(r) {
		cancel()
		r.finish()
		s.metrics.Rejected.WithLabelValues(lane.String()).Inc()
		s.log.WithFields(logrus.Fields{"lane": lane.String(), "id": r.id}).Debug("lane full, rejecting request")
		return nil, oxerr.Wrap(oxerr.Transient, "Scheduler.Submit", oxerr.ErrBudgetExceeded)
	}
	s.metrics.Submitted.WithLabelValues(lane.String()).Inc()
	s.log.WithFields(logrus.Fields{"lane": lane.String(), "id": r.id}).Debug("request admitted")
	s.tracker.Track(r)
	s.nudge()

	select {
	case rep := <-r.reply:
		return rep.Value, rep.Err
	case <-ctx.Done():
		if r.claim(Cancelled) {
			s.tracker.Untrack(r)
			cancel()
		}
		return nil, oxerr.Wrap(oxerr.Transient, "Scheduler.Submit", ctx.Err())
	}
}

// SubmitRead runs a ReadForeground request through the single-flight dedup
// group and read cache before falling back to Submit: identical concurrent
// (ino, offset, size) reads collapse into one dispatched request, and a
// cached hit within the TTL skips dispatch entirely.
func (s *Scheduler) SubmitRead(ctx context.Context, ino uint64, offset, size int64, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	key := ReadKey(ino, offset, size)
	if cached, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		s.metrics.CacheHits.Inc()
		s.log.WithField("key", key).Debug("read cache hit")
		return cached, nil
	}
	s.cacheMisses.Add(1)
	s.metrics.CacheMisses.Inc()
	s.log.WithField("key", key).Debug("read cache miss")

	val, err, shared := s.dedup.Do(key, func() (any, error) {
		v, err := s.Submit(ctx, ReadForeground, ino, func(ctx context.Context) (any, error) {
			return fn(ctx)
		})
		if err != nil {
			return nil, err
		}
		data, _ := v.([]byte)
		s.cache.Put(key, data)
		return data, nil
	})
	if shared {
		s.dedupWaiters.Add(1)
		s.metrics.DedupWaiters.Inc()
	} else {
		s.dedupLeaders.Add(1)
		s.metrics.DedupLeaders.Inc()
	}
	if err != nil {
		return nil, err
	}
	data, _ := val.([]byte)
	return data, nil
}

func (s *Scheduler) nudge() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

// dispatchLoop is run by every worker goroutine: each worker repeatedly
// asks the weighted cursor for the next lane to try, attempts to acquire a
// slot for that lane, and if one is free and the lane has pending work,
// claims and executes the head request.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	idle := time.NewTicker(2 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if s.tryDispatchOnce() {
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.readyCh:
		case <-idle.C:
		}
	}
}

// tryDispatchOnce attempts one dispatch across all lanes in weighted order,
// returning true if it found and ran a request.
func (s *Scheduler) tryDispatchOnce() bool {
	for range Lanes {
		lane := s.cursorNext()
		q := s.queues[lane]
		if q.len() == 0 {
			continue
		}
		if lane == Bulk && !s.bulkRate.Allow() {
			continue
		}

		slots := s.slots[lane]
		fromShared, ok := slots.acquire()
		if !ok {
			continue
		}

		r, ok := q.popFront()
		if !ok {
			// Another worker emptied the lane between our length check and
			// this pop; give the slot back untouched.
			slots.release(fromShared)
			continue
		}

		s.runRequest(r, slots, fromShared)
		return true
	}
	return false
}

func (s *Scheduler) cursorNext() Lane {
	return s.cursor.next()
}

func (s *Scheduler) runRequest(r *request, slots *laneSlots, fromShared bool) {
	defer slots.release(fromShared)

	if !r.claim(Dispatched) {
		s.tracker.Untrack(r)
		r.finish()
		return
	}

	var prev, cur *fileOrderNode
	ordered := r.lane == WriteStructural && r.fileID != 0
	if ordered {
		prev, cur = s.order.admit(r.fileID)
		if prev != nil {
			s.order.opsWaited.Add(1)
		} else {
			s.order.opsImmediate.Add(1)
		}
	}

	start := time.Now()
	s.metrics.DispatchLatency.WithLabelValues(r.lane.String()).Observe(start.Sub(r.enqueued).Seconds())

	var value any
	var err error
	if prev != nil {
		<-prev.done
	}
	if prev != nil && prev.err != nil {
		// A structural op earlier in this file's queue already failed: this
		// one inherits that errno and never runs.
		err = prev.err
		s.order.errorsPropagated.Add(1)
	} else {
		value, err = r.work(r.ctx)
	}
	if ordered {
		cur.finish(err)
		s.order.retire(r.fileID, cur)
	}
	r.finish()
	r.cancel()

	s.tracker.Untrack(r)
	if r.claim(Completed) {
		s.metrics.Completed.WithLabelValues(r.lane.String()).Inc()
		select {
		case r.reply <- Reply{Value: value, Err: err}:
		default:
		}
		return
	}

	// The deadline tracker already claimed TimedOut and replied; this
	// completion arrived late and must not deliver a second reply.
	s.lateCompletions.Add(1)
	s.metrics.LateCompletions.Inc()
	s.log.WithFields(logrus.Fields{"lane": r.lane.String(), "id": r.id}).Warn("late completion discarded after timeout reply")
}

// Snapshot returns the scheduler's current internal state for diagnostics.
func (s *Scheduler) Snapshot() SchedulerSnapshot {
	waited, immediate, errored := s.order.Stats()
	snap := SchedulerSnapshot{
		GlobalDirtyBytes: s.budget.GlobalDirtyBytes(),
		ReadCacheEntries: s.cache.Len(),
		ReadCacheBytes:   s.cache.Bytes(),
		CacheHits:        s.cacheHits.Load(),
		CacheMisses:      s.cacheMisses.Load(),
		DedupLeaders:     s.dedupLeaders.Load(),
		DedupWaiters:     s.dedupWaiters.Load(),
		LateCompletions:  s.lateCompletions.Load(),
		FileOpsWaited:    waited,
		FileOpsImmediate: immediate,
		FileOpsErrored:   errored,
	}
	for _, lane := range Lanes {
		q := s.queues[lane]
		ls := LaneSnapshot{Lane: lane, QueueDepth: q.len()}
		if r, ok := q.oldest(); ok {
			ls.OldestPendingAge = time.Since(r.enqueued)
		}
		snap.Lanes = append(snap.Lanes, ls)
	}
	return snap
}

// Shutdown stops every dispatch worker and the deadline tracker. Pending
// requests are not cancelled automatically; callers should drain Submit
// calls (whose ctx they control) before calling Shutdown.
func (s *Scheduler) Shutdown() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.done)
		s.tracker.Stop()
		s.wg.Wait()
	}
}

// Wait blocks until Shutdown has been called and every dispatch worker has
// exited, for callers that shut the scheduler down from a different
// goroutine than the one tearing down the mount.
func (s *Scheduler) Wait() {
	<-s.done
	s.wg.Wait()
}

func errDeadlineMissed(r *request) error {
	return oxerr.Wrap(oxerr.Transient, "scheduler: "+r.lane.String(), oxerr.ErrDeadlineMissed)
}
