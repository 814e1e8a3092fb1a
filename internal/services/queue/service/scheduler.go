package service

import (
	"context"
	"sync"
	"time"

	"gantry/internal/platform/logger"
	"gantry/internal/platform/parse"
	"gantry/internal/platform/ratelimit"
	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/repo"
)

// taskHandle tracks one in-flight dispatch's eventual outcome. The
// scheduler's drain step polls isDone rather than blocking on a channel
// receive, since it must also service force-run requests and new signals
// in the same loop iteration.
type taskHandle struct {
	mu      sync.Mutex
	done    bool
	success bool
	err     error
}

func (h *taskHandle) finish(success bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done, h.success, h.err = true, success, err
}

func (h *taskHandle) isDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *taskHandle) result() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.success, h.err
}

// SchedulerConfig is the subset of queue configuration the scheduler needs
type SchedulerConfig struct {
	QueueName                   string
	Description                 string
	RateSpec                    string
	BackoffSpec                 string
	Backoff                     parse.Backoff
	ConcurrentRequests          int
	MaxRetries                  int
	ProcessingStartupDelay      time.Duration
	MaxProcessingTimePerRequest time.Duration
	OldTaskLingerTime           time.Duration
}

// Scheduler is the one-per-queue dispatch loop described in the component
// design: drain completions, prune, force-run, normal dispatch, sleep.
// Structured like the teacher's bouncer worker (ticker-driven loop with a
// bounded concurrency set), generalized to the richer 5-phase cycle and a
// coalesced signal instead of a bare ticker.
type Scheduler struct {
	cfg        SchedulerConfig
	repo       repo.Repo
	dispatcher *Dispatcher
	limiter    *ratelimit.Limiter
	sig        *signal
	archive    func(context.Context, []domain.QueueRunLog)

	mu         sync.Mutex
	active     map[int64]*taskHandle
	pruneArmed bool
	pruneAt    time.Time
	cancel     context.CancelFunc
	running    bool
	crashMsg   string

	forceMu    sync.Mutex
	forceQueue []int64
}

// NewScheduler wires a Scheduler from its dependencies
func NewScheduler(r repo.Repo, d *Dispatcher, limiter *ratelimit.Limiter, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		repo:       r,
		dispatcher: d,
		limiter:    limiter,
		sig:        newSignal(),
		active:     make(map[int64]*taskHandle),
	}
}

// WithArchive installs a callback invoked with pruned run logs, wiring the
// optional ClickHouse archival sink
func (s *Scheduler) WithArchive(fn func(context.Context, []domain.QueueRunLog)) {
	s.archive = fn
}

// Signal wakes the scheduler loop (a new submission or a committed force-run)
func (s *Scheduler) Signal() { s.sig.Raise() }

// RequestForceRun adds id to the force-start list drained on the next iteration
func (s *Scheduler) RequestForceRun(id int64) {
	s.forceMu.Lock()
	s.forceQueue = append(s.forceQueue, id)
	s.forceMu.Unlock()
	s.Signal()
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Scheduler) setCrash(msg string) {
	s.mu.Lock()
	s.crashMsg = msg
	s.mu.Unlock()
}

func (s *Scheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Run drives the scheduler loop until ctx is canceled and every dispatch in
// flight has drained, per spec §4.5. A startup reclaim sweep runs first,
// resolving the open edge where a crash during a completion update leaves a
// row stuck in Running (§9).
func (s *Scheduler) Run(parent context.Context) error {
	log := logger.Named("queue-scheduler")
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.setRunning(true)
	defer s.setRunning(false)

	if err := s.reclaimStale(ctx); err != nil {
		log.Error().Err(err).Str("queue_name", s.cfg.QueueName).Msg("startup reclaim failed")
		s.setCrash(err.Error())
	}

	if s.cfg.ProcessingStartupDelay > 0 {
		select {
		case <-time.After(s.cfg.ProcessingStartupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		canceled := ctx.Err() != nil

		s.drainCompletions(ctx)
		s.prune(ctx)

		if !canceled {
			s.runForced(ctx)
			s.dispatchReady(ctx)
		}

		if canceled {
			if s.activeCount() == 0 {
				return ctx.Err()
			}
			select {
			case <-time.After(200 * time.Millisecond):
			case <-s.sig.C():
			}
			continue
		}

		delay := s.sleepDuration(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-s.sig.C():
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// Shutdown cancels the loop's internal context and polls every 200ms until
// in-flight dispatches have drained or ctx itself is exhausted
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.activeCount() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) reclaimStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxProcessingTimePerRequest)
	_, err := s.repo.ReclaimStale(ctx, s.cfg.QueueName, cutoff)
	return err
}

// drainCompletions is step 1: for each finished Active task, transition the
// row (Completed on success; Waiting+backoff or Failed on failure), remove
// it from Active, and arm the prune watermark
func (s *Scheduler) drainCompletions(ctx context.Context) {
	log := logger.Named("queue-scheduler")

	s.mu.Lock()
	var finished []int64
	for id, h := range s.active {
		if h.isDone() {
			finished = append(finished, id)
		}
	}
	s.mu.Unlock()
	if len(finished) == 0 {
		return
	}

	for _, id := range finished {
		s.mu.Lock()
		h := s.active[id]
		delete(s.active, id)
		s.mu.Unlock()

		success, _ := h.result()
		if success {
			if err := s.repo.CompleteEntry(ctx, id); err != nil {
				log.Error().Err(err).Int64("entry_id", id).Msg("complete entry failed")
			}
		} else {
			entry, err := s.repo.Get(ctx, s.cfg.QueueName, id)
			if err != nil {
				log.Error().Err(err).Int64("entry_id", id).Msg("read entry for retry accounting failed")
				continue
			}
			retries := entry.Retries + 1
			if retries > s.cfg.MaxRetries {
				if err := s.repo.FailEntry(ctx, id, retries); err != nil {
					log.Error().Err(err).Int64("entry_id", id).Msg("fail entry failed")
				}
			} else {
				next := ComputeNextTry(time.Now().UTC(), retries, s.cfg.Backoff)
				if err := s.repo.RequeueEntry(ctx, id, retries, next); err != nil {
					log.Error().Err(err).Int64("entry_id", id).Msg("requeue entry failed")
				}
			}
		}
		s.armPruneWatermark()
	}
}

func (s *Scheduler) armPruneWatermark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pruneArmed {
		s.pruneArmed = true
		s.pruneAt = time.Now().UTC().Add(s.cfg.OldTaskLingerTime)
	}
}

// prune is step 2: once the watermark has passed, delete terminal rows past
// the linger window (and any orphaned run logs), then re-arm to the earliest
// remaining terminal LastTried or disarm if none remain
func (s *Scheduler) prune(ctx context.Context) {
	s.mu.Lock()
	armed, at := s.pruneArmed, s.pruneAt
	s.mu.Unlock()
	if !armed || time.Now().UTC().Before(at) {
		return
	}

	log := logger.Named("queue-scheduler")
	cutoff := time.Now().UTC().Add(-s.cfg.OldTaskLingerTime)
	archived, err := s.repo.PruneTerminal(ctx, s.cfg.QueueName, cutoff)
	if err != nil {
		log.Error().Err(err).Str("queue_name", s.cfg.QueueName).Msg("prune failed")
		return
	}
	if s.archive != nil && len(archived) > 0 {
		s.archive(ctx, archived)
	}

	earliest, ok, err := s.repo.EarliestTerminalLastTried(ctx, s.cfg.QueueName)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || !ok {
		s.pruneArmed = false
		return
	}
	s.pruneAt = earliest.Add(s.cfg.OldTaskLingerTime)
}

// runForced is step 3: drain the force-start list and start each entry that
// is not already Active or Completed, regardless of rate or concurrency,
// counting it in the rate limiter anyway
func (s *Scheduler) runForced(ctx context.Context) {
	s.forceMu.Lock()
	ids := s.forceQueue
	s.forceQueue = nil
	s.forceMu.Unlock()
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	filtered := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, active := s.active[id]; !active {
			filtered = append(filtered, id)
		}
	}
	s.mu.Unlock()
	if len(filtered) == 0 {
		return
	}

	entries, err := s.repo.SelectForceable(ctx, s.cfg.QueueName, filtered)
	if err != nil {
		logger.Named("queue-scheduler").Error().Err(err).Msg("select forceable entries failed")
		return
	}
	for _, e := range entries {
		s.startDispatch(ctx, e.ID)
		s.limiter.AddEvent(1)
	}
}

// dispatchReady is step 4: select up to the remaining concurrency budget of
// ready rows, ordered by NextTry ascending, and start each unless the rate
// limiter is already over its window count
func (s *Scheduler) dispatchReady(ctx context.Context) {
	s.mu.Lock()
	slots := s.cfg.ConcurrentRequests - len(s.active)
	s.mu.Unlock()
	if slots <= 0 {
		return
	}

	ready, err := s.repo.SelectReady(ctx, s.cfg.QueueName, slots, time.Now().UTC())
	if err != nil {
		logger.Named("queue-scheduler").Error().Err(err).Msg("select ready entries failed")
		return
	}
	for _, e := range ready {
		if s.limiter.EventCount() > s.limiter.MaxRate() {
			break
		}
		s.startDispatch(ctx, e.ID)
		s.limiter.AddEvent(1)
	}
}

func (s *Scheduler) startDispatch(ctx context.Context, id int64) {
	h := &taskHandle{}
	s.mu.Lock()
	s.active[id] = h
	s.mu.Unlock()

	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxProcessingTimePerRequest)
	go func() {
		defer cancel()
		success, err := s.dispatcher.Run(dispatchCtx, s.sig, id)
		h.finish(success, err)
		// raise again now that the handle is finished, so the drain step sees it
		s.sig.Raise()
	}()
}

// sleepDuration is step 5: min(time until the earliest Waiting NextTry, or
// 30s) further bounded by the rate limiter's wait time when it is positive
func (s *Scheduler) sleepDuration(ctx context.Context) time.Duration {
	delay := 30 * time.Second

	waiting := domain.StatusWaiting
	entries, _, err := s.repo.List(ctx, s.cfg.QueueName, 0, 1, domain.ListFilter{Status: &waiting}, domain.SortNextTryAsc)
	if err == nil && len(entries) > 0 {
		if d := time.Until(entries[0].NextTry); d < delay {
			delay = d
		}
	}
	if wait := s.limiter.WaitTime(); wait > 0 && wait < delay {
		delay = wait
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Snapshot reports the admin surface's live + configured view of this queue
func (s *Scheduler) Snapshot() domain.QueueSnapshot {
	s.mu.Lock()
	running, crashMsg, active := s.running, s.crashMsg, len(s.active)
	s.mu.Unlock()

	pending, _ := s.repo.PendingCount(context.Background(), s.cfg.QueueName)

	return domain.QueueSnapshot{
		Name:               s.cfg.QueueName,
		Description:        s.cfg.Description,
		RateSpec:           s.cfg.RateSpec,
		BackoffSpec:        s.cfg.BackoffSpec,
		ConcurrentRequests: s.cfg.ConcurrentRequests,
		MaxRetries:         s.cfg.MaxRetries,
		CurrentRate:        s.limiter.EventCount(),
		Running:            active,
		Active:             running,
		CrashMessage:       crashMsg,
		Pending:            pending,
	}
}
