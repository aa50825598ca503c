// Package scheduler runs each registered adapter's reconciliation on a cron
// schedule, the way the teacher's command_scheduler plugin drives RCON
// commands off a ticker: one entry per trigger, one goroutine per firing,
// shared state behind a mutex. It additionally keeps each adapter mutually
// exclusive with itself — a slow run must never queue a second one behind
// it, it must drop it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"go.banwarden.dev/banwarden/internal/adapter"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/reconcile"
)

// Default cron expressions. Incremental runs ten times an hour, offset from
// the top of the hour; full refreshes run twice an hour, on the hour and
// half past, so the two never land in the same minute.
const (
	IncrementalSpec = "5,10,15,20,25,35,40,45,50,55 * * * *"
	FullSpec        = "0,30 * * * *"
)

// runFunc matches Reconciler.Run's signature, so tests can substitute a
// stub without spinning up a real Store.
type runFunc func(ctx context.Context, adapterName string, a adapter.Adapter, completeRefresh bool) (reconcile.Result, error)

// SourceStatus is the last known outcome of one adapter's scheduled runs,
// kept in memory only — restarting the daemon loses it, a full refresh is
// always retriggered on restart regardless.
type SourceStatus struct {
	Running        bool
	LastRunID      string
	LastStartedAt  time.Time
	LastFinishedAt time.Time
	LastResult     reconcile.Result
	LastErr        error
}

type registeredAdapter struct {
	name string
	a    adapter.Adapter
	sem  *semaphore.Weighted
}

// Scheduler owns a cron.Cron instance and one weighted semaphore per
// registered adapter, used with TryAcquire for drop-not-queue mutual
// exclusion.
type Scheduler struct {
	cron *cron.Cron
	run  runFunc
	log  zerolog.Logger

	mu       sync.Mutex
	adapters map[string]*registeredAdapter
	statuses map[string]*SourceStatus
}

// New builds a Scheduler around run, which is normally (*reconcile.Reconciler).Run.
func New(run runFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		run:      run,
		log:      log,
		adapters: map[string]*registeredAdapter{},
		statuses: map[string]*SourceStatus{},
	}
}

// Register adds an adapter instance to the schedule under both the
// incremental and full-refresh triggers. It must be called before Start.
func (s *Scheduler) Register(name string, a adapter.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ra := &registeredAdapter{name: name, a: a, sem: semaphore.NewWeighted(1)}
	s.adapters[name] = ra
	s.statuses[name] = &SourceStatus{}

	if _, err := s.cron.AddFunc(IncrementalSpec, func() { s.fire(ra, false) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(FullSpec, func() { s.fire(ra, true) }); err != nil {
		return err
	}
	return nil
}

// Start launches the cron scheduler and runs an immediate full refresh for
// every registered adapter, so a freshly started daemon doesn't wait up to
// thirty minutes to populate an empty store.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	adapters := make([]*registeredAdapter, 0, len(s.adapters))
	for _, ra := range s.adapters {
		adapters = append(adapters, ra)
	}
	s.mu.Unlock()

	for _, ra := range adapters {
		go s.runOnce(ctx, ra, true)
	}

	s.cron.Start()
}

// Stop halts the cron scheduler so no further triggers fire, then waits
// until cron's job callbacks have returned or ctx is done. Those callbacks
// only launch runOnce in a fresh goroutine, so Stop does not wait for
// reconciliation runs already in flight, nor for the initial runs Start
// launched.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Status returns a snapshot of one adapter's last run. The bool is false if
// name was never registered.
func (s *Scheduler) Status(name string) (SourceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[name]
	if !ok {
		return SourceStatus{}, false
	}
	return *st, true
}

// fire is the cron callback: it runs in cron's own goroutine, so it hands
// off to runOnce in a fresh goroutine rather than blocking the scheduler's
// single dispatch loop on a slow adapter.
func (s *Scheduler) fire(ra *registeredAdapter, completeRefresh bool) {
	go s.runOnce(context.Background(), ra, completeRefresh)
}

func (s *Scheduler) runOnce(ctx context.Context, ra *registeredAdapter, completeRefresh bool) {
	if !ra.sem.TryAcquire(1) {
		s.log.Warn().Str("adapter", ra.name).Bool("complete_refresh", completeRefresh).
			Msg("dropping run, a previous run for this adapter is still in flight")
		return
	}
	defer ra.sem.Release(1)

	runID := uuid.NewString()

	s.mu.Lock()
	st := s.statuses[ra.name]
	st.Running = true
	st.LastRunID = runID
	st.LastStartedAt = time.Now().UTC()
	s.mu.Unlock()

	s.log.Info().Str("adapter", ra.name).Str("run_id", runID).Bool("complete_refresh", completeRefresh).
		Msg("reconciliation run starting")

	result, err := s.run(ctx, ra.name, ra.a, completeRefresh)

	s.mu.Lock()
	st.Running = false
	st.LastFinishedAt = time.Now().UTC()
	st.LastResult = result
	st.LastErr = err
	s.mu.Unlock()

	logEvt := s.log.Info()
	if err != nil {
		if joberr.Is(err, joberr.CodeSourceUnavailable) {
			logEvt = s.log.Warn().Err(err)
		} else {
			logEvt = s.log.Error().Err(err)
		}
	}
	logEvt.Str("adapter", ra.name).
		Str("run_id", runID).
		Bool("complete_refresh", result.IsCompleteRefresh).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Msg("reconciliation run finished")
}
