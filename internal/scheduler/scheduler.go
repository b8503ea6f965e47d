// Package scheduler runs one long-running control loop per active
// monitoring task. Each loop owns its own store session, fires a check
// request when the task is due, and unconditionally advances next_check
// regardless of downstream outcome, so scheduling cadence never couples
// to worker latency.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/retry"
	"github.com/vhz-mon/marketwatch/internal/store"
)

// Session is the slice of store.Session the scheduler needs.
type Session interface {
	Close() error
	GetTask(id int64) (*model.MonitoringTask, error)
	ListActiveTasks() ([]model.MonitoringTask, error)
	AdvanceNextCheck(taskID int64, now time.Time, checkInterval int) error
}

// Store opens sessions. Each loop iteration, recovery attempt, and
// safe-advance opens its own session and closes it before returning;
// sessions are never shared between goroutines.
type Store interface {
	NewSession(ctx context.Context) (Session, error)
}

// WrapStore adapts the concrete store to the narrow Store interface.
func WrapStore(st *store.Store) Store { return storeAdapter{st} }

type storeAdapter struct{ st *store.Store }

func (a storeAdapter) NewSession(ctx context.Context) (Session, error) {
	return a.st.NewSession(ctx)
}

// Publisher is the slice of the bus the scheduler needs.
type Publisher interface {
	PublishCheckRequest(ctx context.Context, req bus.CheckRequest) error
}

// Scheduler owns one control loop per active monitoring task.
type Scheduler struct {
	store  Store
	bus    Publisher
	cfg    config.SchedulerConfig
	logger *slog.Logger

	mu     sync.Mutex
	loops  map[int64]*taskLoop
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Scheduler. Start must be called to spawn the initial set
// of loops.
func New(st Store, b Publisher, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  st,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		loops:  make(map[int64]*taskLoop),
		stopCh: make(chan struct{}),
	}
}

// taskLoop is the per-task state, registered in Scheduler.loops so that
// at most one loop per task id runs at any time, process-wide.
type taskLoop struct {
	taskID int64
	cancel context.CancelFunc
	wake   chan struct{}
}

// Wake nudges a sleeping loop to re-read its task row immediately, used
// after an interval change or an explicit reschedule.
func (s *Scheduler) Wake(taskID int64) {
	s.mu.Lock()
	loop, ok := s.loops[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case loop.wake <- struct{}{}:
	default:
	}
}

// Start discovers every active task and spawns a loop for each.
func (s *Scheduler) Start(ctx context.Context) error {
	sess, err := s.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	defer sess.Close()

	tasks, err := sess.ListActiveTasks()
	if err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	for _, t := range tasks {
		s.spawn(ctx, t.ID)
	}
	s.logger.Info("scheduler started", "loops", len(tasks))
	return nil
}

// OnTaskCreated spawns a loop for a newly created active task.
func (s *Scheduler) OnTaskCreated(ctx context.Context, taskID int64) {
	s.spawn(ctx, taskID)
}

// OnTaskActivated spawns a loop if one is not already running.
func (s *Scheduler) OnTaskActivated(ctx context.Context, taskID int64) {
	s.spawn(ctx, taskID)
}

// OnTaskDeactivated stops the task's loop, if one is running. The loop
// also self-exits on its next tick boundary once it observes the row is
// inactive, so this is a nudge, not the only exit path.
func (s *Scheduler) OnTaskDeactivated(taskID int64) {
	s.stopLoop(taskID)
}

// OnTaskDeleted stops the task's loop.
func (s *Scheduler) OnTaskDeleted(taskID int64) {
	s.stopLoop(taskID)
}

// Running reports whether a loop for taskID currently exists.
func (s *Scheduler) Running(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[taskID]
	return ok
}

func (s *Scheduler) spawn(ctx context.Context, taskID int64) {
	s.mu.Lock()
	if _, exists := s.loops[taskID]; exists {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &taskLoop{taskID: taskID, cancel: cancel, wake: make(chan struct{}, 1)}
	s.loops[taskID] = loop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(loopCtx, loop)
	}()
}

func (s *Scheduler) stopLoop(taskID int64) {
	s.mu.Lock()
	loop, exists := s.loops[taskID]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.loops, taskID)
	s.mu.Unlock()
	loop.cancel()
}

// forget unregisters loop, unless a newer loop for the same task id has
// already taken its place.
func (s *Scheduler) forget(loop *taskLoop) {
	s.mu.Lock()
	if s.loops[loop.taskID] == loop {
		delete(s.loops, loop.taskID)
	}
	s.mu.Unlock()
}

// Stop cancels every loop and waits up to StopGrace for them to settle.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.mu.Lock()
	for _, loop := range s.loops {
		loop.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		s.logger.Warn("scheduler stop grace period exceeded")
	}
}

// tickOutcome tells runLoop what to do after one iteration.
type tickOutcome int

const (
	tickContinue tickOutcome = iota
	tickExit                 // task gone or deactivated, exit cleanly
	tickCrash                // consecutive errors reached the cap
)

func (s *Scheduler) runLoop(ctx context.Context, loop *taskLoop) {
	taskID := loop.taskID
	log := s.logger.With("task_id", taskID)
	defer s.forget(loop)

	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			return
		}
		switch s.tick(ctx, loop, log, &consecutiveErrors) {
		case tickExit:
			return
		case tickCrash:
			log.Error("loop crashed after consecutive errors, entering recovery", "errors", consecutiveErrors)
			s.forget(loop)
			s.scheduleRecovery(ctx, taskID)
			return
		}
	}
}

// tick runs one iteration: re-read the task, wait for its due time,
// publish a check request, advance next_check.
func (s *Scheduler) tick(ctx context.Context, loop *taskLoop, log *slog.Logger, consecutiveErrors *int) tickOutcome {
	sess, err := s.store.NewSession(ctx)
	if err != nil {
		return s.handleTickError(ctx, loop, log, consecutiveErrors, err)
	}
	defer sess.Close()

	task, err := sess.GetTask(loop.taskID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Info("task deleted, exiting loop")
			return tickExit
		}
		log.Error("read task failed", "error", err)
		return s.handleTickError(ctx, loop, log, consecutiveErrors, err)
	}
	if !task.IsActive {
		log.Info("task deactivated, exiting loop")
		return tickExit
	}

	now := time.Now()
	if task.NextCheck != nil && now.Before(*task.NextCheck) {
		if !s.sleepUntil(ctx, loop, *task.NextCheck) {
			return tickExit
		}
		*consecutiveErrors = 0
		return tickContinue
	}

	req := bus.NewCheckRequest(task.ID, task.URL, task.Filters)
	if err := s.bus.PublishCheckRequest(ctx, req); err != nil {
		log.Error("publish check request failed", "error", err)
		return s.handleTickError(ctx, loop, log, consecutiveErrors, err)
	}

	// The advance is unconditional: it does not wait for the worker
	// result, so the cadence survives downstream outages.
	if err := sess.AdvanceNextCheck(task.ID, now, task.CheckInterval); err != nil {
		log.Error("advance next_check failed", "error", err)
		return s.handleTickError(ctx, loop, log, consecutiveErrors, err)
	}

	*consecutiveErrors = 0
	next := now.Add(time.Duration(task.CheckInterval) * time.Second)
	if !s.sleepUntil(ctx, loop, next) {
		return tickExit
	}
	return tickContinue
}

// handleTickError attempts the safe-advance helper so next_check still
// moves forward on failure, then reports whether the error cap was hit.
func (s *Scheduler) handleTickError(ctx context.Context, loop *taskLoop, log *slog.Logger, consecutiveErrors *int, cause error) tickOutcome {
	*consecutiveErrors++
	s.safeAdvance(ctx, loop.taskID, log)
	if *consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
		return tickCrash
	}
	select {
	case <-time.After(s.cfg.TickErrorDelay):
	case <-ctx.Done():
	}
	return tickContinue
}

// safeAdvance writes a fresh next_check in a minimal independent
// transaction, so a failing loop still leaves the task schedulable for
// whatever recovers it next.
func (s *Scheduler) safeAdvance(ctx context.Context, taskID int64, log *slog.Logger) {
	sess, err := s.store.NewSession(ctx)
	if err != nil {
		log.Error("safe advance: open session failed", "error", err)
		return
	}
	defer sess.Close()

	task, err := sess.GetTask(taskID)
	if err != nil {
		return
	}
	if err := sess.AdvanceNextCheck(taskID, time.Now(), task.CheckInterval); err != nil {
		log.Error("safe advance failed", "error", err)
	}
}

// sleepUntil blocks until deadline, a wake signal, or cancellation,
// capped so long sleeps still periodically re-observe the task row.
// Returns false if the loop should exit (context cancelled).
func (s *Scheduler) sleepUntil(ctx context.Context, loop *taskLoop, deadline time.Time) bool {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	if max := s.cfg.MaxSleepSlice; max > 0 && d > max {
		d = max
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-loop.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

// scheduleRecovery respawns a crashed loop with exponential backoff:
// 60s doubling to a 10 minute cap, up to 10 attempts. A task found
// deleted or deactivated during recovery ends the attempts.
func (s *Scheduler) scheduleRecovery(ctx context.Context, taskID int64) {
	policy := retry.SchedulerRecoveryPolicy(s.cfg.RecoveryBaseDelay, s.cfg.RecoveryMaxDelay, s.cfg.RecoveryMaxAttempts)
	log := s.logger.With("task_id", taskID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			delay := policy.NextDelay(attempt)
			select {
			case <-time.After(delay):
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}

			sess, err := s.store.NewSession(ctx)
			if err != nil {
				log.Error("recovery: open session failed", "attempt", attempt, "error", err)
				continue
			}
			task, err := sess.GetTask(taskID)
			sess.Close()
			if err != nil {
				if err == store.ErrNotFound {
					log.Info("recovery: task deleted, giving up")
					return
				}
				continue
			}
			if !task.IsActive {
				log.Info("recovery: task deactivated, giving up")
				return
			}

			log.Info("recovery: respawning loop", "attempt", attempt)
			s.spawn(ctx, taskID)
			return
		}
		log.Error("recovery: exhausted attempts, task loop stays down", "attempts", policy.MaxAttempts)
	}()
}
