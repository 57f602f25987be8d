package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the nightly import at midnight.
const DefaultSchedule = "0 0 * * *"

// RunFunc performs one import. Its context is cancelled when the scheduler
// stops.
type RunFunc func(ctx context.Context) error

type Option func(*Nightly)

func WithLogger(logger *zap.Logger) Option {
	return func(n *Nightly) {
		n.logger = logger
	}
}

func WithLocation(loc *time.Location) Option {
	return func(n *Nightly) {
		n.location = loc
	}
}

// Nightly triggers a run on a cron schedule. A trigger that fires while a
// run is still in flight is skipped.
type Nightly struct {
	schedule string
	run      RunFunc
	logger   *zap.Logger
	location *time.Location

	cron    *cron.Cron
	entryID cron.EntryID

	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
	isSyncing bool
	lastErr   error
	lastRunAt time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a five field cron expression.
func ValidateSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

func New(schedule string, run RunFunc, opts ...Option) (*Nightly, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	n := &Nightly{
		schedule: schedule,
		run:      run,
		logger:   zap.NewNop(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.cron = cron.New(cron.WithParser(parser), cron.WithLocation(n.location))
	n.runCtx, n.cancelRun = context.WithCancel(context.Background())
	return n, nil
}

// Start schedules the job. Cancelling ctx stops the scheduler.
func (n *Nightly) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isRunning {
		return nil
	}

	entryID, err := n.cron.AddFunc(n.schedule, func() {
		n.trigger()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule nightly job: %w", err)
	}
	n.entryID = entryID

	n.cron.Start()
	n.isRunning = true

	n.logger.Info("Nightly scheduler started",
		zap.String("schedule", n.schedule),
		zap.Time("next_run", n.cron.Entry(entryID).Next))

	go func() {
		<-ctx.Done()
		n.Stop()
	}()

	return nil
}

// Stop stops scheduling, cancels an in flight run and waits for it to
// return. The run has already checkpointed its last good state.
func (n *Nightly) Stop() {
	n.mu.Lock()
	wasRunning := n.isRunning
	n.isRunning = false
	// begin checks runCtx under mu, so no run can register after this
	n.cancelRun()
	n.mu.Unlock()

	if wasRunning {
		<-n.cron.Stop().Done()
	}
	n.inflight.Wait()

	if wasRunning {
		n.logger.Info("Nightly scheduler stopped")
	}
}

// RunNow starts a run immediately. It returns false when a run is already
// in flight.
func (n *Nightly) RunNow() bool {
	if !n.begin() {
		return false
	}
	go n.execute()
	return true
}

func (n *Nightly) trigger() {
	if !n.begin() {
		return
	}
	n.execute()
}

func (n *Nightly) begin() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isSyncing {
		n.logger.Info("Nightly run skipped, previous run still in flight")
		return false
	}
	if n.runCtx.Err() != nil {
		return false
	}
	n.isSyncing = true
	n.inflight.Add(1)
	return true
}

func (n *Nightly) execute() {
	defer n.inflight.Done()

	start := time.Now()
	n.logger.Info("Nightly run starting")

	err := n.run(n.runCtx)

	n.mu.Lock()
	n.isSyncing = false
	n.lastErr = err
	n.lastRunAt = start
	n.mu.Unlock()

	if err != nil {
		n.logger.Error("Nightly run ended with error",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	n.logger.Info("Nightly run finished", zap.Duration("duration", time.Since(start)))
}

func (n *Nightly) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isRunning
}

func (n *Nightly) IsSyncing() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isSyncing
}

// LastRun returns when the last run started and how it ended.
func (n *Nightly) LastRun() (time.Time, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastRunAt, n.lastErr
}

// NextRun returns the next scheduled trigger, or nil when stopped.
func (n *Nightly) NextRun() *time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.isRunning {
		return nil
	}
	t := n.cron.Entry(n.entryID).Next
	return &t
}
