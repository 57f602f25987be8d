package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/transform"
)

var (
	ErrMissingSource = errors.New("importer requires a source")
	ErrMissingSink   = errors.New("importer requires a sink")
)

// Sleeper blocks for d or until ctx is done, returning ctx.Err() when
// interrupted.
type Sleeper func(ctx context.Context, d time.Duration) error

// saveTimeout bounds the checkpoint write that follows an interruption.
const saveTimeout = 10 * time.Second

type Importer struct {
	Checkpointer Checkpointer
	Job          Job
	Notifier     Notifier
	Sink         Sink
	Source       Source
	State        *FSM

	ID string

	channelID    string
	invocationID string
	logger       *zap.Logger
	sleep        Sleeper

	mu      sync.Mutex
	current *Status
	stats   Stats
}

type Option func(*Importer)

func WithID(id string) Option {
	return func(i *Importer) {
		i.ID = id
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(i *Importer) {
		i.logger = logger
	}
}

func WithJob(job Job) Option {
	return func(i *Importer) {
		i.Job = job
	}
}

func WithSource(source Source) Option {
	return func(i *Importer) {
		i.Source = source
	}
}

func WithSink(sink Sink) Option {
	return func(i *Importer) {
		i.Sink = sink
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(i *Importer) {
		i.Notifier = notifier
	}
}

func WithCheckpointer(checkpointer Checkpointer) Option {
	return func(i *Importer) {
		i.Checkpointer = checkpointer
	}
}

// WithChannelID sets the channel stamped on every payload.
func WithChannelID(channelID string) Option {
	return func(i *Importer) {
		i.channelID = channelID
	}
}

func WithSleeper(sleeper Sleeper) Option {
	return func(i *Importer) {
		i.sleep = sleeper
	}
}

func New(opts ...Option) (*Importer, error) {
	i := &Importer{
		Checkpointer: &NoopCheckpointer{},
		Job:          Historical,
		logger:       zap.NewNop(),
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.Source == nil {
		return nil, ErrMissingSource
	}
	if i.Sink == nil {
		return nil, ErrMissingSink
	}
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Notifier == nil {
		i.Notifier = NewLogNotifier(i.logger.Named("notifier"))
	}
	i.Job = i.Job.withDefaults()

	i.State = NewFSM(FSMWithLogger(i.logger.Named("fsm")))
	i.stats.Phase = i.State.Current()

	i.logger.Info("Importer created",
		zap.String("run_id", i.ID),
		zap.String("job", i.Job.Label),
	)
	return i, nil
}

// Prepare returns the status to start from. An incomplete checkpoint for
// the run is restored verbatim; anything else starts a fresh run over
// entityTypes.
func (i *Importer) Prepare(ctx context.Context, entityTypes []string) (*Status, error) {
	checkpoint, err := i.Checkpointer.Load(ctx, i.ID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", i.ID, err)
	}

	var status Status
	if checkpoint != nil && !checkpoint.Status.Complete {
		status = checkpoint.Status
		if status.Phase == "" {
			status.Phase = StateFetchingType
		}
		i.logger.Info("Resuming from checkpoint",
			zap.String("run_id", i.ID),
			zap.Int("entity_type_index", status.State.CurrentEntityTypeIndex),
			zap.Int("page", status.State.CurrentPage),
			zap.Int("total_imported", status.State.TotalImported),
			zap.Int("retries", status.State.RetryCount),
		)
	} else {
		status = Status{
			RunID: i.ID,
			Job:   i.Job.Label,
			State: NewRunState(entityTypes),
			Phase: StateFetchingType,
		}
		i.logger.Info("No checkpoint found, starting fresh",
			zap.String("run_id", i.ID),
			zap.Strings("entity_types", entityTypes),
		)
	}
	status.UpdatedAt = time.Now().UTC()

	i.mu.Lock()
	i.invocationID = uuid.NewString()
	i.State = NewFSM(
		FSMWithInitialState(status.Phase),
		FSMWithLogger(i.logger.Named("fsm")),
	)
	i.current = cloneStatus(&status)
	i.stats.Phase = status.Phase
	i.stats.StartedAt = time.Now()
	i.mu.Unlock()

	return &status, nil
}

// Perform does exactly one unit of work on status and returns the next
// status. Fetch and write failures never escape; they are retried with a
// linear backoff until the job's ceiling, then reported through the
// notifier. The only error returned is an interruption, in which case the
// returned status is still consistent and must be persisted by the caller.
func (i *Importer) Perform(ctx context.Context, status *Status) (*Status, error) {
	if status.Complete {
		return status, nil
	}
	if err := ctx.Err(); err != nil {
		return status, err
	}

	i.syncPhase(status.Phase)
	next := cloneStatus(status)
	state := &next.State

	entityType, ok := state.CurrentEntityType()
	if !ok {
		i.notify(ctx, true, *state)
		next.Complete = true
		return i.advance(next, StateComplete), nil
	}

	i.logger.Info("Fetching page",
		zap.String("entity_type", entityType),
		zap.Int("page", state.CurrentPage),
		zap.Int("total_imported", state.TotalImported),
	)

	n, err := i.importPage(ctx, entityType, state.CurrentPage)
	if err == nil {
		if n > 0 {
			state.CurrentPage++
			state.TotalImported += n
			state.RetryCount = 0

			i.logger.Info("Imported page",
				zap.String("entity_type", entityType),
				zap.Int("count", n),
				zap.Int("total_imported", state.TotalImported),
			)
			i.recordPage(n)
			return i.advance(next, StateFetchingType), nil
		}

		i.logger.Info("Completed entity type, moving to next",
			zap.String("entity_type", entityType),
		)
		state.CurrentEntityTypeIndex++
		state.CurrentPage = 0
		return i.advance(next, StateAdvancingType), nil
	}

	// cancellation is an interruption, not an upstream failure
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status, ctxErr
	}

	i.logger.Error("Import error",
		zap.String("job", i.Job.Label),
		zap.String("entity_type", entityType),
		zap.Int("page", state.CurrentPage),
		zap.Error(err),
	)

	if state.RetryCount >= i.Job.RetryCeiling {
		i.notify(ctx, false, *state)
		next.Complete = true
		next.Failed = true
		i.recordFailure()
		return i.advance(next, StateFailed), nil
	}

	state.RetryCount++
	backoff := time.Duration(state.RetryCount) * i.Job.BackoffUnit
	i.logger.Info("Retrying after backoff",
		zap.Duration("backoff", backoff),
		zap.Int("attempt", state.RetryCount),
		zap.Int("ceiling", i.Job.RetryCeiling),
	)
	i.recordRetry()
	next = i.advance(next, StateAwaitingRetry)

	if err := i.sleep(ctx, backoff); err != nil {
		return next, err
	}
	return next, nil
}

// Run drives Perform until the run completes or ctx is cancelled, saving a
// checkpoint after every unit of work.
func (i *Importer) Run(ctx context.Context, entityTypes []string) (*Status, error) {
	status, err := i.Prepare(ctx, entityTypes)
	if err != nil {
		return nil, err
	}

	for !status.Complete {
		next, performErr := i.Perform(ctx, status)
		status = next

		if err := i.save(ctx, status); err != nil {
			i.logger.Error("Error checkpointing", zap.Error(err))
			return status, err
		}
		if performErr != nil {
			i.logger.Info("Import interrupted",
				zap.String("run_id", i.ID),
				zap.Int("total_imported", status.State.TotalImported),
				zap.Error(performErr),
			)
			return status, performErr
		}
	}

	i.logger.Info("Import finished",
		zap.String("run_id", i.ID),
		zap.String("phase", string(status.Phase)),
		zap.Int("total_imported", status.State.TotalImported),
	)
	return status, nil
}

func (i *Importer) importPage(ctx context.Context, entityType string, page int) (int, error) {
	entities, err := i.Source.GetChannelEntities(ctx, entityType, i.Job.PageSize, page)
	if err != nil {
		return 0, fmt.Errorf("fetching %s page %d: %w", entityType, page, err)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	payloads := make([]transform.Payload, 0, len(entities))
	for _, e := range entities {
		payloads = append(payloads, transform.FromSummary(e, i.channelID))
	}

	if err := i.Sink.Write(ctx, i.Job.ObjectType, payloads); err != nil {
		return 0, &SinkWriteError{
			ObjectType: i.Job.ObjectType,
			Count:      len(payloads),
			Err:        err,
		}
	}
	return len(entities), nil
}

func (i *Importer) notify(ctx context.Context, success bool, state RunState) {
	i.mu.Lock()
	invocationID := i.invocationID
	i.mu.Unlock()

	n := Notification{
		RunID:        i.ID,
		InvocationID: invocationID,
		Activity:     i.Job.Label,
		Total:        state.TotalImported,
		At:           time.Now().UTC(),
	}

	var err error
	if success {
		n.Title = i.Job.SuccessTitle
		n.Summary = fmt.Sprintf(i.Job.SuccessFormat, state.TotalImported, len(state.EntityTypes))
		err = i.Notifier.Success(ctx, n)
	} else {
		n.Title = i.Job.FailureTitle
		n.Summary = fmt.Sprintf(i.Job.FailureFormat, state.TotalImported, len(state.EntityTypes))
		err = i.Notifier.Failure(ctx, n)
	}

	if err != nil {
		i.logger.Error("Error sending notification",
			zap.Bool("success", success),
			zap.Error(err),
		)
	}
}

func (i *Importer) save(ctx context.Context, status *Status) error {
	// an interrupted run still needs its last status persisted
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
	}

	return i.Checkpointer.Save(ctx, &Checkpoint{
		RunID:     i.ID,
		Status:    *status,
		Timestamp: time.Now().UTC(),
	})
}

// advance moves the FSM and records next as the current status.
func (i *Importer) advance(next *Status, to State) *Status {
	i.mu.Lock()
	fsm := i.State
	i.mu.Unlock()

	if err := fsm.Transition(to); err != nil {
		i.logger.Error("Unexpected phase change",
			zap.String("run_id", i.ID),
			zap.String("from", string(fsm.Current())),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}

	next.Phase = to
	next.UpdatedAt = time.Now().UTC()

	i.mu.Lock()
	i.current = cloneStatus(next)
	i.stats.Phase = to
	i.mu.Unlock()
	return next
}

// syncPhase re-seeds the FSM when Perform is handed a status that did not
// come from this importer.
func (i *Importer) syncPhase(phase State) {
	if phase == "" {
		phase = StateFetchingType
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State.Current() == phase {
		return
	}
	i.State = NewFSM(
		FSMWithInitialState(phase),
		FSMWithLogger(i.logger.Named("fsm")),
	)
}

func (i *Importer) recordPage(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats.PagesWritten++
	i.stats.RecordsImported += int64(n)
	i.stats.LastPageAt = time.Now()
}

func (i *Importer) recordRetry() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats.Retries++
}

func (i *Importer) recordFailure() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats.Failures++
}

// Status returns the last status produced by this importer, or nil before
// Prepare.
func (i *Importer) Status() *Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return nil
	}
	return cloneStatus(i.current)
}

func (i *Importer) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	stats := i.stats
	if !stats.StartedAt.IsZero() {
		stats.UptimeSeconds = int64(time.Since(stats.StartedAt).Seconds())
	}
	return stats
}

func cloneStatus(s *Status) *Status {
	c := *s
	c.State.EntityTypes = append([]string{}, s.State.EntityTypes...)
	return &c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
