package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pimsync/internal/fixtures"
	"github.com/turbolytics/pimsync/pkg/inriver"
	"github.com/turbolytics/pimsync/pkg/transform"
)

type fakeSource struct {
	mu       sync.Mutex
	ids      map[string]int
	failures []error
	calls    []string
	onCall   func()
}

func newFakeSource(counts map[string]int) *fakeSource {
	return &fakeSource{ids: counts}
}

func (f *fakeSource) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

func (f *fakeSource) GetChannelEntities(ctx context.Context, entityTypeID string, pageSize, pageIndex int) ([]inriver.EntityData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s/%d", entityTypeID, pageIndex))
	onCall := f.onCall
	var err error
	if len(f.failures) > 0 {
		err = f.failures[0]
		f.failures = f.failures[1:]
	}
	n := f.ids[entityTypeID]
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return nil, err
	}

	start := pageIndex * pageSize
	if start >= n {
		return []inriver.EntityData{}, nil
	}
	end := start + pageSize
	if end > n {
		end = n
	}

	out := make([]inriver.EntityData, 0, end-start)
	for i := start; i < end; i++ {
		id := int64(i + 1)
		out = append(out, inriver.EntityData{
			EntityID: id,
			Summary: inriver.EntitySummary{
				ID:           id,
				DisplayName:  fmt.Sprintf("%s %d", entityTypeID, id),
				EntityTypeID: entityTypeID,
				ModifiedDate: "2023-06-28T10:00:00.0000000",
			},
		})
	}
	return out, nil
}

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]transform.Payload
	failures []error
}

func (f *fakeSink) Write(ctx context.Context, objectType string, payloads []transform.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return err
		}
	}
	f.batches = append(f.batches, payloads)
	return nil
}

func (f *fakeSink) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		for _, p := range b {
			out = append(out, p.EntityType+":"+p.ProductID)
		}
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	successes []Notification
	failures  []Notification
	err       error
}

func (f *fakeNotifier) Success(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, n)
	return f.err
}

func (f *fakeNotifier) Failure(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, n)
	return f.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

type harness struct {
	source   *fakeSource
	sink     *fakeSink
	notifier *fakeNotifier
	sleeper  *sleepRecorder
	cp       *MemoryCheckpointer
}

func newHarness(counts map[string]int) *harness {
	return &harness{
		source:   newFakeSource(counts),
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
		sleeper:  &sleepRecorder{},
		cp:       NewMemoryCheckpointer(),
	}
}

func (h *harness) importer(t *testing.T, job Job, opts ...Option) *Importer {
	t.Helper()
	opts = append([]Option{
		WithID("test-run"),
		WithJob(job),
		WithSource(h.source),
		WithSink(h.sink),
		WithNotifier(h.notifier),
		WithCheckpointer(h.cp),
		WithSleeper(h.sleeper.sleep),
	}, opts...)
	i, err := New(opts...)
	require.NoError(t, err)
	return i
}

func TestNew(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrMissingSource)

	_, err = New(WithSource(newFakeSource(nil)))
	assert.ErrorIs(t, err, ErrMissingSink)

	i, err := New(WithSource(newFakeSource(nil)), WithSink(&fakeSink{}))
	require.NoError(t, err)
	assert.NotEmpty(t, i.ID)
	assert.Equal(t, StateFetchingType, i.State.Current())
	assert.Equal(t, Historical.Label, i.Job.Label)
	assert.IsType(t, &LogNotifier{}, i.Notifier)
}

func TestImporter_Run(t *testing.T) {
	h := newHarness(map[string]int{"Product": 250, "Item": 0, "Variant": 30})
	i := h.importer(t, Historical, WithChannelID("6614"))

	status, err := i.Run(context.Background(), []string{"Product", "Item", "Variant"})
	require.NoError(t, err)

	assert.True(t, status.Complete)
	assert.False(t, status.Failed)
	assert.Equal(t, StateComplete, status.Phase)
	assert.Equal(t, 280, status.State.TotalImported)
	assert.Equal(t, 3, status.State.CurrentEntityTypeIndex)
	assert.Equal(t, 0, status.State.RetryCount)

	assert.Equal(t, []string{
		"Product/0", "Product/1", "Product/2", "Product/3",
		"Item/0",
		"Variant/0", "Variant/1",
	}, h.source.calls)

	require.Len(t, h.sink.batches, 4)
	assert.Len(t, h.sink.batches[0], 100)
	assert.Len(t, h.sink.batches[2], 50)
	assert.Equal(t, "6614", *h.sink.batches[0][0].ChannelID)
	assert.Len(t, h.sink.written(), 280)

	require.Len(t, h.notifier.successes, 1)
	assert.Empty(t, h.notifier.failures)
	n := h.notifier.successes[0]
	assert.Equal(t, "inriver Historical Import", n.Activity)
	assert.Equal(t, "Completed Historical Import", n.Title)
	assert.Equal(t, "Imported 280 total entities from inriver across 3 entity types.", n.Summary)
	assert.Equal(t, 280, n.Total)
	assert.NotEmpty(t, n.InvocationID)

	// one save per invocation: 4 pages, 3 advances, 1 completion
	assert.Equal(t, 8, h.cp.Saves())

	stats := i.Stats()
	assert.Equal(t, int64(4), stats.PagesWritten)
	assert.Equal(t, int64(280), stats.RecordsImported)
	assert.Equal(t, StateComplete, stats.Phase)
}

func TestImporter_Perform(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Product": 150})
	i := h.importer(t, Nightly)

	status, err := i.Prepare(ctx, []string{"Product"})
	require.NoError(t, err)
	assert.Equal(t, RunState{EntityTypes: []string{"Product"}}, status.State)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 1, status.State.CurrentPage)
	assert.Equal(t, 100, status.State.TotalImported)
	assert.Equal(t, StateFetchingType, status.Phase)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 2, status.State.CurrentPage)
	assert.Equal(t, 150, status.State.TotalImported)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 0, status.State.CurrentPage)
	assert.Equal(t, 1, status.State.CurrentEntityTypeIndex)
	assert.Equal(t, StateAdvancingType, status.Phase)
	assert.False(t, status.Complete)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	require.Len(t, h.notifier.successes, 1)
	assert.Equal(t, "Synced 150 entities from inriver.", h.notifier.successes[0].Summary)

	// a completed status is returned untouched
	again, err := i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, status, again)
	assert.Len(t, h.notifier.successes, 1)
}

func TestImporter_Perform_DoesNotMutateInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Product": 10})
	i := h.importer(t, Nightly)

	status, err := i.Prepare(ctx, []string{"Product"})
	require.NoError(t, err)

	next, err := i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 0, status.State.TotalImported)
	assert.Equal(t, 10, next.State.TotalImported)
}

func TestImporter_EmptyTypeList(t *testing.T) {
	h := newHarness(nil)
	i := h.importer(t, Historical)

	status, err := i.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Empty(t, h.source.calls)
	require.Len(t, h.notifier.successes, 1)
	assert.Equal(t, "Imported 0 total entities from inriver across 0 entity types.", h.notifier.successes[0].Summary)
}

func TestImporter_RetryCeiling(t *testing.T) {
	testCases := []struct {
		name    string
		job     Job
		sleeps  []time.Duration
		summary string
	}{
		{
			name:    "historical",
			job:     Historical,
			sleeps:  []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second, 25 * time.Second},
			summary: "Maximum retries exceeded. Imported 100 entities before failure.",
		},
		{
			name:    "nightly",
			job:     Nightly,
			sleeps:  []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second},
			summary: "Maximum retries exceeded. Synced 100 entities before failure.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(map[string]int{"Product": 250})
			upstream := &inriver.UpstreamError{StatusCode: 503, Body: "unavailable"}
			errs := []error{nil}
			for n := 0; n <= tc.job.RetryCeiling; n++ {
				errs = append(errs, upstream)
			}
			h.source.failNext(errs...)

			i := h.importer(t, tc.job)
			status, err := i.Run(context.Background(), []string{"Product"})
			require.NoError(t, err)

			assert.True(t, status.Complete)
			assert.True(t, status.Failed)
			assert.Equal(t, StateFailed, status.Phase)
			assert.Equal(t, 100, status.State.TotalImported)
			assert.Equal(t, 1, status.State.CurrentPage)
			assert.Equal(t, tc.job.RetryCeiling, status.State.RetryCount)

			assert.Equal(t, tc.sleeps, h.sleeper.sleeps)
			assert.Empty(t, h.notifier.successes)
			require.Len(t, h.notifier.failures, 1)
			assert.Equal(t, tc.summary, h.notifier.failures[0].Summary)
			assert.Len(t, h.sink.batches, 1)

			stats := i.Stats()
			assert.Equal(t, int64(tc.job.RetryCeiling), stats.Retries)
			assert.Equal(t, int64(1), stats.Failures)
		})
	}
}

func TestImporter_RetryResetsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Product": 150})
	h.source.failNext(errors.New("boom"), errors.New("boom"))
	i := h.importer(t, Historical)

	status, err := i.Prepare(ctx, []string{"Product"})
	require.NoError(t, err)

	for n := 1; n <= 2; n++ {
		status, err = i.Perform(ctx, status)
		require.NoError(t, err)
		assert.Equal(t, n, status.State.RetryCount)
		assert.Equal(t, StateAwaitingRetry, status.Phase)
		assert.Equal(t, 0, status.State.CurrentPage, "no progress on error")
	}

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 0, status.State.RetryCount)
	assert.Equal(t, 100, status.State.TotalImported)
}

func TestImporter_RetryNotResetOnAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Item": 0, "Product": 5})
	h.source.failNext(errors.New("boom"))
	i := h.importer(t, Historical)

	status, err := i.Prepare(ctx, []string{"Item", "Product"})
	require.NoError(t, err)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 1, status.State.RetryCount)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 1, status.State.CurrentEntityTypeIndex)
	assert.Equal(t, 1, status.State.RetryCount)
}

func TestImporter_SinkFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Product": 5})
	h.sink.failures = []error{errors.New("write refused"), errors.New("write refused")}
	i := h.importer(t, Historical)

	_, err := i.importPage(ctx, "Product", 0)
	var swe *SinkWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, transform.DefaultObjectType, swe.ObjectType)
	assert.Equal(t, 5, swe.Count)
	assert.EqualError(t, swe.Unwrap(), "write refused")

	status, err := i.Prepare(ctx, []string{"Product"})
	require.NoError(t, err)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 1, status.State.RetryCount)
	assert.Equal(t, 0, status.State.TotalImported)

	status, err = i.Perform(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, 5, status.State.TotalImported)
	assert.Equal(t, 0, status.State.RetryCount)
}

func TestImporter_NotifierErrorIsSwallowed(t *testing.T) {
	h := newHarness(map[string]int{"Product": 1})
	h.notifier.err = errors.New("smtp down")
	i := h.importer(t, Nightly)

	status, err := i.Run(context.Background(), []string{"Product"})
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.False(t, status.Failed)
	assert.Len(t, h.notifier.successes, 1)
}

func TestImporter_InterruptedDuringBackoffResumes(t *testing.T) {
	h := newHarness(map[string]int{"Product": 250, "Item": 20})
	h.source.failNext(nil, errors.New("boom"))

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	i := h.importer(t, Historical, WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps++
		cancel()
		return ctx.Err()
	}))

	status, err := i.Run(ctx, []string{"Product", "Item"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sleeps)
	assert.False(t, status.Complete)
	assert.Equal(t, 1, status.State.CurrentPage)
	assert.Equal(t, 100, status.State.TotalImported)
	assert.Equal(t, 1, status.State.RetryCount, "retry is recorded before the backoff sleep")

	saved, err := h.cp.Load(context.Background(), "test-run")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, status.State, saved.Status.State)

	resumed := h.importer(t, Historical)
	status, err = resumed.Run(context.Background(), []string{"ignored"})
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, []string{"Product", "Item"}, status.State.EntityTypes)
	assert.Equal(t, 270, status.State.TotalImported)

	written := h.sink.written()
	assert.Len(t, written, 270)
	seen := make(map[string]struct{}, len(written))
	for _, id := range written {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate write %s", id)
		seen[id] = struct{}{}
	}
}

func TestImporter_CancelledFetchIsNotARetry(t *testing.T) {
	h := newHarness(map[string]int{"Product": 250})
	ctx, cancel := context.WithCancel(context.Background())
	h.source.onCall = cancel
	h.source.failNext(context.Canceled)

	i := h.importer(t, Historical)
	status, err := i.Prepare(context.Background(), []string{"Product"})
	require.NoError(t, err)

	next, err := i.Perform(ctx, status)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, status.State, next.State)
	assert.Equal(t, 0, next.State.RetryCount)
	assert.Empty(t, h.sleeper.sleeps)
}

func TestImporter_CancelledBeforeWork(t *testing.T) {
	h := newHarness(map[string]int{"Product": 1})
	i := h.importer(t, Historical)

	status, err := i.Prepare(context.Background(), []string{"Product"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next, err := i.Perform(ctx, status)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, status, next)
	assert.Empty(t, h.source.calls)
}

func TestImporter_CompleteCheckpointStartsFresh(t *testing.T) {
	h := newHarness(map[string]int{"Product": 3})
	i := h.importer(t, Nightly)

	_, err := i.Run(context.Background(), []string{"Product"})
	require.NoError(t, err)

	status, err := h.importer(t, Nightly).Prepare(context.Background(), []string{"Product", "Item"})
	require.NoError(t, err)
	assert.False(t, status.Complete)
	assert.Equal(t, NewRunState([]string{"Product", "Item"}), status.State)
	assert.Equal(t, StateFetchingType, status.Phase)
}

func TestImporter_Fixtures(t *testing.T) {
	catalog := fixtures.NewCatalog("secret", "6614")
	catalog.Generate("Product", 120, 1000)
	catalog.Generate("Item", 5, 5000)
	catalog.FailNext(1, http.StatusServiceUnavailable, "Service Unavailable")

	srv := httptest.NewServer(catalog.Routes())
	defer srv.Close()

	client, err := inriver.NewClient(inriver.Config{
		APIKey:    "secret",
		APIURL:    srv.URL,
		ChannelID: "6614",
	}, inriver.WithRateLimit(0, 0))
	require.NoError(t, err)

	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	sleeper := &sleepRecorder{}
	i, err := New(
		WithID("nightly"),
		WithJob(Nightly),
		WithSource(client),
		WithSink(sink),
		WithNotifier(notifier),
		WithChannelID(client.ChannelID()),
		WithSleeper(sleeper.sleep),
	)
	require.NoError(t, err)

	status, err := i.Run(context.Background(), []string{"Product", "Item"})
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, 125, status.State.TotalImported)
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.sleeps)
	assert.Len(t, sink.written(), 125)
	require.Len(t, notifier.successes, 1)
	assert.Equal(t, "Synced 125 entities from inriver.", notifier.successes[0].Summary)
}

func TestImporter_FailsOnFirstFetchAfterAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]int{"Item": 0, "Product": 5})
	h.source.failNext(errors.New("boom"))
	job := Historical
	job.RetryCeiling = 1
	i := h.importer(t, job)

	status, err := i.Prepare(ctx, []string{"Item", "Product"})
	require.NoError(t, err)

	phases := []State{}
	for _, fail := range []bool{false, false, true} {
		if fail {
			h.source.failNext(errors.New("boom again"))
		}
		status, err = i.Perform(ctx, status)
		require.NoError(t, err)
		phases = append(phases, status.Phase)
		assert.Equal(t, status.Phase, i.State.Current(), "engine and state machine agree")
	}

	assert.Equal(t, []State{StateAwaitingRetry, StateAdvancingType, StateFailed}, phases)
	assert.True(t, status.Failed)
	assert.Len(t, h.notifier.failures, 1)
	assert.Empty(t, h.sink.written())
}
