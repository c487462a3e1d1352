package sampler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"aquaflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	mu   sync.Mutex
	snap models.Snapshot
}

func (s *staticSource) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

type sinkCall struct {
	readings []models.SampledReading
	userID   int64
	tickAt   time.Time
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
	block chan struct{}
}

func (f *fakeSink) WriteBatch(ctx context.Context, readings []models.SampledReading, userID int64, tickAt time.Time) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{readings: readings, userID: userID, tickAt: tickAt})
	if f.err != nil {
		return 0, f.err
	}
	return len(readings), nil
}

func (f *fakeSink) Calls() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkCall(nil), f.calls...)
}

type manualTicker struct {
	interval time.Duration
	ch       chan time.Time
	mu       sync.Mutex
	stopped  bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *manualTicker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{interval: d, ch: make(chan time.Time)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *tickerFactory) All() []*manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*manualTicker(nil), f.tickers...)
}

type schedulerFixture struct {
	s       *Scheduler
	source  *staticSource
	sink    *fakeSink
	tickers *tickerFactory
	now     time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-2 * time.Second)
	source := &staticSource{snap: models.Snapshot{Buckets: map[models.Bucket]map[string]models.SensorReading{
		models.BucketTemperature: {
			"T1": {Value: 21.5, ReceivedAt: received, Status: models.StatusActive},
		},
		models.BucketHumidity: {
			"H1": {Value: 40, ReceivedAt: received, Status: models.StatusActive},
			"H2": {Value: 41, ReceivedAt: received, Status: models.StatusInactive},
		},
		models.BucketGeneric: {
			"T1": {Value: 21.5, ReceivedAt: received, Status: models.StatusActive},
			"H1": {Value: 40, ReceivedAt: received, Status: models.StatusActive},
			"S1": {Value: 7, ReceivedAt: received, Status: models.StatusActive},
		},
	}}}
	sink := &fakeSink{}
	tickers := &tickerFactory{}

	s := NewScheduler(source, sink, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithTickerFactory(tickers.New),
		WithMinInterval(100*time.Millisecond),
	)
	t.Cleanup(s.Close)

	return &schedulerFixture{s: s, source: source, sink: sink, tickers: tickers, now: now}
}

func (f *schedulerFixture) waitIdle(t *testing.T, userID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.s.Status(userID)
		return err == nil && !st.InFlight
	}, time.Second, time.Millisecond)
}

func startAll(t *testing.T, f *schedulerFixture, userID int64, interval time.Duration) Status {
	t.Helper()
	st, err := f.s.Start(context.Background(), StartRequest{
		UserID:   userID,
		Username: "ops",
		Interval: interval,
		Filter:   models.AllSensorsFilter(),
	})
	require.NoError(t, err)
	return st
}

func TestStart_Validation(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := f.s.Start(ctx, StartRequest{UserID: 1, Interval: 0, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = f.s.Start(ctx, StartRequest{UserID: 1, Interval: -time.Second, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = f.s.Start(ctx, StartRequest{UserID: 1, Interval: f.s.MinInterval() - time.Millisecond, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = f.s.Start(ctx, StartRequest{UserID: 0, Interval: time.Second, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = f.s.Start(ctx, StartRequest{UserID: 1, Interval: time.Second})
	assert.ErrorIs(t, err, ErrEmptyFilter)

	assert.Empty(t, f.tickers.All(), "no timer armed on failure")
	assert.Empty(t, f.s.List())
}

func TestStart_FailureLeavesExistingSamplerUntouched(t *testing.T) {
	f := newSchedulerFixture(t)
	before := startAll(t, f, 1, time.Second)

	_, err := f.s.Start(context.Background(), StartRequest{UserID: 1, Interval: -1, Filter: models.AllSensorsFilter()})
	require.ErrorIs(t, err, ErrInvalidInterval)

	after, err := f.s.Status(1)
	require.NoError(t, err)
	assert.True(t, after.Running)
	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, time.Second, after.Interval)
	require.Len(t, f.tickers.All(), 1)
	assert.False(t, f.tickers.All()[0].Stopped())
}

func TestStart_ReplacesExistingTimer(t *testing.T) {
	f := newSchedulerFixture(t)

	first := startAll(t, f, 1, 5*time.Second)
	second := startAll(t, f, 1, time.Second)

	assert.Greater(t, second.Generation, first.Generation)
	assert.Len(t, f.s.List(), 1)

	tickers := f.tickers.All()
	require.Len(t, tickers, 2)
	assert.Equal(t, 5*time.Second, tickers[0].interval)
	assert.Equal(t, time.Second, tickers[1].interval)
	assert.Eventually(t, tickers[0].Stopped, time.Second, time.Millisecond, "old timer is cancelled")
	assert.False(t, tickers[1].Stopped())

	assert.False(t, f.s.fire(1, first.Generation), "old generation is discarded")
	assert.Empty(t, f.sink.Calls())
}

func TestTick_SharedTimestampAndTickID(t *testing.T) {
	f := newSchedulerFixture(t)
	st := startAll(t, f, 7, time.Second)

	require.True(t, f.s.fire(7, st.Generation))
	f.waitIdle(t, 7)

	calls := f.sink.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, int64(7), call.userID)
	assert.Equal(t, f.now, call.tickAt)

	// T1 and H1 once from their typed buckets, S1 from generic, inactive H2 left out
	require.Len(t, call.readings, 3)
	tickID := call.readings[0].TickID
	assert.NotEmpty(t, tickID)
	for _, r := range call.readings {
		assert.Equal(t, f.now, r.SampledAt)
		assert.Equal(t, tickID, r.TickID)
		assert.Equal(t, int64(7), r.UserID)
	}

	status, err := f.s.Status(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Ticks)
	assert.Equal(t, int64(3), status.RowsWritten)
	require.NotNil(t, status.LastTickAt)
	assert.Equal(t, f.now, *status.LastTickAt)
}

func TestTick_ThroughTicker(t *testing.T) {
	f := newSchedulerFixture(t)
	startAll(t, f, 1, time.Second)

	tk := f.tickers.All()[0]
	tk.ch <- f.now
	require.Eventually(t, func() bool { return len(f.sink.Calls()) == 1 }, time.Second, time.Millisecond)
}

func TestTick_OverlapIsSkipped(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sink.block = make(chan struct{})
	st := startAll(t, f, 1, time.Second)

	require.True(t, f.s.fire(1, st.Generation))
	assert.False(t, f.s.fire(1, st.Generation), "second tick overlaps the running write")
	assert.False(t, f.s.fire(1, st.Generation))

	status, _ := f.s.Status(1)
	assert.True(t, status.InFlight)
	assert.Equal(t, int64(2), status.Skipped)

	close(f.sink.block)
	f.waitIdle(t, 1)
	assert.Len(t, f.sink.Calls(), 1)

	require.True(t, f.s.fire(1, st.Generation), "next tick runs once the write finished")
	f.waitIdle(t, 1)
	assert.Len(t, f.sink.Calls(), 2)
}

func TestStop_DiscardsLateTick(t *testing.T) {
	f := newSchedulerFixture(t)
	st := startAll(t, f, 1, time.Second)

	require.NoError(t, f.s.Stop(1))
	assert.False(t, f.s.fire(1, st.Generation))
	assert.Empty(t, f.sink.Calls())

	assert.ErrorIs(t, f.s.Stop(1), ErrNotRunning)
	assert.ErrorIs(t, f.s.Stop(-3), ErrInvalidUser)

	status, err := f.s.Status(1)
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Eventually(t, f.tickers.All()[0].Stopped, time.Second, time.Millisecond)
}

func TestReconfigure(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	st := startAll(t, f, 1, time.Second)

	_, err := f.s.Reconfigure(ctx, 2, ReconfigureRequest{})
	assert.ErrorIs(t, err, ErrNotRunning)

	bad := -time.Second
	_, err = f.s.Reconfigure(ctx, 1, ReconfigureRequest{Interval: &bad})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	empty := models.CategoryFilter{}
	_, err = f.s.Reconfigure(ctx, 1, ReconfigureRequest{Filter: &empty})
	assert.ErrorIs(t, err, ErrEmptyFilter)

	// filter only keeps the timer
	humidity := models.CategoryFilter{Categories: map[models.Bucket]models.SensorSelection{
		models.BucketHumidity: {All: true},
	}}
	got, err := f.s.Reconfigure(ctx, 1, ReconfigureRequest{Filter: &humidity})
	require.NoError(t, err)
	assert.Equal(t, st.Generation, got.Generation)
	assert.Len(t, f.tickers.All(), 1)

	// same interval keeps the timer
	same := time.Second
	got, err = f.s.Reconfigure(ctx, 1, ReconfigureRequest{Interval: &same})
	require.NoError(t, err)
	assert.Equal(t, st.Generation, got.Generation)

	// new interval re-arms
	faster := 500 * time.Millisecond
	got, err = f.s.Reconfigure(ctx, 1, ReconfigureRequest{Interval: &faster})
	require.NoError(t, err)
	assert.Greater(t, got.Generation, st.Generation)
	assert.Equal(t, faster, got.Interval)
	tickers := f.tickers.All()
	require.Len(t, tickers, 2)
	assert.Equal(t, faster, tickers[1].interval)
	assert.Eventually(t, tickers[0].Stopped, time.Second, time.Millisecond)

	require.True(t, f.s.fire(1, got.Generation))
	f.waitIdle(t, 1)
	calls := f.sink.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].readings, 1, "new filter applies: active humidity only")
	assert.Equal(t, "H1", calls[0].readings[0].SensorID)
}

func TestReconfigure_InFlightTickIsNotLost(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sink.block = make(chan struct{})
	st := startAll(t, f, 1, time.Second)

	require.True(t, f.s.fire(1, st.Generation))

	faster := 200 * time.Millisecond
	got, err := f.s.Reconfigure(context.Background(), 1, ReconfigureRequest{Interval: &faster})
	require.NoError(t, err)

	assert.False(t, f.s.fire(1, got.Generation), "new generation waits for the in-flight write")

	close(f.sink.block)
	f.waitIdle(t, 1)

	calls := f.sink.Calls()
	require.Len(t, calls, 1, "write started before reconfigure completed exactly once")
	status, _ := f.s.Status(1)
	assert.Equal(t, int64(1), status.Ticks)
	assert.Equal(t, int64(1), status.Skipped)
}

func TestTick_LateWriteDoesNotTouchReplacement(t *testing.T) {
	tests := []struct {
		name    string
		replace func(t *testing.T, f *schedulerFixture)
	}{
		{"start replaces", func(t *testing.T, f *schedulerFixture) {
			startAll(t, f, 1, 2*time.Second)
		}},
		{"stop then start", func(t *testing.T, f *schedulerFixture) {
			require.NoError(t, f.s.Stop(1))
			startAll(t, f, 1, 2*time.Second)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			f.sink.block = make(chan struct{})
			f.sink.err = errors.New("db unavailable")
			st := startAll(t, f, 1, time.Second)

			require.True(t, f.s.fire(1, st.Generation))
			tt.replace(t, f)

			close(f.sink.block)
			f.waitIdle(t, 1)
			require.Len(t, f.sink.Calls(), 1, "the old write still completes")

			status, err := f.s.Status(1)
			require.NoError(t, err)
			assert.True(t, status.Running)
			assert.Equal(t, 2*time.Second, status.Interval)
			assert.Zero(t, status.Ticks)
			assert.Zero(t, status.Failures)
			assert.Empty(t, status.LastError)
			assert.Nil(t, status.LastTickAt)
		})
	}
}

func TestIntervalFromMillis(t *testing.T) {
	tests := []struct {
		name    string
		ms      int64
		want    time.Duration
		wantErr bool
	}{
		{"one second", 1000, time.Second, false},
		{"largest", math.MaxInt64 / int64(time.Millisecond), time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond, false},
		{"zero", 0, 0, true},
		{"negative", -1, 0, true},
		{"wraps to one second", 288230376151712744, 0, true},
		{"max int64", math.MaxInt64, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntervalFromMillis(tt.ms)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInterval)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTick_SinkFailureKeepsSamplerArmed(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sink.err = errors.New("db unavailable")
	st := startAll(t, f, 1, time.Second)

	require.True(t, f.s.fire(1, st.Generation))
	f.waitIdle(t, 1)

	status, err := f.s.Status(1)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, int64(1), status.Failures)
	assert.Equal(t, "db unavailable", status.LastError)

	f.sink.mu.Lock()
	f.sink.err = nil
	f.sink.mu.Unlock()

	require.True(t, f.s.fire(1, st.Generation))
	f.waitIdle(t, 1)
	status, _ = f.s.Status(1)
	assert.Empty(t, status.LastError)
	assert.Equal(t, int64(2), status.Ticks)
}

func TestTick_EmptySelectionSkipsSink(t *testing.T) {
	f := newSchedulerFixture(t)
	st, err := f.s.Start(context.Background(), StartRequest{
		UserID:   1,
		Interval: time.Second,
		Filter: models.CategoryFilter{Categories: map[models.Bucket]models.SensorSelection{
			models.BucketWaterWeight: {All: true},
		}},
	})
	require.NoError(t, err)

	require.True(t, f.s.fire(1, st.Generation))
	f.waitIdle(t, 1)

	assert.Empty(t, f.sink.Calls())
	status, _ := f.s.Status(1)
	assert.Equal(t, int64(1), status.Ticks)
}

func TestList_OrderedByUser(t *testing.T) {
	f := newSchedulerFixture(t)
	startAll(t, f, 3, time.Second)
	startAll(t, f, 1, time.Second)
	startAll(t, f, 2, time.Second)

	var ids []int64
	for _, st := range f.s.List() {
		ids = append(ids, st.UserID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestClose_StopsEverything(t *testing.T) {
	f := newSchedulerFixture(t)
	startAll(t, f, 1, time.Second)
	startAll(t, f, 2, time.Second)

	f.s.Close()

	assert.Empty(t, f.s.List())
	for _, tk := range f.tickers.All() {
		assert.True(t, tk.Stopped())
	}
	_, err := f.s.Start(context.Background(), StartRequest{UserID: 1, Interval: time.Second, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_CancelledContext(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.s.Start(ctx, StartRequest{UserID: 1, Interval: time.Second, Filter: models.AllSensorsFilter()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.s.List())
}
