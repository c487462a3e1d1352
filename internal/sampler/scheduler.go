// Package sampler runs one periodic snapshot task per user, copying selected live
// readings into durable storage.
//
// Overlap policy: a tick whose deadline arrives while the previous write for the same
// user is still running is skipped and counted, never queued or run concurrently.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"aquaflow/internal/metrics"
	"aquaflow/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidInterval = errors.New("invalid sampling interval")
	ErrInvalidUser     = errors.New("invalid user id")
	ErrEmptyFilter     = errors.New("category filter selects nothing")
	ErrNotRunning      = errors.New("sampler not running")
	ErrClosed          = errors.New("scheduler closed")
)

const (
	DefaultMinInterval  = time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Sink durable destination of one tick
type Sink interface {
	WriteBatch(ctx context.Context, readings []models.SampledReading, userID int64, tickAt time.Time) (int, error)
}

// SnapshotSource live state to sample
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// StartRequest parameters of Start
type StartRequest struct {
	UserID   int64
	Username string
	Interval time.Duration
	Filter   models.CategoryFilter
}

// ReconfigureRequest nil fields keep their current value
type ReconfigureRequest struct {
	Interval *time.Duration
	Filter   *models.CategoryFilter
}

// Status observable state of one user's sampler
type Status struct {
	UserID      int64                  `json:"user_id"`
	Username    string                 `json:"username,omitempty"`
	Running     bool                   `json:"running"`
	Interval    time.Duration          `json:"interval,omitempty"`
	IntervalMS  int64                  `json:"interval_ms,omitempty"`
	Filter      *models.CategoryFilter `json:"filter,omitempty"`
	Generation  uint64                 `json:"generation,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	LastTickAt  *time.Time             `json:"last_tick_at,omitempty"`
	Ticks       int64                  `json:"ticks"`
	Skipped     int64                  `json:"skipped"`
	Failures    int64                  `json:"failures"`
	RowsWritten int64                  `json:"rows_written"`
	LastError   string                 `json:"last_error,omitempty"`
	InFlight    bool                   `json:"in_flight"`
}

// Ticker periodic signal; time.Ticker in production
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMinInterval lowest accepted interval
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minInterval = d
		}
	}
}

// WithWriteTimeout bound on one batch write
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithClock replaces time.Now for tick timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickerFactory replaces time.NewTicker
func WithTickerFactory(f func(time.Duration) Ticker) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.newTicker = f
		}
	}
}

// WithMetrics records tick outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

type userSampler struct {
	userID     int64
	username   string
	interval   time.Duration
	filter     models.CategoryFilter
	generation uint64
	cancel     context.CancelFunc
	startedAt  time.Time

	ticks       int64
	skipped     int64
	failures    int64
	rowsWritten int64
	lastTickAt  time.Time
	lastError   string
}

// Scheduler owns every user's sampling timer
type Scheduler struct {
	source SnapshotSource
	sink   Sink
	logger *zap.Logger

	minInterval  time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	newTicker    func(time.Duration) Ticker
	metrics      *metrics.Metrics

	mu         sync.Mutex
	users      map[int64]*userSampler
	inFlight   map[int64]bool
	generation uint64
	closed     bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates an empty scheduler
func NewScheduler(source SnapshotSource, sink Sink, logger *zap.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		source:       source,
		sink:         sink,
		logger:       logger,
		minInterval:  DefaultMinInterval,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		newTicker: func(d time.Duration) Ticker {
			return stdTicker{t: time.NewTicker(d)}
		},
		users:      make(map[int64]*userSampler),
		inFlight:   make(map[int64]bool),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinInterval lowest accepted interval
func (s *Scheduler) MinInterval() time.Duration {
	return s.minInterval
}

// maxIntervalMS largest millisecond count that fits a time.Duration
const maxIntervalMS = math.MaxInt64 / int64(time.Millisecond)

// IntervalFromMillis converts a millisecond count from the outside world, rejecting
// values that are not positive or would overflow a time.Duration
func IntervalFromMillis(ms int64) (time.Duration, error) {
	if ms <= 0 {
		return 0, fmt.Errorf("%w: %dms must be positive", ErrInvalidInterval, ms)
	}
	if ms > maxIntervalMS {
		return 0, fmt.Errorf("%w: %dms is too large", ErrInvalidInterval, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (s *Scheduler) validateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidInterval, d)
	}
	if d < s.minInterval {
		return fmt.Errorf("%w: %s is below the minimum of %s", ErrInvalidInterval, d, s.minInterval)
	}
	return nil
}

func validateUser(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUser, userID)
	}
	return nil
}

// Start arms a sampler for the user, replacing any existing one. On error nothing
// changes, including a sampler that was already running.
func (s *Scheduler) Start(ctx context.Context, req StartRequest) (Status, error) {
	if err := validateUser(req.UserID); err != nil {
		return Status{}, err
	}
	if err := s.validateInterval(req.Interval); err != nil {
		return Status{}, err
	}
	if req.Filter.IsEmpty() {
		return Status{}, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Status{}, ErrClosed
	}

	replaced := false
	if old, ok := s.users[req.UserID]; ok {
		old.cancel()
		replaced = true
	}

	u := &userSampler{
		userID:    req.UserID,
		username:  req.Username,
		interval:  req.Interval,
		filter:    req.Filter,
		startedAt: s.now(),
	}
	s.users[req.UserID] = u
	s.arm(u)
	s.metrics.RunningSamplers(len(s.users))

	s.logger.Info("Sampler started",
		zap.Int64("user_id", u.userID),
		zap.String("username", u.username),
		zap.Duration("interval", u.interval),
		zap.Uint64("generation", u.generation),
		zap.Bool("replaced", replaced),
	)
	return s.statusLocked(u), nil
}

// Stop cancels the user's sampler. A write already in progress finishes; no tick
// fires afterwards.
func (s *Scheduler) Stop(userID int64) error {
	if err := validateUser(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotRunning
	}
	u.cancel()
	delete(s.users, userID)
	s.metrics.RunningSamplers(len(s.users))

	s.logger.Info("Sampler stopped", zap.Int64("user_id", userID), zap.Uint64("generation", u.generation))
	return nil
}

// Reconfigure changes only the provided fields. The timer is re-armed only when the
// interval actually changes; an in-flight write is neither lost nor repeated.
func (s *Scheduler) Reconfigure(ctx context.Context, userID int64, req ReconfigureRequest) (Status, error) {
	if err := validateUser(userID); err != nil {
		return Status{}, err
	}
	if req.Interval != nil {
		if err := s.validateInterval(*req.Interval); err != nil {
			return Status{}, err
		}
	}
	if req.Filter != nil && req.Filter.IsEmpty() {
		return Status{}, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Status{}, ErrNotRunning
	}

	if req.Filter != nil {
		u.filter = *req.Filter
	}
	if req.Interval != nil && *req.Interval != u.interval {
		u.cancel()
		u.interval = *req.Interval
		s.arm(u)
	}

	s.logger.Info("Sampler reconfigured",
		zap.Int64("user_id", userID),
		zap.Duration("interval", u.interval),
		zap.Uint64("generation", u.generation),
	)
	return s.statusLocked(u), nil
}

// Status returns the user's sampler state; Running is false when none is armed
func (s *Scheduler) Status(userID int64) (Status, error) {
	if err := validateUser(userID); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Status{UserID: userID, InFlight: s.inFlight[userID]}, nil
	}
	return s.statusLocked(u), nil
}

// List every armed sampler ordered by user
func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, s.statusLocked(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close stops every sampler and waits for in-flight writes
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, u := range s.users {
		u.cancel()
		delete(s.users, id)
	}
	s.metrics.RunningSamplers(0)
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
}

// arm starts a new timer generation for u; s.mu must be held
func (s *Scheduler) arm(u *userSampler) {
	s.generation++
	u.generation = s.generation

	ctx, cancel := context.WithCancel(s.baseCtx)
	u.cancel = cancel

	ticker := s.newTicker(u.interval)
	s.wg.Add(1)
	go s.run(ctx, ticker, u.userID, u.generation)
}

func (s *Scheduler) run(ctx context.Context, ticker Ticker, userID int64, generation uint64) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.fire(userID, generation)
		}
	}
}

// fire starts one tick unless the timer is stale or a write is still running
func (s *Scheduler) fire(userID int64, generation uint64) bool {
	s.mu.Lock()

	u, ok := s.users[userID]
	if !ok || u.generation != generation {
		s.mu.Unlock()
		s.metrics.Tick(metrics.ResultStale)
		s.logger.Debug("Discarding stale sampler tick",
			zap.Int64("user_id", userID),
			zap.Uint64("generation", generation),
		)
		return false
	}

	if s.inFlight[userID] {
		u.skipped++
		s.mu.Unlock()
		s.metrics.Tick(metrics.ResultSkipped)
		s.logger.Warn("Skipping sampler tick, previous write still running",
			zap.Int64("user_id", userID),
			zap.Duration("interval", u.interval),
		)
		return false
	}

	s.inFlight[userID] = true
	filter := u.filter
	tickAt := s.now()
	tickID := uuid.NewString()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.tick(u, generation, filter, tickID, tickAt)
	return true
}

// tick persists one batch on behalf of owner. Counters only land on owner while it
// is still the user's sampler; a Start or Stop in between leaves the new one alone.
func (s *Scheduler) tick(owner *userSampler, generation uint64, filter models.CategoryFilter, tickID string, tickAt time.Time) {
	defer s.wg.Done()
	userID := owner.userID

	rows := selectReadings(s.source.Snapshot(), filter, tickID, userID, tickAt)

	var (
		written int
		err     error
		took    time.Duration
	)
	if len(rows) > 0 {
		// not tied to the timer generation: a reconfigure must not abort this write
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		started := time.Now()
		written, err = s.sink.WriteBatch(ctx, rows, userID, tickAt)
		took = time.Since(started)
		cancel()
	}

	s.mu.Lock()
	delete(s.inFlight, userID)
	if u, ok := s.users[userID]; ok && u == owner {
		u.ticks++
		u.lastTickAt = tickAt
		if err != nil {
			u.failures++
			u.lastError = err.Error()
		} else {
			u.rowsWritten += int64(written)
			u.lastError = ""
		}
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.metrics.Tick(metrics.ResultFailed)
		s.logger.Error("Sampler tick failed to persist",
			zap.Int64("user_id", userID),
			zap.Uint64("generation", generation),
			zap.String("tick_id", tickID),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
	case len(rows) == 0:
		s.metrics.Tick(metrics.ResultEmpty)
		s.logger.Debug("Sampler tick selected no readings",
			zap.Int64("user_id", userID),
			zap.String("tick_id", tickID),
		)
	default:
		s.metrics.Tick(metrics.ResultPersisted)
		s.metrics.BatchWritten(written, took)
		s.logger.Debug("Sampler tick persisted",
			zap.Int64("user_id", userID),
			zap.String("tick_id", tickID),
			zap.Int("rows", written),
		)
	}
}

// statusLocked s.mu must be held
func (s *Scheduler) statusLocked(u *userSampler) Status {
	filter := u.filter
	startedAt := u.startedAt
	st := Status{
		UserID:      u.userID,
		Username:    u.username,
		Running:     true,
		Interval:    u.interval,
		IntervalMS:  u.interval.Milliseconds(),
		Filter:      &filter,
		Generation:  u.generation,
		StartedAt:   &startedAt,
		Ticks:       u.ticks,
		Skipped:     u.skipped,
		Failures:    u.failures,
		RowsWritten: u.rowsWritten,
		LastError:   u.lastError,
		InFlight:    s.inFlight[u.userID],
	}
	if !u.lastTickAt.IsZero() {
		last := u.lastTickAt
		st.LastTickAt = &last
	}
	return st
}
