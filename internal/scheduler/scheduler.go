// Package scheduler runs sync cycles one at a time, on a timer and on
// demand.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/sitesync/internal/model"
)

// TriggerKind is the outcome of a sync request.
type TriggerKind string

const (
	Accepted          TriggerKind = "accepted"
	AlreadyInProgress TriggerKind = "already_in_progress"
	Rejected          TriggerKind = "rejected"
)

// TriggerResult reports what happened to a sync request. Reason is set
// when the request was rejected.
type TriggerResult struct {
	Kind   TriggerKind `json:"result"`
	Reason string      `json:"reason,omitempty"`
}

// ErrNotRunning is the rejection reason when Run has not been started or
// has returned.
var ErrNotRunning = errors.New("scheduler is not running")

// Runner performs sync cycles. *engine.Synchroniser satisfies it.
type Runner interface {
	RunCycle(ctx context.Context) (model.SyncLog, error)
	Blocked() error
}

// CycleHook observes every finished cycle.
type CycleHook func(log model.SyncLog, err error)

// Scheduler is the single resident actor that starts sync cycles.
//
// It owns a capacity-1 trigger slot. A request claims the slot only when
// no cycle is running or queued, so requests made while a cycle is busy
// are reported and dropped, never queued behind it.
//
// Thread-safety model:
//   - RequestSync(), Busy(), SetInterval(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine; cycles run on it
type Scheduler struct {
	runner      Runner
	logger      *slog.Logger
	hook        CycleHook
	syncOnStart bool

	trigger  chan struct{} // capacity 1
	interval chan time.Duration
	busy     atomic.Bool
	running  atomic.Bool

	mu      sync.Mutex
	current time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithCycleHook registers a function called after each cycle on the Run
// goroutine.
func WithCycleHook(h CycleHook) Option {
	return func(s *Scheduler) {
		s.hook = h
	}
}

// WithSyncOnStart requests a cycle as soon as Run starts.
func WithSyncOnStart() Option {
	return func(s *Scheduler) {
		s.syncOnStart = true
	}
}

// New creates a scheduler that requests a cycle every interval. A
// non-positive interval disables the timer; cycles then only run on
// request.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		logger:   slog.Default(),
		trigger:  make(chan struct{}, 1),
		interval: make(chan time.Duration, 1),
		current:  interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestSync asks for a cycle. It never blocks.
func (s *Scheduler) RequestSync() TriggerResult {
	if !s.running.Load() {
		return TriggerResult{Kind: Rejected, Reason: ErrNotRunning.Error()}
	}
	if err := s.runner.Blocked(); err != nil {
		return TriggerResult{Kind: Rejected, Reason: err.Error()}
	}
	if !s.busy.CompareAndSwap(false, true) {
		return TriggerResult{Kind: AlreadyInProgress}
	}

	// busy was clear, so the slot is empty.
	select {
	case s.trigger <- struct{}{}:
		return TriggerResult{Kind: Accepted}
	default:
		s.busy.Store(false)
		return TriggerResult{Kind: AlreadyInProgress}
	}
}

// Busy reports whether a cycle is running or about to start.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Interval returns the timer interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetInterval changes the timer interval. It takes effect on the Run
// goroutine once any running cycle finishes.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = d

	// Replace any pending change with the newest.
	select {
	case <-s.interval:
	default:
	}
	s.interval <- d
}

// Run processes sync requests until ctx is cancelled. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler: Run called twice")
	}
	defer s.running.Store(false)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	setTimer := func(d time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
	}
	setTimer(s.Interval())
	defer func() { setTimer(0) }()

	s.logger.Info("scheduler started", "interval", s.Interval())
	if s.syncOnStart {
		if res := s.RequestSync(); res.Kind != Accepted {
			s.logger.Info("initial sync skipped", "result", res.Kind, "reason", res.Reason)
		}
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()

		case d := <-s.interval:
			setTimer(d)
			s.logger.Info("sync interval changed", "interval", d)

		case <-tick:
			res := s.RequestSync()
			if res.Kind != Accepted {
				s.logger.Debug("timed sync skipped", "result", res.Kind, "reason", res.Reason)
			}

		case <-s.trigger:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	log, err := s.runner.RunCycle(ctx)
	s.busy.Store(false)

	if err != nil {
		s.logger.Warn("sync cycle ended with error", "error", err)
	}
	if s.hook != nil {
		s.hook(log, err)
	}
}
