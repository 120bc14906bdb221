/*
scheduler.go - Periodic pending-confirmation sweep

PURPOSE:
  Periodically lists invites stuck in PendingConfirmation (record store says
  booked, ledger does not) and reports them, so an operator can resolve
  them via POST /api/admin/invites/{id}/resolve.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Read-only: never retries the ledger on its own
  - Publishes the pending count as a gauge and logs each pending invite
  - Keeps the last run and next tick for GET /api/admin/sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(reconciler, metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual sweep)
  - invite/reconcile.go: Sweep
*/
package api

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dcjanio/vibehouse/invite"
)

// Sweeper is the part of the reconciler the scheduler needs.
type Sweeper interface {
	Sweep(ctx context.Context) ([]invite.View, error)
}

// SweepRun is the outcome of one sweep.
type SweepRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Pending     []string
	Err         error
}

// SweepScheduler runs the pending-confirmation sweep on a ticker.
type SweepScheduler struct {
	Sweeper       Sweeper
	Metrics       *invite.Metrics
	Log           *slog.Logger
	CheckInterval time.Duration
	Timeout       time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *SweepRun
	nextRun time.Time
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(sweeper Sweeper, metrics *invite.Metrics, log *slog.Logger) *SweepScheduler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SweepScheduler{
		Sweeper:       sweeper,
		Metrics:       metrics,
		Log:           log,
		CheckInterval: 15 * time.Minute,
		Timeout:       time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("sweep.disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.nextRun = time.Now().UTC().Add(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("sweep.started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Log.Info("sweep.stopped")
}

func (s *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case tick := <-ticker.C:
			s.mu.Lock()
			if s.ticker == ticker {
				s.nextRun = tick.UTC().Add(s.CheckInterval)
			}
			s.mu.Unlock()
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously and records it.
func (s *SweepScheduler) RunNow(ctx context.Context) SweepRun {
	run := SweepRun{StartedAt: time.Now().UTC()}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending, err := s.Sweeper.Sweep(ctx)
	run.CompletedAt = time.Now().UTC()
	if err != nil {
		run.Err = err
		s.Log.Error("sweep.failed", "err", err)
	} else {
		for _, v := range pending {
			run.Pending = append(run.Pending, v.ID)
			s.Log.Warn("sweep.pending_confirmation",
				"invite_id", v.ID, "host", v.Host, "event_ref", v.ExternalEventRef)
		}
		s.Metrics.SetPending(len(pending))
	}

	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent sweep, or nil before the first one.
func (s *SweepScheduler) LastRun() *SweepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

// NextRunTime returns when the next scheduled sweep will occur, or the zero
// time while the scheduler is stopped.
func (s *SweepScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Running reports whether the ticker loop is active.
func (s *SweepScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}
