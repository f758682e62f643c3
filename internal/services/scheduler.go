package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cashtrack/internal/core"
	"cashtrack/internal/log"
	"cashtrack/internal/storage"
)

// LedgerReader is the read side of the ledger the scheduler depends on.
type LedgerReader interface {
	ListRulesByFrequency(ctx context.Context, freq core.Frequency) ([]core.ScheduleRule, error)
	LatestTransaction(ctx context.Context, f storage.TransactionFilter) (*core.Transaction, error)
}

// TransactionWriter commits a single transaction to the ledger.
type TransactionWriter interface {
	CreateTransaction(ctx context.Context, t core.Transaction) (int64, error)
}

var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler drives the recurring allowance disbursements. It owns a single
// timer loop that evaluates checkpoint predicates once per tick and fires the
// matching frequency sweep. Sweeps of the same frequency class never overlap;
// sweeps of different classes may run concurrently since their periods are
// disjoint.
type Scheduler struct {
	reader LedgerReader
	writer TransactionWriter
	clock  Clock
	logger *log.Logger

	tick time.Duration
	hour int // wall-clock hour at which checkpoints fire

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	checkpoints []*checkpoint
	sweepLocks  map[core.Frequency]*sync.Mutex
}

// checkpoint pairs a trigger predicate with the frequency class it sweeps.
// lastFired dedupes repeated ticks inside the same trigger window.
type checkpoint struct {
	freq      core.Frequency
	due       func(now time.Time) bool
	lastFired time.Time
}

type SchedulerOptions struct {
	Tick  time.Duration // timer loop resolution, defaults to one minute
	Hour  int           // checkpoint hour 0-23, zero is midnight; outside that range falls back to 9
	Clock Clock         // defaults to the real clock
}

func NewScheduler(reader LedgerReader, writer TransactionWriter, logger *log.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.Hour < 0 || opts.Hour > 23 {
		opts.Hour = 9
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	return &Scheduler{
		reader: reader,
		writer: writer,
		clock:  opts.Clock,
		logger: logger.WithComponent("scheduler"),
		tick:   opts.Tick,
		hour:   opts.Hour,
		sweepLocks: map[core.Frequency]*sync.Mutex{
			core.Daily:   {},
			core.Weekly:  {},
			core.Monthly: {},
		},
	}
}

// Start transitions the scheduler from Stopped to Running: it registers the
// three periodic checkpoints, runs one synchronous catch-up sweep across all
// frequency classes, and launches the timer loop. A checkpoint registration
// failure is fatal and propagates; catch-up sweep errors are logged only,
// since dueness is recomputed at the next checkpoint.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	checkpoints, err := s.registerCheckpoints()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.checkpoints = checkpoints

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Scheduler starting",
		"tick", s.tick,
		"checkpoint_hour", s.hour)

	if err := s.CatchUp(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Catch-up sweep failed", "error", err)
	}

	go s.run(loopCtx)
	return nil
}

// Stop cancels future checkpoints and waits for the timer loop to exit.
// In-flight sweeps are allowed to finish. Safe to call when the scheduler
// never started, and safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) registerCheckpoints() ([]*checkpoint, error) {
	for _, freq := range []core.Frequency{core.Daily, core.Weekly, core.Monthly} {
		if _, err := GetDuenessChecker(freq); err != nil {
			return nil, err
		}
	}
	return []*checkpoint{
		{
			freq: core.Daily,
			due: func(now time.Time) bool {
				return now.Hour() == s.hour
			},
		},
		{
			freq: core.Weekly,
			due: func(now time.Time) bool {
				return now.Weekday() == time.Monday && now.Hour() == s.hour
			},
		},
		{
			freq: core.Monthly,
			due: func(now time.Time) bool {
				return now.Day() == 1 && now.Hour() == s.hour
			},
		},
	}, nil
}

// CatchUp runs one full sweep across every frequency class, concurrently.
// Used at startup to cover periods missed while the process was down, and by
// the one-shot sweep command.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	// No derived context here: the classes are independent and one class
	// failing must not cancel the others mid-sweep.
	var g errgroup.Group
	for _, freq := range []core.Frequency{core.Daily, core.Weekly, core.Monthly} {
		freq := freq
		g.Go(func() error {
			_, err := s.Sweep(ctx, freq)
			return err
		})
	}
	return g.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue evaluates every checkpoint predicate against the current clock and
// launches a sweep for each one that triggers. At most one trigger per
// checkpoint per calendar day.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock.Now()
	for _, cp := range s.checkpoints {
		if !cp.due(now) || sameDay(cp.lastFired, now) {
			continue
		}
		cp.lastFired = now

		// Stop cancels future ticks only; a sweep already launched keeps
		// its store access alive until it finishes.
		sweepCtx := context.WithoutCancel(ctx)
		go func(freq core.Frequency) {
			count, err := s.Sweep(sweepCtx, freq)
			if err != nil {
				s.logger.ErrorContext(sweepCtx, "Checkpoint sweep failed",
					"frequency", freq, "error", err)
				return
			}
			s.logger.InfoContext(sweepCtx, "Checkpoint sweep complete",
				"frequency", freq, "disbursed", count)
		}(cp.freq)
	}
}

// Sweep evaluates every rule of one frequency class and disburses the due
// ones. A rule's failure is logged and does not stop the sweep. If a sweep of
// the same class is already running the call is skipped: the work is
// idempotent and the next checkpoint recovers anything missed.
func (s *Scheduler) Sweep(ctx context.Context, freq core.Frequency) (int, error) {
	checker, err := GetDuenessChecker(freq)
	if err != nil {
		return 0, err
	}

	lock := s.sweepLocks[freq]
	if !lock.TryLock() {
		s.logger.WarnContext(ctx, "Sweep already in progress, skipping", "frequency", freq)
		return 0, nil
	}
	defer lock.Unlock()

	now := s.clock.Now()

	rules, err := s.reader.ListRulesByFrequency(ctx, freq)
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Sweep started",
		"frequency", freq,
		"rules", len(rules),
		"period_start", checker.PeriodStart(now).Format("2006-01-02 15:04:05"))

	disbursed := 0
	for _, rule := range rules {
		// The dedupe key is (user, category, period): any transaction in
		// the window suppresses the disbursement, manual entries included.
		last, err := s.reader.LatestTransaction(ctx, storage.TransactionFilter{
			UserID:   rule.UserID,
			Category: rule.Category,
			HasCat:   true,
			Since:    checker.PeriodStart(now),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to look up last matching transaction",
				"rule_id", rule.ID, "user_id", rule.UserID, "error", err)
			continue
		}

		if !checker.IsDue(last, now) {
			continue
		}

		id, err := s.writer.CreateTransaction(ctx, core.Transaction{
			UserID:      rule.UserID,
			Type:        core.Income,
			Amount:      rule.Amount,
			Category:    rule.Category,
			Description: rule.DisburseDescription(),
			CreatedAt:   now,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to disburse allowance",
				"rule_id", rule.ID, "user_id", rule.UserID, "error", err)
			continue
		}

		disbursed++
		s.logger.InfoContext(ctx, "Allowance disbursed",
			"rule_id", rule.ID,
			"user_id", rule.UserID,
			"transaction_id", id,
			"amount", rule.Amount.String(),
			"category", rule.Category,
			"frequency", freq)
	}

	s.logger.InfoContext(ctx, "Sweep complete",
		"frequency", freq,
		"rules", len(rules),
		"disbursed", disbursed)

	return disbursed, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
