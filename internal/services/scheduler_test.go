package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashtrack/internal/core"
	"cashtrack/internal/log"
	"cashtrack/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeLedger backs both scheduler ports with an in-memory rule set and
// transaction log.
type fakeLedger struct {
	mu    sync.Mutex
	rules map[core.Frequency][]core.ScheduleRule
	txs   []core.Transaction

	createErr error
	listErr   map[core.Frequency]error
	listCalls map[core.Frequency]int
	nextID    int64
}

func (f *fakeLedger) ListRulesByFrequency(_ context.Context, freq core.Frequency) ([]core.ScheduleRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listCalls == nil {
		f.listCalls = make(map[core.Frequency]int)
	}
	f.listCalls[freq]++
	if err := f.listErr[freq]; err != nil {
		return nil, err
	}
	return f.rules[freq], nil
}

func (f *fakeLedger) listCount(freq core.Frequency) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[freq]
}

func (f *fakeLedger) LatestTransaction(_ context.Context, filter storage.TransactionFilter) (*core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *core.Transaction
	for i := range f.txs {
		tx := f.txs[i]
		if tx.UserID != filter.UserID {
			continue
		}
		if filter.HasCat && tx.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && tx.CreatedAt.Before(filter.Since) {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = &tx
		}
	}
	return latest, nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, t core.Transaction) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	t.ID = f.nextID
	f.txs = append(f.txs, t)
	return t.ID, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func dailyRule(userID int64, category string) core.ScheduleRule {
	return core.ScheduleRule{
		ID:        1,
		UserID:    userID,
		Frequency: core.Daily,
		Amount:    decimal.NewFromInt(20),
		Category:  category,
	}
}

func TestSweep_DisbursesOncePerPeriod(t *testing.T) {
	ledger := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{
		core.Daily: {dailyRule(1, "allowance")},
	}}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock})

	count, err := s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Sweep() disbursed = %d, want 1", count)
	}

	tx := ledger.txs[0]
	if tx.Type != core.Income {
		t.Errorf("disbursed type = %s, want income", tx.Type)
	}
	if tx.Description != "[auto] allowance" {
		t.Errorf("disbursed description = %q, want %q", tx.Description, "[auto] allowance")
	}

	// Same period again: nothing to do.
	count, err = s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() second run error = %v", err)
	}
	if count != 0 {
		t.Errorf("Sweep() second run disbursed = %d, want 0", count)
	}

	// Next day: due again.
	clock.set(time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))
	count, err = s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() next day error = %v", err)
	}
	if count != 1 {
		t.Errorf("Sweep() next day disbursed = %d, want 1", count)
	}
}

func TestSweep_ManualTransactionSuppressesDisbursement(t *testing.T) {
	ledger := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{
		core.Daily: {dailyRule(1, "allowance")},
	}}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}

	// A manual expense in the same category earlier today counts as the
	// period's matching transaction.
	ledger.txs = append(ledger.txs, core.Transaction{
		ID:        99,
		UserID:    1,
		Type:      core.Expense,
		Amount:    decimal.NewFromInt(5),
		Category:  "allowance",
		CreatedAt: time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC),
	})

	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock})
	count, err := s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Sweep() disbursed = %d, want 0", count)
	}
}

func TestSweep_RuleFailureDoesNotStopSweep(t *testing.T) {
	ledger := &fakeLedger{
		rules: map[core.Frequency][]core.ScheduleRule{
			core.Daily: {dailyRule(1, "allowance"), dailyRule(2, "pocket money")},
		},
		createErr: errors.New("disk full"),
	}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock})

	count, err := s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() error = %v, want nil (per-rule failures are logged)", err)
	}
	if count != 0 {
		t.Errorf("Sweep() disbursed = %d, want 0", count)
	}

	// Store recovers: both rules disbursed on the next pass.
	ledger.mu.Lock()
	ledger.createErr = nil
	ledger.mu.Unlock()

	count, err = s.Sweep(context.Background(), core.Daily)
	if err != nil {
		t.Fatalf("Sweep() after recovery error = %v", err)
	}
	if count != 2 {
		t.Errorf("Sweep() after recovery disbursed = %d, want 2", count)
	}
}

func TestCatchUp_Idempotent(t *testing.T) {
	ledger := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{
		core.Daily:   {dailyRule(1, "daily allowance")},
		core.Weekly:  {{ID: 2, UserID: 1, Frequency: core.Weekly, Amount: decimal.NewFromInt(50), Category: "weekly allowance"}},
		core.Monthly: {{ID: 3, UserID: 1, Frequency: core.Monthly, Amount: decimal.NewFromInt(200), Category: "salary"}},
	}}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock})

	for i := 0; i < 5; i++ {
		if err := s.CatchUp(context.Background()); err != nil {
			t.Fatalf("CatchUp() run %d error = %v", i, err)
		}
	}

	if got := ledger.count(); got != 3 {
		t.Errorf("transactions after 5 catch-ups = %d, want 3 (one per rule)", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ledger := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{}}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{
		Clock: clock,
		Tick:  10 * time.Millisecond,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	s.Stop()
	s.Stop() // second Stop is a no-op

	// Restart after stop works.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() after Stop() error = %v", err)
	}
	s.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	ledger := &fakeLedger{}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{})
	s.Stop() // must not panic or block
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestCheckpointsFireOncePerDay(t *testing.T) {
	ledger := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{
		core.Daily:   {{ID: 1, UserID: 1, Frequency: core.Daily, Amount: decimal.NewFromInt(5), Category: "daily allowance"}},
		core.Weekly:  {{ID: 2, UserID: 1, Frequency: core.Weekly, Amount: decimal.NewFromInt(50), Category: "weekly allowance"}},
		core.Monthly: {{ID: 3, UserID: 1, Frequency: core.Monthly, Amount: decimal.NewFromInt(200), Category: "salary"}},
	}}
	// Monday, the first of the month, inside the checkpoint hour: every
	// class triggers.
	clock := &fakeClock{now: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock, Hour: 9})

	checkpoints, err := s.registerCheckpoints()
	if err != nil {
		t.Fatalf("registerCheckpoints() error = %v", err)
	}
	s.checkpoints = checkpoints
	ctx := context.Background()

	s.fireDue(ctx)
	waitFor(t, "all classes to sweep", func() bool {
		return ledger.listCount(core.Daily) == 1 &&
			ledger.listCount(core.Weekly) == 1 &&
			ledger.listCount(core.Monthly) == 1
	})
	waitFor(t, "three disbursements", func() bool { return ledger.count() == 3 })

	// Repeated ticks inside the same trigger window do not re-fire.
	s.fireDue(ctx)
	s.fireDue(ctx)
	time.Sleep(50 * time.Millisecond)
	for _, freq := range []core.Frequency{core.Daily, core.Weekly, core.Monthly} {
		if got := ledger.listCount(freq); got != 1 {
			t.Errorf("sweeps for %s after repeat ticks = %d, want 1", freq, got)
		}
	}

	// Tuesday the 2nd: only the daily checkpoint triggers again.
	clock.set(time.Date(2024, 7, 2, 9, 5, 0, 0, time.UTC))
	s.fireDue(ctx)
	waitFor(t, "daily re-fire", func() bool { return ledger.listCount(core.Daily) == 2 })
	waitFor(t, "fourth disbursement", func() bool { return ledger.count() == 4 })
	if got := ledger.listCount(core.Weekly); got != 1 {
		t.Errorf("weekly sweeps on Tuesday = %d, want 1", got)
	}
	if got := ledger.listCount(core.Monthly); got != 1 {
		t.Errorf("monthly sweeps on day 2 = %d, want 1", got)
	}

	// Wednesday outside the checkpoint hour: nothing triggers.
	clock.set(time.Date(2024, 7, 3, 15, 0, 0, 0, time.UTC))
	s.fireDue(ctx)
	time.Sleep(50 * time.Millisecond)
	if got := ledger.listCount(core.Daily); got != 2 {
		t.Errorf("daily sweeps at 15:00 = %d, want 2", got)
	}
}

// blockingLedger parks LatestTransaction on a gate so a sweep can be held
// in flight while the scheduler is stopped.
type blockingLedger struct {
	*fakeLedger

	gateMu   sync.Mutex
	gate     chan struct{}
	entered  chan struct{}
	storeErr error
}

func (b *blockingLedger) LatestTransaction(ctx context.Context, f storage.TransactionFilter) (*core.Transaction, error) {
	b.gateMu.Lock()
	gate := b.gate
	b.gateMu.Unlock()
	if gate != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		<-gate
		b.gateMu.Lock()
		b.storeErr = ctx.Err()
		b.gateMu.Unlock()
	}
	return b.fakeLedger.LatestTransaction(ctx, f)
}

func (b *blockingLedger) setGate(gate chan struct{}) {
	b.gateMu.Lock()
	b.gate = gate
	b.gateMu.Unlock()
}

func (b *blockingLedger) contextErr() error {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()
	return b.storeErr
}

func TestStop_AllowsInFlightSweepToFinish(t *testing.T) {
	base := &fakeLedger{rules: map[core.Frequency][]core.ScheduleRule{
		core.Daily: {dailyRule(1, "allowance")},
	}}
	ledger := &blockingLedger{fakeLedger: base, entered: make(chan struct{}, 1)}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, base, testLogger(), SchedulerOptions{
		Clock: clock,
		Tick:  5 * time.Millisecond,
		Hour:  9,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "catch-up disbursement", func() bool { return base.count() == 1 })

	// Next day inside the checkpoint hour: the daily checkpoint fires and
	// the sweep parks inside the store lookup.
	gate := make(chan struct{})
	ledger.setGate(gate)
	clock.set(time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))

	select {
	case <-ledger.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the checkpoint sweep to start")
	}

	s.Stop()
	close(gate)

	// The held sweep still completes its disbursement after Stop.
	waitFor(t, "in-flight sweep to finish", func() bool { return base.count() == 2 })
	if err := ledger.contextErr(); err != nil {
		t.Errorf("store call context error after Stop() = %v, want nil", err)
	}
}

func TestCatchUp_ClassFailureDoesNotStopOthers(t *testing.T) {
	ledger := &fakeLedger{
		rules: map[core.Frequency][]core.ScheduleRule{
			core.Weekly:  {{ID: 2, UserID: 1, Frequency: core.Weekly, Amount: decimal.NewFromInt(50), Category: "weekly allowance"}},
			core.Monthly: {{ID: 3, UserID: 1, Frequency: core.Monthly, Amount: decimal.NewFromInt(200), Category: "salary"}},
		},
		listErr: map[core.Frequency]error{core.Daily: errors.New("corrupt index")},
	}
	clock := &fakeClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Clock: clock})

	err := s.CatchUp(context.Background())
	if err == nil {
		t.Fatal("CatchUp() error = nil, want the daily class failure")
	}
	if got := ledger.count(); got != 2 {
		t.Errorf("transactions = %d, want 2 (weekly and monthly swept despite daily failure)", got)
	}
}

func TestNewScheduler_HourOption(t *testing.T) {
	ledger := &fakeLedger{}

	tests := []struct {
		name string
		hour int
		want int
	}{
		{"explicit", 13, 13},
		{"midnight", 0, 0},
		{"negative falls back", -1, 9},
		{"too large falls back", 24, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(ledger, ledger, testLogger(), SchedulerOptions{Hour: tt.hour})
			if s.hour != tt.want {
				t.Errorf("hour = %d, want %d", s.hour, tt.want)
			}
		})
	}
}
