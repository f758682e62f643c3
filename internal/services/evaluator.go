// Package services provides business logic and orchestration services.
//
// This file implements the dueness check for allowance schedule rules. Each
// frequency class (daily, weekly, monthly) has its own checker that defines
// the period window containing a given instant.

package services

import (
	"fmt"
	"time"

	"cashtrack/internal/core"
)

// DuenessChecker is the strategy interface for deciding whether a schedule
// rule is due within the current period.
type DuenessChecker interface {
	// PeriodStart returns the start of the period containing now. The
	// scheduler uses it as the created_at lower bound when looking up the
	// most recent matching transaction.
	PeriodStart(now time.Time) time.Time

	// IsDue reports whether a disbursement is due given the most recent
	// transaction matching the rule's owner and category. Pure function,
	// no side effects: a nil last, or a last created before the current
	// period, means due.
	IsDue(last *core.Transaction, now time.Time) bool
}

// DailyChecker implements DuenessChecker for daily rules. The period is the
// calendar day (UTC) containing now.
type DailyChecker struct{}

func (DailyChecker) PeriodStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (c DailyChecker) IsDue(last *core.Transaction, now time.Time) bool {
	return last == nil || last.CreatedAt.Before(c.PeriodStart(now))
}

// WeeklyChecker implements DuenessChecker for weekly rules. The period is the
// rolling 7-day window ending at now, not an ISO calendar week; the stored
// day_of_week field is advisory and does not gate dueness.
type WeeklyChecker struct{}

func (WeeklyChecker) PeriodStart(now time.Time) time.Time {
	return now.UTC().Add(-7 * 24 * time.Hour)
}

func (c WeeklyChecker) IsDue(last *core.Transaction, now time.Time) bool {
	return last == nil || last.CreatedAt.Before(c.PeriodStart(now))
}

// MonthlyChecker implements DuenessChecker for monthly rules. The period is
// the calendar month (UTC) containing now; day_of_month is advisory.
type MonthlyChecker struct{}

func (MonthlyChecker) PeriodStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func (c MonthlyChecker) IsDue(last *core.Transaction, now time.Time) bool {
	return last == nil || last.CreatedAt.Before(c.PeriodStart(now))
}

// duenessStrategies maps frequency classes to their checkers.
var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
}

// GetDuenessChecker returns the checker for a frequency class.
// Returns an error for unknown frequencies.
func GetDuenessChecker(freq core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[freq]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", freq)
	}
	return checker, nil
}
