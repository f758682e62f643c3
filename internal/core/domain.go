package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// AutoDisbursePrefix marks transactions created by the scheduler rather than
// by direct user action.
const AutoDisbursePrefix = "[auto] "

type (
	TransactionType string

	Frequency string

	User struct {
		ID           int64
		Username     string
		PasswordHash string
		CreatedAt    time.Time
	}

	Transaction struct {
		ID          int64
		UserID      int64
		Type        TransactionType
		Amount      decimal.Decimal
		Category    string
		Description string
		CreatedAt   time.Time
	}

	ScheduleRule struct {
		ID          int64
		UserID      int64
		Frequency   Frequency
		Amount      decimal.Decimal
		Category    string
		Description string
		DayOfWeek   *int // 0-6, advisory, only meaningful for weekly rules
		DayOfMonth  *int // 1-31, advisory, only meaningful for monthly rules
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidDayOfWeek = errors.New("day of week must be between 0 and 6")
	ErrInvalidDay       = errors.New("day of month must be between 1 and 31")
	ErrEmptyUsername    = errors.New("username cannot be empty")
	ErrShortPassword    = errors.New("password must be at least 6 characters")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// ParseAmount converts a decimal string into a positive amount.
// Both dot and comma decimal separators are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

func (r ScheduleRule) Validate() error {
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < 0 || *r.DayOfWeek > 6) {
		return ErrInvalidDayOfWeek
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		return ErrInvalidDay
	}
	if len(r.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// DisburseDescription builds the description carried by an auto-disbursed
// transaction: the auto marker followed by the rule description, falling back
// to the category when no description was configured.
func (r ScheduleRule) DisburseDescription() string {
	label := strings.TrimSpace(r.Description)
	if label == "" {
		label = r.Category
	}
	return AutoDisbursePrefix + label
}
