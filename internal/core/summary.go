package core

import "github.com/shopspring/decimal"

// BalanceSummary is the derived balance for one user, always recomputed from
// the ledger and never persisted.
type BalanceSummary struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
}

// TrendPoint is one calendar day in a trend series. Balance is the running
// balance accumulated over the series, not the day's net.
type TrendPoint struct {
	Date    string // YYYY-MM-DD
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
}

// CategoryTotal represents an amount aggregated by category name.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// CategoryStat aggregates both directions plus usage count for one category.
type CategoryStat struct {
	Category string
	Income   decimal.Decimal
	Expense  decimal.Decimal
	Count    int64
}

// MonthSummary is a compact income/expense summary for a specific year+month.
type MonthSummary struct {
	Month   string // YYYY-MM
	Income  decimal.Decimal
	Expense decimal.Decimal
}
