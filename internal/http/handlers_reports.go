package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cashtrack/internal/core"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner := userID(r.Context())

	income, err := s.store.SumByType(r.Context(), owner, core.Income, time.Time{})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to sum income", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	expense, err := s.store.SumByType(r.Context(), owner, core.Expense, time.Time{})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to sum expense", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"income":  income.StringFixed(2),
		"expense": expense.StringFixed(2),
		"balance": income.Sub(expense).StringFixed(2),
	})
}

type trendPointDTO struct {
	Date    string `json:"date"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Balance string `json:"balance"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}

	since := s.clock.Now().UTC().AddDate(0, 0, -days)
	points, err := s.store.DailyFlows(r.Context(), userID(r.Context()), since)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load daily flows", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]trendPointDTO, len(points))
	running := decimal.Zero
	for i, p := range points {
		running = running.Add(p.Income).Sub(p.Expense)
		out[i] = trendPointDTO{
			Date:    p.Date,
			Income:  p.Income.StringFixed(2),
			Expense: p.Expense.StringFixed(2),
			Balance: running.StringFixed(2),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"trends": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner := userID(r.Context())

	byCategory, err := s.store.ExpenseByCategory(r.Context(), owner)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load category totals", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	weekAgo := s.clock.Now().UTC().AddDate(0, 0, -7)
	weekIncome, err := s.store.SumByType(r.Context(), owner, core.Income, weekAgo)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to sum weekly income", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	weekExpense, err := s.store.SumByType(r.Context(), owner, core.Expense, weekAgo)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to sum weekly expense", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	categories := make([]map[string]string, len(byCategory))
	for i, c := range byCategory {
		categories[i] = map[string]string{
			"category": c.Category,
			"total":    c.Total.StringFixed(2),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expense_by_category": categories,
		"week_income":         weekIncome.StringFixed(2),
		"week_expense":        weekExpense.StringFixed(2),
	})
}

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	owner := userID(r.Context())
	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	type sums struct {
		income  decimal.Decimal
		expense decimal.Decimal
	}
	load := func(since time.Time) (sums, error) {
		income, err := s.store.SumByType(r.Context(), owner, core.Income, since)
		if err != nil {
			return sums{}, err
		}
		expense, err := s.store.SumByType(r.Context(), owner, core.Expense, since)
		if err != nil {
			return sums{}, err
		}
		return sums{income: income, expense: expense}, nil
	}

	todaySums, err := load(today)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load today sums", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	monthSums, err := load(monthStart)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load month sums", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	total, err := s.store.CountTransactions(r.Context(), owner)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to count transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	avgDaily, err := s.store.AvgDailyTransactions(r.Context(), owner)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute daily average", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"today_income":       todaySums.income.StringFixed(2),
		"today_expense":      todaySums.expense.StringFixed(2),
		"month_income":       monthSums.income.StringFixed(2),
		"month_expense":      monthSums.expense.StringFixed(2),
		"total_transactions": total,
		"avg_daily":          strconv.FormatFloat(avgDaily, 'f', 2, 64),
	})
}

func (s *Server) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	months, err := s.store.MonthlySummaries(r.Context(), userID(r.Context()), 12)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load monthly summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]string, len(months))
	for i, m := range months {
		out[i] = map[string]string{
			"month":   m.Month,
			"income":  m.Income.StringFixed(2),
			"expense": m.Expense.StringFixed(2),
			"balance": m.Income.Sub(m.Expense).StringFixed(2),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"months": out})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CategoryStats(r.Context(), userID(r.Context()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load category stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, len(stats))
	for i, c := range stats {
		out[i] = map[string]any{
			"category": c.Category,
			"income":   c.Income.StringFixed(2),
			"expense":  c.Expense.StringFixed(2),
			"count":    c.Count,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}
