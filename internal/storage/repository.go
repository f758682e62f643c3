package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"cashtrack/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is the canonical created_at representation. All timestamps are
// stored as UTC text so that lexical ordering matches chronological ordering
// and range filters can compare strings directly.
const timeLayout = "2006-01-02 15:04:05"

// ErrNotFound is returned when a lookup matches no row owned by the caller.
var ErrNotFound = errors.New("not found")

// TransactionFilter narrows the most-recent-transaction lookup. Zero values
// leave the corresponding dimension unfiltered.
type TransactionFilter struct {
	UserID   int64
	Category string
	HasCat   bool
	Type     core.TransactionType
	Since    time.Time // created_at lower bound
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Sweeps and request handlers share this pool; a single writer avoids
	// SQLITE_BUSY on concurrent inserts.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *SQLiteRepository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	var createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// --- transactions ---

// InsertTransaction commits a single transaction as its own atomic unit.
// CreatedAt defaults to the insertion time when unset.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, amount, description, category, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, string(t.Type), t.Amount.InexactFloat64(), t.Description, t.Category, formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

const transactionColumns = `id, user_id, type, amount, description, category, created_at`

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *SQLiteRepository) CountTransactions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// SearchTransactions matches the keyword against description and category
// with a substring LIKE, newest first.
func (r *SQLiteRepository) SearchTransactions(ctx context.Context, userID int64, keyword string, limit, offset int) ([]core.Transaction, int64, error) {
	pattern := "%" + keyword + "%"

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? AND (description LIKE ? OR category LIKE ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search transactions: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE user_id = ? AND (description LIKE ? OR category LIKE ?)`,
		userID, pattern, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	return txs, total, nil
}

// AllTransactions returns every transaction owned by the user, newest first.
// Used by the CSV export.
func (r *SQLiteRepository) AllTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("all transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, userID, id int64, amount decimal.Decimal, category, description string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET amount = ?, category = ?, description = ?
		 WHERE id = ? AND user_id = ?`,
		amount.InexactFloat64(), category, description, id, userID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestTransaction returns the most recent transaction matching the filter,
// or nil when none exists.
func (r *SQLiteRepository) LatestTransaction(ctx context.Context, f TransactionFilter) (*core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{f.UserID}

	if f.HasCat {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.Since))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, args...)
	var t core.Transaction
	var typ, createdAt string
	var amount float64
	if err := row.Scan(&t.ID, &t.UserID, &typ, &amount, &t.Description, &t.Category, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	t.Type = core.TransactionType(typ)
	t.Amount = decimal.NewFromFloat(amount)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var out []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var typ, createdAt string
		var amount float64
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &amount, &t.Description, &t.Category, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = core.TransactionType(typ)
		t.Amount = decimal.NewFromFloat(amount)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- aggregates ---

// SumByType totals one side of the ledger for a user. A zero since leaves the
// range unbounded.
func (r *SQLiteRepository) SumByType(ctx context.Context, userID int64, typ core.TransactionType, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = ? AND type = ?`
	args := []any{userID, string(typ)}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(since))
	}

	var total float64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum by type: %w", err)
	}
	return decimal.NewFromFloat(total).Round(2), nil
}

// DailyFlows returns per-day income and expense sums since the given date,
// oldest first. The running balance is left for the caller to accumulate.
func (r *SQLiteRepository) DailyFlows(ctx context.Context, userID int64, since time.Time) ([]core.TrendPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10) AS day,
		        COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = ? AND created_at >= ?
		 GROUP BY day
		 ORDER BY day`,
		userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("daily flows: %w", err)
	}
	defer rows.Close()

	var out []core.TrendPoint
	for rows.Next() {
		var p core.TrendPoint
		var income, expense float64
		if err := rows.Scan(&p.Date, &income, &expense); err != nil {
			return nil, fmt.Errorf("scan daily flow: %w", err)
		}
		p.Income = decimal.NewFromFloat(income).Round(2)
		p.Expense = decimal.NewFromFloat(expense).Round(2)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ExpenseByCategory(ctx context.Context, userID int64) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount) AS total
		 FROM transactions
		 WHERE user_id = ? AND type = 'expense'
		 GROUP BY category
		 ORDER BY total DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("expense by category: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryTotal
	for rows.Next() {
		var ct core.CategoryTotal
		var total float64
		if err := rows.Scan(&ct.Category, &total); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		ct.Total = decimal.NewFromFloat(total).Round(2)
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CategoryStats(ctx context.Context, userID int64) ([]core.CategoryStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category,
		        COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0),
		        COUNT(*)
		 FROM transactions
		 WHERE user_id = ? AND category != ''
		 GROUP BY category
		 ORDER BY COUNT(*) DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryStat
	for rows.Next() {
		var cs core.CategoryStat
		var income, expense float64
		if err := rows.Scan(&cs.Category, &income, &expense, &cs.Count); err != nil {
			return nil, fmt.Errorf("scan category stat: %w", err)
		}
		cs.Income = decimal.NewFromFloat(income).Round(2)
		cs.Expense = decimal.NewFromFloat(expense).Round(2)
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MonthlySummaries(ctx context.Context, userID int64, limit int) ([]core.MonthSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 7) AS month,
		        COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = ?
		 GROUP BY month
		 ORDER BY month DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("monthly summaries: %w", err)
	}
	defer rows.Close()

	var out []core.MonthSummary
	for rows.Next() {
		var ms core.MonthSummary
		var income, expense float64
		if err := rows.Scan(&ms.Month, &income, &expense); err != nil {
			return nil, fmt.Errorf("scan monthly summary: %w", err)
		}
		ms.Income = decimal.NewFromFloat(income).Round(2)
		ms.Expense = decimal.NewFromFloat(expense).Round(2)
		out = append(out, ms)
	}
	return out, rows.Err()
}

// AvgDailyTransactions returns the average number of transactions per active
// day for a user, 0 when the ledger is empty.
func (r *SQLiteRepository) AvgDailyTransactions(ctx context.Context, userID int64) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT AVG(daily_count) FROM (
		     SELECT COUNT(*) AS daily_count FROM transactions
		     WHERE user_id = ?
		     GROUP BY substr(created_at, 1, 10)
		 )`, userID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg daily transactions: %w", err)
	}
	return avg.Float64, nil
}

// --- schedule rules ---

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.ScheduleRule) (int64, error) {
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (user_id, frequency, amount, category, description, day_of_week, day_of_month, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.UserID, string(rule.Frequency), rule.Amount.InexactFloat64(),
		rule.Category, rule.Description, nullableInt(rule.DayOfWeek), nullableInt(rule.DayOfMonth), formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return res.LastInsertId()
}

const ruleColumns = `id, user_id, frequency, amount, category, description, day_of_week, day_of_month, created_at`

func (r *SQLiteRepository) ListRulesByUser(ctx context.Context, userID int64) ([]core.ScheduleRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM schedules
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules by user: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListRulesByFrequency returns every rule of one frequency class across all
// users, in stable id order. This feeds the scheduler's sweeps.
func (r *SQLiteRepository) ListRulesByFrequency(ctx context.Context, freq core.Frequency) ([]core.ScheduleRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM schedules
		 WHERE frequency = ?
		 ORDER BY id`, string(freq))
	if err != nil {
		return nil, fmt.Errorf("list rules by frequency: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRules(rows *sql.Rows) ([]core.ScheduleRule, error) {
	var out []core.ScheduleRule
	for rows.Next() {
		var rule core.ScheduleRule
		var freq, createdAt string
		var amount float64
		var dow, dom sql.NullInt64
		if err := rows.Scan(&rule.ID, &rule.UserID, &freq, &amount, &rule.Category, &rule.Description, &dow, &dom, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Frequency = core.Frequency(freq)
		rule.Amount = decimal.NewFromFloat(amount)
		if dow.Valid {
			v := int(dow.Int64)
			rule.DayOfWeek = &v
		}
		if dom.Valid {
			v := int(dom.Int64)
			rule.DayOfMonth = &v
		}
		rule.CreatedAt = parseTime(createdAt)
		out = append(out, rule)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
