package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"billfold/internal/core"

	_ "modernc.org/sqlite"
)

// Sync status values for the spreadsheet export worker.
const (
	SyncPending = 0
	SyncDone    = 1
	SyncFailed  = 2
)

// Repository is the SQLite-backed store for users and expenses.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One writer at a time keeps SQLITE_BUSY out of concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetOrCreateUser returns the user with the given username, creating it
// on first login. Credential verification lives with the caller.
func (r *Repository) GetOrCreateUser(ctx context.Context, username string) (core.User, error) {
	u := core.User{Username: username}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}

	// Concurrent first logins race each other, so the insert tolerates
	// an existing row and the select below reads whichever row won.
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING`, username)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		slog.InfoContext(ctx, "Provisioned user", "username", username)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username)
	var user core.User
	if err := row.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		return core.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// CreateExpense inserts a validated expense and returns its id.
func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (user_id, item, amount_cents, expense_date, category)
		 VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Item, e.Amount.Cents, e.Date.ISO(), e.Category)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense insert id: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"user_id", e.UserID,
		"item", e.Item,
		"amount_cents", e.Amount.Cents)
	return id, nil
}

// GetExpense returns one expense, scoped to its owner.
func (r *Repository) GetExpense(ctx context.Context, userID, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, item, amount_cents, expense_date, category, created_at
		 FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	return scanExpense(row)
}

// GetExpenseByID returns one expense regardless of owner. Used by the
// export worker, which acts on ids from the sync queue.
func (r *Repository) GetExpenseByID(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, item, amount_cents, expense_date, category, created_at
		 FROM expenses WHERE id = ?`, id)
	return scanExpense(row)
}

// ListExpenses returns all expenses of a user, newest date first.
func (r *Repository) ListExpenses(ctx context.Context, userID int64) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, item, amount_cents, expense_date, category, created_at
		 FROM expenses WHERE user_id = ? ORDER BY expense_date DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

// UpdateExpense rewrites all user-editable fields of an expense. A
// changed expense goes back to the sync queue.
func (r *Repository) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET item = ?, amount_cents = ?, expense_date = ?, category = ?, sync_status = ?
		 WHERE id = ? AND user_id = ?`,
		e.Item, e.Amount.Cents, e.Date.ISO(), e.Category, SyncPending, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrExpenseNotFound
	}
	return nil
}

// DeleteExpense removes an expense, scoped to its owner.
func (r *Repository) DeleteExpense(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrExpenseNotFound
	}
	return nil
}

// MonthSummary aggregates one user's month by category.
func (r *Repository) MonthSummary(ctx context.Context, userID int64, year, month int) (core.MonthSummary, error) {
	summary := core.MonthSummary{Year: year, Month: month}
	from := core.NewDate(year, month, 1)
	to := core.Date{Time: from.AddDate(0, 1, 0)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents)
		 FROM expenses
		 WHERE user_id = ? AND expense_date >= ? AND expense_date < ?
		 GROUP BY category ORDER BY SUM(amount_cents) DESC`,
		userID, from.ISO(), to.ISO())
	if err != nil {
		return summary, fmt.Errorf("query month summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return summary, fmt.Errorf("scan category sum: %w", err)
		}
		summary.ByCategory = append(summary.ByCategory, ca)
		summary.Total.Cents += ca.Amount.Cents
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("iterate month summary: %w", err)
	}
	return summary, nil
}

// GetPendingSyncExpenses returns up to limit expenses waiting for
// spreadsheet export.
func (r *Repository) GetPendingSyncExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, item, amount_cents, expense_date, category, created_at
		 FROM expenses WHERE sync_status = ? ORDER BY id LIMIT ?`, SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending sync expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sync expenses: %w", err)
	}
	return out, nil
}

// MarkSynced records a successful export.
func (r *Repository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET sync_status = ? WHERE id = ?`, SyncDone, id); err != nil {
		return fmt.Errorf("mark expense synced: %w", err)
	}
	return nil
}

// MarkSyncError records a failed export so the periodic pass can skip it.
func (r *Repository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET sync_status = ? WHERE id = ?`, SyncFailed, id); err != nil {
		return fmt.Errorf("mark expense sync error: %w", err)
	}
	slog.WarnContext(ctx, "Expense marked with sync error", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var e core.Expense
	var date string
	err := row.Scan(&e.ID, &e.UserID, &e.Item, &e.Amount.Cents, &date, &e.Category, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrExpenseNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Date, err = core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("stored expense date %q: %w", date, err)
	}
	return e, nil
}
