package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"expense-dashboard/internal/models"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when a user is created with an email already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidAmount is returned when a stored amount is not a finite number.
	ErrInvalidAmount = errors.New("invalid stored amount")
)

// QueryObserver receives the latency and outcome of every storage operation.
type QueryObserver interface {
	ObserveQuery(op string, err error, d time.Duration)
}

// Option configures a DB.
type Option func(*DB)

// WithQueryObserver reports every storage operation to o.
func WithQueryObserver(o QueryObserver) Option {
	return func(db *DB) { db.observer = o }
}

// DB wraps a sql.DB connection.
type DB struct {
	conn     *sql.DB
	observer QueryObserver
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer; one connection also keeps ":memory:" coherent.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) observe(op string, start time.Time, err error) {
	if db.observer != nil {
		db.observer.ObserveQuery(op, err, time.Since(start))
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateExpense inserts a new expense and returns its ID.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) (id int64, err error) {
	defer func(start time.Time) { db.observe("create_expense", start, err) }(time.Now())

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses (date, amount, category, description, user_id) VALUES (?, ?, ?, ?, ?)",
		e.Date, e.Amount, e.Category, e.Description, e.UserID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	return result.LastInsertId()
}

// ListExpenses returns every expense of a user, newest date first.
func (db *DB) ListExpenses(ctx context.Context, userID int64) (expenses []models.Expense, err error) {
	defer func(start time.Time) { db.observe("list_expenses", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, date, amount, category, description, user_id
		FROM expenses WHERE user_id = ? ORDER BY date DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses = []models.Expense{}
	for rows.Next() {
		var e models.Expense
		var amount float64
		if err := rows.Scan(&e.ID, &e.Date, &amount, &e.Category, &e.Description, &e.UserID); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if math.IsInf(amount, 0) || math.IsNaN(amount) {
			return nil, fmt.Errorf("scan expense %d: %w", e.ID, ErrInvalidAmount)
		}
		e.Amount = decimal.NewFromFloat(amount)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// DeleteExpense removes the expense with the given ID if it belongs to userID
// and returns the number of rows removed (0 or 1).
func (db *DB) DeleteExpense(ctx context.Context, id, userID int64) (deleted int64, err error) {
	defer func(start time.Time) { db.observe("delete_expense", start, err) }(time.Now())

	result, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete expense: %w", err)
	}
	return result.RowsAffected()
}
