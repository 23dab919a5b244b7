package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"expense-dashboard/internal/models"
)

// CreateUser creates a new user with the given name, email and password hash.
func (db *DB) CreateUser(ctx context.Context, name, email, passwordHash string) (user *models.User, err error) {
	defer func(start time.Time) { db.observe("create_user", start, err) }(time.Now())

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		name, email, passwordHash, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "get_user_by_id",
		"SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?", id)
}

// GetUserByEmail retrieves a user by exact email match.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "get_user_by_email",
		"SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?", email)
}

func (db *DB) getUser(ctx context.Context, op, query string, arg any) (user *models.User, err error) {
	defer func(start time.Time) { db.observe(op, start, err) }(time.Now())

	var u models.User
	err = db.conn.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}
