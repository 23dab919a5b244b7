package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"expense-dashboard/internal/auth"
	"expense-dashboard/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// recordingObserver collects the ops reported by the DB.
type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingObserver) ObserveQuery(op string, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// DBTestSuite provides a test suite for expense operations
type DBTestSuite struct {
	suite.Suite
	db   *DB
	ctx  context.Context
	user *models.User
}

// SetupTest runs before each test
func (suite *DBTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()

	user, err := suite.db.CreateUser(suite.ctx, "Test", "test@example.com", "hash")
	require.NoError(suite.T(), err, "failed to create test user")
	suite.user = user
}

// TearDownTest runs after each test
func (suite *DBTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *DBTestSuite) addExpense(date, amount, category, description string, userID int64) int64 {
	id, err := suite.db.CreateExpense(suite.ctx, &models.Expense{
		Date:        date,
		Amount:      decimal.RequireFromString(amount),
		Category:    category,
		Description: description,
		UserID:      userID,
	})
	require.NoError(suite.T(), err, "failed to create expense: %s", description)
	return id
}

func (suite *DBTestSuite) TestListExpensesRejectsNonFiniteAmount() {
	// 1e999 overflows to +Inf in a REAL column.
	_, err := suite.db.conn.ExecContext(suite.ctx,
		"INSERT INTO expenses (date, amount, category, description, user_id) VALUES ('2024-01-05', 1e999, 'food', '', ?)",
		suite.user.ID)
	require.NoError(suite.T(), err)

	done := make(chan error, 1)
	go func() {
		_, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(suite.T(), err, ErrInvalidAmount)
	case <-time.After(5 * time.Second):
		suite.T().Fatal("ListExpenses did not return")
	}

	// The connection is released for the next caller.
	require.NoError(suite.T(), suite.db.Ping(suite.ctx))
}

func (suite *DBTestSuite) TestCreateExpenseThenList() {
	id := suite.addExpense("2024-01-05", "10.50", "food", "Lunch", suite.user.ID)
	assert.Positive(suite.T(), id)

	expenses, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), expenses, 1, "added expense should be listed exactly once")

	got := expenses[0]
	assert.Equal(suite.T(), id, got.ID)
	assert.Equal(suite.T(), "2024-01-05", got.Date)
	assert.True(suite.T(), decimal.RequireFromString("10.5").Equal(got.Amount), "amount mismatch: %s", got.Amount)
	assert.Equal(suite.T(), "food", got.Category)
	assert.Equal(suite.T(), "Lunch", got.Description)
	assert.Equal(suite.T(), suite.user.ID, got.UserID)
}

func (suite *DBTestSuite) TestListExpensesOrderedByDateDesc() {
	// Inserted out of order on purpose.
	suite.addExpense("2024-02-01", "30", "rent", "Feb", suite.user.ID)
	suite.addExpense("2024-01-05", "10", "food", "Early Jan", suite.user.ID)
	suite.addExpense("2024-03-15", "5", "food", "Mar", suite.user.ID)
	suite.addExpense("2024-01-20", "20", "transport", "Late Jan", suite.user.ID)

	expenses, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), expenses, 4)

	dates := make([]string, 0, len(expenses))
	for _, e := range expenses {
		dates = append(dates, e.Date)
	}
	assert.Equal(suite.T(), []string{"2024-03-15", "2024-02-01", "2024-01-20", "2024-01-05"}, dates)
}

func (suite *DBTestSuite) TestListExpensesSameDateNewestFirst() {
	first := suite.addExpense("2024-01-05", "1", "food", "first", suite.user.ID)
	second := suite.addExpense("2024-01-05", "2", "food", "second", suite.user.ID)

	expenses, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), expenses, 2)
	assert.Equal(suite.T(), second, expenses[0].ID)
	assert.Equal(suite.T(), first, expenses[1].ID)
}

func (suite *DBTestSuite) TestListExpensesScopedToUser() {
	other, err := suite.db.CreateUser(suite.ctx, "Other", "other@example.com", "hash")
	require.NoError(suite.T(), err)

	suite.addExpense("2024-01-05", "10", "food", "mine", suite.user.ID)
	suite.addExpense("2024-01-06", "99", "food", "theirs", other.ID)

	expenses, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), expenses, 1)
	assert.Equal(suite.T(), "mine", expenses[0].Description)
}

func (suite *DBTestSuite) TestListExpensesEmptyIsNotNil() {
	expenses, err := suite.db.ListExpenses(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), expenses)
	assert.Empty(suite.T(), expenses)
}

func (suite *DBTestSuite) TestDeleteExpense() {
	id := suite.addExpense("2024-01-05", "10", "food", "Lunch", suite.user.ID)

	deleted, err := suite.db.DeleteExpense(suite.ctx, id, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), deleted)

	// Second delete is a no-op, not an error.
	deleted, err = suite.db.DeleteExpense(suite.ctx, id, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), deleted)
}

func (suite *DBTestSuite) TestDeleteNonexistentExpense() {
	deleted, err := suite.db.DeleteExpense(suite.ctx, 424242, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), deleted)
}

func (suite *DBTestSuite) TestDeleteExpenseOfAnotherUser() {
	other, err := suite.db.CreateUser(suite.ctx, "Other", "other@example.com", "hash")
	require.NoError(suite.T(), err)
	id := suite.addExpense("2024-01-05", "10", "food", "theirs", other.ID)

	deleted, err := suite.db.DeleteExpense(suite.ctx, id, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), deleted)

	expenses, err := suite.db.ListExpenses(suite.ctx, other.ID)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), expenses, 1, "foreign expense must survive")
}

// UserTestSuite provides a test suite for user operations
type UserTestSuite struct {
	suite.Suite
	db  *DB
	ctx context.Context
}

func (suite *UserTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()
}

func (suite *UserTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *UserTestSuite) TestCreateAndGetUser() {
	created, err := suite.db.CreateUser(suite.ctx, "Ana", "ana@example.com", "hash")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Ana", created.Name)
	assert.Equal(suite.T(), "ana@example.com", created.Email)
	assert.Equal(suite.T(), "hash", created.PasswordHash)

	byEmail, err := suite.db.GetUserByEmail(suite.ctx, "ana@example.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), created.ID, byEmail.ID)

	count, err := suite.db.UserCount(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, count)
}

func (suite *UserTestSuite) TestCreateUserDuplicateEmail() {
	_, err := suite.db.CreateUser(suite.ctx, "Ana", "ana@example.com", "hash")
	require.NoError(suite.T(), err)

	_, err = suite.db.CreateUser(suite.ctx, "Other Ana", "ana@example.com", "hash2")
	assert.ErrorIs(suite.T(), err, ErrEmailTaken)
}

func (suite *UserTestSuite) TestGetUserByEmailExactMatch() {
	_, err := suite.db.CreateUser(suite.ctx, "Ana", "ana@example.com", "hash")
	require.NoError(suite.T(), err)

	_, err = suite.db.GetUserByEmail(suite.ctx, "nobody@example.com")
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	_, err = suite.db.GetUserByID(suite.ctx, 999)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

// SessionTestSuite provides a test suite for session operations
type SessionTestSuite struct {
	suite.Suite
	db   *DB
	ctx  context.Context
	user *models.User
}

// SetupTest runs before each test
func (suite *SessionTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()

	// Create a test user
	password, err := auth.HashPassword("testpass")
	require.NoError(suite.T(), err, "failed to hash password")

	user, err := suite.db.CreateUser(suite.ctx, "Test User", "testuser@example.com", password)
	require.NoError(suite.T(), err, "failed to create test user")
	suite.user = user
}

// TearDownTest runs after each test
func (suite *SessionTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *SessionTestSuite) newSession(expiresAt time.Time) string {
	token, err := auth.GenerateSessionToken()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.db.CreateSession(suite.ctx, token, suite.user.ID, expiresAt))
	return token
}

func (suite *SessionTestSuite) TestCreateAndValidateSession() {
	token := suite.newSession(time.Now().Add(30 * 24 * time.Hour))

	sessionUser, err := suite.db.ValidateSession(suite.ctx, token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "testuser@example.com", sessionUser.Email)
}

func (suite *SessionTestSuite) TestValidateSessionWithInfo() {
	token := suite.newSession(time.Now().Add(30 * 24 * time.Hour))

	info, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Test User", info.User.Name)

	// Check that last_activity is recent
	timeSinceActivity := time.Since(info.LastActivity)
	assert.Less(suite.T(), timeSinceActivity, 5*time.Second, "LastActivity should be recent")
}

func (suite *SessionTestSuite) TestExpiredSessionIsInvalid() {
	token := suite.newSession(time.Now().Add(-time.Minute))

	_, err := suite.db.ValidateSession(suite.ctx, token)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *SessionTestSuite) TestUnknownSessionIsInvalid() {
	_, err := suite.db.ValidateSession(suite.ctx, "does-not-exist")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *SessionTestSuite) TestRenewSession() {
	token := suite.newSession(time.Now().Add(30 * 24 * time.Hour))

	// Wait a moment to ensure timestamps differ
	time.Sleep(10 * time.Millisecond)

	originalInfo, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)

	time.Sleep(10 * time.Millisecond)

	newExpiry := time.Now().Add(60 * 24 * time.Hour)
	err = suite.db.RenewSession(suite.ctx, token, newExpiry)
	require.NoError(suite.T(), err)

	updatedInfo, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)

	assert.True(suite.T(), updatedInfo.LastActivity.After(originalInfo.LastActivity),
		"LastActivity should be updated after renewal")
	assert.True(suite.T(), updatedInfo.ExpiresAt.After(originalInfo.ExpiresAt),
		"ExpiresAt should be extended after renewal")
}

func (suite *SessionTestSuite) TestDeleteSession() {
	token := suite.newSession(time.Now().Add(30 * 24 * time.Hour))

	_, err := suite.db.ValidateSession(suite.ctx, token)
	require.NoError(suite.T(), err, "session should exist before deletion")

	err = suite.db.DeleteSession(suite.ctx, token)
	require.NoError(suite.T(), err)

	_, err = suite.db.ValidateSession(suite.ctx, token)
	assert.Error(suite.T(), err, "expected error after deleting session")
}

func (suite *SessionTestSuite) TestCleanExpiredSessions() {
	live := suite.newSession(time.Now().Add(time.Hour))
	suite.newSession(time.Now().Add(-time.Hour))
	suite.newSession(time.Now().Add(-2 * time.Hour))

	removed, err := suite.db.CleanExpiredSessions(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), removed)

	_, err = suite.db.ValidateSession(suite.ctx, live)
	assert.NoError(suite.T(), err, "live session must survive the sweep")
}

func TestNewDB_MigrationsAreIdempotent(t *testing.T) {
	path := t.TempDir() + "/expenses.db"

	db, err := NewDB(path)
	require.NoError(t, err)
	_, err = db.CreateUser(context.Background(), "Ana", "ana@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := NewDB(path)
	require.NoError(t, err, "reopening an existing database must not fail")
	defer reopened.Close()

	count, err := reopened.UserCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "data must survive reopening")
}

func TestNewDB_InvalidPath(t *testing.T) {
	_, err := NewDB(t.TempDir())
	assert.Error(t, err)
}

func TestQueryObserver(t *testing.T) {
	obs := &recordingObserver{}
	db, err := NewDB(":memory:", WithQueryObserver(obs))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, "Ana", "ana@example.com", "hash")
	require.NoError(t, err)
	_, err = db.ListExpenses(ctx, user.ID)
	require.NoError(t, err)

	assert.Contains(t, obs.ops, "create_user")
	assert.Contains(t, obs.ops, "list_expenses")
	require.NoError(t, db.Ping(ctx))
}

// Test suite runners
func TestDBSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}

func TestUserSuite(t *testing.T) {
	suite.Run(t, new(UserTestSuite))
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
