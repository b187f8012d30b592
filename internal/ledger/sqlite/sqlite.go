// Package sqlite persists the ledger in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
)

const txColumns = `id, user_id, amount, type, category, description, date, emoji`

const userColumns = `id, username, phone, password_hash, avatar, total_days, total_transactions, created_at`

type Store struct {
	db       *sql.DB
	logger   *log.Logger
	notifier *ledger.Notifier

	// writeMu orders commit and publish so live subscribers see snapshots
	// in the order the writes happened.
	writeMu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

func New(dbPath string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:       db,
		logger:   log.OrDiscard(logger).WithComponent(log.ComponentStorage),
		notifier: ledger.NewNotifier(),
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert stores tx, replacing any row with the same id.
func (s *Store) Insert(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.requireUser(ctx, tx.UserID); err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	prevUser, _ := s.ownerOf(ctx, tx.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transactions (id, user_id, amount, type, category, description, date, date_unix, emoji)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txArgs(tx)...)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}

	s.logger.DebugContext(ctx, "Transaction saved", log.NewFields().WithTransaction(tx).ToSlice()...)
	s.publish(ctx, tx.UserID)
	if prevUser != "" && prevUser != tx.UserID {
		s.publish(ctx, prevUser)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prevUser, err := s.ownerOf(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	if err := s.requireUser(ctx, tx.UserID); err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}

	args := txArgs(tx)
	_, err = s.db.ExecContext(ctx,
		`UPDATE transactions SET user_id = ?, amount = ?, type = ?, category = ?, description = ?, date = ?, date_unix = ?, emoji = ?
		 WHERE id = ?`,
		append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}

	s.publish(ctx, tx.UserID)
	if prevUser != tx.UserID {
		s.publish(ctx, prevUser)
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	owner, err := s.ownerOf(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}

	s.publish(ctx, owner)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *Store) QueryOnceByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	return s.query(ctx, `user_id = ?`, userID)
}

func (s *Store) QueryByDateRange(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	return s.query(ctx, `user_id = ? AND date_unix >= ? AND date_unix < ?`, userID, from.UnixNano(), to.UnixNano())
}

func (s *Store) QueryByType(ctx context.Context, userID string, t core.Type) ([]core.Transaction, error) {
	return s.query(ctx, `user_id = ? AND type = ?`, userID, string(t))
}

func (s *Store) QueryByCategory(ctx context.Context, userID string, c core.Category) ([]core.Transaction, error) {
	return s.query(ctx, `user_id = ? AND category = ?`, userID, string(c))
}

// QueryLiveByUser subscribes to the user's transactions, primed with the
// current rows.
func (s *Store) QueryLiveByUser(ctx context.Context, userID string) (*ledger.Subscription, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	initial, err := s.QueryOnceByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("live query %s: %w", userID, err)
	}
	return s.notifier.Subscribe(ctx, userID, initial), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (core.User, error) {
	return s.getUser(ctx, `phone = ?`, phone)
}

func (s *Store) InsertUser(ctx context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Phone, u.PasswordHash, u.Avatar, u.TotalDays, u.TotalTransactions,
		u.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user: %w", ledger.ErrPhoneExists)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, phone = ?, password_hash = ?, avatar = ?, total_days = ?, total_transactions = ?
		 WHERE id = ?`,
		u.Username, u.Phone, u.PasswordHash, u.Avatar, u.TotalDays, u.TotalTransactions, u.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("update user %s: %w", u.ID, ledger.ErrPhoneExists)
	}
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update user %s: %w", u.ID, ledger.ErrUserNotFound)
	}
	return nil
}

func (s *Store) UpdateUserStatistics(ctx context.Context, id string, totalDays, totalTransactions int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_days = ?, total_transactions = ? WHERE id = ?`,
		totalDays, totalTransactions, id)
	if err != nil {
		return fmt.Errorf("update user statistics %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update user statistics %s: %w", id, ledger.ErrUserNotFound)
	}
	return nil
}

// DeleteUser removes the user; the foreign key cascades to transactions.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete user %s: %w", id, ledger.ErrUserNotFound)
	}

	s.publish(ctx, id)
	return nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE `+where+` ORDER BY date_unix DESC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// publish re-reads the user's rows and pushes them to live subscribers.
// Must be called with writeMu held.
func (s *Store) publish(ctx context.Context, userID string) {
	if s.notifier.Subscribers(userID) == 0 {
		return
	}
	snapshot, err := s.QueryOnceByUser(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to refresh live query", log.FieldUserID, userID, log.FieldError, err)
		return
	}
	s.notifier.Publish(userID, snapshot)
}

func (s *Store) requireUser(ctx context.Context, userID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrUserNotFound
	}
	return err
}

func (s *Store) ownerOf(ctx context.Context, id string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM transactions WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ledger.ErrNotFound
	}
	return owner, err
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (core.User, error) {
	var (
		u       core.User
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(
		&u.ID, &u.Username, &u.Phone, &u.PasswordHash, &u.Avatar, &u.TotalDays, &u.TotalTransactions, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("get user: %w", ledger.ErrUserNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return core.User{}, fmt.Errorf("parse user created_at %q: %w", created, err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx           core.Transaction
		amount, date string
		typ, cat     string
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &amount, &typ, &cat, &tx.Description, &date, &tx.Emoji); err != nil {
		return core.Transaction{}, err
	}

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if tx.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	tx.Type = core.Type(typ)
	tx.Category = core.Category(cat)
	return tx, nil
}

func txArgs(tx core.Transaction) []any {
	return []any{
		tx.ID, tx.UserID, tx.Amount.String(), string(tx.Type), string(tx.Category),
		tx.Description, tx.Date.Format(time.RFC3339Nano), tx.Date.UnixNano(), tx.Emoji,
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
