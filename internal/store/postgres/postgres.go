// Package postgres implements store.Store on PostgreSQL through the pgx
// database/sql driver. The schema is applied with goose from embedded
// migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of database/sql used by the queries. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

func userExists(ctx context.Context, db DBTX, id string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %q: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: user id is required", common.ErrValidation)
	}
	query :=
		`INSERT INTO users (id, username, fullname)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, fullname = EXCLUDED.fullname`

	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.FullName); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `SELECT id, username, fullname FROM users WHERE id = $1`

	u := &store.User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) UpdateFullName(ctx context.Context, id, fullName string) (*store.User, error) {
	query :=
		`UPDATE users SET fullname = $2
		 WHERE id = $1
		 RETURNING id, username, fullname`

	u := &store.User{}
	err := s.db.QueryRowContext(ctx, query, id, fullName).Scan(&u.ID, &u.Username, &u.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *store.Message) error {
	query :=
		`INSERT INTO messages (id, sender_id, receiver_id, ciphertext, image, iv, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Sender, m.Receiver, nullString(m.Ciphertext), nullString(m.Image), m.IV, m.Read, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) Conversation(ctx context.Context, a, b string) ([]store.Message, error) {
	query :=
		`SELECT id, sender_id, receiver_id, ciphertext, image, iv, read, created_at FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, a, b)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]store.Message, 0)
	for rows.Next() {
		var (
			m          store.Message
			ciphertext sql.NullString
			image      sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &ciphertext, &image, &m.IV, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		m.Ciphertext = stringPtr(ciphertext)
		m.Image = stringPtr(image)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, reader, from string) (int, error) {
	query :=
		`UPDATE messages SET read = TRUE
		 WHERE receiver_id = $1 AND sender_id = $2 AND read = FALSE`

	res, err := s.db.ExecContext(ctx, query, reader, from)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

func (s *Store) AppendNotification(ctx context.Context, identity string, n *store.Notification, keep int) error {
	return s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := userExists(ctx, tx, identity); err != nil {
			return err
		}

		insert :=
			`INSERT INTO notifications (user_id, message, created_at, read, is_serious)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`
		if err := tx.QueryRowContext(ctx, insert, identity, n.Message, n.CreatedAt, n.Read, n.IsSerious).Scan(&n.ID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if keep <= 0 {
			return nil
		}
		trim :=
			`DELETE FROM notifications
			 WHERE user_id = $1 AND id NOT IN (
			     SELECT id FROM notifications WHERE user_id = $1
			     ORDER BY created_at DESC, id DESC LIMIT $2)`
		if _, err := tx.ExecContext(ctx, trim, identity, keep); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (s *Store) ListNotifications(ctx context.Context, identity string, limit, offset int) ([]store.Notification, error) {
	query :=
		`SELECT id, message, created_at, read, is_serious FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`

	var lim any
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, query, identity, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]store.Notification, 0)
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.CreatedAt, &n.Read, &n.IsSerious); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, identity string) (int, error) {
	var n int64
	err := s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := userExists(ctx, tx, identity); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, identity)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	return int(n), err
}

func (s *Store) CreateFriendRequest(ctx context.Context, r *store.FriendRequest) error {
	query :=
		`INSERT INTO friend_requests (id, requester, recipient, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query, r.ID, r.Requester, r.Recipient, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const friendColumns = `id, requester, recipient, status, created_at, updated_at`

func scanFriendRequest(row interface{ Scan(...any) error }) (*store.FriendRequest, error) {
	r := &store.FriendRequest{}
	var status string
	if err := row.Scan(&r.ID, &r.Requester, &r.Recipient, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = store.FriendStatus(status)
	return r, nil
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (*store.FriendRequest, error) {
	query := `SELECT ` + friendColumns + ` FROM friend_requests WHERE id = $1`

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("friend request %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

func (s *Store) FindFriendRequest(ctx context.Context, a, b string) (*store.FriendRequest, error) {
	query := `SELECT ` + friendColumns + ` FROM friend_requests
		 WHERE (requester = $1 AND recipient = $2) OR (requester = $2 AND recipient = $1)
		 ORDER BY created_at DESC LIMIT 1`

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("friend request between %q and %q: %w", a, b, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateFriendStatus(ctx context.Context, id string, status store.FriendStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE friend_requests SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("friend request %q: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *Store) PendingFriendRequests(ctx context.Context, recipient string) ([]store.FriendRequest, error) {
	query := `SELECT ` + friendColumns + ` FROM friend_requests
		 WHERE recipient = $1 AND status = 'pending'
		 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]store.FriendRequest, 0)
	for rows.Next() {
		r, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
