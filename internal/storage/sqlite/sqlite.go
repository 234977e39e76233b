// Package sqlite is an embedded single-file store for pending deliveries,
// using pure-Go SQLite (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var _ storage.Store = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS pending_deliveries (
	record_id     TEXT PRIMARY KEY,
	email         TEXT NOT NULL,
	owner_context TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_deliveries_lookup
	ON pending_deliveries (email, owner_context, created_at);
`

// SQLite stores pending deliveries in a local database file
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (or creates) the database at path and applies the schema
func New(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %q: %v", storage.ErrConnection, path, err)
	}
	// one connection serialises this process's writers; BusyTimeout covers other processes
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", storage.ErrConnection, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", storage.ErrQuery, err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// BusyTimeout is how long a statement waits for another process's write lock
const BusyTimeout = 5 * time.Second

// dsn applies the busy timeout on every connection the pool opens
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, BusyTimeout.Milliseconds())
}

// Close closes the database
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlite close", zap.Error(err))
	}
}

// Acquire reserves the connection for one find/consume pair
func (s *SQLite) Acquire(ctx context.Context) (storage.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		s.logger.Error("Acquire: conn fail", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return &session{conn: conn, logger: s.logger}, nil
}

// Insert inserts a new pending delivery
func (s *SQLite) Insert(ctx context.Context, d *model.PendingDelivery) error {
	s.logger.Info("Insert", zap.String("email", d.Key), zap.String("record_id", d.RecordID.String()))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deliveries (record_id, email, owner_context, payload, created_at)
		VALUES (?,?,?,?,?)
	`, d.RecordID.String(), d.Key, d.OwnerContext, d.Payload, d.CreatedAt.UnixNano())
	if err != nil {
		s.logger.Error("Insert fail", zap.Error(err))
		return classify(err)
	}
	return nil
}

type session struct {
	conn   *sql.Conn
	logger *zap.Logger
}

func (s *session) Release() {
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("Release: conn close", zap.Error(err))
	}
}

func (s *session) Find(ctx context.Context, l model.Lookup) (*model.PendingDelivery, error) {
	query := `SELECT record_id, email, owner_context, payload, created_at
		FROM pending_deliveries WHERE email = ?`
	args := []any{l.Key}
	if l.Scoped() {
		query += ` AND owner_context = ?`
		args = append(args, l.Owner)
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	var (
		d         model.PendingDelivery
		recordID  string
		createdAt int64
	)
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&recordID, &d.Key, &d.OwnerContext, &d.Payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Find: query fail", zap.String("email", l.Key), zap.Error(err))
		return nil, classify(err)
	}
	id, err := uuid.Parse(recordID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad record id %q: %v", storage.ErrQuery, recordID, err)
	}
	d.RecordID = id
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

func (s *session) Consume(ctx context.Context, d *model.PendingDelivery) (string, bool, error) {
	var payload string
	err := s.conn.QueryRowContext(ctx,
		`DELETE FROM pending_deliveries WHERE record_id = ? RETURNING payload`,
		d.RecordID.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("Consume: row already consumed", zap.String("record_id", d.RecordID.String()))
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("Consume: delete fail", zap.String("record_id", d.RecordID.String()), zap.Error(err))
		return "", false, classify(err)
	}
	return payload, true, nil
}

func classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrQuery, err)
}
