package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Ensure Postgres implements Storage interface
var _ storage.Store = (*Postgres)(nil)

// Strategy selects how sessions get their connection
type Strategy string

const (
	// StrategyPooled borrows connections from a pgxpool
	StrategyPooled Strategy = "pooled"
	// StrategyDirect dials a new connection per session and closes it on release
	StrategyDirect Strategy = "direct"
)

const (
	findSQL = `
		SELECT record_id, email, owner_context, payload, created_at
		FROM pending_deliveries
		WHERE email = $1
		ORDER BY created_at ASC
		LIMIT 1
	`
	findScopedSQL = `
		SELECT record_id, email, owner_context, payload, created_at
		FROM pending_deliveries
		WHERE email = $1 AND owner_context = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	consumeSQL = `
		DELETE FROM pending_deliveries
		WHERE record_id = $1
		RETURNING payload
	`
	insertSQL = `
		INSERT INTO pending_deliveries (record_id, email, owner_context, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`
)

// Config is the configuration for the postgres store
type Config struct {
	URL          string
	Strategy     Strategy
	MaxOpenConns int
}

// Postgres is the postgres storage implementation
type Postgres struct {
	strategy Strategy
	connCfg  *pgx.ConnConfig
	pool     *pgxpool.Pool
	logger   *zap.Logger
}

// New creates a new postgres storage
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Postgres, error) {
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyPooled
	case StrategyPooled, StrategyDirect:
	default:
		return nil, fmt.Errorf("unknown connection strategy %q", cfg.Strategy)
	}

	p := &Postgres{strategy: cfg.Strategy, logger: logger}
	if cfg.Strategy == StrategyDirect {
		connCfg, err := pgx.ParseConfig(cfg.URL)
		if err != nil {
			logger.Error("pgx parse config error", zap.Error(err))
			return nil, err
		}
		p.connCfg = connCfg
		return p, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		logger.Error("pgx parse config error", zap.Error(err))
		return nil, err
	}
	// set max connections
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	// create pool
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("pgx pool error", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	p.pool = pool
	return p, nil
}

// Strategy returns the connection strategy in use
func (p *Postgres) Strategy() Strategy { return p.strategy }

// Close closes the postgres storage
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Acquire returns a session holding one connection
func (p *Postgres) Acquire(ctx context.Context) (storage.Session, error) {
	s, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) acquire(ctx context.Context) (*session, error) {
	if p.strategy == StrategyDirect {
		conn, err := pgx.ConnectConfig(ctx, p.connCfg)
		if err != nil {
			p.logger.Error("Acquire: connect fail", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
		}
		return &session{
			conn:   conn,
			logger: p.logger,
			release: func() {
				if err := conn.Close(context.Background()); err != nil {
					p.logger.Warn("Release: close conn fail", zap.Error(err))
				}
			},
		}, nil
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("Acquire: pool acquire fail", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return &session{conn: conn.Conn(), logger: p.logger, release: conn.Release}, nil
}

// Insert inserts a new pending delivery
func (p *Postgres) Insert(ctx context.Context, d *model.PendingDelivery) error {
	p.logger.Info("Insert", zap.String("email", d.Key), zap.String("record_id", d.RecordID.String()))
	s, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	if _, err := s.conn.Exec(ctx, insertSQL, d.RecordID, d.Key, d.OwnerContext, d.Payload, d.CreatedAt); err != nil {
		p.logger.Error("Insert fail", zap.Error(err))
		return s.wrap(err)
	}
	return nil
}

// session is a single connection used for one find/consume pair
type session struct {
	conn    *pgx.Conn
	logger  *zap.Logger
	release func()
}

func (s *session) Release() { s.release() }

// Find returns the oldest delivery matching the lookup
func (s *session) Find(ctx context.Context, l model.Lookup) (*model.PendingDelivery, error) {
	var row pgx.Row
	if l.Scoped() {
		row = s.conn.QueryRow(ctx, findScopedSQL, l.Key, l.Owner)
	} else {
		row = s.conn.QueryRow(ctx, findSQL, l.Key)
	}
	var d model.PendingDelivery
	if err := row.Scan(&d.RecordID, &d.Key, &d.OwnerContext, &d.Payload, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		s.logger.Error("Find: query fail", zap.String("email", l.Key), zap.Error(err))
		return nil, s.wrap(err)
	}
	s.logger.Debug("Find - matched", zap.String("email", l.Key), zap.String("record_id", d.RecordID.String()))
	return &d, nil
}

// Consume deletes the row and returns its payload.
// No returned row means another consumer deleted it first.
func (s *session) Consume(ctx context.Context, d *model.PendingDelivery) (string, bool, error) {
	var payload string
	err := s.conn.QueryRow(ctx, consumeSQL, d.RecordID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Info("Consume: row already consumed", zap.String("record_id", d.RecordID.String()))
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("Consume: delete fail", zap.String("record_id", d.RecordID.String()), zap.Error(err))
		return "", false, s.wrap(err)
	}
	s.logger.Info("Consume: row deleted", zap.String("record_id", d.RecordID.String()))
	return payload, true, nil
}

// wrap classifies a statement error as a connection or query failure
func (s *session) wrap(err error) error {
	if s.conn.IsClosed() {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrQuery, err)
}
