package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ storage.Store = (*Redis)(nil)

const keyPrefix = "tbot"

// consumeScript removes the record from the key index and, only if it was
// still there, returns and deletes its payload. Returns nil when another
// consumer got it first.
var consumeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
	return false
end
redis.call('ZREM', KEYS[3], ARGV[1])
local payload = redis.call('HGET', KEYS[1], 'payload')
redis.call('DEL', KEYS[1])
return payload
`)

// Config is the configuration for the Redis store
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores pending deliveries as hashes indexed by sorted sets of record ids
type Redis struct {
	c      *redis.Client
	logger *zap.Logger
}

// New creates a new Redis store
func New(cfg Config, logger *zap.Logger) *Redis {
	return &Redis{
		c:      redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		logger: logger,
	}
}

// Close closes the Redis client
func (r *Redis) Close() {
	if err := r.c.Close(); err != nil {
		r.logger.Warn("redis close", zap.Error(err))
	}
}

func deliveryKey(id string) string { return keyPrefix + ":delivery:" + id }

func keyIndex(key string) string { return keyPrefix + ":pending:key:" + key }

func ownerIndex(owner, key string) string { return keyPrefix + ":pending:owner:" + owner + ":" + key }

// Acquire returns a session; go-redis checks a pooled connection out per command
func (r *Redis) Acquire(ctx context.Context) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return &session{c: r.c, logger: r.logger}, nil
}

// Insert stores the delivery hash and indexes it by key and, if set, by owner
func (r *Redis) Insert(ctx context.Context, d *model.PendingDelivery) error {
	r.logger.Info("Insert", zap.String("email", d.Key), zap.String("record_id", d.RecordID.String()))
	id := d.RecordID.String()
	score := float64(d.CreatedAt.UnixMicro())
	_, err := r.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deliveryKey(id), map[string]any{
			"email":      d.Key,
			"owner":      d.OwnerContext,
			"payload":    d.Payload,
			"created_at": d.CreatedAt.UnixMicro(),
		})
		pipe.ZAdd(ctx, keyIndex(d.Key), redis.Z{Score: score, Member: id})
		if d.OwnerContext != "" {
			pipe.ZAdd(ctx, ownerIndex(d.OwnerContext, d.Key), redis.Z{Score: score, Member: id})
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Insert fail", zap.Error(err))
		return classify(err)
	}
	return nil
}

type session struct {
	c      *redis.Client
	logger *zap.Logger
}

func (s *session) Release() {}

func (s *session) Find(ctx context.Context, l model.Lookup) (*model.PendingDelivery, error) {
	index := keyIndex(l.Key)
	if l.Scoped() {
		index = ownerIndex(l.Owner, l.Key)
	}
	ids, err := s.c.ZRange(ctx, index, 0, 0).Result()
	if err != nil {
		s.logger.Error("Find: zrange fail", zap.String("email", l.Key), zap.Error(err))
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	fields, err := s.c.HGetAll(ctx, deliveryKey(ids[0])).Result()
	if err != nil {
		s.logger.Error("Find: hgetall fail", zap.String("record_id", ids[0]), zap.Error(err))
		return nil, classify(err)
	}
	if len(fields) == 0 {
		// consumed between the two reads
		return nil, nil
	}
	id, err := uuid.Parse(ids[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad record id %q: %v", storage.ErrQuery, ids[0], err)
	}
	micros, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &model.PendingDelivery{
		RecordID:     id,
		Key:          fields["email"],
		OwnerContext: fields["owner"],
		Payload:      fields["payload"],
		CreatedAt:    time.UnixMicro(micros).UTC(),
	}, nil
}

func (s *session) Consume(ctx context.Context, d *model.PendingDelivery) (string, bool, error) {
	id := d.RecordID.String()
	keys := []string{deliveryKey(id), keyIndex(d.Key), ownerIndex(d.OwnerContext, d.Key)}
	payload, err := consumeScript.Run(ctx, s.c, keys, id).Text()
	if errors.Is(err, redis.Nil) {
		s.logger.Info("Consume: row already consumed", zap.String("record_id", id))
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("Consume: script fail", zap.String("record_id", id), zap.Error(err))
		return "", false, classify(err)
	}
	return payload, true, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrQuery, err)
}
