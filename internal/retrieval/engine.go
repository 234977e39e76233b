package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ej0e1/tbot/internal/metrics"
	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/storage"

	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultInterval     = time.Second
	DefaultQueryTimeout = 5 * time.Second
)

// Config is the configuration for the retrieval engine
type Config struct {
	// Timeout bounds a single retrieval from submission to expiry
	Timeout time.Duration
	// Interval is the sleep between reads that found nothing
	Interval time.Duration
	// QueryTimeout bounds each store call
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

// Engine waits for a pending delivery to appear and consumes it
type Engine struct {
	cfg   Config
	store storage.Store
	obs   metrics.RetrievalObserver
	log   *zap.Logger
	now   func() time.Time
}

// New creates a new retrieval engine
func New(cfg Config, store storage.Store, obs metrics.RetrievalObserver, log *zap.Logger) *Engine {
	if obs == nil {
		obs = metrics.Nop{}
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		store: store,
		obs:   obs,
		log:   log,
		now:   time.Now,
	}
}

// Lookup starts a fresh retrieval for key with the configured timeout and runs it.
// The returned request is always in a terminal state; err is set only when it Failed.
func (e *Engine) Lookup(ctx context.Context, key, owner string) (*model.RetrievalRequest, error) {
	req, err := model.NewRetrievalRequest(key, owner, e.cfg.Timeout, e.now())
	if err != nil {
		return nil, err
	}
	return req, e.Retrieve(ctx, req)
}

// Retrieve polls the store until the request's deadline.
// The terminal status is written to req; a non-nil error means StatusFailed.
func (e *Engine) Retrieve(ctx context.Context, req *model.RetrievalRequest) error {
	start := e.now()
	log := e.log.With(zap.String("email", req.Lookup.Key), zap.String("owner", req.Lookup.Owner))
	log.Info("retrieve: started", zap.Time("deadline", req.Deadline))

	e.obs.IncWaiting()
	defer func() {
		e.obs.DecWaiting()
		e.obs.ObserveOutcome(string(req.Status), e.now().Sub(start))
	}()

	timer := time.NewTimer(e.cfg.Interval)
	defer timer.Stop()

	for {
		req.Attempts++
		e.obs.RecordPoll()
		res, err := e.attempt(ctx, req)
		if err != nil {
			log.Error("retrieve: store error", zap.Int("attempts", req.Attempts), zap.Error(err))
			req.Fail(err)
			return err
		}

		switch res {
		case attemptDelivered:
			log.Info("retrieve: delivered", zap.Int("attempts", req.Attempts), zap.String("record_id", req.RecordID.String()))
			return nil
		case attemptDeadline:
			log.Info("retrieve: expired during store call", zap.Int("attempts", req.Attempts))
			req.Expire()
			return nil
		case attemptRaceLost:
			// someone else consumed the row; read again without sleeping
			e.obs.RecordRaceLost()
			log.Info("retrieve: lost consume race", zap.Int("attempts", req.Attempts))
		default:
			// never sleep past the deadline
			wait := min(e.cfg.Interval, req.Deadline.Sub(e.now()))
			if wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					err := fmt.Errorf("retrieval cancelled: %w", context.Cause(ctx))
					log.Warn("retrieve: context done", zap.Error(err))
					req.Fail(err)
					return err
				case <-timer.C:
				}
			}
		}

		if !e.now().Before(req.Deadline) {
			log.Info("retrieve: expired", zap.Int("attempts", req.Attempts))
			req.Expire()
			return nil
		}
	}
}

type attemptResult int

const (
	attemptMissed attemptResult = iota
	attemptDelivered
	attemptRaceLost
	// attemptDeadline means the store call ran into the request deadline
	attemptDeadline
)

// attempt runs one read, and a consume if the read matched, on a single session.
// The session is released before returning so it is never held while sleeping.
// Store calls are bounded by the query timeout and by the request deadline,
// whichever comes first.
func (e *Engine) attempt(ctx context.Context, req *model.RetrievalRequest) (res attemptResult, err error) {
	deadline := e.now().Add(e.cfg.QueryTimeout)
	capped := !deadline.Before(req.Deadline)
	if capped {
		deadline = req.Deadline
	}
	qctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	defer func() {
		// a store error caused only by reaching the request deadline is an expiry
		if err != nil && capped && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
			res, err = attemptDeadline, nil
		}
	}()

	sess, err := e.store.Acquire(qctx)
	if err != nil {
		return attemptMissed, err
	}
	defer sess.Release()

	d, err := sess.Find(qctx, req.Lookup)
	if err != nil {
		return attemptMissed, err
	}
	if d == nil {
		return attemptMissed, nil
	}

	payload, consumed, err := sess.Consume(qctx, d)
	if err != nil {
		return attemptMissed, err
	}
	if !consumed {
		return attemptRaceLost, nil
	}
	req.Deliver(d.RecordID, payload)
	return attemptDelivered, nil
}
