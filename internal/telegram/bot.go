package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ej0e1/tbot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPollTimeout   = 60 * time.Second
	DefaultMaxConcurrent = 64

	startCommand = "start"
)

// Handler reacts to user input
type Handler interface {
	Greet(ctx context.Context, chatID int64) error
	SubmitKey(ctx context.Context, chatID int64, key string) error
	Retry(ctx context.Context, clicked session.MessageRef, data string) error
}

// Config is the configuration for the update loop
type Config struct {
	// PollTimeout is the long-polling timeout of getUpdates
	PollTimeout time.Duration
	// MaxConcurrent bounds the number of handlers running at once
	MaxConcurrent int64
}

// Bot reads Telegram updates and runs one handler goroutine per request
type Bot struct {
	cfg     Config
	api     BotAPI
	handler Handler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewAPI connects to the Bot API and routes its internal logging through log
func NewAPI(token string, debug bool, log *zap.Logger) (*tgbotapi.BotAPI, error) {
	if err := tgbotapi.SetLogger(zap.NewStdLog(log.Named("tgbotapi"))); err != nil {
		return nil, fmt.Errorf("set telegram logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = debug
	log.Info("telegram authorized", zap.String("username", api.Self.UserName))
	return api, nil
}

// NewBot creates a new update loop
func NewBot(cfg Config, api BotAPI, handler Handler, log *zap.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Bot{
		cfg:     cfg,
		api:     api,
		handler: handler,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		log:     log,
	}
}

// Run consumes updates until ctx is done, then waits for running handlers
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.cfg.PollTimeout.Seconds())
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("telegram bot started", zap.Int64("max_concurrent", b.cfg.MaxConcurrent))
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("telegram bot stopping", zap.Error(context.Cause(ctx)))
			return nil
		case upd, ok := <-updates:
			if !ok {
				b.log.Info("telegram updates channel closed")
				return nil
			}
			b.dispatch(ctx, upd)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		q := upd.CallbackQuery
		if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			b.log.Warn("answer callback failed", zap.String("callback_id", q.ID), zap.Error(err))
		}
		if q.Message == nil || q.Message.Chat == nil || !session.IsRetry(q.Data) {
			b.log.Debug("ignoring callback", zap.String("data", q.Data))
			return
		}
		clicked := session.MessageRef{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID}
		b.spawn(ctx, "retry", func(ctx context.Context) error {
			return b.handler.Retry(ctx, clicked, q.Data)
		})

	case upd.Message != nil && upd.Message.Chat != nil:
		m := upd.Message
		chatID := m.Chat.ID
		if m.IsCommand() {
			if m.Command() == startCommand {
				b.spawn(ctx, "greet", func(ctx context.Context) error {
					return b.handler.Greet(ctx, chatID)
				})
			}
			return
		}
		if m.Text == "" {
			return
		}
		key := m.Text
		b.spawn(ctx, "submit", func(ctx context.Context) error {
			return b.handler.SubmitKey(ctx, chatID, key)
		})
	}
}

// spawn runs fn in its own goroutine once a concurrency slot is free.
// A failing or panicking handler never affects the loop or other handlers.
func (b *Bot) spawn(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.log.Warn("dropping update, bot stopping", zap.String("handler", name), zap.Error(err))
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("handler panic", zap.String("handler", name), zap.Any("panic", r))
			}
		}()
		if err := fn(ctx); err != nil {
			b.log.Error("handler failed", zap.String("handler", name), zap.Error(err))
		}
	}()
}
