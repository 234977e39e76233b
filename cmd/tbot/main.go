package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ej0e1/tbot/internal/api"
	"github.com/ej0e1/tbot/internal/bootstrap"
	"github.com/ej0e1/tbot/internal/config"
	"github.com/ej0e1/tbot/internal/logx"
	"github.com/ej0e1/tbot/internal/metrics"
	"github.com/ej0e1/tbot/internal/retrieval"
	"github.com/ej0e1/tbot/internal/service"
	"github.com/ej0e1/tbot/internal/session"
	"github.com/ej0e1/tbot/internal/telegram"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger, err := logx.New(cfg.App.Name, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tbot stopped", zap.Error(err))
	}
	logger.Info("tbot stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	engine := retrieval.New(retrieval.Config{
		Timeout:      cfg.Retrieval.Timeout,
		Interval:     cfg.Retrieval.Interval,
		QueryTimeout: cfg.Retrieval.QueryTimeout,
	}, store, metrics.NewPrometheusObserver(), logger.Named("retrieval"))

	botAPI, err := telegram.NewAPI(cfg.Telegram.Token, cfg.Telegram.Debug, logger)
	if err != nil {
		return err
	}
	coordinator := session.NewCoordinator(session.Config{
		ScopeByOwner: cfg.Retrieval.ScopeByOwner,
	}, engine, telegram.NewFrontEnd(botAPI), logger.Named("session"))
	bot := telegram.NewBot(telegram.Config{
		PollTimeout:   cfg.Telegram.PollTimeout,
		MaxConcurrent: cfg.Telegram.MaxConcurrent,
	}, botAPI, coordinator, logger.Named("telegram"))

	svc := service.NewDeliveryService(store, engine, logger.Named("service"))
	srv := api.NewServer(api.ServerCfg{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, svc, metrics.Handler(), logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Error(context.Cause(gctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
