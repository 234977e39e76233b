// Command writer inserts one pending delivery into the configured store,
// standing in for the out-of-band process that produces links.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ej0e1/tbot/internal/bootstrap"
	"github.com/ej0e1/tbot/internal/config"
	"github.com/ej0e1/tbot/internal/logx"
	"github.com/ej0e1/tbot/internal/service"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("writer", pflag.ExitOnError)
	email := fs.String("email", "", "key the link is stored under (required)")
	owner := fs.String("owner", "", "owner context, e.g. a chat id")
	link := fs.String("link", "", "delivery link (required)")
	fs.String("store.driver", "", "store driver: postgres, sqlite or redis")
	fs.String("sqlite.path", "", "sqlite database path")
	fs.String("postgres.url", "", "postgres URL")
	fs.String("redis.addr", "", "redis address")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	// only flags the user set override config and env
	fs.Visit(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})

	cfg, err := config.LoadFrom(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger, err := logx.New(cfg.App.Name+"-writer", cfg.App.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	svc := service.NewDeliveryService(store, nil, logger)
	d, err := svc.CreateDelivery(ctx, service.CreateDeliveryRequest{
		Email:        *email,
		OwnerContext: *owner,
		Link:         *link,
	})
	if err != nil {
		logger.Error("create delivery", zap.Error(err))
		store.Close()
		os.Exit(1)
	}
	fmt.Println(d.RecordID)
}
