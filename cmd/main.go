package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/handlers"
	"github.com/pelusa-v/pelusa-chat/internal/store/redisstore"
	"github.com/pelusa-v/pelusa-chat/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	store, closer, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}

	engine := chat.NewEngine(chat.Options{
		Store:        store,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
		HistoryLimit: cfg.HistoryLimit,
	})
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	if err := engine.Restore(restoreCtx); err != nil {
		logger.Warn("failed to restore groups, starting empty", "error", err)
	}
	cancelRestore()

	runCtx, stopEngine := context.WithCancel(context.Background())
	go engine.Run(runCtx)

	h := handlers.NewHandler(engine, cfg.MessageRate, cfg.MessageBurst, logger)
	app := handlers.NewApp(h, handlers.AppConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.LogLevel <= slog.LevelDebug,
		Logger:         logger,
	})

	go func() {
		logger.Info("chat server listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := app.Listen(cfg.Addr); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				engine.Shutdown()
				return app.ShutdownWithContext(ctx)
			},
			"engine": func(ctx context.Context) error {
				stopEngine()
				engine.Wait()
				return closer.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("chat server exited", "code", exitCode)
	os.Exit(exitCode)
}

func openStore(cfg config.Config) (chat.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		defer cancel()
		s, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, closerFunc(func() error { return nil }), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
