package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kotonoha-app/kaiwa/internal/ai"
	"github.com/kotonoha-app/kaiwa/internal/config"
	"github.com/kotonoha-app/kaiwa/internal/engine"
	"github.com/kotonoha-app/kaiwa/internal/httpapi"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/push"
	"github.com/kotonoha-app/kaiwa/internal/store"
	"github.com/kotonoha-app/kaiwa/internal/store/postgres"
	"github.com/kotonoha-app/kaiwa/internal/store/redisctx"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	pg, err := postgres.New(postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	defer pg.Close()

	var st store.Store = pg
	if cfg.Redis.Enabled {
		rc, err := redisctx.New(cfg.Redis.Addr, cfg.Redis.Password, logger)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rc.Close()
		st = &store.ContextOverride{Store: pg, Contexts: rc}
	}

	provider := ai.NewOpenAIProvider(ai.OpenAIConfig{
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.OpenAI.Model,
		RateLimit: rate.Limit(cfg.OpenAI.RateLimit),
		Burst:     cfg.OpenAI.Burst,
	}, logger)

	engOpts := engine.Options{
		Store:          st,
		DueParseMode:   engine.DueParseMode(cfg.Engine.DueParseMode),
		DefaultDueTime: cfg.Engine.DefaultDueTime,
		Tone:           models.ResponseTone(cfg.Engine.Tone),
		Location:       loc,
		Logger:         logger,
	}
	if provider != nil {
		engOpts.Classifier = provider
		engOpts.DueParser = provider
		engOpts.Summarizer = provider
	} else {
		logger.Info("no OpenAI API key configured, running deterministic only")
	}
	eng := engine.New(engOpts)

	mux := http.NewServeMux()
	handler := httpapi.New(st, eng, logger)
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Push.Enabled {
		scanner := push.NewScanner(st, &push.LogSender{Logger: logger}, cfg.Push.ScanInterval, logger)
		go scanner.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
