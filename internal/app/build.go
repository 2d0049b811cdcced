package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/conversation"
	"github.com/ent0n29/callrelay/internal/functions"
	"github.com/ent0n29/callrelay/internal/httpapi"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/relay"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Engine   *relay.Engine
	Sessions *session.Registry
	Store    conversation.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown: it ends active calls, flushing their
	// conversations, then releases the store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}
	logger.Info("conversation store ready", "mode", store.Mode())

	fns := functions.NewRegistry(cfg.FunctionTimeout,
		functions.Weather(functions.WeatherConfig{BaseURL: cfg.WeatherAPIURL}),
		functions.CallerHistory(store),
	)

	dialer := transport.Dialer{
		URL:    cfg.OpenAIRealtimeURL,
		APIKey: cfg.OpenAIAPIKey,
	}

	sessions := session.NewRegistry()
	engine := relay.New(relay.Options{
		Model:               cfg.OpenAIRealtimeModel,
		SettleDelay:         cfg.SettleDelay,
		ResponseWatchdog:    cfg.ResponseWatchdog,
		MaxResponseRetries:  cfg.ResponseMaxRetries,
		AudioPacing:         cfg.AudioPacing,
		FailedResponseDelay: cfg.FailedResponseDelay,
		PersistTimeout:      cfg.PersistTimeout,
	}, sessions, dialer, store, fns, metrics, logger)

	api := httpapi.New(cfg, engine, store, metrics, logger)

	cleanup := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		engine.Shutdown(shutdownCtx)
		metrics.ActiveSessions.Set(0)
		if err := store.Close(); err != nil {
			return fmt.Errorf("close conversation store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Engine:   engine,
		Sessions: sessions,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
