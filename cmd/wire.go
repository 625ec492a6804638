package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"kaarna/internal/calsync"
	"kaarna/internal/config"
	"kaarna/internal/google"
	"kaarna/internal/lifecycle"
	"kaarna/internal/linker"
	"kaarna/internal/microsoft"
	"kaarna/internal/oauth"
	"kaarna/internal/provider"
	"kaarna/internal/store"
)

// services is the wired application.
type services struct {
	store      *store.Store
	oauth      *oauth.Service
	reconciler *calsync.Reconciler
	meetings   *lifecycle.Meetings
	dispatcher *linker.Dispatcher

	closers []func()
}

func newServices(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*services, error) {
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	s := &services{store: st}
	s.closers = append(s.closers, func() { st.Close() })

	verifiers, err := s.verifierCache(ctx, logger, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	googleProvider := google.New(logger, cfg.Google, httpClient)
	microsoftProvider := microsoft.New(logger, cfg.Microsoft, verifiers, httpClient)
	for _, p := range []provider.Provider{googleProvider, microsoftProvider} {
		logger.Info("Calendar provider", "provider", p.Type(), "configured", p.IsConfigured())
	}

	s.oauth = oauth.NewService(logger, st, googleProvider, microsoftProvider)
	s.reconciler = calsync.NewReconciler(logger, s.oauth, st)

	s.dispatcher = linker.NewDispatcher(logger, 4)
	manager := linker.NewManager(logger, st, s.oauth, s.dispatcher, cfg.PublicURL)
	bus := lifecycle.NewBus()
	manager.Subscribe(bus)
	s.meetings = lifecycle.NewMeetings(logger, st, bus)
	return s, nil
}

// verifierCache keeps PKCE verifiers in redis when REDIS_ADDR is set and in
// memory otherwise.
func (s *services) verifierCache(ctx context.Context, logger *slog.Logger, cfg *config.Config) (provider.VerifierCache, error) {
	if cfg.RedisAddr == "" {
		cache := provider.NewMemoryVerifierCache(provider.VerifierTTL)
		s.closers = append(s.closers, cache.Close)
		return cache, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using redis for PKCE verifiers", "addr", cfg.RedisAddr)
	s.closers = append(s.closers, func() { client.Close() })
	return provider.NewRedisVerifierCache(client, provider.VerifierTTL), nil
}

// Close waits for background calendar updates, then releases resources.
func (s *services) Close() {
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
