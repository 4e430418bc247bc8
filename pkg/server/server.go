// Package server assembles the quest assistant from configuration.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/izik-adio/zik-back-sub000/internal/api"
	"github.com/izik-adio/zik-back-sub000/internal/api/handlers"
	"github.com/izik-adio/zik-back-sub000/internal/assistant"
	"github.com/izik-adio/zik-back-sub000/internal/auth"
	"github.com/izik-adio/zik-back-sub000/internal/config"
	"github.com/izik-adio/zik-back-sub000/internal/dispatch"
	"github.com/izik-adio/zik-back-sub000/internal/generation"
	"github.com/izik-adio/zik-back-sub000/internal/guardrails"
	"github.com/izik-adio/zik-back-sub000/internal/inference"
	"github.com/izik-adio/zik-back-sub000/internal/milestones"
	"github.com/izik-adio/zik-back-sub000/internal/ratelimit"
	"github.com/izik-adio/zik-back-sub000/internal/retention"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/internal/telemetry"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized quest assistant.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (PostgreSQL or in-memory).
	Store store.Store

	Config *config.Config

	queue    *generation.Queue
	engine   *milestones.Engine
	limiter  *ratelimit.KeyedLimiter
	janitor  *retention.Janitor
	shutdown telemetry.ShutdownFunc
	cancel   context.CancelFunc
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := OpenStore(ctx, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	queue := generation.NewQueue(newPipeline(cfg.Generation), generation.Options{
		Workers:    cfg.Generation.Workers,
		Size:       cfg.Generation.QueueSize,
		MaxRetries: cfg.Generation.MaxRetries,
	})
	queue.OnDone = func(job *models.GenerationJob, err error) {
		if err != nil {
			log.Error().Err(err).Str("job", job.ID).Str("kind", string(job.Kind)).Msg("❌ Generation job failed")
		}
	}
	engine := milestones.NewEngine(dataStore, queue)
	dispatcher := dispatch.New(dataStore, queue, engine)
	log.Info().Msg("✅ Milestone engine initialized")

	drivers := inference.NewRegistry(cfg.Inference)
	log.Info().Str("provider", drivers.Kind()).Strs("drivers", drivers.ListDrivers()).Msg("✅ Inference drivers initialized")

	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.TurnsPerMinute, cfg.RateLimit.Burst)

	orchestrator := assistant.NewOrchestrator(assistant.Deps{
		Store:      dataStore,
		Inference:  drivers,
		Validator:  guardrails.NewValidator(cfg.Assistant.ToolName, dataStore),
		Dispatcher: dispatcher,
		Limiter:    limiter,
	}, assistant.Options{
		HistoryLimit:     cfg.Assistant.HistoryLimit,
		MaxMessageLength: cfg.Assistant.MaxMessageLength,
		MaxTokens:        cfg.Inference.MaxTokens,
		ToolName:         cfg.Assistant.ToolName,
		InferenceTimeout: cfg.Inference.Timeout,
	})
	log.Info().Msg("✅ Chat orchestrator initialized")

	h := &handlers.Handlers{
		Chat:           orchestrator,
		Tasks:          dispatcher,
		Roadmaps:       engine,
		Store:          dataStore,
		Version:        cfg.Version,
		PipelineSecret: cfg.Generation.Secret,
	}

	return &Server{
		Handler:  api.NewRouter(h, NewAuthChain(cfg.Auth), cfg.Auth.RequireAuth),
		Store:    dataStore,
		Config:   cfg,
		queue:    queue,
		engine:   engine,
		limiter:  limiter,
		janitor:  newJanitor(dataStore, cfg.Retention),
		shutdown: shutdown,
	}, nil
}

// OpenStore opens PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		s := store.NewMemoryStore(cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	}
	s, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL store initialized")
	return s, nil
}

// NewAuthChain registers JWT authentication, plus the development header
// provider when authentication is optional.
func NewAuthChain(cfg config.AuthConfig) contracts.AuthProviderChain {
	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer))
	if !cfg.RequireAuth {
		chain.RegisterProvider(auth.DevProvider{})
		log.Warn().Str("header", auth.DevUserHeader).Msg("⚠️ Authentication optional, development header accepted")
	}
	return chain
}

func newPipeline(cfg config.GenerationConfig) contracts.GenerationPipeline {
	if cfg.PipelineURL == "" {
		log.Warn().Msg("⚠️ No generation pipeline configured, jobs will only be logged")
		return generation.LogPipeline{}
	}
	return generation.NewHTTPPipeline(cfg.PipelineURL, cfg.Secret)
}

func newJanitor(s store.RetentionStore, cfg config.RetentionConfig) *retention.Janitor {
	var archiver retention.Archiver
	if cfg.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.ArchiveDir, cfg.Compress)
	}
	return retention.NewJanitor(s, archiver, retention.Policy{
		AuditRetention:   cfg.AuditRetention,
		MessageRetention: cfg.MessageRetention,
	}, cfg.Interval)
}

// Start launches the background workers. They stop on Shutdown or when
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)
	go s.limiter.Run(ctx, time.Minute)
	go s.janitor.Start(ctx)
}

// Shutdown drains pending progressions and generation jobs, then closes
// the store and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	var errList []error
	if err := s.engine.Wait(ctx); err != nil {
		errList = append(errList, fmt.Errorf("milestone engine: %w", err))
	}
	if err := s.queue.Stop(ctx); err != nil {
		errList = append(errList, fmt.Errorf("generation queue: %w", err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.Store.Close(); err != nil {
		errList = append(errList, fmt.Errorf("store: %w", err))
	}
	if err := s.shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errList...)
}
