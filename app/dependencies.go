package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/config"
	"github.com/upb/chat-relay/repositories"
	"github.com/upb/chat-relay/repositories/memory"
	"github.com/upb/chat-relay/repositories/postgres"
	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/services/chat"
	"github.com/upb/chat-relay/services/embedding"
	"github.com/upb/chat-relay/services/providers"
	"github.com/upb/chat-relay/services/providers/openai"
	"github.com/upb/chat-relay/services/rag"
	"github.com/upb/chat-relay/services/relay"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory, nil for the memory backend
	RepoFactory *postgres.RepositoryFactory

	// Similarity backend
	Chunks repositories.ChunkRepository

	// Upstream clients
	Provider providers.StreamingProvider
	Embedder embedding.Embedder

	// Services
	Augmenter *rag.Augmenter
	Sessions  *chat.SessionManager
	Driver    *chat.Driver
	Relay     *relay.Service
}

// Option overrides a dependency before the services are wired
type Option func(*Dependencies)

// WithChunkRepository replaces the configured similarity backend
func WithChunkRepository(repo repositories.ChunkRepository) Option {
	return func(d *Dependencies) {
		d.Chunks = repo
	}
}

// WithProvider replaces the OpenAI-compatible completion client
func WithProvider(provider providers.StreamingProvider) Option {
	return func(d *Dependencies) {
		d.Provider = provider
	}
}

// WithEmbedder replaces the OpenAI-compatible embedding client
func WithEmbedder(embedder embedding.Embedder) Option {
	return func(d *Dependencies) {
		d.Embedder = embedder
	}
}

// NewDependencies creates and wires up all application dependencies.
// A similarity backend whose stored dimension differs from
// EMBEDDING_DIMENSION is a configuration error and aborts startup.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	if deps.Chunks == nil {
		if err := deps.initChunks(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize similarity backend: %w", err)
		}
	}

	if err := deps.checkDimension(ctx, cfg.Embedding.Dimension); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	deps.initClients(cfg)

	if err := deps.initServices(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("rag_backend", cfg.RAG.Backend),
		zap.String("model", cfg.Inference.Model))
	return deps, nil
}

// initChunks opens the configured similarity backend
func (d *Dependencies) initChunks(ctx context.Context, cfg *config.Config) error {
	switch cfg.RAG.Backend {
	case config.BackendMemory:
		d.Chunks = memory.NewChunkStore(cfg.Embedding.Dimension)
		d.Logger.Warn("using in-memory similarity backend; chunks are not persisted")
		return nil

	case config.BackendPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB()

		if cfg.Database.AutoMigrate {
			if err := factory.Migrate(ctx); err != nil {
				_ = factory.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		d.Chunks = factory.NewChunkRepository(cfg.RAG.Staging)
		d.Logger.Info("database connection established",
			zap.String("connection", cfg.Database.LogString()),
			zap.String("staging", cfg.RAG.Staging))
		return nil

	default:
		return fmt.Errorf("unknown similarity backend %q", cfg.RAG.Backend)
	}
}

// checkDimension compares the backend's vector dimension with the embedder's
func (d *Dependencies) checkDimension(ctx context.Context, want int) error {
	got, err := d.Chunks.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to read similarity backend dimension: %w", err)
	}

	// An unconstrained vector column reports no dimension; the per-query
	// check in the augmenter still applies.
	if got <= 0 {
		d.Logger.Warn("similarity backend does not declare a vector dimension",
			zap.Int("expected", want))
		return nil
	}

	if got != want {
		d.Logger.Error("embedding dimension mismatch",
			zap.Int("expected", want),
			zap.Int("actual", got))
		return services.NewDimensionMismatch(want, got)
	}
	return nil
}

// initClients creates the completion and embedding clients unless overridden
func (d *Dependencies) initClients(cfg *config.Config) {
	if d.Provider == nil {
		d.Provider = openai.NewOpenAIAdapter(providers.ProviderConfig{
			APIKey:  cfg.Inference.APIKey,
			BaseURL: cfg.Inference.BaseURL,
			Model:   cfg.Inference.Model,
			Timeout: cfg.Inference.Timeout,
		})
	}

	if d.Embedder == nil {
		d.Embedder = embedding.NewOpenAIEmbedder(embedding.Config{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		}, d.Logger)
	}
}

// initServices wires the augmenter, chat and relay services
func (d *Dependencies) initServices(cfg *config.Config) error {
	relayMode, err := rag.ParseMode(cfg.Relay.Mode)
	if err != nil {
		return err
	}

	d.Augmenter = rag.NewAugmenter(d.Embedder, d.Chunks, rag.Config{
		Dimension:        cfg.Embedding.Dimension,
		RetrievalTimeout: cfg.RAG.RetrievalTimeout,
		MinSimilarity:    cfg.RAG.MinSimilarity,
	}, d.Logger.Named("rag"))

	d.Sessions = chat.NewSessionManager(d.Logger)
	d.Driver = chat.NewDriver(d.Provider, d.Augmenter, chat.DriverConfig{
		Model:   cfg.Inference.Model,
		Timeout: cfg.Inference.Timeout,
	}, d.Logger.Named("chat"))

	d.Relay = relay.NewService(d.Provider, d.Augmenter, relay.Config{
		Model:   cfg.Inference.Model,
		Mode:    relayMode,
		Timeout: cfg.Inference.Timeout,
	}, d.Logger.Named("relay"))

	return nil
}

// HealthChecker returns the database health checker, or nil when no
// database is in use
func (d *Dependencies) HealthChecker() repositories.HealthChecker {
	if d.DB == nil {
		return nil
	}
	return d.DB
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
		d.DB = nil
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
