package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/deptrag/internal/access"
	"github.com/knoguchi/deptrag/internal/audit"
	"github.com/knoguchi/deptrag/internal/auth"
	"github.com/knoguchi/deptrag/internal/config"
	"github.com/knoguchi/deptrag/internal/embedder"
	"github.com/knoguchi/deptrag/internal/engine"
	"github.com/knoguchi/deptrag/internal/llm"
	"github.com/knoguchi/deptrag/internal/repository"
	"github.com/knoguchi/deptrag/internal/repository/postgres"
	"github.com/knoguchi/deptrag/internal/reranker"
	"github.com/knoguchi/deptrag/internal/server"
	"github.com/knoguchi/deptrag/internal/service"
	"github.com/knoguchi/deptrag/internal/vectorstore"
	"github.com/knoguchi/deptrag/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logLevel := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting department RAG service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"index_base_dir", cfg.IndexBaseDir,
		"reranker", cfg.RerankerBackend,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	documents := postgres.NewDocumentRepo(db)
	permissions := postgres.NewPermissionRepo(db)
	queryUsers := postgres.NewQueryUserRepo(db)
	history := postgres.NewQueryHistoryRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	scorer, err := newScorer(cfg, llmClient)
	if err != nil {
		return err
	}

	pool, err := worker.New(cfg.WorkerPoolSize)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Release(shutdownTimeout); err != nil {
			slog.Warn("worker pool did not drain", "error", err)
		}
	}()

	auditOpts := []audit.Option{audit.WithTimeout(cfg.AuditTimeout)}
	if cfg.AuditAsync {
		auditOpts = append(auditOpts, audit.WithPool(pool))
	}
	auditLogger := audit.NewLogger(history, auditOpts...)
	defer auditLogger.Close()

	registry := engine.NewRegistry(
		engine.NewQdrantFactory(vectorStore, embed, llmClient),
		cfg.IndexBaseDir,
	)

	querySvc := service.NewQueryService(
		access.NewResolver(documents, permissions, access.WithCatchAllCategory(cfg.CatchAllCategory)),
		registry,
		reranker.New(scorer),
		documents,
		auditLogger,
		service.WithPool(pool),
		service.WithCandidateBudget(cfg.CandidateBudget),
		service.WithRerankThreshold(cfg.RerankThreshold),
		service.WithDownloadLinkPrefix(cfg.DownloadLinkPrefix),
	)

	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Expiry = cfg.JWTExpiry
	authenticator := auth.NewAuthenticator(auth.NewJWTManager(jwtConfig), queryUsers, slog.Default())

	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		Querier:        querySvc,
		Authenticator:  authenticator,
		Readiness: map[string]server.ReadinessCheck{
			"database": db.Ping,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	grpcServer.SetServing(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	grpcServer.SetServing(false)

	slog.Info("shutting down servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	stats := querySvc.Stats()
	slog.Info("servers stopped",
		"queries", stats.Queries,
		"empty_scope", stats.EmptyScope,
		"dropped_sources", stats.DroppedSources,
		"engines_loaded", len(registry.Loaded()),
		"audit_failures", auditLogger.Failures(),
	)
	return nil
}

// llmJudgeBudget is the largest candidate budget the llm reranker reliably scores in one prompt
const llmJudgeBudget = 20

func newScorer(cfg *config.Config, llmClient llm.LLM) (reranker.Scorer, error) {
	switch cfg.RerankerBackend {
	case "cross-encoder":
		slog.Info("using cross-encoder reranker", "url", cfg.RerankerURL, "model", cfg.RerankerModel)
		return reranker.NewCrossEncoderScorer(cfg.RerankerURL, reranker.WithCrossEncoderModel(cfg.RerankerModel)), nil
	case "llm":
		if cfg.CandidateBudget > llmJudgeBudget {
			slog.Warn("llm reranker scores every candidate in one prompt; lower CANDIDATE_BUDGET or use cross-encoder",
				"candidate_budget", cfg.CandidateBudget,
				"recommended_max", llmJudgeBudget,
			)
		}
		return reranker.NewLLMScorer(llmClient, reranker.WithModel(cfg.OllamaLLMModel)), nil
	default:
		return nil, fmt.Errorf("unknown RERANKER_BACKEND %q (want llm or cross-encoder)", cfg.RerankerBackend)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentCatalog        = (*postgres.DocumentRepo)(nil)
	_ repository.PermissionStore        = (*postgres.PermissionRepo)(nil)
	_ repository.QueryUserRepository    = (*postgres.QueryUserRepo)(nil)
	_ repository.QueryHistoryRepository = (*postgres.QueryHistoryRepo)(nil)
	_ vectorstore.Searcher              = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder                 = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                           = (*llm.OllamaClient)(nil)
	_ service.AuditRecorder             = (*audit.Logger)(nil)
	_ service.EngineProvider            = (*engine.Registry)(nil)
	_ server.Querier                    = (*service.QueryService)(nil)
)
