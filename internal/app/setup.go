package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/secondbrain-app/secondbrain/internal/chat"
	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/config"
	"github.com/secondbrain-app/secondbrain/internal/database"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
	"github.com/secondbrain-app/secondbrain/internal/reembed"
)

// startupSweepTimeout bounds the stale-chunk sweep that runs on start.
const startupSweepTimeout = 5 * time.Minute

// Setup creates and initializes the application container. On error,
// everything already initialized is released; on success, call Close.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if err := database.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.Pool = pool

	client, err := llm.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	a.LLM = client

	a.Splitter = chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	store, err := knowledge.NewStore(pool, client, cfg.SearchLimit, cfg.SimilarityThreshold, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = store

	chats, err := chat.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat store: %w", err)
	}
	a.Chats = chats

	service, err := chat.NewService(chats, store, store, client, a.Splitter, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	a.ChatService = service

	a.queue = reembed.NewQueue(cfg.ReembedQueueSize)
	a.worker = reembed.NewWorker(a.queue, store, client, logger)
	a.worker.Start()
	a.Reconciler = reembed.NewReconciler(store, client, a.queue, logger)

	if cfg.ReconcileOnStart {
		// Startup sweep must not block serving: divert even shrink
		// repairs through the high-priority queue lane.
		sweeper := *a.Reconciler
		sweeper.ForceAsync = true
		go func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), startupSweepTimeout)
			defer cancel()
			if _, err := sweeper.Sweep(sweepCtx); err != nil {
				logger.Warn("startup reconcile sweep failed", "error", err)
			}
		}()
	}

	logger.Info("application initialized",
		"provider", cfg.Provider,
		"embedding_model", cfg.EmbeddingModel,
		"embedding_dim", cfg.EmbeddingDim,
	)
	return a, nil
}
