// Package app wires the application container: configuration, logger,
// database pool, LLM client, stores, the reembed worker and the chat
// service, in dependency order. Everything the CLI and the HTTP server
// need hangs off App.
package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/secondbrain-app/secondbrain/internal/api"
	"github.com/secondbrain-app/secondbrain/internal/chat"
	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/config"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
	"github.com/secondbrain-app/secondbrain/internal/reembed"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool        *pgxpool.Pool
	LLM         llm.Client
	Splitter    *chunk.Splitter
	Knowledge   *knowledge.Store
	Chats       *chat.Store
	ChatService *chat.Service

	queue  *reembed.Queue
	worker *reembed.Worker

	Reconciler *reembed.Reconciler
}

// Close releases all resources: the reembed worker drains and stops
// before the pool it writes through is closed.
func (a *App) Close() {
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	a.Logger.Info("application shut down")
}

// Server builds the HTTP API server over the container's components.
func (a *App) Server() (*api.Server, error) {
	return api.NewServer(api.ServerConfig{
		Logger:         a.Logger,
		Documents:      a.Knowledge,
		Chats:          a.Chats,
		Service:        a.ChatService,
		Search:         a.Knowledge,
		Splitter:       a.Splitter,
		Pool:           a.Pool,
		UploadDir:      a.Config.UploadDir,
		MaxUploadBytes: a.Config.MaxUploadSize,
		CORSOrigins:    a.Config.CORSOrigins,
		RateBurst:      a.Config.RateBurst,
		RatePerSecond:  a.Config.RatePerSecond,
	})
}

// Sweep runs one stale-chunk reconciliation pass.
func (a *App) Sweep(ctx context.Context) (int, error) {
	return a.Reconciler.Sweep(ctx)
}

// Reembed queues a chunk for background re-embedding. It reports false
// when the queue is full or shut down; a dropped chunk stays on the
// stale list and a later sweep retries it.
func (a *App) Reembed(chunkID uuid.UUID, p reembed.Priority) bool {
	return a.queue.Enqueue(chunkID, p)
}
