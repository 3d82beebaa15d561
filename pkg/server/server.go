// Package server provides the public entry point for initializing the
// Loom orchestration engine server.
//
// This package exists in pkg/ (not internal/) so that the hosted repo
// (loom-cloud) can import it and compose the full server with persistent
// storage and billing overrides.
//
// Usage (OSS):
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loomworks/loom/internal/api"
	"github.com/loomworks/loom/internal/api/handlers"
	"github.com/loomworks/loom/internal/backend"
	"github.com/loomworks/loom/internal/chain"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/planning"
	"github.com/loomworks/loom/internal/reflection"
	"github.com/loomworks/loom/internal/routing"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/telemetry"
	"github.com/loomworks/loom/pkg/contracts"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized orchestration engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory for OSS).
	// Exposed so hosted deployments can wrap it with their own middleware.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all OSS engine components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	// Initialize telemetry
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// OSS uses in-memory store (single project, zero configuration)
	dataStore := store.NewMemoryStoreWithHistory(cfg.Engine.HistorySize)
	log.Info().Msg("✅ In-memory store initialized")

	// External collaborators
	gen := backend.NewClient(cfg.Backends)
	search := backend.NewSearchClient(cfg.Backends)

	var sink contracts.LearningSink = contracts.NopSink{}
	if cfg.Backends.MemorySinkURL != "" {
		sink = backend.NewMemorySink(cfg.Backends.MemorySinkURL)
		log.Info().Msg("✅ Memory sink attached")
	}

	// Engines
	chains := chain.NewEngine(dataStore, gen, search, sink, cfg.Engine)
	router := routing.NewEngine(dataStore)
	reflector := reflection.NewEngine(dataStore, gen, sink, cfg.Engine)
	planner := planning.NewEngine(dataStore, gen, chains, sink)
	orch := orchestrator.NewService(dataStore, gen, router, chains, planner, reflector, sink)

	log.Info().Msg("✅ Chain Engine initialized")
	log.Info().Msg("✅ Routing Engine initialized")
	log.Info().Msg("✅ Reflection Engine initialized")
	log.Info().Msg("✅ Planning Engine initialized")
	log.Info().Msg("✅ Orchestrator initialized")

	// Build handlers + API router
	h := handlers.New(dataStore, orch, chains, router, reflector, planner)
	apiRouter := api.NewRouter(cfg, h)

	return &Server{
		Handler:      apiRouter,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
