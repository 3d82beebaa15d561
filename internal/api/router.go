package api

import (
	"encoding/json"
	"net/http"

	"github.com/loomworks/loom/internal/api/handlers"
	"github.com/loomworks/loom/internal/api/middleware"
	"github.com/loomworks/loom/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Project-Id", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Agentic orchestration
		r.Route("/agentic", func(r chi.Router) {
			r.Post("/process", h.ProcessAgentic)
			r.Get("/sessions/{sessionID}", h.GetAgenticSession)
			r.Get("/cost", h.GetCostSummary)
		})

		// Prompt chains
		r.Route("/chains", func(r chi.Router) {
			r.Get("/", h.ListChains)
			r.Post("/", h.CreateChain)

			r.Route("/executions", func(r chi.Router) {
				r.Get("/", h.ListExecutions)
				r.Route("/{executionID}", func(r chi.Router) {
					r.Get("/", h.GetExecution)
					r.Post("/pause", h.PauseExecution)
					r.Post("/resume", h.ResumeExecution)
				})
			})

			r.Route("/{chainID}", func(r chi.Router) {
				r.Get("/", h.GetChain)
				r.Put("/", h.UpdateChain)
				r.Delete("/", h.DeleteChain)
				r.Post("/execute", h.ExecuteChain)
			})
		})

		// Model routing
		r.Route("/routing", func(r chi.Router) {
			r.Post("/route", h.Route)
			r.Post("/outcomes", h.RecordOutcome)
			r.Get("/history", h.GetRoutingHistory)

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", h.ListProviders)
				r.Post("/", h.CreateProvider)
				r.Route("/{providerID}", func(r chi.Router) {
					r.Get("/", h.GetProvider)
					r.Put("/", h.UpdateProvider)
					r.Delete("/", h.DeleteProvider)
				})
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Post("/", h.CreateRule)
				r.Route("/{ruleID}", func(r chi.Router) {
					r.Get("/", h.GetRule)
					r.Put("/", h.UpdateRule)
					r.Delete("/", h.DeleteRule)
				})
			})
		})

		// Reflection
		r.Route("/reflection", func(r chi.Router) {
			r.Post("/sessions", h.CreateReflectionSession)
			r.Get("/sessions/{sessionID}", h.GetReflectionSession)
		})

		// Planning
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/decompose", h.DecomposePlan)
			r.Route("/{planID}", func(r chi.Router) {
				r.Get("/", h.GetPlan)
				r.Post("/execute", h.ExecutePlan)
			})
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "loom-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "loom-engine",
		})
	}
}
