package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/legislative-engine/cmd/legislative-engine-api/handlers"
	"github.com/spherical-ai/spherical/libs/legislative-engine/cmd/legislative-engine-api/middleware"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/api/rpc"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

// Services are the collaborators the router mounts.
type Services struct {
	Engine handlers.Engine
	Batch  handlers.BatchAnswerer
	RPC    rpc.Answerer
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// RouterConfig holds router settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, svc Services, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"legislative-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if svc.Ready != nil {
			if err := svc.Ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "detail": err.Error()})
				return
			}
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	answerHandler := handlers.NewAnswerHandler(logger, svc.Engine, svc.Batch)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/answer", answerHandler.Answer)
		r.Post("/answer/batch", answerHandler.Batch)
		r.Post("/classify", answerHandler.Classify)
		r.Post("/plan", answerHandler.Plan)
		r.Get("/stats", answerHandler.Stats)
	})

	if svc.RPC != nil {
		path, handler := rpc.NewHandler(rpc.NewAnswerService(logger, svc.RPC))
		r.Handle(path, handler)
	}

	return r
}
