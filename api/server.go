/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/residents/{id}/*   Ledger operations (see handlers.go)
  /metrics                Prometheus scrape endpoint (when provided)
  /healthz                Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind a gateway that
  authenticates callers.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metrics may
// be nil.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api/residents/{id}", func(r chi.Router) {
		r.Post("/init", h.InitResident)
		r.Post("/charges", h.PostCharge)
		r.Post("/payments", h.PostPayment)
		r.Post("/credits", h.PostCredit)
		r.Post("/refunds", h.PostRefund)
		r.Post("/chargebacks", h.PostChargeback)
		r.Post("/late-fees", h.PostLateFee)

		r.Get("/balance", h.GetBalance)
		r.Get("/version", h.GetVersion)
		r.Get("/history", h.GetHistory)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Get("/healthz", h.Healthz)

	return r
}
