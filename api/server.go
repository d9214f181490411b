/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/items/*          Item catalogue and item history
  /api/transactions     Ledger queries and movements of any kind
  /api/events/*         Events, their requests and reports
  /api/requests/*       Request updates and deletion
  /api/allocations/*    Two-phase allocation
  /api/returns          FIFO returns
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The X-Actor header is trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// origins list falls back to DefaultAllowedOrigins.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Delete("/{id}", h.DeleteItem)
			r.Get("/{id}/entries", h.GetItemEntries)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.RecordTransaction)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/complete", h.CompleteEvent)
			r.Get("/{id}/requests", h.ListEventRequests)
			r.Post("/{id}/requests", h.CreateRequest)
			r.Post("/{id}/allocate-available", h.AllocateAvailable)
			r.Get("/{id}/checklist", h.GetChecklist)
			r.Get("/{id}/shopping-list", h.GetShoppingList)
			r.Get("/{id}/cost", h.GetEventCost)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Put("/{id}", h.UpdateRequest)
			r.Delete("/{id}", h.DeleteRequest)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.Allocate)
			r.Post("/plan", h.PlanAllocation)
		})

		r.Post("/returns", h.ReturnFromEvent)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
