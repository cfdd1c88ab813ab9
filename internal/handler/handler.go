// Package handler implements the JSON HTTP API of the inventory.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opted/inventory/internal/activity"
	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/event"
	"github.com/opted/inventory/internal/geocode"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/query"
	"github.com/opted/inventory/internal/review"
	"github.com/opted/inventory/internal/schema"
)

// Deps are the collaborators of the API.
type Deps struct {
	Registry *schema.Registry
	Store    graphstore.Store
	Geocoder geocode.Geocoder
	Activity activity.Store
	Recorder event.Recorder
	// Feed serves the review websocket. Nil disables the route.
	Feed   http.Handler
	Logger *slog.Logger
}

// Handler serves the API routes.
type Handler struct {
	registry  *schema.Registry
	store     graphstore.Store
	mutations *mutation.Compiler
	reader    *query.Reader
	reviews   *review.Compiler
	activity  activity.Store
	recorder  event.BestEffort
	feed      http.Handler
	logger    *slog.Logger
}

// New wires a Handler from deps.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  d.Registry,
		store:     d.Store,
		mutations: mutation.NewCompiler(d.Registry, d.Store, d.Geocoder),
		reader:    query.NewReader(d.Registry, d.Store),
		reviews:   review.NewCompiler(d.Registry, d.Store),
		activity:  d.Activity,
		recorder:  event.BestEffort{Recorder: d.Recorder, Logger: logger},
		feed:      d.Feed,
		logger:    logger,
	}
}

// Mount registers every route on r. The actor must already be resolved
// by auth middleware.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schema", h.ListSchemas)
		r.Get("/schema/{type}", h.GetSchema)
		r.Get("/query", h.Query)
		r.Get("/search", h.Search)
		r.Get("/recent", h.Recent)
		r.Get("/entries/{uid}", h.GetEntry)
		r.Get("/view/{type}/{unique_name}", h.ViewEntry)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(auth.RoleContributor))
			r.Post("/entries/{type}", h.CreateEntry)
			r.Patch("/entries/{type}/{uid}", h.UpdateEntry)
			r.Post("/entries/{uid}/review", h.ReviewEntry)
			r.Get("/lookup/{type}", h.Lookup)
			r.Get("/duplicates/{type}", h.Duplicates)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(auth.RoleReviewer))
			r.Get("/entries/{uid}/activity", h.EntryActivity)
			r.Get("/review/queue", h.ReviewQueue)
			r.Get("/users/{uid}/activity", h.UserActivity)
			r.Post("/activity/search", h.SearchActivity)
		})
		r.With(auth.Require(auth.RoleAdmin)).Delete("/entries/{uid}", h.DeleteEntry)
	})

	if h.feed != nil {
		r.With(auth.Require(auth.RoleReviewer)).Get("/ws/review", h.feed.ServeHTTP)
	}
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
