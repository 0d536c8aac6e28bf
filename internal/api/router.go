package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

// RouterOptions carries the deployment settings the handlers need.
type RouterOptions struct {
	APIKey              string
	Provider            string
	ExtractOnExchange   bool
	DefaultContextLimit int
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(db *store.DB, svc *memory.Service, opts RouterOptions, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	// Handlers
	healthH := NewHealthHandler(db, svc, opts.Provider)
	memoryH := NewMemoryHandler(svc, opts.DefaultContextLimit)
	bulkH := NewBulkHandler(svc)
	tagH := NewTagHandler(svc)
	chatH := NewChatHandler(svc, opts.ExtractOnExchange)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.APIKey))
		r.Use(UserExtractor)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", memoryH.List)
			r.Post("/", memoryH.Create)
			r.Post("/context", memoryH.Context)
			r.Post("/ingest", bulkH.Ingest)
			r.Get("/recent", memoryH.Recent)
			r.Get("/stats", memoryH.Stats)
			r.Get("/{id}", memoryH.Get)
			r.Patch("/{id}", memoryH.Update)
			r.Post("/{id}/verify", memoryH.Verify)
			r.Post("/{id}/toggle-active", memoryH.ToggleActive)
		})

		r.Get("/memory-tags", tagH.List)

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatH.Create)
			r.Get("/{id}", chatH.Get)
			r.Delete("/{id}", chatH.Delete)
			r.Post("/{id}/exchanges", chatH.AppendExchange)
			r.Post("/{id}/extract-memories", chatH.ExtractMemories)
		})
	})

	return r
}
