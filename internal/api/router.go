package api

import (
	"net/http"
	"os"

	"github.com/cheolwanpark/meows-archive/collector/internal/scheduler"
	"github.com/cheolwanpark/meows-archive/collector/internal/searchindex"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"github.com/cheolwanpark/meows-archive/collector/internal/tagging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// SetupRouter creates and configures the HTTP router serving the task,
// search and tag surface over the state store and search index.
func SetupRouter(store *statestore.Store, idx *searchindex.Index, tags *tagging.Manager, sched *scheduler.Scheduler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(Logger)
	r.Use(ContentType)

	h := NewHandler(store, idx, tags, sched)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetTask)
		r.Patch("/{id}", h.UpdateTask)
		r.Delete("/{id}", h.DeleteTask)
	})

	r.Get("/search", h.Search)
	r.Get("/search/stream", h.SearchStream)
	r.Get("/search/suggestions", h.SearchSuggestions)
	r.Get("/search/popular", h.PopularSearches)

	r.Route("/tags", func(r chi.Router) {
		r.Post("/", h.CreateTag)
		r.Get("/", h.ListTags)
		r.Delete("/{name}", h.DeleteTag)
	})

	r.Route("/posts/{id}/tags", func(r chi.Router) {
		r.Post("/", h.TagPost)
		r.Delete("/{name}", h.UntagPost)
	})
	r.Post("/posts/{id}/autotag", h.AutoTagPost)

	r.Get("/stats", h.Stats)
	r.Get("/metrics", h.Metrics)
	r.Get("/integrity", h.Integrity)
	r.Get("/health", h.Health)

	// Swagger UI (environment-gated for development only).
	// Access at http://localhost:8080/docs when ENABLE_SWAGGER=true.
	if os.Getenv("ENABLE_SWAGGER") == "true" {
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("doc.json"),
		))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}
