package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter mounts the API routes with the standard middleware stack.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(Logging(logger))
	r.Use(Recovery(logger))

	r.Post("/node", h.createNode)
	r.Get("/node/{id}", h.getNode)
	r.Put("/node/{id}", h.updateNode)
	r.Delete("/node/{id}", h.deleteNode)

	r.Post("/nodes", h.upsertNodes)
	r.Post("/compare", h.compareNodes)

	r.Get("/cache/{id}", h.getCache)
	r.Post("/cache/{id}", h.rebuildCache)

	r.Get("/search", h.search)
	r.Post("/search", h.search)
	r.Get("/check", h.checkSyntax)

	r.Get("/setting/{category}", h.getSetting)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, http.StatusOK, "ok")
	})

	return r
}
