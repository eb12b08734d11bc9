package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.instrument)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.deps.Audit, g.authLimit))
		} else {
			r.Use(loopbackOnly)
		}

		r.Get("/status", g.handleStatus())
		if g.deps.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.deps.Gatherer, promhttp.HandlerOpts{}))
		}
		r.Get("/ws/reviews", g.handleReviewStream)

		r.Route("/api", func(r chi.Router) {
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", g.handleListTasks())
				r.Post("/", g.handleStartTask())
				r.Get("/{id}", g.handleGetTask())
				r.Delete("/{id}", g.handleCancelTask())
			})
			r.Route("/reviews", func(r chi.Router) {
				r.Get("/", g.handleListReviews())
				r.Get("/{id}", g.handleGetReview())
				r.Post("/{id}", g.handleDecide())
			})
		})
	})

	return r
}
