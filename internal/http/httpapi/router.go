package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"imagebot/internal/http/handlers"
	"imagebot/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Group(func(r chi.Router) {
			if app.Config.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))
			}
			r.Use(middleware.AuthJWT(app.Config.JWTSecret))

			r.Route("/images", func(r chi.Router) {
				r.Post("/generate", app.ImagesGenerate)
				r.Post("/edit", app.ImagesEdit)
				r.Get("/history", app.ImagesHistory)
			})
			r.Route("/tasks/{task_id}", func(r chi.Router) {
				r.Get("/", app.TaskStatus)
				r.Post("/enhance", app.TaskEnhance)
				r.Post("/regenerate", app.TaskRegenerate)
			})
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", app.JobsList)
				r.Get("/{handle_id}", app.JobGet)
				r.Delete("/{handle_id}", app.JobCancel)
			})
			r.Get("/me/limits", app.MeLimits)
		})
	})

	return r
}
