package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the public API plus the internal dispatch endpoint.
// Generated assets are served straight off the storage directory; a CDN sits
// in front of this in production.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	var countryLookup middleware.CountryLookup
	if app.Geo != nil {
		countryLookup = app.Geo.CountryCode
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Cfg.CORSAllowedOrigins),
		middleware.I18N("en", countryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	// Invoked by the job dispatch substrate, not by clients.
	r.Post("/internal/jobs/run", app.JobsRun)

	r.Route("/v1/auth/otp", func(r chi.Router) {
		r.Post("/send", app.OTPSend)
		r.Post("/verify", app.OTPVerify)
	})

	r.Route("/v1/generations", func(r chi.Router) {
		r.Get("/{id}", app.GenerationsStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthSession(app.Cfg.JWTSecret))
			r.Post("/", app.GenerationsCreate)
			r.Post("/{id}/refine", app.GenerationsRefine)
		})
	})

	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(app.Cfg.StoragePath)))
	r.Get("/static/*", fileServer.ServeHTTP)

	return r
}
