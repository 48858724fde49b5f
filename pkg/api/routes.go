package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(securityHeaders)
	r.Use(s.corsMiddleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.metrics.registry, promhttp.HandlerOpts{},
	))

	r.Route("/auth/api", func(r chi.Router) {
		r.Use(noCache)
		r.Use(s.resolveSite)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.Server.RateLimit.Auth))
			}

			r.Get("/is-authorized/", s.handleIsAuthorized)
			r.Get("/login/", s.handleLogin)
			r.Get("/whoami/", s.handleWhoAmI)
			r.Post("/csrf-token/", s.handleCSRFToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.csrfProtect)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.Server.RateLimit.Token))
			}

			r.Post("/send-token/", s.handleSendToken)
			r.Post("/logout/", s.handleLogout)
		})
	})

	// The admin API manages a site's access rules. It carries no
	// authentication of its own: deployments protect it by fronting
	// it with the oracle itself, declaring /admin/ as a location.
	r.Route("/admin/api", func(r chi.Router) {
		r.Use(noCache)
		r.Use(s.resolveSite)
		r.Use(s.csrfProtect)

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", s.handleListLocations)
			r.Post("/", s.handleCreateLocation)

			r.Route("/{locationUUID}", func(r chi.Router) {
				r.Get("/", s.handleGetLocation)
				r.Delete("/", s.handleDeleteLocation)

				r.Put("/open-access/", s.handleGrantOpenAccess)
				r.Get("/open-access/", s.handleGetOpenAccess)
				r.Delete("/open-access/", s.handleRevokeOpenAccess)

				r.Route("/allowed-users/{userUUID}", func(r chi.Router) {
					r.Put("/", s.handleGrantAccess)
					r.Get("/", s.handleGetAccess)
					r.Delete("/", s.handleRevokeAccess)
				})
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)

			r.Route("/{userUUID}", func(r chi.Router) {
				r.Get("/", s.handleGetUser)
				r.Delete("/", s.handleDeleteUser)
			})
		})

		r.Route("/aliases", func(r chi.Router) {
			r.Get("/", s.handleListAliases)
			r.Post("/", s.handleCreateAlias)
			r.Delete("/{aliasID}/", s.handleDeleteAlias)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler that only admits origins
// registered as a site alias. Browsers calling from a site's own
// admin UI pass; everything else gets no CORS headers.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			normalized, err := urlpath.ValidateSiteURL(origin)
			if err != nil {
				return false
			}

			_, err = s.store.FindSiteByAlias(r.Context(), normalized)

			return err == nil
		},
		AllowedMethods: []string{
			"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowedHeaders:   []string{"Content-Type", "Site-Url", csrfHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
