package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/middleware"
	"github.com/atinyakov/qrmenu/internal/tenant"
)

// RouterOptions carries the settings shared by all routes.
type RouterOptions struct {
	AdminSecret  string
	Resolver     *tenant.Resolver
	MaxBodyBytes int64
	// AuthLimiter throttles registration and login. Nil disables throttling.
	AuthLimiter *middleware.RateLimiter
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace the peer
	// address, which keys the rate limiter.
	TrustProxyHeaders bool
}

// NewRouter constructs the HTTP handler of the menu API.
//
// Routes:
//
//	GET  /api/health             → Health
//	GET  /api/users              → usersHandler.List
//	GET  /api/menu               → menuHandler.Get
//	GET  /menus/{tenant}.json    → menuHandler.GetFile
//	POST /api/users-register     → usersHandler.Register (rate limited)
//	POST /api/users-login        → usersHandler.Login (rate limited)
//	POST /api/users-set-password → usersHandler.SetPassword (admin or current password)
//	POST /api/users-approve      → usersHandler.Approve (admin)
//	POST /api/users-reject       → usersHandler.Reject (admin)
//	POST /api/users-delete       → usersHandler.Delete (admin)
//	POST /api/users-migrate      → usersHandler.Migrate (admin)
//	POST /api/save-menu          → menuHandler.Save (admin)
func NewRouter(
	usersHandler *UsersHandler,
	menuHandler *MenuHandler,
	opts RouterOptions,
	logger *zap.Logger,
) http.Handler {
	if opts.Resolver == nil {
		opts.Resolver = tenant.NewResolver(tenant.DefaultSlug)
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.AdminSecretHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Tenant(opts.Resolver))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, KindNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, KindMethodNotAllowed, nil)
	})

	r.Get("/menus/{file}", menuHandler.GetFile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", Health)
		r.Get("/users", usersHandler.List)
		r.Get("/menu", menuHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))
			if opts.MaxBodyBytes > 0 {
				r.Use(chiMiddleware.RequestSize(opts.MaxBodyBytes))
			}

			r.Group(func(r chi.Router) {
				if opts.AuthLimiter != nil {
					r.Use(opts.AuthLimiter.Middleware)
				}
				r.Post("/users-register", usersHandler.Register)
				r.Post("/users-login", usersHandler.Login)
			})

			r.Post("/users-set-password", usersHandler.SetPassword)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminSecret(opts.AdminSecret))
				r.Post("/users-approve", usersHandler.Approve)
				r.Post("/users-reject", usersHandler.Reject)
				r.Post("/users-delete", usersHandler.Delete)
				r.Post("/users-migrate", usersHandler.Migrate)
				r.Post("/save-menu", menuHandler.Save)
			})
		})
	})

	return r
}
