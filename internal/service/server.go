package service

import (
	"net/http"
	"strconv"
	"time"

	"coin_market/internal/app"
	"coin_market/internal/config"
	"coin_market/internal/pkg/auth"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/pkg/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service encapsulates the HTTP server configuration, including the application's business logic,
// HTTP handlers, the session authority, the server's run address, and a logger.
type Service struct {
	handlers       *handlers
	app            *app.App
	sessions       *auth.Authority
	allowedOrigins []string
	runAddress     string
	log            *logger.Logger
}

// NewService creates and initializes a new Service instance.
// Cookie security and CORS origins are taken from the process configuration.
func NewService(app *app.App, sessions *auth.Authority, runAddress string, l *logger.Logger) *Service {
	handlers := newHandlers(app, sessions, config.SessionCookieSecure, l)
	return &Service{
		handlers:       handlers,
		app:            app,
		sessions:       sessions,
		allowedOrigins: config.CORSAllowedOrigins,
		runAddress:     runAddress,
		log:            l,
	}
}

// NewRouter sets up and returns a new chi.Router instance with the necessary middleware and routes.
// Request logging, panic recovery, CORS and latency metrics apply globally; the session
// middleware guards the routes acting on behalf of an account.
func (service *Service) NewRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(service.log.WithLogging())
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   service.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(observeDuration)

	router.Get("/health", service.handlers.healthHandler)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Post("/signup", service.handlers.signupHandler)
		r.Post("/login", service.handlers.loginHandler)
		r.Post("/logout", service.handlers.logoutHandler)
		r.Get("/transactions", service.handlers.listTransactionsHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(service.sessions))
			r.Get("/profile", service.handlers.profileHandler)
			r.Get("/coins", service.handlers.listCoinsHandler)
			r.Post("/coins", service.handlers.issueCoinHandler)
			r.Post("/buy-coin", service.handlers.buyCoinHandler)
		})
	})
	return router
}

// observeDuration records the latency of every request under its route pattern.
func observeDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(started).Seconds())
	})
}
