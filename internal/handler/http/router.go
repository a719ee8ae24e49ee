package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/pkg/health"
	"github.com/timelycabs/auth/pkg/middleware"
)

// RouterConfig collects the router's collaborators. Limiter and Metrics are
// optional.
type RouterConfig struct {
	ServiceName string
	Auth        AuthService
	Users       UserReader
	Health      *health.Handler
	Limiter     middleware.Limiter
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	CORS        CORSConfig
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Handler)
	}
	r.Use(middleware.Recovery(cfg.Logger))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := NewAuthHandler(cfg.Auth, cfg.Users, cfg.Logger)
	r.Route("/api/v1/auth", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/request-otp", h.RequestOTP)
			r.Post("/resend-otp", h.ResendOTP)
			r.Post("/verify-otp", h.VerifyOTP)
			r.Post("/complete-profile", h.CompleteProfile)
			r.Post("/logout", h.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.ValidateToken))

			r.Get("/me", h.Me)
			r.With(middleware.RequireRole(domain.RoleAdmin, domain.RoleSupport)).Get("/otp-stats", h.OTPStats)
		})
	})

	return r
}
