package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/bookings"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	httpmiddleware "github.com/wolfman30/appointment-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// HealthCheck is a named dependency probe reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AvailabilityHandler *availability.Handler
	BookingHandler      *bookings.Handler
	ClinicHandler       *clinic.Handler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
	RateLimiter         *httpmiddleware.RateLimiter
	HealthChecks        []HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(tenant chi.Router) {
		tenant.Use(requireTenantID)
		if cfg.RateLimiter != nil {
			tenant.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.AvailabilityHandler != nil {
			tenant.Get("/employees/{employeeID}/availability", cfg.AvailabilityHandler.GetDay)
			tenant.Get("/employees/{employeeID}/availability/range", cfg.AvailabilityHandler.GetRange)
		}
		if cfg.BookingHandler != nil {
			tenant.Get("/employees/{employeeID}/appointments", cfg.BookingHandler.ListDay)
			tenant.Post("/appointments", cfg.BookingHandler.Book)
			tenant.Get("/appointments/{appointmentID}", cfg.BookingHandler.Get)
			tenant.Post("/appointments/{appointmentID}/status", cfg.BookingHandler.Transition)
		}
	})

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.ClinicHandler != nil {
		r.Route("/admin/tenants/{tenantID}", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(httpmiddleware.AdminTenantScope("tenantID"))
			admin.Get("/config", cfg.ClinicHandler.GetConfig)
			admin.Put("/config", cfg.ClinicHandler.UpdateConfig)
		})
	}

	return r
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		if len(checks) > 0 {
			results := make(map[string]string, len(checks))
			for _, c := range checks {
				if err := c.Check(ctx); err != nil {
					results[c.Name] = err.Error()
					status = http.StatusServiceUnavailable
					body["status"] = "degraded"
					continue
				}
				results[c.Name] = "ok"
			}
			body["checks"] = results
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
