/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Logging:    One zap line per request
  5. Metrics:    Prometheus counters and latency per route
  6. CORS:       Cross-origin requests for frontend
  7. RateLimit:  Per-IP token bucket on /api (optional)

ROUTE GROUPS:
  /api/employees/*        Periods, events, balance, reconciliation
  /api/reconciliation/*   Run audit trail and manual sweep
  /api/scenarios/*        Demo scenarios
  /healthz                Liveness
  /metrics                Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/accrual-engine/logging"
	"github.com/warp/accrual-engine/metrics"
)

type RouterOptions struct {
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil disables /metrics

	CORSOrigins []string

	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
	// LimiterIdle evicts an IP's bucket after this long without requests;
	// zero means ten minutes.
	LimiterIdle time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(log))
	r.Use(instrument(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			burst := opts.Burst
			if burst < 1 {
				burst = 1
			}
			r.Use(NewIPRateLimiter(opts.RateLimit, burst, opts.LimiterIdle).Middleware)
		}

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/periods", h.ListPeriods)
				r.Post("/periods", h.SavePeriod)
				r.Post("/periods/generate", h.GeneratePeriods)

				r.Get("/events", h.ListEvents)
				r.Post("/events", h.RecordEvent)
				r.Put("/events/{eventID}", h.CorrectEvent)
				r.Post("/events/{eventID}/cancel", h.CancelEvent)

				r.Get("/balance", h.GetBalance)
				r.Get("/reconciliation/preview", h.Preview)
				r.Post("/reconcile", h.Reconcile)
			})
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Post("/sweep", h.Sweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// instrument records request counts and latency by chi route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, logging.RoutePattern(r), status, time.Since(start))
		})
	}
}
