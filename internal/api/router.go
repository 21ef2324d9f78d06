package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/jarvis/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	ListSessions      http.HandlerFunc
	GetSession        http.HandlerFunc
	StopSession       http.HandlerFunc
	GetConversation   http.HandlerFunc
	ClearConversation http.HandlerFunc
	SetSystemPrompt   http.HandlerFunc
	ChatLog           http.HandlerFunc
	DeviceSocket      http.HandlerFunc

	// AuthMiddleware validates the caller's token against {sessionID}.
	AuthMiddleware func(http.Handler) http.Handler
	// OperatorMiddleware admits operator tokens only; it runs after AuthMiddleware.
	OperatorMiddleware func(http.Handler) http.Handler
}

// HealthChecks are the readiness dependencies. A nil NATS check means the
// event bus is not configured.
type HealthChecks struct {
	Redis func(ctx context.Context) error
	NATS  func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	// RateLimiter guards device connects and session control calls.
	RateLimiter func(http.Handler) http.Handler
}

func NewRouter(checks HealthChecks, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	limited := func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}
	}

	// Liveness: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status": "healthy",
			"redis":  "healthy",
			"nats":   "healthy",
		}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if checks.Redis == nil {
			health["redis"] = "not configured"
		} else if err := checks.Redis(ctx); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if checks.NATS == nil {
			health["nats"] = "not configured"
		} else if !checks.NATS() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.With(h.AuthMiddleware, h.OperatorMiddleware).Get("/", h.ListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Get("/", h.GetSession)
			r.Get("/conversation", h.GetConversation)
			r.Get("/chat", h.ChatLog)

			r.Group(func(r chi.Router) {
				limited(r)
				r.Get("/ws", h.DeviceSocket)
				r.Post("/stop", h.StopSession)
				r.Delete("/conversation", h.ClearConversation)
				r.Put("/system-prompt", h.SetSystemPrompt)
			})
		})
	})

	return r
}
