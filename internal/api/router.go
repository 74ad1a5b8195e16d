package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Spatial-NVR/streamgrid/internal/logging"
	"github.com/Spatial-NVR/streamgrid/internal/metrics"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Grid           *GridHandler
	Hub            *Hub
	Logs           *logging.Buffer
	Health         map[string]HealthCheck
	Version        string
	AllowedOrigins []string

	// Metrics is optional; when set, requests are counted and /metrics served
	Metrics *metrics.Metrics
}

// NewRouter creates the HTTP router with all routes
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(slog.Default().With("component", "http")))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", HealthHandler(cfg.Version, cfg.Health))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Logs != nil {
			// Streaming responses must not be cut by the request timeout
			r.Get("/logs/stream", LogStreamHandler(cfg.Logs))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if cfg.Grid != nil {
				r.Mount("/grid", cfg.Grid.Routes())
			}
			if cfg.Logs != nil {
				r.Get("/logs", LogsHandler(cfg.Logs))
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "route not found")
	})

	return r
}

// requestLogger logs each request at debug level, and failures at warn
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
