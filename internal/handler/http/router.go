package http

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

type RouterConfig struct {
	AppName        string
	Version        string
	Env            string
	AllowedOrigins []string
	// LogLevel is the level requests are logged at
	LogLevel slog.Level
	// RequestTimeout bounds non-streaming requests
	RequestTimeout time.Duration
}

type Handlers struct {
	Shift    ShiftHandler
	Geofence GeofenceHandler
	Tracking TrackingHandler
	Stream   StreamHandler
}

func NewRouter(cfg RouterConfig, h Handlers) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(false)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", cfg.AppName),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Env),
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(chiMiddleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  cfg.LogLevel,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api/v1", func(r chi.Router) {
		// event streams stay open, so they sit outside the request timeout
		r.Route("/stream", func(r chi.Router) {
			r.Get("/alerts", h.Stream.Alerts)
			r.Get("/users/{userID}", h.Stream.User)
		})

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chiMiddleware.Timeout(cfg.RequestTimeout))
			}
			r.Use(chiMiddleware.AllowContentType("application/json"))

			r.Post("/locations", h.Tracking.Ingest)

			r.Route("/shifts", func(r chi.Router) {
				r.Post("/", h.Shift.Schedule)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Shift.Get)
					r.Post("/start", h.Shift.Start)
					r.Post("/breaks", h.Shift.StartBreak)
					r.Post("/breaks/end", h.Shift.EndBreak)
					r.Post("/end", h.Shift.End)
					r.Post("/complete", h.Shift.Complete)
					r.Post("/recover", h.Shift.Recover)
				})
			})

			r.Route("/geofences", func(r chi.Router) {
				r.Get("/", h.Geofence.List)
				r.Post("/", h.Geofence.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Geofence.Get)
					r.Put("/", h.Geofence.Update)
					r.Post("/deactivate", h.Geofence.Deactivate)
					r.Get("/events", h.Geofence.ListEvents)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})
	return r
}
