package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hilthontt/roomdrop/internal/infrastructure/configs"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/health"
	roomHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/rooms"
	statsHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/stats"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handlers struct {
	Rooms  *roomHandler.Handler
	Health *healthHandler.Handler
	Stats  *statsHandler.Handler
}

type Application struct {
	config   configs.Config
	handlers Handlers
	hub      *ws.Hub
	logger   logging.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

func NewApplication(
	config configs.Config,
	handlers Handlers,
	hub *ws.Hub,
	logger logging.Logger,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *Application {
	return &Application{
		config:   config,
		handlers: handlers,
		hub:      hub,
		logger:   logger,
		metrics:  m,
		gatherer: gatherer,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(app.prometheusMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.config.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: app.config.HTTP.AllowedHeaders,
		MaxAge:         86400,
	}))

	// WebSocket sessions are long lived; no request timeout here.
	r.Get("/ws", app.handlers.Rooms.ConnectHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", app.handlers.Health.GetHealth)
		r.Get("/healthz", app.handlers.Health.GetHealth)
		r.Get("/ready", app.handlers.Health.GetHealth)
		r.Get("/live", app.handlers.Health.GetHealth)

		r.Get("/stats", app.handlers.Stats.GetStats)
	})

	r.Handle("/metrics", metrics.Handler(app.gatherer))

	return otelhttp.NewHandler(r, "roomdrop")
}

// Run serves until ctx is cancelled, then drains: health turns unhealthy,
// open WebSocket sessions are closed and in-flight requests get
// HTTP.ShutdownTimeout to finish.
func (app *Application) Run(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.HTTP.Addr(),
		Handler:      handler,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.Address: srv.Addr,
	})

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	app.handlers.Health.SetHealthy(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()

	// Hijacked connections are invisible to Shutdown.
	app.hub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.Address: srv.Addr,
	})

	return nil
}
