package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hilthontt/roomdrop/internal/application/relay"
	"github.com/hilthontt/roomdrop/internal/application/session"
	"github.com/hilthontt/roomdrop/internal/infrastructure/configs"
	"github.com/hilthontt/roomdrop/internal/infrastructure/events"
	"github.com/hilthontt/roomdrop/internal/infrastructure/keygen"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/messaging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
	"github.com/hilthontt/roomdrop/internal/infrastructure/profile"
	"github.com/hilthontt/roomdrop/internal/infrastructure/repository"
	"github.com/hilthontt/roomdrop/internal/infrastructure/tracing"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	"github.com/hilthontt/roomdrop/internal/presentation/api"
	"github.com/hilthontt/roomdrop/internal/presentation/handler/health"
	"github.com/hilthontt/roomdrop/internal/presentation/handler/rooms"
	"github.com/hilthontt/roomdrop/internal/presentation/handler/stats"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		Example: `  roomdrop serve
  roomdrop serve --config /etc/roomdrop/config.yaml
  HTTP_PORT=9000 roomdrop serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	return cmd
}

func serve(ctx context.Context, configPath string) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := configs.Load(configs.DetermineConfigPath(configPath))
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error(logging.General, logging.Shutdown, "tracer shutdown failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	keys := keygen.New(
		keygen.WithAlphabet(cfg.Keys.Alphabet),
		keygen.WithLength(cfg.Keys.Length),
		keygen.WithMaxAttempts(cfg.Keys.MaxAttempts),
	)
	registry := repository.NewRoomRegistry(keys, repository.Options{
		LockStripes:       cfg.Registry.LockStripes,
		AdoptRequestedKey: cfg.Registry.AdoptRequestedKey,
	})
	hub := ws.NewHub(ws.HubOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
		Metrics:        m,
	})

	g, ctx := errgroup.WithContext(ctx)

	var publisher events.RoomPublisher = events.NopRoomPublisher{}
	if cfg.Messaging.Enabled {
		rabbitmq, err := messaging.NewRabbitMQ(cfg.Messaging.URI, cfg.Messaging.Exchange)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer rabbitmq.Close()

		publisher = events.NewRoomPublisher(rabbitmq)

		consumer := events.NewRoomConsumer(rabbitmq, cfg.Messaging.Queue, logger)
		g.Go(func() error {
			return consumer.Listen(ctx)
		})

		logger.Info(logging.RabbitMQ, logging.Startup, "room events enabled", map[logging.ExtraKey]any{
			logging.RoutingKey: cfg.Messaging.Exchange + "/" + cfg.Messaging.Queue,
		})
	}

	coordinator := session.NewCoordinator(session.Options{
		Registry:             registry,
		Emitter:              hub,
		Profiles:             profile.NewGenerator(),
		Publisher:            publisher,
		Metrics:              m,
		Logger:               logger,
		Tracer:               tracing.GetTracer("roomdrop/session"),
		KeyspaceRetries:      cfg.Session.KeyspaceRetries,
		RetryInitialInterval: cfg.Session.RetryInitialInterval,
	})
	relayService := relay.NewService(relay.Options{
		Emitter:         hub,
		Members:         registry,
		EnforceSameRoom: cfg.Relay.EnforceSameRoom,
		Metrics:         m,
		Logger:          logger,
		Tracer:          tracing.GetTracer("roomdrop/relay"),
	})

	handlers := api.Handlers{
		Rooms: rooms.NewHandler(hub, coordinator, relayService, logger, ws.ClientOptions{
			SendBuffer: cfg.Session.SendBuffer,
			MaxPayload: cfg.HTTP.MaxPayloadBytes,
		}),
		Health: health.NewHandler(),
		Stats:  stats.NewHandler(registry, hub),
	}

	app := api.NewApplication(*cfg, handlers, hub, logger, m, promRegistry)

	g.Go(func() error {
		return app.Run(ctx, app.Mount())
	})

	err = g.Wait()

	logger.Info(logging.General, logging.Shutdown, "roomdrop stopped", nil)

	return err
}
