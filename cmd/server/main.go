package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/bus"
	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load("./config")
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.Init(cfg.Log)
	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("bus", cfg.Bus.Driver).
		Bool("evict_empty_rooms", cfg.Registry.EvictEmptyRooms).
		Msg("starting roomrelay")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(prom)

	registry := relay.NewRegistry(relay.WithEmptyRoomEviction(cfg.Registry.EvictEmptyRooms))
	opts := []relay.Option{
		relay.WithLogger(log.With().Str("component", "hub").Logger()),
		relay.WithMetrics(metrics),
		relay.WithSendBuffer(cfg.WebSocket.SendBuffer),
	}

	var roomBus relay.Bus
	if cfg.Bus.Driver == config.BusRedis {
		redisBus, err := bus.NewRedisBus(ctx, cfg.Redis, log.With().Str("component", "bus").Logger())
		if err != nil {
			return err
		}
		log.Info().Str("instance", redisBus.Instance()).Str("redis", cfg.Redis.Address).Msg("redis bus connected")
		roomBus = redisBus
		opts = append(opts, relay.WithBus(redisBus))
	}

	hub := relay.NewHub(registry, opts...)
	gateway := server.NewGateway(hub, cfg.WebSocket, log.With().Str("component", "gateway").Logger())
	mux := server.SetupRoutes(gateway, promhttp.HandlerFor(prom, promhttp.HandlerOpts{}))
	httpServer := server.CreateServer(cfg.Server.Addr(), mux, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		var errs []error
		if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, log); err != nil {
			errs = append(errs, err)
		}
		if err := gateway.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		if roomBus != nil {
			if err := roomBus.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
