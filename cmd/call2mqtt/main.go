package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kmamatov/call2mqtt/internal/config"
	"github.com/kmamatov/call2mqtt/internal/dispatch"
	xlog "github.com/kmamatov/call2mqtt/internal/log"
	"github.com/kmamatov/call2mqtt/internal/modem"
	"github.com/kmamatov/call2mqtt/internal/mqtt"
	"github.com/kmamatov/call2mqtt/internal/supervisor"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	envFile := flag.String("env-file", "", "path to an optional .env file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("call2mqtt %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// .env is a convenience for local runs; a missing default file is fine,
	// an explicitly named one is not.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "cannot load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	xlog.Configure(xlog.Config{
		Level:   os.Getenv("CALL2MQTT_LOG_LEVEL"),
		Service: "call2mqtt",
	})
	logger := xlog.WithComponent("main")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version).
		Str("broker", cfg.BrokerURL()).
		Str("device", cfg.Device).
		Str("policy", string(cfg.Policy)).
		Msg("starting call2mqtt")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mqtt.Connect(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "mqtt.connect_failed").
			Msg("cannot reach MQTT broker")
	}
	defer client.Disconnect(250)

	gateway := mqtt.NewGateway(client, cfg.PublishTimeout)
	dispatcher := dispatch.New(gateway, cfg)
	factory := func(ctx context.Context) (modem.Session, error) {
		return modem.Open(ctx, modem.Config{
			Device:   cfg.Device,
			BaudRate: cfg.BaudRate,
			SIMPin:   cfg.SIMPin,
		})
	}
	sup := supervisor.New(cfg, factory, dispatcher, gateway)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().
				Str("event", "metrics.listening").
				Str("addr", cfg.MetricsAddr).
				Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return sup.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().
			Err(err).
			Str("event", "daemon.failed").
			Msg("call2mqtt exited with error")
		os.Exit(1)
	}
	logger.Info().Str("event", "daemon.stopped").Msg("call2mqtt stopped")
}
