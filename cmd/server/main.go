package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/tempvoice/internal/adapters/http"
	"github.com/dkeye/tempvoice/internal/adapters/platform"
	"github.com/dkeye/tempvoice/internal/adapters/store"
	"github.com/dkeye/tempvoice/internal/app/orch"
	"github.com/dkeye/tempvoice/internal/config"
	"github.com/dkeye/tempvoice/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("tempvoice exited with error")
	}
	log.Info().Msg("tempvoice exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	rooms, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	client := platform.NewClient(platform.ClientConfig{
		BaseURL: cfg.Platform.APIURL,
		Token:   cfg.Platform.Token,
		Timeout: cfg.Platform.RequestTimeout,
	})

	o := orch.New(rooms, client, orch.Config{
		GracePeriod:        cfg.Lifecycle.GracePeriod,
		MaxRoomsPerMember:  cfg.Lifecycle.MaxRoomsPerMember,
		PersistRetryWindow: cfg.Lifecycle.PersistRetryWindow,
	})
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Shutdown()

	sweeper := worker.NewSweeper(o, &worker.SweeperConfig{
		Interval:   cfg.Lifecycle.SweepInterval,
		RunOnStart: cfg.Lifecycle.SweepOnStart,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("tempvoice admin API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	if cfg.Platform.GatewayURL != "" {
		gw := platform.NewGateway(platform.GatewayConfig{
			URL:   cfg.Platform.GatewayURL,
			Token: cfg.Platform.Token,
		}, o)
		g.Go(func() error {
			return gw.Run(gctx)
		})
	} else {
		log.Warn().Msg("platform.gateway_url is empty, no voice events will be received")
	}

	return g.Wait()
}
