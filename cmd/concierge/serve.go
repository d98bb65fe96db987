package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/auth"
	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/scheduler"
	"github.com/normanking/concierge/internal/server"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			observer := bus.NewObserver(a.bus, bus.DefaultObserverConfig())
			defer observer.Close()

			srv, err := server.New(cfg.Server, server.Deps{
				Chat:      a.coord,
				Models:    a.resolver,
				Store:     a.store,
				Telemetry: a.store,
				Collector: a.collector,
				Observer:  observer,
				Gatherer:  a.registry,
				Auth:      auth.NewKeyring(cfg.Server.APIKeys),
				Version:   version,
			})
			if err != nil {
				return err
			}

			if cfg.Scheduler.Enabled {
				var sweeper scheduler.Sweeper
				if s, ok := a.cache.(scheduler.Sweeper); ok {
					sweeper = s
				}
				sched, err := scheduler.New(cfg.Scheduler, scheduler.Jobs{
					Quality:   a.quality,
					Metrics:   a.recorder,
					Telemetry: a.store,
					Retention: cfg.Data.TelemetryRetention,
					Cache:     sweeper,
				})
				if err != nil {
					return fmt.Errorf("scheduler: %w", err)
				}
				sched.Start()
				defer sched.Stop()
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutdown requested")
			}

			ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
