package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"cloudstash/internal/api"
	"cloudstash/internal/history"
)

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and progress streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return serve(cmd)
		},
	}
}

func serve(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	janitor := history.New(a.repo, a.config, 0)
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start history janitor: %w", err)
	}
	defer janitor.Stop()

	router := mux.NewRouter()
	handlers := api.NewHandlers(a.engine, a.gatekeeper, a.emitter, a.config)
	handlers.RegisterRoutes(router)

	serverConfig := a.config.GetServer()
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: transfers and event streams are long-lived
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", server.Addr, "available", a.engine.CheckAvailability())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Watch for configuration changes
	go func() {
		configChanges := a.config.WatchForChanges()
		for {
			select {
			case <-ctx.Done():
				return
			case <-configChanges:
				slog.Info("configuration changed, updating logging")
				a.reloadLogging()
			}
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if summary, err := a.engine.TransferSummary(); err == nil && summary.InFlightTransfers > 0 {
		slog.Warn("shutting down with transfers in flight", "in_flight", summary.InFlightTransfers)
	}

	slog.Info("shutdown completed")
	return nil
}
