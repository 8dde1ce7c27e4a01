package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/resident-ledger/api"
	"github.com/warp/resident-ledger/sweep"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-sweep", false, "Do not schedule the late-fee sweep")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled late-fee sweep",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// runServe starts the server and blocks until SIGINT/SIGTERM, then stops
// accepting connections, waits for active requests (30s), stops the sweep
// and closes the store.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.ledger)
	handler.Currency = cfg.Currency
	handler.HistoryDefaultLimit = cfg.HistoryDefaultLimit
	handler.HistoryMaxLimit = cfg.HistoryMaxLimit
	handler.Logger = a.logger

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      api.NewRouter(handler, a.metrics.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	noSweep, _ := cmd.Flags().GetBool("no-sweep")
	var scheduler *sweep.Scheduler
	if !noSweep {
		scheduler = sweep.NewScheduler(a.sweeper, cfg.LateFeeSchedule, a.logger)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("schedule late fee sweep: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			a.logger.Warn("late fee sweep still running at shutdown")
		}
	}

	a.logger.Info("server stopped")
	return nil
}
