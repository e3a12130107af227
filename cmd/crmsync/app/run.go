package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crm-sync/config"
	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/logging"
	"github.com/c0deZ3R0/go-crm-sync/metrics/prom"
	"github.com/c0deZ3R0/go-crm-sync/storage/postgres"
	"github.com/c0deZ3R0/go-crm-sync/transport/sse"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop with metrics and an event stream",
		Long: `Run loads local state, starts the background sync loop and serves
Prometheus metrics and a server-sent event stream of manager events until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, level := logging.NewLoggerWithDynamicLevel(cfg.Log, cmd.ErrOrStderr())
			logging.SetDefault(logger)
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, logger, level)
		},
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides server.addr)")
	return cmd
}

// newDaemonRouter mounts health, metrics, the event stream and the log
// level switch.
func newDaemonRouter(cfg config.ServerConfig, m *crm.Manager, reg *prometheus.Registry, logger *logging.Logger, level *logging.DynamicLevelVar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, map[string]any{
			"status":  "ok",
			"running": m.IsRunning(),
			"pending": len(m.PendingChanges()),
		})
	})
	r.Put("/loglevel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Level string `json:"level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !level.SetFromString(body.Level) {
			http.Error(w, "level must be one of trace, debug, info, warn, error", http.StatusBadRequest)
			return
		}
		logger.Info("Log level changed", slog.String("level", level.Level().String()))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle(cfg.EventsPath, sse.NewServer(m, logger.WithComponent("sse")).Handler())
	return r
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger, level *logging.DynamicLevelVar) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, persister, err := openManager(ctx, cfg, logger, crm.WithMetrics(prom.NewCollector(reg)))
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.LogError(context.Background(), err, "Failed to close manager")
		}
	}()

	// Another process sharing the tables saved; pick up its state.
	if pg, ok := persister.(*postgres.Store); ok {
		watcher, err := pg.Watch(ctx, func(n postgres.SaveNotification) {
			logger.Info("Reloading state saved by another writer",
				slog.String("writer_id", n.WriterID),
				slog.Int("customers", n.Customers))
			if err := m.Load(ctx); err != nil {
				logger.LogError(ctx, err, "Failed to reload state")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to watch postgres: %w", err)
		}
		defer watcher.Close()
	}

	if err := m.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newDaemonRouter(cfg.Server, m, reg, logger, level),
		ReadHeaderTimeout: serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", slog.String("address", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	logger.Info("Shutting down")
	m.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
