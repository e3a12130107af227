package app

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crm-sync/crm/crmtest"
	"github.com/c0deZ3R0/go-crm-sync/transport/httptransport"
)

func newAuthorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Serve an in-memory authority for local development",
		Long: `Authority serves the HTTP authority API backed by an in-memory store.
State is lost on exit. Point remote.url of a crmsync instance at it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := cmd.Flags().GetString("address")
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httptransport.NewHandler(crmtest.NewAuthority()),
				ReadHeaderTimeout: serverReadTimeout,
				IdleTimeout:       serverIdleTimeout,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = server.Close()
			}()

			logger.Info("Authority listening", slog.String("address", addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("address", ":9090", "Address to listen on")
	return cmd
}
