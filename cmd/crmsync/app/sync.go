package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

// syncReport is the printable form of crm.SyncResult.
type syncReport struct {
	Processed          int      `json:"processed"`
	Updated            int      `json:"updated"`
	CustomersSynced    int      `json:"customersSynced"`
	InteractionsSynced int      `json:"interactionsSynced"`
	ChangesSynced      int      `json:"changesSynced"`
	Conflicts          int      `json:"conflicts"`
	Skipped            bool     `json:"skipped"`
	Failed             bool     `json:"failed"`
	Errors             []string `json:"errors,omitempty"`
	Duration           string   `json:"duration"`
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the remote authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Remote.URL == "" {
				return fmt.Errorf("remote.url is not configured")
			}
			m, _, err := openManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			var res *crm.SyncResult
			err = logger.LogOperation(cmd.Context(), "sync", "cli", func() error {
				var err error
				res, err = m.SyncWithServer(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			report := syncReport{
				Processed:          res.Processed,
				Updated:            res.Updated,
				CustomersSynced:    res.CustomersSynced,
				InteractionsSynced: res.InteractionsSynced,
				ChangesSynced:      res.ChangesSynced,
				Conflicts:          res.Conflicts,
				Skipped:            res.Skipped,
				Failed:             res.Failed,
				Duration:           res.Duration.String(),
			}
			for _, e := range res.Errors {
				report.Errors = append(report.Errors, e.Error())
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if res.Failed {
				return fmt.Errorf("sync cycle failed")
			}
			return nil
		},
	}
}
