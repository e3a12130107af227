// Package app wires the crmsync commands.
package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crm-sync/config"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// NewRootCmd builds the command tree. Each call returns fresh commands so
// tests can execute them independently.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "crmsync",
		Short:             "Offline-first CRM store with remote sync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Long: `crmsync keeps a local customer store and reconciles it with a remote
authority. Configuration is read from --config (YAML) and CRM_* environment
variables.`,
	}
	root.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")

	root.AddCommand(
		newRunCmd(),
		newAuthorityCmd(),
		newCreateCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newSyncCmd(),
	)
	return root
}

// loadConfig reads the --config flag and initializes logging from the result.
func loadConfig(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logging.Init(cfg.Log, cmd.ErrOrStderr()), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
