package app

import (
	"context"
	"fmt"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/config"
	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/logging"
	"github.com/c0deZ3R0/go-crm-sync/storage/file"
	"github.com/c0deZ3R0/go-crm-sync/storage/postgres"
	"github.com/c0deZ3R0/go-crm-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-crm-sync/transport/httptransport"
)

// openPersister returns the persister selected by cfg.Storage.Driver.
func openPersister(cfg config.StorageConfig) (crm.Persister, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return crm.NewMemoryPersister(), nil
	case config.DriverFile:
		return file.New(cfg.DSN)
	case config.DriverSQLite:
		c := sqlite.DefaultConfig(cfg.DSN)
		if cfg.TablePrefix != "" {
			c.TablePrefix = cfg.TablePrefix
		}
		return sqlite.New(c)
	case config.DriverPostgres:
		c := postgres.DefaultConfig(cfg.DSN)
		if cfg.TablePrefix != "" {
			c.TablePrefix = cfg.TablePrefix
		}
		return postgres.New(c)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openRemote returns an HTTP client for cfg.URL, or nil when no URL is set.
func openRemote(cfg config.RemoteConfig, logger *logging.Logger) (crm.Authority, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts := []httptransport.ClientOption{
		httptransport.WithRetryConfig(cfg.MaxRetries, 200*time.Millisecond, 5*time.Second),
		httptransport.WithClientLogger(logger.WithComponent("http-client")),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httptransport.WithClientTimeout(cfg.Timeout))
	}
	return httptransport.NewClient(cfg.URL, opts...)
}

// openManager builds a manager from cfg and loads its persisted state. The
// persister is returned so callers can reach driver specific features.
func openManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, extra ...crm.Option) (*crm.Manager, crm.Persister, error) {
	persister, err := openPersister(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	remote, err := openRemote(cfg.Remote, logger)
	if err != nil {
		_ = persister.Close()
		return nil, nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	opts := append(cfg.ManagerOptions(),
		crm.WithLogger(logger.WithComponent("crm").Logger),
		crm.WithPersister(persister),
	)
	if remote != nil {
		opts = append(opts, crm.WithRemote(remote))
	}
	opts = append(opts, extra...)

	m, err := crm.NewManager(opts...)
	if err != nil {
		_ = persister.Close()
		return nil, nil, err
	}
	if err := m.Load(ctx); err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	return m, persister, nil
}
