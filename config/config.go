// Package config loads the crmsync configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	Tenant  TenantConfig   `yaml:"tenant"`
	Sync    SyncConfig     `yaml:"sync"`
	Storage StorageConfig  `yaml:"storage"`
	Remote  RemoteConfig   `yaml:"remote"`
	Server  ServerConfig   `yaml:"server"`
	Log     logging.Config `yaml:"log"`
}

// TenantConfig scopes new records to an organization.
type TenantConfig struct {
	OrganizationID string `yaml:"organization_id"`
}

// SyncConfig tunes the sync scheduler.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Debounce      time.Duration `yaml:"debounce"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	Concurrency   int           `yaml:"concurrency"`
	TrackedFields []string      `yaml:"tracked_fields"`
	FollowUpAfter time.Duration `yaml:"follow_up_after"`
	TopN          int           `yaml:"top_n"`
}

// StorageConfig selects the persister.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
}

// RemoteConfig points at the authority. An empty URL runs offline.
type RemoteConfig struct {
	URL        string        `yaml:"url"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP listener of the run command.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
	EventsPath  string `yaml:"events_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Sync: SyncConfig{
			Interval:      crm.DefaultSyncInterval,
			Debounce:      crm.DefaultDebounce,
			RemoteTimeout: crm.DefaultRemoteTimeout,
			Concurrency:   crm.DefaultConcurrency,
			TrackedFields: append([]string(nil), crm.DefaultTrackedFields...),
			FollowUpAfter: crm.DefaultFollowUpAfter,
			TopN:          crm.DefaultTopN,
		},
		Storage: StorageConfig{Driver: DriverMemory},
		Remote:  RemoteConfig{MaxRetries: 3, Timeout: 30 * time.Second},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsPath: "/metrics",
			EventsPath:  "/events",
		},
		Log: logging.DefaultConfig,
	}
}

// Load reads path (when not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, invalid(fmt.Errorf("failed to open config file %s: %w", path, err))
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, invalid(fmt.Errorf("failed to parse config file %s: %w", path, err))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Log = logging.GetConfigFromEnv(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes parses YAML (or JSON) over the defaults and validates it.
// The environment is not consulted.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, invalid(fmt.Errorf("failed to parse config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays CRM_* environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("CRM_ORGANIZATION_ID", &c.Tenant.OrganizationID)
	dur("CRM_SYNC_INTERVAL", &c.Sync.Interval)
	dur("CRM_SYNC_DEBOUNCE", &c.Sync.Debounce)
	dur("CRM_SYNC_REMOTE_TIMEOUT", &c.Sync.RemoteTimeout)
	num("CRM_SYNC_CONCURRENCY", &c.Sync.Concurrency)
	if v, ok := lookup("CRM_SYNC_TRACKED_FIELDS"); ok {
		c.Sync.TrackedFields = splitList(v)
	}
	str("CRM_STORAGE_DRIVER", &c.Storage.Driver)
	str("CRM_STORAGE_DSN", &c.Storage.DSN)
	str("CRM_REMOTE_URL", &c.Remote.URL)
	num("CRM_REMOTE_MAX_RETRIES", &c.Remote.MaxRetries)
	str("CRM_SERVER_ADDR", &c.Server.Addr)

	if len(errs) > 0 {
		return invalid(stderrors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.Debounce < 0 {
		errs = append(errs, fmt.Errorf("sync.debounce must not be negative, got %s", c.Sync.Debounce))
	}
	if c.Sync.RemoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.remote_timeout must be positive, got %s", c.Sync.RemoteTimeout))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency))
	}
	for _, f := range c.Sync.TrackedFields {
		if !crm.IsCustomerField(f) {
			errs = append(errs, fmt.Errorf("sync.tracked_fields: unknown customer field %q", f))
		}
	}
	if c.Sync.FollowUpAfter <= 0 {
		errs = append(errs, fmt.Errorf("sync.follow_up_after must be positive, got %s", c.Sync.FollowUpAfter))
	}
	if c.Sync.TopN < 0 {
		errs = append(errs, fmt.Errorf("sync.top_n must not be negative, got %d", c.Sync.TopN))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, file, sqlite, postgres", c.Storage.Driver))
	}

	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url %q must be an absolute http(s) URL", c.Remote.URL))
		}
	}
	if c.Remote.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("remote.max_retries must not be negative, got %d", c.Remote.MaxRetries))
	}

	if len(errs) > 0 {
		return invalid(stderrors.Join(errs...))
	}
	return nil
}

// ManagerOptions converts the sync and tenant settings into manager options.
func (c *Config) ManagerOptions() []crm.Option {
	opts := []crm.Option{
		crm.WithSyncInterval(c.Sync.Interval),
		crm.WithDebounce(c.Sync.Debounce),
		crm.WithRemoteTimeout(c.Sync.RemoteTimeout),
		crm.WithConcurrency(c.Sync.Concurrency),
		crm.WithFollowUpAfter(c.Sync.FollowUpAfter),
		crm.WithTopN(c.Sync.TopN),
	}
	if len(c.Sync.TrackedFields) > 0 {
		opts = append(opts, crm.WithTrackedFields(c.Sync.TrackedFields...))
	}
	if c.Tenant.OrganizationID != "" {
		opts = append(opts, crm.WithOrganization(c.Tenant.OrganizationID))
	}
	return opts
}

func invalid(err error) error {
	return errors.E(errors.OpConfig, errors.Component("config"), errors.KindInvalid, errors.ErrCodeValidationFailure, err)
}
