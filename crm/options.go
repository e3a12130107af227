package crm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Option configures a Manager.
type Option func(*Manager) error

// Defaults applied by NewManager.
const (
	DefaultSyncInterval  = 30 * time.Second
	DefaultDebounce      = 2 * time.Second
	DefaultRemoteTimeout = 10 * time.Second
	DefaultConcurrency   = 4
	DefaultFollowUpAfter = 30 * 24 * time.Hour
	DefaultTopN          = 10
)

type managerOptions struct {
	organizationID string
	syncInterval   time.Duration
	debounce       time.Duration
	remoteTimeout  time.Duration
	concurrency    int
	trackedFields  []string
	followUpAfter  time.Duration
	topN           int
}

func defaultOptions() managerOptions {
	return managerOptions{
		syncInterval:  DefaultSyncInterval,
		debounce:      DefaultDebounce,
		remoteTimeout: DefaultRemoteTimeout,
		concurrency:   DefaultConcurrency,
		trackedFields: append([]string(nil), DefaultTrackedFields...),
		followUpAfter: DefaultFollowUpAfter,
		topN:          DefaultTopN,
	}
}

// WithLogger sets the logger used by the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) error {
		if l == nil {
			return fmt.Errorf("logger must not be nil")
		}
		m.logger = &logging.Logger{Logger: l}
		return nil
	}
}

// WithPersister sets where local state is saved. The default keeps state
// in memory only.
func WithPersister(p Persister) Option {
	return func(m *Manager) error {
		if p == nil {
			return fmt.Errorf("persister must not be nil")
		}
		m.persister = p
		return nil
	}
}

// WithRemote sets the remote authority. Without one, sync cycles are
// skipped.
func WithRemote(a Authority) Option {
	return func(m *Manager) error {
		m.remote = a
		return nil
	}
}

// WithClock injects the time source and timer factory.
func WithClock(c Clock) Option {
	return func(m *Manager) error {
		if c == nil {
			return fmt.Errorf("clock must not be nil")
		}
		m.clock = c
		return nil
	}
}

// WithNetwork injects the reachability monitor. The default is always
// online.
func WithNetwork(n NetworkMonitor) Option {
	return func(m *Manager) error {
		if n == nil {
			return fmt.Errorf("network monitor must not be nil")
		}
		m.network = n
		return nil
	}
}

// WithOrganization sets the tenant assigned to records that do not name one.
func WithOrganization(id string) Option {
	return func(m *Manager) error {
		m.opts.organizationID = id
		return nil
	}
}

// WithSyncInterval sets the period of the background sync loop.
func WithSyncInterval(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("sync interval must be positive, got %s", d)
		}
		m.opts.syncInterval = d
		return nil
	}
}

// WithDebounce sets how long after a mutation a sync is attempted. Zero
// disables mutation triggered syncs.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) error {
		if d < 0 {
			return fmt.Errorf("debounce must not be negative, got %s", d)
		}
		m.opts.debounce = d
		return nil
	}
}

// WithRemoteTimeout bounds every call to the remote authority.
func WithRemoteTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("remote timeout must be positive, got %s", d)
		}
		m.opts.remoteTimeout = d
		return nil
	}
}

// WithConcurrency limits parallel snapshot fetches during a sync cycle.
func WithConcurrency(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be at least 1, got %d", n)
		}
		m.opts.concurrency = n
		return nil
	}
}

// WithTrackedFields replaces the set of fields compared for conflicts.
func WithTrackedFields(fields ...string) Option {
	return func(m *Manager) error {
		for _, f := range fields {
			if !IsCustomerField(f) {
				return fmt.Errorf("unknown customer field %q", f)
			}
		}
		m.opts.trackedFields = append([]string(nil), fields...)
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c MetricsCollector) Option {
	return func(m *Manager) error {
		if c == nil {
			return fmt.Errorf("metrics collector must not be nil")
		}
		m.metrics = c
		return nil
	}
}

// WithFollowUpAfter sets how long an active customer may go without contact
// before needing a follow-up.
func WithFollowUpAfter(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("follow-up window must be positive, got %s", d)
		}
		m.opts.followUpAfter = d
		return nil
	}
}

// WithTopN sets the length of the lifetime value ranking in statistics.
func WithTopN(n int) Option {
	return func(m *Manager) error {
		if n < 0 {
			return fmt.Errorf("top-N must not be negative, got %d", n)
		}
		m.opts.topN = n
		return nil
	}
}
