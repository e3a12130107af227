// Package sqlite provides a SQLite implementation of the CRM snapshot Persister.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
	"github.com/c0deZ3R0/go-crm-sync/storage"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = "storage/sqlite"

const schemaVersionKey = "schema_version"

// ErrStoreClosed is returned by Load and Save after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the SQLite persister.
//
// DefaultConfig applies:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:crm.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL appends "?_journal_mode=WAL" to DataSourceName when no
	// journal mode is set.
	EnableWAL bool

	// TablePrefix is prepended to every table name.
	// Defaults to "crm_".
	TablePrefix string

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TablePrefix == "" {
		c.TablePrefix = storage.DefaultTablePrefix
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if isMemory(c.DataSourceName) {
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.EnableWAL = false
	}
	if c.EnableWAL && c.DataSourceName != "" {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			sep := "?"
			if strings.Contains(c.DataSourceName, "?") {
				sep = "&"
			}
			c.DataSourceName += sep + "_journal_mode=WAL"
		}
	}
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// DefaultConfig returns a Config with WAL enabled and the default pool settings.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store persists CRM snapshots in a SQLite database.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
	prefix string
}

var _ crm.Persister = (*Store)(nil)

// New opens the database described by config and creates the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		prefix: config.TablePrefix,
	}

	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite persister initialized",
		slog.String("table_prefix", config.TablePrefix),
	)
	return s, nil
}

func (s *Store) table(name string) string { return s.prefix + name }

// setupSchema creates the meta table and one table per collection.
func (s *Store) setupSchema() error {
	var b strings.Builder
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
        key   TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`, s.table("meta"))
	for _, c := range storage.Collections {
		fmt.Fprintf(&b, `
    CREATE TABLE IF NOT EXISTS %[1]s (
        position INTEGER NOT NULL,
        id       TEXT PRIMARY KEY,
        data     TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_position ON %[1]s (position);`, s.table(c))
	}
	_, err := s.db.Exec(b.String())
	return err
}

// Load reads the stored snapshot. A database that has never been saved to
// yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (*crm.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	version, found, err := s.schemaVersion(ctx)
	if err != nil {
		return nil, wrap(crmErrors.OpLoad, err)
	}
	if !found {
		return crm.EmptySnapshot(), nil
	}

	tables := storage.Tables{}
	for _, c := range storage.Collections {
		rows, err := s.loadRows(ctx, c)
		if err != nil {
			return nil, wrap(crmErrors.OpLoad, err)
		}
		tables[c] = rows
	}

	snap, err := storage.Assemble(version, tables)
	if err != nil {
		return nil, wrap(crmErrors.OpLoad, err)
	}
	return snap, nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, bool, error) {
	var raw string
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.table("meta"))
	err := s.db.QueryRowContext(ctx, query, schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return v, true, nil
}

func (s *Store) loadRows(ctx context.Context, collection string) ([]storage.Row, error) {
	query := fmt.Sprintf(`SELECT position, id, data FROM %s ORDER BY position`, s.table(collection))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var r storage.Row
		var data string
		if err := rows.Scan(&r.Position, &r.ID, &data); err != nil {
			return nil, err
		}
		r.Data = []byte(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save replaces the stored snapshot in a single transaction.
func (s *Store) Save(ctx context.Context, snap *crm.Snapshot) (err error) {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tables, err := storage.Flatten(snap)
	if err != nil {
		return wrap(crmErrors.OpPersist, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(crmErrors.OpPersist, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, c := range storage.Collections {
		if err = s.replaceRows(ctx, tx, c, tables[c]); err != nil {
			return wrap(crmErrors.OpPersist, err)
		}
	}

	upsert := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.table("meta"))
	if _, err = tx.ExecContext(ctx, upsert, schemaVersionKey, strconv.Itoa(crm.CurrentSchemaVersion)); err != nil {
		return wrap(crmErrors.OpPersist, err)
	}

	if err = tx.Commit(); err != nil {
		return wrap(crmErrors.OpPersist, err)
	}

	s.logger.DebugContext(ctx, "Snapshot saved",
		slog.Int("customers", len(tables[storage.CollectionCustomers])),
		slog.Int("interactions", len(tables[storage.CollectionInteractions])),
		slog.Int("changes", len(tables[storage.CollectionChanges])),
	)
	return nil
}

func (s *Store) replaceRows(ctx context.Context, tx *sql.Tx, collection string, rows []storage.Row) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table(collection))); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (position, id, data) VALUES (?, ?, ?)`, s.table(collection)))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Position, r.ID, string(r.Data)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

func wrap(op crmErrors.Operation, err error) error {
	if err == nil {
		return nil
	}
	return crmErrors.E(op, crmErrors.Component(component), crmErrors.KindPersistence, crmErrors.ErrCodePersistence, err)
}
