package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

func setupTestDB(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crm.db")
	store, err := NewWithDataSource(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func populate(t *testing.T, p crm.Persister) *crm.Snapshot {
	t.Helper()
	ctx := context.Background()
	m, err := crm.NewManager(
		crm.WithLogger(logging.Discard().Logger),
		crm.WithPersister(p),
		crm.WithNetwork(crm.NewManualNetwork(false)),
	)
	require.NoError(t, err)

	first, err := m.CreateCustomer(ctx, crm.NewCustomer{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	_, err = m.CreateCustomer(ctx, crm.NewCustomer{Type: crm.CustomerBusiness, BusinessName: "Acme"})
	require.NoError(t, err)
	_, err = m.AddInteraction(ctx, crm.NewInteraction{CustomerID: first.ID, Type: crm.InteractionCall})
	require.NoError(t, err)
	notes := "prefers mornings"
	_, err = m.UpdateCustomer(ctx, first.ID, crm.CustomerUpdate{Notes: &notes})
	require.NoError(t, err)

	return m.Snapshot()
}

func TestLoadEmptyDatabase(t *testing.T) {
	store, _ := setupTestDB(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crm.CurrentSchemaVersion, snap.SchemaVersion)
	assert.Empty(t, snap.Customers)
	assert.Empty(t, snap.Interactions)
	assert.Empty(t, snap.Changes)
}

func TestSaveAndReload(t *testing.T) {
	store, path := setupTestDB(t)
	want := populate(t, store)

	reopened, err := NewWithDataSource(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background())
	require.NoError(t, err)

	wantJSON, err := crm.EncodeSnapshot(want)
	require.NoError(t, err)
	gotJSON, err := crm.EncodeSnapshot(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))

	require.Len(t, got.Customers, 2)
	assert.Equal(t, want.Customers[0].ID, got.Customers[0].ID)
	assert.Equal(t, want.Customers[1].ID, got.Customers[1].ID)
}

func TestManagerRestoresFromSQLite(t *testing.T) {
	store, path := setupTestDB(t)
	want := populate(t, store)

	reopened, err := NewWithDataSource(path)
	require.NoError(t, err)
	m, err := crm.NewManager(
		crm.WithLogger(logging.Discard().Logger),
		crm.WithPersister(reopened),
	)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Load(context.Background()))

	c, err := m.GetCustomer(want.Customers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "prefers mornings", c.Notes)
	assert.Len(t, m.PendingChanges(), len(want.Changes))
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	populate(t, store)

	require.NoError(t, store.Save(ctx, crm.EmptySnapshot()))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Customers)
	assert.Empty(t, snap.Changes)
}

func TestNewerSchemaVersionRejected(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, crm.EmptySnapshot()))

	_, err := store.db.Exec(`UPDATE crm_meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, crmErrors.KindPersistence, crmErrors.KindOf(err))
}

func TestStoreContextCancellation(t *testing.T) {
	store, _ := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, crm.EmptySnapshot())
	if err != context.Canceled {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	store, _ := setupTestDB(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Save(context.Background(), crm.EmptySnapshot()), ErrStoreClosed)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig("crm.db")
	assert.Equal(t, "crm.db?_journal_mode=WAL", cfg.DataSourceName)
	assert.Equal(t, "crm_", cfg.TablePrefix)
	assert.Equal(t, 25, cfg.MaxOpenConns)

	mem := DefaultConfig(":memory:")
	assert.Equal(t, ":memory:", mem.DataSourceName)
	assert.Equal(t, 1, mem.MaxOpenConns)

	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestTablePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefixed.db")
	store, err := New(&Config{DataSourceName: path, TablePrefix: "tenant_a_"})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, crm.EmptySnapshot()))

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM tenant_a_meta`).Scan(&n))
	assert.Equal(t, 1, n)
}
