package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Customers)
	assert.Equal(t, crm.CurrentSchemaVersion, snap.SchemaVersion)
}

func TestSaveCreatesDirectoriesAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "crm.json")
	s, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	m, err := crm.NewManager(
		crm.WithLogger(logging.Discard().Logger),
		crm.WithPersister(s),
		crm.WithNetwork(crm.NewManualNetwork(false)),
	)
	require.NoError(t, err)
	_, err = m.CreateCustomer(ctx, crm.NewCustomer{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	reloaded, err := New(path)
	require.NoError(t, err)
	m2, err := crm.NewManager(crm.WithLogger(logging.Discard().Logger), crm.WithPersister(reloaded))
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, m2.Load(ctx))

	found := m2.SearchCustomers(crm.SearchFilter{Query: "jane"})
	require.Len(t, found, 1)
	assert.Equal(t, "Jane Doe", found[0].DisplayName)
	assert.Len(t, m2.PendingChanges(), 1)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	s, err := New(path)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, crmErrors.KindPersistence, crmErrors.KindOf(err))
}

func TestLoadNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":7,"customers":[],"interactions":[],"changes":[]}`), 0600))
	s, err := New(path)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	assert.Equal(t, crmErrors.KindPersistence, crmErrors.KindOf(err))
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
