package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/config"
	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/crm/crmtest"
	"github.com/c0deZ3R0/go-crm-sync/logging"
	"github.com/c0deZ3R0/go-crm-sync/metrics/prom"
	"github.com/c0deZ3R0/go-crm-sync/storage/file"
	"github.com/c0deZ3R0/go-crm-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-crm-sync/transport/httptransport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useFileStorage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crm.json")
	t.Setenv("CRM_STORAGE_DRIVER", config.DriverFile)
	t.Setenv("CRM_STORAGE_DSN", path)
	return path
}

func TestCreateSearchStats(t *testing.T) {
	useFileStorage(t)

	out, err := execute(t, "create", "--first-name", "Jane", "--last-name", "Doe", "--email", "jane@example.com", "--tag", "vip")
	require.NoError(t, err)
	var created crm.Customer
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Jane Doe", created.DisplayName)

	_, err = execute(t, "create", "--business-name", "Acme", "--type", "business")
	require.NoError(t, err)

	out, err = execute(t, "search", "jane")
	require.NoError(t, err)
	var found []crm.Customer
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	out, err = execute(t, "search", "--tag", "nobody")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	out, err = execute(t, "stats")
	require.NoError(t, err)
	var stats struct{ Total, Unsynced int }
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Unsynced)
}

func TestSyncCommand(t *testing.T) {
	useFileStorage(t)
	authority := crmtest.NewAuthority()
	srv := httptest.NewServer(httptransport.NewHandler(authority))
	defer srv.Close()
	t.Setenv("CRM_REMOTE_URL", srv.URL)

	out, err := execute(t, "create", "--first-name", "Ada")
	require.NoError(t, err)
	var created crm.Customer
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	out, err = execute(t, "sync")
	require.NoError(t, err)
	var report syncReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Failed)
	assert.Equal(t, 1, report.ChangesSynced)

	_, ok := authority.Snapshot(created.ID)
	assert.True(t, ok)
}

func TestSyncCommandRequiresRemote(t *testing.T) {
	useFileStorage(t)
	_, err := execute(t, "sync")
	assert.ErrorContains(t, err, "remote.url")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("CRM_STORAGE_DRIVER", "mongo")
	_, err := execute(t, "stats")
	assert.Error(t, err)
}

func TestOpenPersister(t *testing.T) {
	dir := t.TempDir()

	p, err := openPersister(config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &crm.MemoryPersister{}, p)

	p, err = openPersister(config.StorageConfig{Driver: config.DriverFile, DSN: filepath.Join(dir, "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, p)

	p, err = openPersister(config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(dir, "s.db"), TablePrefix: "x_"})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, p)
	require.NoError(t, p.Close())

	_, err = openPersister(config.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestDaemonRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := crm.NewManager(
		crm.WithLogger(logging.Discard().Logger),
		crm.WithMetrics(prom.NewCollector(reg)),
	)
	require.NoError(t, err)
	defer m.Close()
	_, err = m.CreateCustomer(context.Background(), crm.NewCustomer{FirstName: "Jane"})
	require.NoError(t, err)

	logger, level := logging.NewLoggerWithDynamicLevel(logging.Config{Level: "info", Format: "text"}, io.Discard)
	h := newDaemonRouter(config.Default().Server, m, reg, logger, level)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string
		Pending int
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Pending)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crm_sync_mutations_total{change_type="create"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"debug"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, slog.LevelDebug, level.Level())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"loud"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
