package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/crm/crmtest"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

type testServer struct {
	*httptest.Server
	authority *crmtest.Authority
	requests  atomic.Int32
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	ts := &testServer{authority: crmtest.NewAuthority()}
	counter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ts.requests.Add(1)
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(ts.authority, append(opts, WithMiddlewares(counter))...)
	ts.Server = httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{
		WithRetryConfig(2, time.Millisecond, 5*time.Millisecond),
		WithClientLogger(logging.Discard()),
	}
	c, err := NewClient(baseURL, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://host", "http://"} {
		_, err := NewClient(raw)
		assert.Error(t, err, raw)
	}
	c, err := NewClient("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
}

func TestFetchSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.authority.Put(&crm.Customer{ID: "c-1", DisplayName: "Jane Doe", Version: 3})
	client := newTestClient(t, ts.URL)

	got, err := client.FetchSnapshot(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.ID)
	assert.Equal(t, "Jane Doe", got.DisplayName)
	assert.Equal(t, 3, got.Version)
}

func TestFetchSnapshotNotFoundIsNotRetried(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts.URL)

	_, err := client.FetchSnapshot(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crm.ErrRemoteNotFound), "got %v", err)
	assert.Equal(t, int32(1), ts.requests.Load())
}

func TestPushChangeAppliesOnServer(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts.URL)

	ch := crm.Change{
		ID:         "01J0000000000000000000000A",
		EntityType: crm.EntityCustomer,
		EntityID:   "c-9",
		CustomerID: "c-9",
		Type:       crm.ChangeCreate,
		NewValue:   []byte(`{"id":"c-9","displayName":"Acme","version":1}`),
		Version:    1,
	}
	require.NoError(t, client.PushChange(context.Background(), ch))

	snap, ok := ts.authority.Snapshot("c-9")
	require.True(t, ok)
	assert.Equal(t, "Acme", snap.DisplayName)
	require.Len(t, ts.authority.Changes(), 1)
	assert.Equal(t, ch.ID, ts.authority.Changes()[0].ID)
}

func TestPushChangeRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.authority.RejectWith(func(crm.Change) error {
		return &crm.RejectedError{Reason: "stale version"}
	})
	client := newTestClient(t, ts.URL)

	err := client.PushChange(context.Background(), crm.Change{ID: "ch-1", EntityID: "c-1", Type: crm.ChangeUpdate})
	require.Error(t, err)
	var rejected *crm.RejectedError
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.Equal(t, "stale version", rejected.Reason)
	assert.Equal(t, int32(1), ts.requests.Load())
}

func TestPushInteraction(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts.URL)

	in := crm.Interaction{ID: "i-1", CustomerID: "c-1", Type: crm.InteractionCall}
	require.NoError(t, client.PushInteraction(context.Background(), in))
	require.Len(t, ts.authority.Interactions(), 1)
	assert.Equal(t, "i-1", ts.authority.Interactions()[0].ID)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.PushInteraction(context.Background(), crm.Interaction{ID: "i-1", CustomerID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaustedIsTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.PushInteraction(context.Background(), crm.Interaction{ID: "i-1", CustomerID: "c-1"})
	require.Error(t, err)
	assert.Equal(t, crmErrors.KindTransport, crmErrors.KindOf(err))
	assert.True(t, crmErrors.IsRetryable(err))
	assert.False(t, errors.Is(err, crm.ErrAuthorityUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.PushChange(context.Background(), crm.Change{ID: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnavailableAuthority(t *testing.T) {
	ts := newTestServer(t)
	ts.authority.SetUnavailable(true)
	client := newTestClient(t, ts.URL)

	_, err := client.FetchSnapshot(context.Background(), "c-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crm.ErrAuthorityUnavailable), "got %v", err)
	assert.Equal(t, int32(3), ts.requests.Load())
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client := newTestClient(t, url)

	_, err := client.FetchSnapshot(context.Background(), "c-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crm.ErrAuthorityUnavailable), "got %v", err)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL, WithRetryConfig(10, time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.PushInteraction(ctx, crm.Interaction{ID: "i-1", CustomerID: "c-1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGzipRequestBody(t *testing.T) {
	var encoding atomic.Value
	ts := newTestServer(t, WithMiddlewares(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding.Store(r.Header.Get("Content-Encoding"))
			next.ServeHTTP(w, r)
		})
	}))
	client := newTestClient(t, ts.URL, WithClientCompression(true, 1))

	in := crm.Interaction{ID: "i-1", CustomerID: "c-1", Description: "long notes about the call"}
	require.NoError(t, client.PushInteraction(context.Background(), in))
	assert.Equal(t, "gzip", encoding.Load())
	require.Len(t, ts.authority.Interactions(), 1)
	assert.Equal(t, in.Description, ts.authority.Interactions()[0].Description)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts.URL)

	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
}

func TestManagerSyncsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts.URL)
	ctx := context.Background()

	m, err := crm.NewManager(
		crm.WithLogger(logging.Discard().Logger),
		crm.WithRemote(client),
	)
	require.NoError(t, err)
	defer m.Close()

	c, err := m.CreateCustomer(ctx, crm.NewCustomer{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	_, err = m.AddInteraction(ctx, crm.NewInteraction{CustomerID: c.ID, Type: crm.InteractionMeeting})
	require.NoError(t, err)

	res, err := m.SyncWithServer(ctx)
	require.NoError(t, err)
	require.False(t, res.Failed, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.InteractionsSynced)
	assert.Empty(t, m.PendingChanges())

	snap, ok := ts.authority.Snapshot(c.ID)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", snap.DisplayName)
}
