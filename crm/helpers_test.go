package crm_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/crm/crmtest"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

var epoch = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	m       *crm.Manager
	remote  *crmtest.Authority
	clock   *crmtest.Clock
	network *crm.ManualNetwork
	store   *crm.MemoryPersister
}

func newEnv(t *testing.T, opts ...crm.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		remote:  crmtest.NewAuthority(),
		clock:   crmtest.NewClock(epoch),
		network: crm.NewManualNetwork(true),
		store:   crm.NewMemoryPersister(),
	}
	base := []crm.Option{
		crm.WithLogger(discardLogger()),
		crm.WithRemote(env.remote),
		crm.WithClock(env.clock),
		crm.WithNetwork(env.network),
		crm.WithPersister(env.store),
		crm.WithOrganization("org-1"),
	}
	m, err := crm.NewManager(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	env.m = m
	return env
}

func (e *testEnv) create(t *testing.T, in crm.NewCustomer) *crm.Customer {
	t.Helper()
	c, err := e.m.CreateCustomer(context.Background(), in)
	require.NoError(t, err)
	return c
}

func (e *testEnv) sync(t *testing.T) *crm.SyncResult {
	t.Helper()
	res, err := e.m.SyncWithServer(context.Background())
	require.NoError(t, err)
	require.False(t, res.Skipped)
	return res
}

// eventLog records events delivered by a manager.
type eventLog struct {
	mu     sync.Mutex
	events []crm.Event
}

func recordEvents(m *crm.Manager) *eventLog {
	l := &eventLog{}
	m.SubscribeAll(func(e crm.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) types() []crm.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]crm.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) count(t crm.EventType) int {
	n := 0
	for _, typ := range l.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t crm.EventType) (crm.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return crm.Event{}, false
}

type recordingMetrics struct {
	mu                sync.Mutex
	outcomes          []string
	synced            [3]int
	conflicts         int
	syncErrors        map[string]int
	mutations         map[crm.ChangeType]int
	persistenceErrors int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		syncErrors: make(map[string]int),
		mutations:  make(map[crm.ChangeType]int),
	}
}

func (r *recordingMetrics) RecordSyncDuration(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingMetrics) RecordSynced(customers, interactions, changes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced[0] += customers
	r.synced[1] += interactions
	r.synced[2] += changes
}

func (r *recordingMetrics) RecordConflicts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts += n
}

func (r *recordingMetrics) RecordSyncErrors(op, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncErrors[op+"/"+typ]++
}

func (r *recordingMetrics) RecordMutation(kind crm.ChangeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations[kind]++
}

func (r *recordingMetrics) RecordPersistenceError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistenceErrors++
}

func discardLogger() *slog.Logger { return logging.Discard().Logger }

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
