package crm

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	// Processed counts customers compared plus interactions and changes
	// offered to the authority.
	Processed int
	// Updated counts customers that adopted server values.
	Updated            int
	CustomersSynced    int
	InteractionsSynced int
	ChangesSynced      int
	// Conflicts counts conflicts newly detected in this cycle.
	Conflicts int
	Errors    []error
	// Skipped is set when the cycle did not run: another cycle was in
	// flight, the network was offline or no authority is configured.
	Skipped bool
	// Failed is set when the cycle stopped early on a cycle level error.
	Failed    bool
	StartTime time.Time
	Duration  time.Duration
}

// SyncWithServer runs one sync cycle against the remote authority. At most
// one cycle runs at a time; concurrent calls return a zeroed, skipped
// result immediately. Per record transport failures are collected in the
// result. A cycle level failure is reported through the result and the
// sync_failed event, not the returned error.
func (m *Manager) SyncWithServer(ctx context.Context) (*SyncResult, error) {
	log := m.logger.WithOperation("sync")
	if m.isClosed() {
		return nil, errors.NewClosedError(errors.OpSync)
	}
	if !m.syncSem.TryAcquire(1) {
		log.Debug("Sync already in progress, skipping")
		m.metrics.RecordSyncDuration("skipped", 0)
		return &SyncResult{Skipped: true}, nil
	}
	defer m.syncSem.Release(1)

	if m.remote == nil {
		log.Debug("No remote authority configured, skipping sync")
		return &SyncResult{Skipped: true}, nil
	}
	if !m.network.Online() {
		log.Debug("Network offline, skipping sync")
		m.metrics.RecordSyncDuration("skipped", 0)
		return &SyncResult{Skipped: true}, nil
	}

	start := m.clock.Now()
	wallStart := time.Now()
	result := &SyncResult{StartTime: start}
	log.Info("Starting sync cycle")
	m.bus.Publish(Event{Type: EventSyncStarted, Timestamp: start})

	err := m.runCycle(ctx, result)

	m.mu.Lock()
	if !m.closed {
		m.persistLocked(ctx, errors.OpSync)
	}
	m.mu.Unlock()

	result.Duration = time.Since(wallStart)
	if err != nil {
		result.Failed = true
		result.Errors = append(result.Errors, err)
		m.metrics.RecordSyncDuration("failed", result.Duration)
		m.metrics.RecordSyncErrors("sync", errorType(err))
		log.LogError(ctx, err, "Sync cycle failed")
		m.bus.Publish(Event{Type: EventSyncFailed, Timestamp: m.clock.Now(), Data: err})
		return result, nil
	}

	m.metrics.RecordSyncDuration("completed", result.Duration)
	m.metrics.RecordSynced(result.CustomersSynced, result.InteractionsSynced, result.ChangesSynced)
	if result.Conflicts > 0 {
		m.metrics.RecordConflicts(result.Conflicts)
	}
	log.Info("Sync cycle completed",
		"duration", result.Duration,
		"processed", result.Processed,
		"customers_synced", result.CustomersSynced,
		"interactions_synced", result.InteractionsSynced,
		"changes_synced", result.ChangesSynced,
		"conflicts", result.Conflicts,
		"error_count", len(result.Errors))
	done := *result
	done.Errors = append([]error(nil), result.Errors...)
	m.bus.Publish(Event{Type: EventSyncCompleted, Timestamp: m.clock.Now(), Data: &done})
	return result, nil
}

func (m *Manager) runCycle(ctx context.Context, result *SyncResult) error {
	if err := m.compareCustomers(ctx, result); err != nil {
		return err
	}
	if err := m.pushInteractions(ctx, result); err != nil {
		return err
	}
	return m.replayChanges(ctx, result)
}

type fetchOutcome struct {
	id   string
	snap *Customer
	err  error
}

// compareCustomers fetches every customer's remote snapshot with bounded
// concurrency, then detects conflicts and adopts untracked server values.
func (m *Manager) compareCustomers(ctx context.Context, result *SyncResult) error {
	m.mu.RLock()
	ids := make([]string, 0, m.customers.len())
	m.customers.each(func(id string, _ *Customer) bool {
		ids = append(ids, id)
		return true
	})
	m.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	outcomes := make([]fetchOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, m.opts.remoteTimeout)
			defer cancel()
			snap, err := m.remote.FetchSnapshot(callCtx, id)
			outcomes[i] = fetchOutcome{id: id, snap: snap, err: err}
			if stdErrors.Is(err, ErrAuthorityUnavailable) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.NewTransportError(errors.OpFetch, err)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewTransportError(errors.OpSync, err)
	}

	now := m.clock.Now()
	var events []Event

	m.mu.Lock()
	for _, o := range outcomes {
		c, ok := m.customers.get(o.id)
		if !ok {
			continue
		}
		result.Processed++

		switch {
		case o.err == nil && o.snap != nil:
		case o.err == nil || stdErrors.Is(o.err, ErrRemoteNotFound):
			// unknown to the authority; it counts as synced once its
			// create change is accepted
			continue
		default:
			terr := errors.NewTransportError(errors.OpFetch, fmt.Errorf("customer %s: %w", o.id, o.err))
			result.Errors = append(result.Errors, terr)
			m.metrics.RecordSyncErrors("fetch", errorType(o.err))
			continue
		}

		var detected []*ConflictResolution
		for _, cr := range DetectConflicts(c, o.snap, m.opts.trackedFields, now) {
			// a queued local edit made on top of the server value is
			// pushed below, not a conflict
			if m.changes.basedOn(c.ID, cr.Field, cr.ServerValue) {
				continue
			}
			detected = append(detected, cr)
		}
		added := attachConflictsLocked(c, detected)
		for _, cr := range added {
			result.Conflicts++
			m.logger.Warn("Conflict detected",
				"customer_id", c.ID,
				"field", cr.Field,
				"conflict_id", cr.ID)
			detected := cr.clone()
			events = append(events, Event{Type: EventConflictDetected, Timestamp: now, CustomerID: c.ID, Data: &detected})
		}

		if m.adoptServerLocked(c, o.snap, now) {
			result.Updated++
			events = append(events, Event{Type: EventCustomerUpdated, Timestamp: now, CustomerID: c.ID, Data: c.Clone()})
		}

		if !c.HasPendingConflict() {
			c.LastSyncedAt = timePtr(now)
			result.CustomersSynced++
		}
	}
	m.mu.Unlock()

	m.bus.Publish(events...)
	return nil
}

// adoptServerLocked copies untracked fields that differ from the server
// copy, unless a local unsynced change touches the field. It reports
// whether anything was copied; the version is bumped once if so.
func (m *Manager) adoptServerLocked(c, server *Customer, now time.Time) bool {
	tracked := make(map[string]bool, len(m.opts.trackedFields))
	for _, f := range m.opts.trackedFields {
		tracked[f] = true
	}

	next := c.Clone()
	adopted := false
	for _, field := range CustomerFieldNames() {
		if tracked[field] || locallyDerivedFields[field] {
			continue
		}
		lv, _ := FieldValue(c, field)
		sv, err := FieldValue(server, field)
		if err != nil || rawEqual(lv, sv) {
			continue
		}
		if m.changes.hasUnsyncedField(c.ID, field) {
			continue
		}
		if err := setFieldValue(next, field, sv); err != nil {
			m.logger.Warn("Failed to adopt server value", "customer_id", c.ID, "field", field, "error", err)
			continue
		}
		adopted = true
	}
	if !adopted {
		return false
	}
	normalizeCustomer(next)
	next.Version = c.Version + 1
	next.UpdatedAt = now
	*c = *next
	return true
}

// pushInteractions submits unsynced interactions in creation order. A
// delivered interaction also settles its interaction change record.
func (m *Manager) pushInteractions(ctx context.Context, result *SyncResult) error {
	m.mu.RLock()
	var pending []*Interaction
	m.interactions.each(func(_ string, it *Interaction) bool {
		if !it.IsSynced {
			pending = append(pending, it.clone())
		}
		return true
	})
	m.mu.RUnlock()

	for _, it := range pending {
		if err := ctx.Err(); err != nil {
			return errors.NewTransportError(errors.OpSync, err)
		}
		result.Processed++

		callCtx, cancel := context.WithTimeout(ctx, m.opts.remoteTimeout)
		err := m.remote.PushInteraction(callCtx, *it)
		cancel()

		if stdErrors.Is(err, ErrAuthorityUnavailable) {
			return errors.NewTransportError(errors.OpPushInter, err)
		}
		if err != nil {
			result.Errors = append(result.Errors,
				errors.NewTransportError(errors.OpPushInter, fmt.Errorf("interaction %s: %w", it.ID, err)))
			m.metrics.RecordSyncErrors("push_interaction", errorType(err))
			continue
		}

		now := m.clock.Now()
		m.mu.Lock()
		if stored, ok := m.interactions.get(it.ID); ok {
			stored.IsSynced = true
			stored.SyncedAt = timePtr(now)
			stored.UpdatedAt = now
		}
		m.changes.records.each(func(_ string, ch *Change) bool {
			if ch.Type == ChangeInteraction && ch.EntityID == it.ID && !ch.IsSynced {
				m.changes.markSynced(ch.ID, now)
				result.ChangesSynced++
			}
			return true
		})
		m.mu.Unlock()
		result.InteractionsSynced++
	}
	return nil
}

// replayChanges pushes unsynced change records in creation order. A change
// that fails blocks the later changes of the same entity for this cycle;
// other entities continue. Changes to a field with a pending conflict wait
// until the conflict is resolved.
func (m *Manager) replayChanges(ctx context.Context, result *SyncResult) error {
	m.mu.RLock()
	pending := m.changes.pending()
	queue := make([]*Change, len(pending))
	for i, ch := range pending {
		queue[i] = ch.clone()
	}
	m.mu.RUnlock()

	blocked := make(map[string]bool)
	for _, ch := range queue {
		key := ch.EntityType + ":" + ch.EntityID
		if blocked[key] {
			continue
		}
		if m.heldByConflict(ch) {
			blocked[key] = true
			continue
		}
		if !m.stillOpen(ch.ID) {
			// superseded by a resolution since the queue was taken
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.NewTransportError(errors.OpSync, err)
		}
		result.Processed++

		callCtx, cancel := context.WithTimeout(ctx, m.opts.remoteTimeout)
		err := m.remote.PushChange(callCtx, *ch)
		cancel()

		now := m.clock.Now()
		m.mu.Lock()
		if err == nil {
			m.changes.markSynced(ch.ID, now)
			if ch.Type == ChangeCreate && ch.EntityType == EntityCustomer {
				if c, ok := m.customers.get(ch.EntityID); ok {
					c.LastSyncedAt = timePtr(now)
					result.CustomersSynced++
				}
			}
		} else {
			m.changes.markFailed(ch.ID, now, err)
		}
		m.mu.Unlock()

		if err == nil {
			result.ChangesSynced++
			continue
		}
		if stdErrors.Is(err, ErrAuthorityUnavailable) {
			return errors.NewTransportError(errors.OpPushChange, err)
		}
		blocked[key] = true
		result.Errors = append(result.Errors,
			errors.NewTransportError(errors.OpPushChange, fmt.Errorf("change %s: %w", ch.ID, err)))
		m.metrics.RecordSyncErrors("push_change", errorType(err))
		m.logger.Warn("Change replay failed",
			"change_id", ch.ID,
			"entity_id", ch.EntityID,
			"field", ch.Field,
			"error", err)
	}
	return nil
}

func (m *Manager) stillOpen(changeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changes.isOpen(changeID)
}

func (m *Manager) heldByConflict(ch *Change) bool {
	if ch.EntityType != EntityCustomer || ch.Field == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers.get(ch.EntityID)
	if !ok {
		return false
	}
	_, held := c.Conflicts[ch.Field]
	return held
}

func errorType(err error) string {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stdErrors.Is(err, context.Canceled):
		return "context_canceled"
	case stdErrors.Is(err, ErrAuthorityUnavailable):
		return "unavailable"
	case IsRejected(err):
		return "rejected"
	default:
		return "transport"
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// Start begins the background sync loop and enables mutation triggered
// syncs. The loop stops when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.isClosed() {
		return errors.NewClosedError(errors.OpSync)
	}
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	m.gen++
	m.runCtx, m.cancelRun = context.WithCancel(ctx)
	m.armIntervalLocked(m.gen)
	m.logger.Info("Auto sync started", "interval", m.opts.syncInterval, "debounce", m.opts.debounce)
	return nil
}

// Stop cancels pending timers. A cycle already running completes.
func (m *Manager) Stop() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	if m.intervalTimer != nil {
		m.intervalTimer.Stop()
		m.intervalTimer = nil
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.cancelRun()
	m.logger.Info("Auto sync stopped")
}

// IsRunning reports whether the background loop is active.
func (m *Manager) IsRunning() bool {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	return m.started
}

func (m *Manager) armIntervalLocked(gen uint64) {
	m.intervalTimer = m.clock.AfterFunc(m.opts.syncInterval, func() {
		m.triggerSync("interval")
		m.schedMu.Lock()
		defer m.schedMu.Unlock()
		if m.started && m.gen == gen {
			m.armIntervalLocked(gen)
		}
	})
}

// scheduleSync coalesces mutations into one sync after the debounce delay.
func (m *Manager) scheduleSync() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if !m.started || m.opts.debounce == 0 {
		return
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = m.clock.AfterFunc(m.opts.debounce, func() {
		m.triggerSync("debounce")
	})
}

func (m *Manager) triggerSync(trigger string) {
	m.schedMu.Lock()
	if !m.started {
		m.schedMu.Unlock()
		return
	}
	ctx := m.runCtx
	m.schedMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	result, err := m.SyncWithServer(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "Triggered sync failed")
		return
	}
	if !result.Skipped {
		m.logger.Debug("Triggered sync finished", "trigger", trigger, "changes_synced", result.ChangesSynced)
	}
}

func (m *Manager) onNetworkChange(online bool) {
	ev := Event{Type: EventNetworkOffline, Timestamp: m.clock.Now(), Data: online}
	if online {
		ev.Type = EventNetworkOnline
	}
	m.logger.Info("Network state changed", "online", online)
	m.bus.Publish(ev)
	if online {
		m.triggerSync("network")
	}
}
