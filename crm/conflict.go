package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

// DetectConflicts compares the tracked fields of a local customer with the
// remote copy and returns one manual_review conflict per differing field,
// in the order the fields are given.
func DetectConflicts(local, remote *Customer, fields []string, now time.Time) []*ConflictResolution {
	if local == nil || remote == nil {
		return nil
	}
	var out []*ConflictResolution
	for _, field := range fields {
		lv, err := FieldValue(local, field)
		if err != nil {
			continue
		}
		rv, err := FieldValue(remote, field)
		if err != nil {
			continue
		}
		if rawEqual(lv, rv) {
			continue
		}
		out = append(out, &ConflictResolution{
			ID:            uuid.NewString(),
			CustomerID:    local.ID,
			Field:         field,
			LocalValue:    lv,
			ServerValue:   rv,
			LocalVersion:  local.Version,
			ServerVersion: remote.Version,
			Resolution:    ManualReview,
			DetectedAt:    now,
		})
	}
	return out
}

// locallyDerivedFields are maintained by this store from interactions and
// orders and are never adopted from the authority.
var locallyDerivedFields = map[string]bool{
	"metrics":         true,
	"lastContactDate": true,
}

// MergeFunc decides the settled value of a conflicting field. local and
// server are JSON encodings; the returned value is encoded back.
type MergeFunc func(field string, local, server json.RawMessage) (any, error)

// ResolveOptions carries the caller inputs of ResolveConflict.
type ResolveOptions struct {
	ResolvedBy string
	Notes      string
	// ServerSnapshot, when set, supplies the server value for use_server
	// instead of the value captured at detection time.
	ServerSnapshot *Customer
	// Merge is required by the merge strategy.
	Merge MergeFunc
}

// ResolveConflict settles one pending conflict of a customer. It fails with
// a conflict mismatch error when conflictID is not pending on the customer,
// which includes ids that were already resolved; the customer is then left
// unchanged.
func (m *Manager) ResolveConflict(ctx context.Context, customerID, conflictID string, strategy ResolutionStrategy, opts ResolveOptions) (*Customer, error) {
	log := m.logger.WithOperation("resolve")
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewClosedError(errors.OpResolve)
	}
	c, ok := m.customers.get(customerID)
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound(errors.OpResolve, EntityCustomer, customerID)
	}
	var cr *ConflictResolution
	for _, pending := range c.Conflicts {
		if pending.ID == conflictID {
			cr = pending
			break
		}
	}
	if cr == nil {
		m.mu.Unlock()
		return nil, errors.NewConflictMismatchError(customerID, conflictID)
	}

	value, err := m.settledValue(c, cr, strategy, opts)
	if err != nil {
		m.mu.Unlock()
		return nil, errors.NewValidationError(errors.OpResolve, err)
	}

	now := m.clock.Now()
	var recorded []*Change
	if strategy == ManualReview {
		c.Version++
		c.UpdatedAt = now
	} else {
		// the resolution replaces every queued local edit of the field
		retired := m.changes.supersede(c.ID, cr.Field, cr.ID)
		if value != nil {
			recorded, err = m.applyLocked(c, []rawField{{field: cr.Field, value: value}}, now)
			if err != nil {
				m.mu.Unlock()
				return nil, errors.NewValidationError(errors.OpResolve, err)
			}
		}
		if len(recorded) == 0 {
			c.Version++
			c.UpdatedAt = now
		}
		if ch := m.queueSettledLocked(c, cr, recorded, now); ch != nil {
			recorded = append(recorded, ch)
		}
		if retired > 0 {
			log.Debug("Superseded queued changes",
				"customer_id", c.ID,
				"field", cr.Field,
				"count", retired)
		}
	}

	settled := cr.clone()
	settled.Resolution = strategy
	settled.ResolvedAt = &now
	settled.ResolvedBy = opts.ResolvedBy
	settled.Notes = opts.Notes
	delete(c.Conflicts, cr.Field)
	if len(c.Conflicts) == 0 {
		c.Conflicts = nil
	}
	c.ResolvedConflicts = append(c.ResolvedConflicts, settled)
	m.persistLocked(ctx, errors.OpResolve)

	out := c.Clone()
	resolved := settled.clone()
	events := []Event{{Type: EventCustomerUpdated, Timestamp: now, CustomerID: c.ID, Data: c.Clone()}}
	for _, ch := range recorded {
		events = append(events, changeEvent(ch))
	}
	events = append(events, Event{Type: EventConflictResolved, Timestamp: now, CustomerID: c.ID, Data: &resolved})
	m.mu.Unlock()

	log.Info("Conflict resolved",
		"customer_id", customerID,
		"conflict_id", conflictID,
		"field", settled.Field,
		"strategy", string(strategy))
	m.bus.Publish(events...)
	m.scheduleSync()
	return out, nil
}

// queueSettledLocked makes sure the settled local value of cr.Field reaches
// the authority. A change recorded by the resolution is rebased on the
// server value so the next cycle sees a fast-forward rather than a new
// conflict; when nothing was recorded and the local value still differs
// from the server, a change is queued. It returns the queued change, if any.
func (m *Manager) queueSettledLocked(c *Customer, cr *ConflictResolution, recorded []*Change, now time.Time) *Change {
	current, err := FieldValue(c, cr.Field)
	if err != nil || rawEqual(current, cr.ServerValue) {
		return nil
	}
	for _, ch := range recorded {
		if ch.Field == cr.Field {
			ch.OldValue = append(json.RawMessage(nil), cr.ServerValue...)
			return nil
		}
	}
	return m.changes.record(Change{
		EntityType: EntityCustomer,
		EntityID:   c.ID,
		CustomerID: c.ID,
		Type:       changeTypeFor(cr.Field),
		Field:      cr.Field,
		OldValue:   cr.ServerValue,
		NewValue:   current,
		Version:    c.Version,
	}, now, !m.network.Online())
}

// settledValue returns the value to write for use_server and merge, or nil
// when the strategy leaves the data unchanged.
func (m *Manager) settledValue(c *Customer, cr *ConflictResolution, strategy ResolutionStrategy, opts ResolveOptions) (json.RawMessage, error) {
	switch strategy {
	case UseServer:
		if opts.ServerSnapshot != nil {
			return FieldValue(opts.ServerSnapshot, cr.Field)
		}
		return cr.ServerValue, nil
	case Merge:
		if opts.Merge == nil {
			return nil, fmt.Errorf("merge strategy requires a merge function")
		}
		local, err := FieldValue(c, cr.Field)
		if err != nil {
			return nil, err
		}
		merged, err := opts.Merge(cr.Field, local, cr.ServerValue)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", cr.Field, err)
		}
		return json.Marshal(merged)
	case UseLocal, ManualReview:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// attachConflictsLocked records detected conflicts on c. A pending conflict
// on the same field is kept when both values are unchanged and replaced
// otherwise. It returns the conflicts that were newly attached.
func attachConflictsLocked(c *Customer, detected []*ConflictResolution) []*ConflictResolution {
	var added []*ConflictResolution
	for _, cr := range detected {
		if prev, ok := c.Conflicts[cr.Field]; ok &&
			rawEqual(prev.LocalValue, cr.LocalValue) && rawEqual(prev.ServerValue, cr.ServerValue) {
			continue
		}
		if c.Conflicts == nil {
			c.Conflicts = make(map[string]*ConflictResolution)
		}
		c.Conflicts[cr.Field] = cr
		added = append(added, cr)
	}
	return added
}
