// Package crm implements an offline-first customer relationship store. A
// Manager accepts mutations while disconnected, records every change as an
// ordered delta and reconciles with a remote authority through a
// conflict-aware sync cycle.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Manager owns the customer, interaction and change collections. All
// methods are safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	customers    *orderedMap[Customer]
	interactions *orderedMap[Interaction]
	changes      *changeLog
	closed       bool

	bus       *Bus
	network   NetworkMonitor
	remote    Authority
	persister Persister
	clock     Clock
	logger    *logging.Logger
	metrics   MetricsCollector
	opts      managerOptions

	// syncSem admits a single sync cycle at a time.
	syncSem *semaphore.Weighted

	schedMu       sync.Mutex
	started       bool
	gen           uint64
	runCtx        context.Context
	cancelRun     context.CancelFunc
	intervalTimer Timer
	debounceTimer Timer
	stopNetwork   func()
}

// NewManager creates a Manager. State is empty until Load is called.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		customers:    newOrderedMap[Customer](),
		interactions: newOrderedMap[Interaction](),
		changes:      newChangeLog(),
		clock:        SystemClock{},
		metrics:      NoOpMetricsCollector{},
		opts:         defaultOptions(),
		syncSem:      semaphore.NewWeighted(1),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.E(
				errors.OpConfig,
				errors.Component("crm"),
				errors.KindInvalid,
				errors.ErrCodeValidationFailure,
				err,
			)
		}
	}

	if m.logger == nil {
		m.logger = logging.Default().WithComponent("crm")
	}
	if m.network == nil {
		m.network = NewManualNetwork(true)
	}
	if m.persister == nil {
		m.persister = NewMemoryPersister()
	}
	m.logger = m.logger.WithTenant(m.opts.organizationID)
	m.bus = NewBus(m.logger.Logger)
	m.stopNetwork = m.network.Subscribe(m.onNetworkChange)

	return m, nil
}

// Load replaces the in-memory state with the persister's last snapshot.
func (m *Manager) Load(ctx context.Context) error {
	snap, err := m.persister.Load(ctx)
	if err != nil {
		perr := errors.NewPersistenceError(errors.OpLoad, err)
		m.logger.LogError(ctx, perr, "Failed to load local state")
		return perr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewClosedError(errors.OpLoad)
	}

	m.customers.reset()
	m.interactions.reset()
	m.changes.records.reset()
	for _, e := range snap.Customers {
		c := e.Record
		normalizeCustomer(&c)
		m.customers.put(e.ID, &c)
	}
	for _, e := range snap.Interactions {
		in := e.Record
		m.interactions.put(e.ID, &in)
	}
	for _, e := range snap.Changes {
		ch := e.Record
		m.changes.records.put(e.ID, &ch)
	}

	m.logger.Info("Local state loaded",
		"customers", m.customers.len(),
		"interactions", m.interactions.len(),
		"changes", m.changes.records.len())
	return nil
}

// Subscribe registers h for events of type t.
func (m *Manager) Subscribe(t EventType, h Handler) SubscriptionID {
	return m.bus.Subscribe(t, h)
}

// SubscribeAll registers h for every event.
func (m *Manager) SubscribeAll(h Handler) SubscriptionID {
	return m.bus.SubscribeAll(h)
}

// Unsubscribe removes a handler registered with Subscribe or SubscribeAll.
func (m *Manager) Unsubscribe(id SubscriptionID) bool {
	return m.bus.Unsubscribe(id)
}

// CreateCustomer adds a customer with version 1 and zeroed metrics.
func (m *Manager) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	c, err := m.buildCustomer(in)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewClosedError(errors.OpCreate)
	}
	if _, exists := m.customers.get(c.ID); exists {
		m.mu.Unlock()
		return nil, errors.NewValidationError(errors.OpCreate,
			fmt.Errorf("customer %s already exists", c.ID))
	}

	now := m.clock.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.customers.put(c.ID, c)
	ch := m.changes.record(Change{
		EntityType: EntityCustomer,
		EntityID:   c.ID,
		CustomerID: c.ID,
		Type:       ChangeCreate,
		NewValue:   mustJSON(c),
		Version:    c.Version,
	}, now, !m.network.Online())
	m.persistLocked(ctx, errors.OpCreate)

	out := c.Clone()
	events := []Event{
		{Type: EventCustomerCreated, Timestamp: now, CustomerID: c.ID, Data: c.Clone()},
		changeEvent(ch),
	}
	m.mu.Unlock()

	m.metrics.RecordMutation(ChangeCreate)
	m.logger.Debug("Customer created", "customer_id", c.ID)
	m.bus.Publish(events...)
	m.scheduleSync()
	return out, nil
}

func (m *Manager) buildCustomer(in NewCustomer) (*Customer, error) {
	if in.Type == "" {
		in.Type = CustomerIndividual
	}
	if in.Status == "" {
		in.Status = StatusLead
	}
	if err := validateType(in.Type); err != nil {
		return nil, errors.NewValidationError(errors.OpCreate, err)
	}
	if err := validateStatus(in.Status); err != nil {
		return nil, errors.NewValidationError(errors.OpCreate, err)
	}

	c := &Customer{
		ID:             in.ID,
		OrganizationID: in.OrganizationID,
		Type:           in.Type,
		Status:         in.Status,
		Source:         in.Source,
		Industry:       in.Industry,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		BusinessName:   in.BusinessName,
		DisplayName:    in.DisplayName,
		AssignedTo:     in.AssignedTo,
		Tags:           append([]string(nil), in.Tags...),
		Notes:          in.Notes,
		Contacts:       append([]CustomerContact(nil), in.Contacts...),
		Addresses:      append([]CustomerAddress(nil), in.Addresses...),
		Preferences:    in.Preferences,
		Version:        1,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.OrganizationID == "" {
		c.OrganizationID = m.opts.organizationID
	}
	if c.DisplayName == "" {
		c.DisplayName = displayNameFor(c)
	}
	if c.DisplayName == "" {
		return nil, errors.NewValidationError(errors.OpCreate,
			fmt.Errorf("customer needs a first, last or business name"))
	}
	c.Metrics = CustomerMetrics{}
	normalizeCustomer(c)
	return c, nil
}

// UpdateCustomer applies a partial update. The version is bumped by one and
// one change is recorded for every field whose value differs.
func (m *Manager) UpdateCustomer(ctx context.Context, id string, u CustomerUpdate) (*Customer, error) {
	return m.mutate(ctx, errors.OpUpdate, id, func(*Customer) ([]rawField, error) {
		return u.rawFields()
	})
}

// AddCustomerAddress appends an address. When the new address is the
// default, or no default exists yet, every other address loses the flag.
func (m *Manager) AddCustomerAddress(ctx context.Context, id string, addr CustomerAddress) (*Customer, error) {
	return m.mutate(ctx, errors.OpUpdate, id, func(c *Customer) ([]rawField, error) {
		if addr.ID == "" {
			addr.ID = uuid.NewString()
		}
		makeDefault := addr.IsDefault || c.DefaultAddress() == nil
		addrs := make([]CustomerAddress, 0, len(c.Addresses)+1)
		for _, a := range c.Addresses {
			if makeDefault {
				a.IsDefault = false
			}
			addrs = append(addrs, a)
		}
		addr.IsDefault = makeDefault
		addrs = append(addrs, addr)
		return []rawField{{field: "addresses", value: mustJSON(addrs)}}, nil
	})
}

// AddCustomerContact appends a contact. When the new contact is primary,
// or no primary exists yet, every other contact loses the flag.
func (m *Manager) AddCustomerContact(ctx context.Context, id string, contact CustomerContact) (*Customer, error) {
	return m.mutate(ctx, errors.OpUpdate, id, func(c *Customer) ([]rawField, error) {
		if contact.Value == "" {
			return nil, fmt.Errorf("contact value is required")
		}
		if contact.ID == "" {
			contact.ID = uuid.NewString()
		}
		makePrimary := contact.IsPrimary || c.PrimaryContact() == nil
		contacts := make([]CustomerContact, 0, len(c.Contacts)+1)
		for _, ct := range c.Contacts {
			if makePrimary {
				ct.IsPrimary = false
			}
			contacts = append(contacts, ct)
		}
		contact.IsPrimary = makePrimary
		contacts = append(contacts, contact)
		return []rawField{{field: "contacts", value: mustJSON(contacts)}}, nil
	})
}

// GetCustomer returns a copy of the customer.
func (m *Manager) GetCustomer(id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers.get(id)
	if !ok {
		return nil, errors.NotFound(errors.OpGet, EntityCustomer, id)
	}
	return c.Clone(), nil
}

// DeleteCustomer removes a customer and queues the deletion for the
// authority. Its interactions are kept.
func (m *Manager) DeleteCustomer(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.NewClosedError(errors.OpDelete)
	}
	c, ok := m.customers.get(id)
	if !ok {
		m.mu.Unlock()
		return errors.NotFound(errors.OpDelete, EntityCustomer, id)
	}
	if c.HasPendingConflict() {
		m.mu.Unlock()
		return errors.NewConflictPendingError(errors.OpDelete, id)
	}

	now := m.clock.Now()
	m.customers.remove(id)
	ch := m.changes.record(Change{
		EntityType: EntityCustomer,
		EntityID:   id,
		CustomerID: id,
		Type:       ChangeDelete,
		OldValue:   mustJSON(c),
		Version:    c.Version + 1,
	}, now, !m.network.Online())
	m.persistLocked(ctx, errors.OpDelete)
	events := []Event{
		{Type: EventCustomerDeleted, Timestamp: now, CustomerID: id, Data: c},
		changeEvent(ch),
	}
	m.mu.Unlock()

	m.metrics.RecordMutation(ChangeDelete)
	m.bus.Publish(events...)
	m.scheduleSync()
	return nil
}

// GetChanges returns every change recorded for a customer, oldest first.
func (m *Manager) GetChanges(customerID string) []*Change {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Change
	m.changes.records.each(func(_ string, ch *Change) bool {
		if ch.CustomerID == customerID {
			out = append(out, ch.clone())
		}
		return true
	})
	return out
}

// PendingChanges returns the unsynced change records, oldest first.
func (m *Manager) PendingChanges() []*Change {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pending := m.changes.pending()
	out := make([]*Change, len(pending))
	for i, ch := range pending {
		out[i] = ch.clone()
	}
	return out
}

// Close stops the scheduler, detaches from the network monitor and closes
// the persister.
func (m *Manager) Close() error {
	m.Stop()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stopNetwork != nil {
		m.stopNetwork()
	}
	if err := m.persister.Close(); err != nil {
		return errors.NewPersistenceError(errors.OpClose, err)
	}
	m.logger.Info("Manager closed")
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

type rawField struct {
	field string
	value json.RawMessage
}

func (u CustomerUpdate) rawFields() ([]rawField, error) {
	if u.Type != nil {
		if err := validateType(*u.Type); err != nil {
			return nil, err
		}
	}
	if u.Status != nil {
		if err := validateStatus(*u.Status); err != nil {
			return nil, err
		}
	}
	changes := u.fieldChanges()
	out := make([]rawField, 0, len(changes))
	for _, fc := range changes {
		raw, err := json.Marshal(fc.value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", fc.field, err)
		}
		out = append(out, rawField{field: fc.field, value: raw})
	}
	return out, nil
}

// mutate runs the shared update path: look up, refuse while a conflict is
// pending, apply, persist, then publish once the lock is released.
func (m *Manager) mutate(ctx context.Context, op errors.Operation, id string, build func(c *Customer) ([]rawField, error)) (*Customer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewClosedError(op)
	}
	c, ok := m.customers.get(id)
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound(op, EntityCustomer, id)
	}
	if c.HasPendingConflict() {
		m.mu.Unlock()
		return nil, errors.NewConflictPendingError(op, id)
	}

	fields, err := build(c.Clone())
	if err != nil {
		m.mu.Unlock()
		return nil, errors.NewValidationError(op, err)
	}
	now := m.clock.Now()
	recorded, err := m.applyLocked(c, fields, now)
	if err != nil {
		m.mu.Unlock()
		return nil, errors.NewValidationError(op, err)
	}
	m.persistLocked(ctx, op)

	out := c.Clone()
	events := []Event{{Type: EventCustomerUpdated, Timestamp: now, CustomerID: id, Data: c.Clone()}}
	for _, ch := range recorded {
		events = append(events, changeEvent(ch))
	}
	m.mu.Unlock()

	for _, ch := range recorded {
		m.metrics.RecordMutation(ch.Type)
	}
	m.bus.Publish(events...)
	m.scheduleSync()
	return out, nil
}

// applyLocked writes fields onto c, bumps its version and records one change
// per field whose encoded value differs. c is left untouched on error.
// m.mu must be held.
func (m *Manager) applyLocked(c *Customer, fields []rawField, now time.Time) ([]*Change, error) {
	next := c.Clone()
	seen := make(map[string]bool, len(fields))
	order := make([]string, 0, len(fields))
	for _, f := range fields {
		if err := setFieldValue(next, f.field, f.value); err != nil {
			return nil, err
		}
		if !seen[f.field] {
			seen[f.field] = true
			order = append(order, f.field)
		}
	}
	normalizeCustomer(next)
	next.Version = c.Version + 1
	next.UpdatedAt = now

	type diff struct {
		field    string
		old, new json.RawMessage
	}
	var diffs []diff
	for _, field := range order {
		oldRaw, err := FieldValue(c, field)
		if err != nil {
			return nil, err
		}
		newRaw, err := FieldValue(next, field)
		if err != nil {
			return nil, err
		}
		if !rawEqual(oldRaw, newRaw) {
			diffs = append(diffs, diff{field: field, old: oldRaw, new: newRaw})
		}
	}

	*c = *next
	offline := !m.network.Online()
	recorded := make([]*Change, 0, len(diffs))
	for _, d := range diffs {
		recorded = append(recorded, m.changes.record(Change{
			EntityType: EntityCustomer,
			EntityID:   c.ID,
			CustomerID: c.ID,
			Type:       changeTypeFor(d.field),
			Field:      d.field,
			OldValue:   d.old,
			NewValue:   d.new,
			Version:    c.Version,
		}, now, offline))
	}
	return recorded, nil
}

// persistLocked saves a full snapshot. A failure is logged and counted and
// the in-memory state stays authoritative. m.mu must be held.
func (m *Manager) persistLocked(ctx context.Context, op errors.Operation) {
	if err := m.persister.Save(ctx, m.snapshotLocked()); err != nil {
		perr := errors.NewPersistenceError(op, err)
		m.metrics.RecordPersistenceError()
		m.logger.LogError(ctx, perr, "Failed to persist local state, continuing in memory")
	}
}

func (m *Manager) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		Customers:     make([]Entry[Customer], 0, m.customers.len()),
		Interactions:  make([]Entry[Interaction], 0, m.interactions.len()),
		Changes:       make([]Entry[Change], 0, m.changes.records.len()),
	}
	m.customers.each(func(id string, c *Customer) bool {
		snap.Customers = append(snap.Customers, Entry[Customer]{ID: id, Record: *c.Clone()})
		return true
	})
	m.interactions.each(func(id string, in *Interaction) bool {
		snap.Interactions = append(snap.Interactions, Entry[Interaction]{ID: id, Record: *in.clone()})
		return true
	})
	m.changes.records.each(func(id string, ch *Change) bool {
		snap.Changes = append(snap.Changes, Entry[Change]{ID: id, Record: *ch.clone()})
		return true
	})
	return snap
}

// Snapshot returns a copy of the complete local state.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func changeEvent(ch *Change) Event {
	return Event{
		Type:       EventChangeRecorded,
		Timestamp:  ch.Timestamp,
		CustomerID: ch.CustomerID,
		Data:       ch.clone(),
	}
}

// normalizeCustomer restores the structural invariants: non-nil contact and
// address lists, ids on every entry, at most one primary contact and at
// most one default address (the first flagged wins).
func normalizeCustomer(c *Customer) {
	if c.Contacts == nil {
		c.Contacts = []CustomerContact{}
	}
	if c.Addresses == nil {
		c.Addresses = []CustomerAddress{}
	}
	primary := false
	for i := range c.Contacts {
		if c.Contacts[i].ID == "" {
			c.Contacts[i].ID = uuid.NewString()
		}
		if c.Contacts[i].IsPrimary {
			if primary {
				c.Contacts[i].IsPrimary = false
			}
			primary = true
		}
	}
	def := false
	for i := range c.Addresses {
		if c.Addresses[i].ID == "" {
			c.Addresses[i].ID = uuid.NewString()
		}
		if c.Addresses[i].IsDefault {
			if def {
				c.Addresses[i].IsDefault = false
			}
			def = true
		}
	}
	if len(c.Conflicts) == 0 {
		c.Conflicts = nil
	}
}

func validateType(t CustomerType) error {
	switch t {
	case CustomerIndividual, CustomerBusiness:
		return nil
	}
	return fmt.Errorf("invalid customer type %q", t)
}

func validateStatus(s CustomerStatus) error {
	switch s {
	case StatusLead, StatusProspect, StatusActive, StatusInactive, StatusChurned:
		return nil
	}
	return fmt.Errorf("invalid customer status %q", s)
}
