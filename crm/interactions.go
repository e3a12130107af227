package crm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

// AddInteraction records an engagement with a customer. The customer's last
// contact date and interaction count are updated without a version bump;
// interactions are separate entities. Allowed while a conflict is pending.
func (m *Manager) AddInteraction(ctx context.Context, in NewInteraction) (*Interaction, error) {
	if in.Type == "" {
		return nil, errors.NewValidationError(errors.OpInteract, fmt.Errorf("interaction type is required"))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewClosedError(errors.OpInteract)
	}
	c, ok := m.customers.get(in.CustomerID)
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound(errors.OpInteract, EntityCustomer, in.CustomerID)
	}

	now := m.clock.Now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	it := &Interaction{
		ID:               uuid.NewString(),
		CustomerID:       c.ID,
		OrganizationID:   c.OrganizationID,
		Type:             in.Type,
		Subject:          in.Subject,
		Description:      in.Description,
		Outcome:          in.Outcome,
		Priority:         priority,
		PerformedBy:      in.PerformedBy,
		Date:             date,
		DurationMinutes:  in.DurationMinutes,
		FollowUpRequired: in.FollowUpRequired || in.FollowUpDate != nil,
		FollowUpDate:     cloneTime(in.FollowUpDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.interactions.put(it.ID, it)

	// derived fields; not a customer mutation, so the version stays
	if c.LastContactDate == nil || date.After(*c.LastContactDate) {
		d := date
		c.LastContactDate = &d
	}
	c.Metrics.TotalInteractions++
	if in.Type == InteractionMeeting || in.Type == InteractionVisit {
		c.Metrics.TotalAppointments++
		if c.Metrics.LastAppointmentDate == nil || date.After(*c.Metrics.LastAppointmentDate) {
			d := date
			c.Metrics.LastAppointmentDate = &d
		}
	}

	ch := m.changes.record(Change{
		EntityType: EntityInteraction,
		EntityID:   it.ID,
		CustomerID: c.ID,
		Type:       ChangeInteraction,
		NewValue:   mustJSON(it),
		Version:    c.Version,
	}, now, !m.network.Online())
	m.persistLocked(ctx, errors.OpInteract)

	out := it.clone()
	events := []Event{
		{Type: EventInteractionAdded, Timestamp: now, CustomerID: c.ID, Data: it.clone()},
		changeEvent(ch),
	}
	m.mu.Unlock()

	m.metrics.RecordMutation(ChangeInteraction)
	m.bus.Publish(events...)
	m.scheduleSync()
	return out, nil
}

// GetCustomerInteractions returns a customer's interactions, newest first.
func (m *Manager) GetCustomerInteractions(customerID string) []*Interaction {
	return m.GetInteractions(InteractionFilter{CustomerID: customerID})
}

// InteractionFilter narrows GetInteractions. Zero fields do not constrain.
type InteractionFilter struct {
	CustomerID      string
	Type            InteractionType
	Outcome         InteractionOutcome
	Priority        Priority
	Synced          *bool
	From            time.Time
	To              time.Time
	FollowUpPending bool
	Limit           int
}

func (f InteractionFilter) matches(it *Interaction) bool {
	switch {
	case f.CustomerID != "" && it.CustomerID != f.CustomerID:
		return false
	case f.Type != "" && it.Type != f.Type:
		return false
	case f.Outcome != "" && it.Outcome != f.Outcome:
		return false
	case f.Priority != "" && it.Priority != f.Priority:
		return false
	case f.Synced != nil && it.IsSynced != *f.Synced:
		return false
	case !f.From.IsZero() && it.Date.Before(f.From):
		return false
	case !f.To.IsZero() && it.Date.After(f.To):
		return false
	case f.FollowUpPending && !it.FollowUpRequired:
		return false
	}
	return true
}

// GetInteractions returns matching interactions sorted by date, newest first.
func (m *Manager) GetInteractions(f InteractionFilter) []*Interaction {
	m.mu.RLock()
	var out []*Interaction
	m.interactions.each(func(_ string, it *Interaction) bool {
		if f.matches(it) {
			out = append(out, it.clone())
		}
		return true
	})
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
