package crm

import (
	"math"
	"sort"
	"strings"
	"time"
)

// SearchFilter narrows SearchCustomers. All set fields must match; zero
// fields do not constrain.
type SearchFilter struct {
	// Query matches case-insensitively against names and contact values.
	Query           string
	Status          CustomerStatus
	Type            CustomerType
	Source          CustomerSource
	Industry        string
	AssignedTo      string
	OrganizationID  string
	HasInteractions *bool
	CreatedAfter    time.Time
	CreatedBefore   time.Time
	Near            *Radius
	// Tags requires every listed tag to be present.
	Tags  []string
	Limit int
}

// Radius selects customers with an address within RadiusKm of Center.
type Radius struct {
	Center   GeoPoint
	RadiusKm float64
}

// SearchCustomers returns matching customers ordered by most recent contact
// (or update when never contacted), newest first. Ties are ordered by id.
func (m *Manager) SearchCustomers(f SearchFilter) []*Customer {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	m.mu.RLock()
	var withInteractions map[string]bool
	if f.HasInteractions != nil {
		withInteractions = make(map[string]bool)
		m.interactions.each(func(_ string, it *Interaction) bool {
			withInteractions[it.CustomerID] = true
			return true
		})
	}
	var out []*Customer
	m.customers.each(func(_ string, c *Customer) bool {
		if f.matches(c, query, withInteractions) {
			out = append(out, c.Clone())
		}
		return true
	})
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := recency(out[i]), recency(out[j])
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (f SearchFilter) matches(c *Customer, query string, withInteractions map[string]bool) bool {
	switch {
	case f.Status != "" && c.Status != f.Status:
		return false
	case f.Type != "" && c.Type != f.Type:
		return false
	case f.Source != "" && c.Source != f.Source:
		return false
	case f.Industry != "" && !strings.EqualFold(c.Industry, f.Industry):
		return false
	case f.AssignedTo != "" && c.AssignedTo != f.AssignedTo:
		return false
	case f.OrganizationID != "" && c.OrganizationID != f.OrganizationID:
		return false
	case !f.CreatedAfter.IsZero() && c.CreatedAt.Before(f.CreatedAfter):
		return false
	case !f.CreatedBefore.IsZero() && c.CreatedAt.After(f.CreatedBefore):
		return false
	case f.HasInteractions != nil && withInteractions[c.ID] != *f.HasInteractions:
		return false
	}
	if query != "" && !matchesText(c, query) {
		return false
	}
	for _, tag := range f.Tags {
		if !hasTag(c, tag) {
			return false
		}
	}
	if f.Near != nil && !withinRadius(c, *f.Near) {
		return false
	}
	return true
}

func matchesText(c *Customer, query string) bool {
	for _, s := range []string{c.FirstName, c.LastName, c.BusinessName, c.DisplayName} {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	for _, ct := range c.Contacts {
		if strings.Contains(strings.ToLower(ct.Value), query) {
			return true
		}
	}
	return false
}

func hasTag(c *Customer, tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func withinRadius(c *Customer, r Radius) bool {
	for _, a := range c.Addresses {
		if a.Coordinates != nil && HaversineKm(r.Center, *a.Coordinates) <= r.RadiusKm {
			return true
		}
	}
	return false
}

func recency(c *Customer) time.Time {
	if c.LastContactDate != nil {
		return *c.LastContactDate
	}
	return c.UpdatedAt
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FollowUp is a customer that needs attention and the reason why.
type FollowUp struct {
	Customer *Customer
	// Interaction is the interaction whose follow-up date has passed, or nil
	// when the customer is listed for lack of recent contact.
	Interaction *Interaction
	DueSince    time.Time
}

// GetCustomersRequiringFollowUp lists customers with an overdue follow-up
// that no later interaction has answered, and active customers not
// contacted within the follow-up window. Oldest last contact comes first.
func (m *Manager) GetCustomersRequiringFollowUp(now time.Time) []FollowUp {
	m.mu.RLock()
	latest := make(map[string]*Interaction)
	m.interactions.each(func(_ string, it *Interaction) bool {
		if cur, ok := latest[it.CustomerID]; !ok || it.Date.After(cur.Date) {
			latest[it.CustomerID] = it
		}
		return true
	})

	var out []FollowUp
	m.customers.each(func(id string, c *Customer) bool {
		last := latest[id]
		if last != nil && last.FollowUpRequired && last.FollowUpDate != nil && !last.FollowUpDate.After(now) {
			out = append(out, FollowUp{Customer: c.Clone(), Interaction: last.clone(), DueSince: *last.FollowUpDate})
			return true
		}
		if c.Status != StatusActive {
			return true
		}
		contacted := c.CreatedAt
		if c.LastContactDate != nil {
			contacted = *c.LastContactDate
		}
		if now.Sub(contacted) >= m.opts.followUpAfter {
			out = append(out, FollowUp{Customer: c.Clone(), DueSince: contacted.Add(m.opts.followUpAfter)})
		}
		return true
	})
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := lastContact(out[i].Customer), lastContact(out[j].Customer)
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].Customer.ID < out[j].Customer.ID
	})
	return out
}

func lastContact(c *Customer) time.Time {
	if c.LastContactDate != nil {
		return *c.LastContactDate
	}
	return c.CreatedAt
}
