package crm_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

func TestSearchByStatusOrdersByRecentContact(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	a := env.create(t, crm.NewCustomer{FirstName: "Ann", Status: crm.StatusActive})
	env.clock.Advance(time.Minute)
	b := env.create(t, crm.NewCustomer{FirstName: "Bob", Status: crm.StatusActive})
	env.clock.Advance(time.Minute)
	env.create(t, crm.NewCustomer{FirstName: "Lee", Status: crm.StatusLead})
	env.clock.Advance(time.Minute)
	c := env.create(t, crm.NewCustomer{FirstName: "Cid", Status: crm.StatusActive})

	// a contact an hour from now makes Ann the most recent
	_, err := env.m.AddInteraction(ctx, crm.NewInteraction{
		CustomerID: a.ID, Type: crm.InteractionCall, Date: epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	got := env.m.SearchCustomers(crm.SearchFilter{Status: crm.StatusActive})
	require.Len(t, got, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(got))
	for _, cust := range got {
		assert.Equal(t, crm.StatusActive, cust.Status)
	}
}

func TestSearchFiltersAreConjunctive(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	acme := env.create(t, crm.NewCustomer{
		BusinessName: "Acme Corp", Type: crm.CustomerBusiness, Status: crm.StatusActive,
		Source: crm.SourceReferral, Industry: "Manufacturing", AssignedTo: "rep-1",
		Tags: []string{"vip"},
		Contacts: []crm.CustomerContact{{Type: crm.ContactEmail, Value: "sales@acme.test"}},
		Addresses: []crm.CustomerAddress{{
			Type: crm.AddressWork, City: "Oslo", Coordinates: &crm.GeoPoint{Latitude: 59.9139, Longitude: 10.7522},
		}},
	})
	env.clock.Advance(48 * time.Hour)
	jane := env.create(t, crm.NewCustomer{
		FirstName: "Jane", LastName: "Doe", Status: crm.StatusActive, Source: crm.SourceWebsite,
		Addresses: []crm.CustomerAddress{{
			Type: crm.AddressHome, City: "Bergen", Coordinates: &crm.GeoPoint{Latitude: 60.3913, Longitude: 5.3221},
		}},
	})
	_, err := env.m.AddInteraction(ctx, crm.NewInteraction{CustomerID: jane.ID, Type: crm.InteractionEmail})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter crm.SearchFilter
		want   []string
	}{
		{"no filter", crm.SearchFilter{}, []string{jane.ID, acme.ID}},
		{"text on business name", crm.SearchFilter{Query: "acme"}, []string{acme.ID}},
		{"text on contact", crm.SearchFilter{Query: "SALES@"}, []string{acme.ID}},
		{"text on last name", crm.SearchFilter{Query: "doe"}, []string{jane.ID}},
		{"type", crm.SearchFilter{Type: crm.CustomerBusiness}, []string{acme.ID}},
		{"source", crm.SearchFilter{Source: crm.SourceWebsite}, []string{jane.ID}},
		{"industry", crm.SearchFilter{Industry: "manufacturing"}, []string{acme.ID}},
		{"assigned", crm.SearchFilter{AssignedTo: "rep-1"}, []string{acme.ID}},
		{"tags", crm.SearchFilter{Tags: []string{"VIP"}}, []string{acme.ID}},
		{"has interactions", crm.SearchFilter{HasInteractions: boolPtr(true)}, []string{jane.ID}},
		{"no interactions", crm.SearchFilter{HasInteractions: boolPtr(false)}, []string{acme.ID}},
		{"created after", crm.SearchFilter{CreatedAfter: epoch.Add(time.Hour)}, []string{jane.ID}},
		{"created before", crm.SearchFilter{CreatedBefore: epoch.Add(time.Hour)}, []string{acme.ID}},
		{"near oslo", crm.SearchFilter{Near: &crm.Radius{Center: crm.GeoPoint{Latitude: 59.91, Longitude: 10.75}, RadiusKm: 50}}, []string{acme.ID}},
		{"wide radius", crm.SearchFilter{Near: &crm.Radius{Center: crm.GeoPoint{Latitude: 59.91, Longitude: 10.75}, RadiusKm: 500}}, []string{jane.ID, acme.ID}},
		{"both must hold", crm.SearchFilter{Query: "acme", Source: crm.SourceWebsite}, nil},
		{"limit", crm.SearchFilter{Limit: 1}, []string{jane.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(env.m.SearchCustomers(tt.filter)))
		})
	}
}

func TestHaversineKm(t *testing.T) {
	oslo := crm.GeoPoint{Latitude: 59.9139, Longitude: 10.7522}
	bergen := crm.GeoPoint{Latitude: 60.3913, Longitude: 5.3221}

	d := crm.HaversineKm(oslo, bergen)
	if math.Abs(d-305) > 5 {
		t.Errorf("Oslo-Bergen = %.1f km, want about 305", d)
	}
	if got := crm.HaversineKm(oslo, oslo); got != 0 {
		t.Errorf("distance to self = %f, want 0", got)
	}
}

func TestFollowUps(t *testing.T) {
	env := newEnv(t, crm.WithFollowUpAfter(30*24*time.Hour))
	ctx := context.Background()

	env.create(t, crm.NewCustomer{FirstName: "Stale", Status: crm.StatusActive})
	lead := env.create(t, crm.NewCustomer{FirstName: "Lead", Status: crm.StatusLead})
	due := env.create(t, crm.NewCustomer{FirstName: "Due", Status: crm.StatusLead})
	answered := env.create(t, crm.NewCustomer{FirstName: "Answered", Status: crm.StatusActive})

	dueAt := epoch.Add(10 * 24 * time.Hour)
	_, err := env.m.AddInteraction(ctx, crm.NewInteraction{
		CustomerID: due.ID, Type: crm.InteractionCall, Date: epoch.Add(24 * time.Hour),
		FollowUpRequired: true, FollowUpDate: &dueAt,
	})
	require.NoError(t, err)
	_, err = env.m.AddInteraction(ctx, crm.NewInteraction{
		CustomerID: answered.ID, Type: crm.InteractionCall, Date: epoch.Add(24 * time.Hour), FollowUpDate: &dueAt,
	})
	require.NoError(t, err)
	_, err = env.m.AddInteraction(ctx, crm.NewInteraction{
		CustomerID: answered.ID, Type: crm.InteractionMeeting, Date: epoch.Add(20 * 24 * time.Hour),
	})
	require.NoError(t, err)

	early := env.m.GetCustomersRequiringFollowUp(epoch.Add(5 * 24 * time.Hour))
	assert.Empty(t, early)

	got := env.m.GetCustomersRequiringFollowUp(epoch.Add(31 * 24 * time.Hour))
	var names []string
	for _, f := range got {
		names = append(names, f.Customer.FirstName)
	}
	assert.Equal(t, []string{"Stale", "Due"}, names)
	assert.Nil(t, got[0].Interaction)
	require.NotNil(t, got[1].Interaction)
	assert.True(t, got[1].DueSince.Equal(dueAt))
	assert.NotContains(t, names, lead.FirstName)
}

func TestGetInteractionsFilter(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	c := env.create(t, crm.NewCustomer{FirstName: "Jane"})
	other := env.create(t, crm.NewCustomer{FirstName: "Other"})

	add := func(customer string, typ crm.InteractionType, p crm.Priority, at time.Time) {
		_, err := env.m.AddInteraction(ctx, crm.NewInteraction{CustomerID: customer, Type: typ, Priority: p, Date: at})
		require.NoError(t, err)
	}
	add(c.ID, crm.InteractionCall, crm.PriorityHigh, epoch.Add(time.Hour))
	add(c.ID, crm.InteractionEmail, "", epoch.Add(3*time.Hour))
	add(c.ID, crm.InteractionCall, crm.PriorityLow, epoch.Add(2*time.Hour))
	add(other.ID, crm.InteractionCall, crm.PriorityHigh, epoch)

	mine := env.m.GetCustomerInteractions(c.ID)
	require.Len(t, mine, 3)
	assert.True(t, mine[0].Date.Equal(epoch.Add(3*time.Hour)))
	assert.Equal(t, crm.PriorityMedium, mine[0].Priority)
	assert.True(t, mine[2].Date.Equal(epoch.Add(time.Hour)))

	calls := env.m.GetInteractions(crm.InteractionFilter{Type: crm.InteractionCall})
	assert.Len(t, calls, 3)
	high := env.m.GetInteractions(crm.InteractionFilter{CustomerID: c.ID, Priority: crm.PriorityHigh})
	assert.Len(t, high, 1)
	window := env.m.GetInteractions(crm.InteractionFilter{From: epoch.Add(90 * time.Minute), To: epoch.Add(150 * time.Minute)})
	assert.Len(t, window, 1)
	unsynced := env.m.GetInteractions(crm.InteractionFilter{Synced: boolPtr(false)})
	assert.Len(t, unsynced, 4)

	got, err := env.m.GetCustomer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Metrics.TotalInteractions)
	assert.True(t, got.LastContactDate.Equal(epoch.Add(3*time.Hour)))
	assert.Equal(t, 1, got.Version)
}

func ids(cs []*crm.Customer) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
