package crm_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/errors"
)

func TestRecordOrderUpdatesMetrics(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	c := env.create(t, crm.NewCustomer{FirstName: "Jane"})

	_, err := env.m.RecordOrder(ctx, c.ID, decimal.RequireFromString("100.00"), time.Time{})
	require.NoError(t, err)
	got, err := env.m.RecordOrder(ctx, c.ID, decimal.RequireFromString("50.50"), epoch.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, got.Metrics.TotalOrders)
	assert.True(t, got.Metrics.LifetimeValue.Equal(decimal.RequireFromString("150.50")))
	assert.True(t, got.Metrics.AverageOrderValue.Equal(decimal.RequireFromString("75.25")))
	require.NotNil(t, got.Metrics.LastOrderDate)
	assert.True(t, got.Metrics.LastOrderDate.Equal(epoch.Add(time.Hour)))
	assert.Equal(t, 3, got.Version)

	changes := env.m.GetChanges(c.ID)
	require.Len(t, changes, 3)
	assert.Equal(t, "metrics", changes[2].Field)

	_, err = env.m.RecordOrder(ctx, c.ID, decimal.NewFromInt(-1), time.Time{})
	assert.Equal(t, errors.KindInvalid, errors.KindOf(err))
}

func TestStatistics(t *testing.T) {
	env := newEnv(t, crm.WithTopN(2))
	ctx := context.Background()

	// created in February, outside the March cohort
	env.clock.Set(epoch.AddDate(0, -1, 0))
	old := env.create(t, crm.NewCustomer{
		BusinessName: "Old Co", Type: crm.CustomerBusiness, Status: crm.StatusActive,
		Source: crm.SourceImport, Industry: "retail",
	})
	env.clock.Set(epoch)
	a := env.create(t, crm.NewCustomer{FirstName: "Ann", Status: crm.StatusActive, Source: crm.SourceWebsite, Industry: "retail"})
	b := env.create(t, crm.NewCustomer{FirstName: "Bob", Source: crm.SourceWebsite})

	for id, amount := range map[string]string{old.ID: "10", a.ID: "300", b.ID: "200"} {
		_, err := env.m.RecordOrder(ctx, id, decimal.RequireFromString(amount), time.Time{})
		require.NoError(t, err)
	}
	_, err := env.m.AddInteraction(ctx, crm.NewInteraction{CustomerID: a.ID, Type: crm.InteractionCall})
	require.NoError(t, err)

	stats := env.m.GetStatistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.NewThisMonth)
	assert.Equal(t, 1, stats.PendingInteractions)
	// 3 creates, 3 orders and 1 interaction
	assert.Equal(t, 7, stats.Unsynced)
	assert.Equal(t, 0, stats.Conflicts)
	assert.Equal(t, map[crm.CustomerType]int{crm.CustomerBusiness: 1, crm.CustomerIndividual: 2}, stats.ByType)
	assert.Equal(t, map[crm.CustomerStatus]int{crm.StatusActive: 2, crm.StatusLead: 1}, stats.ByStatus)
	assert.Equal(t, map[crm.CustomerSource]int{crm.SourceImport: 1, crm.SourceWebsite: 2}, stats.BySource)
	assert.Equal(t, map[string]int{"retail": 2}, stats.ByIndustry)
	assert.True(t, stats.TotalLifetimeValue.Equal(decimal.NewFromInt(510)))
	assert.True(t, stats.AverageLifetimeValue.Equal(decimal.NewFromInt(170)))

	require.Len(t, stats.TopCustomers, 2)
	assert.Equal(t, a.ID, stats.TopCustomers[0].CustomerID)
	assert.Equal(t, b.ID, stats.TopCustomers[1].CustomerID)
	assert.Equal(t, "Ann", stats.TopCustomers[0].DisplayName)
}

func TestStatisticsCountsConflicts(t *testing.T) {
	env, _, _ := conflictedEnv(t)
	assert.Equal(t, 1, env.m.GetStatistics().Conflicts)
}

func TestStatisticsOnEmptyStore(t *testing.T) {
	env := newEnv(t)
	stats := env.m.GetStatistics()
	assert.Equal(t, 0, stats.Total)
	assert.True(t, stats.AverageLifetimeValue.IsZero())
	assert.Empty(t, stats.TopCustomers)
}
