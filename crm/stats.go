package crm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

// Statistics is a point-in-time rollup of the store.
type Statistics struct {
	Total        int
	NewThisMonth int
	// PendingInteractions counts interactions not yet accepted by the
	// authority.
	PendingInteractions int
	// Unsynced counts change records not yet replayed.
	Unsynced int
	// Conflicts counts customers with at least one pending conflict.
	Conflicts            int
	ByType               map[CustomerType]int
	ByStatus             map[CustomerStatus]int
	BySource             map[CustomerSource]int
	ByIndustry           map[string]int
	TotalLifetimeValue   decimal.Decimal
	AverageLifetimeValue decimal.Decimal
	TopCustomers         []CustomerValue
}

// CustomerValue is one entry of the lifetime value ranking.
type CustomerValue struct {
	CustomerID    string
	DisplayName   string
	LifetimeValue decimal.Decimal
}

// GetStatistics computes the rollup from the current state. The monthly
// cohort is the calendar month of the manager's clock.
func (m *Manager) GetStatistics() Statistics {
	now := m.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := Statistics{
		ByType:               make(map[CustomerType]int),
		ByStatus:             make(map[CustomerStatus]int),
		BySource:             make(map[CustomerSource]int),
		ByIndustry:           make(map[string]int),
		TotalLifetimeValue:   decimal.Zero,
		AverageLifetimeValue: decimal.Zero,
	}

	m.mu.RLock()
	var ranking []CustomerValue
	m.customers.each(func(id string, c *Customer) bool {
		stats.Total++
		if !c.CreatedAt.Before(monthStart) {
			stats.NewThisMonth++
		}
		if c.HasPendingConflict() {
			stats.Conflicts++
		}
		stats.ByType[c.Type]++
		stats.ByStatus[c.Status]++
		if c.Source != "" {
			stats.BySource[c.Source]++
		}
		if c.Industry != "" {
			stats.ByIndustry[c.Industry]++
		}
		stats.TotalLifetimeValue = stats.TotalLifetimeValue.Add(c.Metrics.LifetimeValue)
		ranking = append(ranking, CustomerValue{
			CustomerID:    id,
			DisplayName:   c.DisplayName,
			LifetimeValue: c.Metrics.LifetimeValue,
		})
		return true
	})
	m.interactions.each(func(_ string, it *Interaction) bool {
		if !it.IsSynced {
			stats.PendingInteractions++
		}
		return true
	})
	stats.Unsynced = m.changes.unsyncedCount()
	topN := m.opts.topN
	m.mu.RUnlock()

	if stats.Total > 0 {
		stats.AverageLifetimeValue = stats.TotalLifetimeValue.
			Div(decimal.NewFromInt(int64(stats.Total))).Round(2)
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		if c := ranking[i].LifetimeValue.Cmp(ranking[j].LifetimeValue); c != 0 {
			return c > 0
		}
		return ranking[i].CustomerID < ranking[j].CustomerID
	})
	if len(ranking) > topN {
		ranking = ranking[:topN]
	}
	stats.TopCustomers = ranking
	return stats
}

// RecordOrder adds a completed order to the customer's metrics through the
// regular update path. A zero at means now.
func (m *Manager) RecordOrder(ctx context.Context, customerID string, amount decimal.Decimal, at time.Time) (*Customer, error) {
	if amount.IsNegative() {
		return nil, errors.NewValidationError(errors.OpUpdate,
			fmt.Errorf("order amount must not be negative, got %s", amount))
	}
	if at.IsZero() {
		at = m.clock.Now()
	}
	return m.mutate(ctx, errors.OpUpdate, customerID, func(c *Customer) ([]rawField, error) {
		metrics := c.Metrics
		metrics.TotalOrders++
		metrics.LifetimeValue = metrics.LifetimeValue.Add(amount)
		metrics.AverageOrderValue = metrics.LifetimeValue.
			Div(decimal.NewFromInt(int64(metrics.TotalOrders))).Round(2)
		metrics.LastOrderDate = &at
		return []rawField{{field: "metrics", value: mustJSON(metrics)}}, nil
	})
}
