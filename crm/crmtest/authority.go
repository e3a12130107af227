// Package crmtest provides deterministic fakes for testing code built on
// package crm.
package crmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

// Authority is an in-memory remote authority. Pushed changes are applied to
// its snapshots so later fetches observe them.
type Authority struct {
	mu           sync.Mutex
	snapshots    map[string]*crm.Customer
	changes      []crm.Change
	interactions []crm.Interaction

	unavailable bool
	fetchErrs   map[string]error
	changeErrs  map[string]error
	reject      func(crm.Change) error
	fetchHook   func(ctx context.Context, id string)

	fetchCalls int
}

var _ crm.Authority = (*Authority)(nil)

// NewAuthority creates an empty authority.
func NewAuthority() *Authority {
	return &Authority{
		snapshots:  make(map[string]*crm.Customer),
		fetchErrs:  make(map[string]error),
		changeErrs: make(map[string]error),
	}
}

// Put stores a copy of c as the authoritative snapshot.
func (a *Authority) Put(c *crm.Customer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[c.ID] = c.Clone()
}

// Snapshot returns a copy of the stored snapshot.
func (a *Authority) Snapshot(id string) (*crm.Customer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.snapshots[id]
	return c.Clone(), ok
}

// SetUnavailable makes every call fail with crm.ErrAuthorityUnavailable.
func (a *Authority) SetUnavailable(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unavailable = v
}

// FailFetch makes fetches of id fail with err until cleared with a nil err.
func (a *Authority) FailFetch(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	setOrClear(a.fetchErrs, id, err)
}

// FailChanges makes pushes of changes to entity id fail with err until
// cleared with a nil err.
func (a *Authority) FailChanges(entityID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	setOrClear(a.changeErrs, entityID, err)
}

// RejectWith installs fn to decide whether a change is refused.
func (a *Authority) RejectWith(fn func(crm.Change) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject = fn
}

// OnFetch installs a hook called at the start of every fetch, outside the
// authority's lock. Tests use it to hold a sync cycle open.
func (a *Authority) OnFetch(fn func(ctx context.Context, id string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchHook = fn
}

// FetchCalls reports how many fetches were made.
func (a *Authority) FetchCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchCalls
}

// Changes returns the accepted changes in arrival order.
func (a *Authority) Changes() []crm.Change {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]crm.Change(nil), a.changes...)
}

// Interactions returns the accepted interactions in arrival order.
func (a *Authority) Interactions() []crm.Interaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]crm.Interaction(nil), a.interactions...)
}

func (a *Authority) FetchSnapshot(ctx context.Context, id string) (*crm.Customer, error) {
	a.mu.Lock()
	hook := a.fetchHook
	a.mu.Unlock()
	if hook != nil {
		hook(ctx, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchCalls++
	if a.unavailable {
		return nil, crm.ErrAuthorityUnavailable
	}
	if err := a.fetchErrs[id]; err != nil {
		return nil, err
	}
	c, ok := a.snapshots[id]
	if !ok {
		return nil, crm.ErrRemoteNotFound
	}
	return c.Clone(), nil
}

func (a *Authority) PushChange(ctx context.Context, ch crm.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return crm.ErrAuthorityUnavailable
	}
	if err := a.changeErrs[ch.EntityID]; err != nil {
		return err
	}
	if a.reject != nil {
		if err := a.reject(ch); err != nil {
			return err
		}
	}
	if err := a.apply(ch); err != nil {
		return &crm.RejectedError{Reason: err.Error()}
	}
	a.changes = append(a.changes, ch)
	return nil
}

func (a *Authority) PushInteraction(ctx context.Context, in crm.Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return crm.ErrAuthorityUnavailable
	}
	a.interactions = append(a.interactions, in)
	return nil
}

func (a *Authority) apply(ch crm.Change) error {
	if ch.EntityType != crm.EntityCustomer {
		return nil
	}
	switch ch.Type {
	case crm.ChangeCreate:
		var c crm.Customer
		if err := json.Unmarshal(ch.NewValue, &c); err != nil {
			return err
		}
		a.snapshots[c.ID] = &c
	case crm.ChangeDelete:
		delete(a.snapshots, ch.EntityID)
	default:
		c, ok := a.snapshots[ch.EntityID]
		if !ok {
			return fmt.Errorf("customer %s not found", ch.EntityID)
		}
		updated, err := setField(c, ch.Field, ch.NewValue)
		if err != nil {
			return err
		}
		updated.Version = ch.Version
		a.snapshots[ch.EntityID] = updated
	}
	return nil
}

func setField(c *crm.Customer, field string, value json.RawMessage) (*crm.Customer, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[field] = value
	if data, err = json.Marshal(fields); err != nil {
		return nil, err
	}
	var out crm.Customer
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func setOrClear(m map[string]error, key string, err error) {
	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}
