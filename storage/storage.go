// Package storage holds the table layout shared by the SQL persisters.
//
// A snapshot is stored as one table per collection. Each row carries the
// record's position in insertion order, its id and its JSON document, so a
// reload restores the exact order the manager saved.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

// Collection names, used as table name suffixes.
const (
	CollectionCustomers    = "customers"
	CollectionInteractions = "interactions"
	CollectionChanges      = "changes"
)

// Collections lists the collection names in save order.
var Collections = []string{CollectionCustomers, CollectionInteractions, CollectionChanges}

// DefaultTablePrefix is prepended to every table name.
const DefaultTablePrefix = "crm_"

// Row is one stored record.
type Row struct {
	Position int
	ID       string
	Data     []byte
}

// Tables is a snapshot flattened into rows, keyed by collection name.
type Tables map[string][]Row

// Flatten converts a snapshot into rows.
func Flatten(snap *crm.Snapshot) (Tables, error) {
	if snap == nil {
		snap = crm.EmptySnapshot()
	}
	customers, err := encodeRows(snap.Customers)
	if err != nil {
		return nil, err
	}
	interactions, err := encodeRows(snap.Interactions)
	if err != nil {
		return nil, err
	}
	changes, err := encodeRows(snap.Changes)
	if err != nil {
		return nil, err
	}
	return Tables{
		CollectionCustomers:    customers,
		CollectionInteractions: interactions,
		CollectionChanges:      changes,
	}, nil
}

// Assemble rebuilds a snapshot from rows. Rows must already be sorted by
// position. The schema version is validated the same way DecodeSnapshot
// validates it.
func Assemble(schemaVersion int, t Tables) (*crm.Snapshot, error) {
	snap := crm.EmptySnapshot()
	snap.SchemaVersion = schemaVersion
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	var err error
	if snap.Customers, err = decodeRows[crm.Customer](t[CollectionCustomers]); err != nil {
		return nil, err
	}
	if snap.Interactions, err = decodeRows[crm.Interaction](t[CollectionInteractions]); err != nil {
		return nil, err
	}
	if snap.Changes, err = decodeRows[crm.Change](t[CollectionChanges]); err != nil {
		return nil, err
	}
	return snap, nil
}

func encodeRows[T any](entries []crm.Entry[T]) ([]Row, error) {
	rows := make([]Row, 0, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.ID, err)
		}
		rows = append(rows, Row{Position: i, ID: e.ID, Data: data})
	}
	return rows, nil
}

func decodeRows[T any](rows []Row) ([]crm.Entry[T], error) {
	entries := make([]crm.Entry[T], 0, len(rows))
	for _, r := range rows {
		var rec T
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.ID, err)
		}
		entries = append(entries, crm.Entry[T]{ID: r.ID, Record: rec})
	}
	return entries, nil
}
