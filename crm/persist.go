package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c0deZ3R0/go-crm-sync/errors"
)

// CurrentSchemaVersion is the snapshot layout written by this package.
const CurrentSchemaVersion = 1

// Persister stores and restores the complete local state.
type Persister interface {
	// Load returns the last saved snapshot, or an empty snapshot when
	// nothing has been saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// Snapshot is the persisted form of the three collections, each kept in
// insertion order.
type Snapshot struct {
	SchemaVersion int                  `json:"schemaVersion"`
	Customers     []Entry[Customer]    `json:"customers"`
	Interactions  []Entry[Interaction] `json:"interactions"`
	Changes       []Entry[Change]      `json:"changes"`
}

// Entry is an (id, record) pair. It encodes as a two element JSON array.
type Entry[T any] struct {
	ID     string
	Record T
}

func (e Entry[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ID, e.Record})
}

func (e *Entry[T]) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("entry: expected [id, record], got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.ID); err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &e.Record); err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return nil
}

// EmptySnapshot returns a snapshot with no records.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		Customers:     []Entry[Customer]{},
		Interactions:  []Entry[Interaction]{},
		Changes:       []Entry[Change]{},
	}
}

// EncodeSnapshot serializes a snapshot, stamping the current schema version.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		snap = EmptySnapshot()
	}
	out := *snap
	out.SchemaVersion = CurrentSchemaVersion
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, errors.NewPersistenceError(errors.OpPersist, err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a serialized snapshot. Data written
// before schema versioning existed has no version and is read as version 1.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return EmptySnapshot(), nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewPersistenceError(errors.OpLoad, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate checks the schema version. A missing version is read as
// version 1; a version newer than CurrentSchemaVersion is refused.
func (s *Snapshot) Validate() error {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = CurrentSchemaVersion
	}
	if s.SchemaVersion > CurrentSchemaVersion {
		return errors.E(
			errors.OpLoad,
			errors.Component("persister"),
			errors.KindPersistence,
			errors.ErrCodePersistence,
			fmt.Errorf("snapshot schema version %d is newer than supported version %d",
				s.SchemaVersion, CurrentSchemaVersion),
		)
	}
	return nil
}

// MemoryPersister keeps the encoded snapshot in memory. Saves go through
// the same encoding as the durable persisters.
type MemoryPersister struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Load(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return DecodeSnapshot(p.data)
}

func (p *MemoryPersister) Save(ctx context.Context, snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = data
	p.saves++
	return nil
}

func (p *MemoryPersister) Close() error { return nil }

// Saves reports how many snapshots have been written.
func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// Bytes returns a copy of the last encoded snapshot.
func (p *MemoryPersister) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.data...)
}

var _ Persister = (*MemoryPersister)(nil)
