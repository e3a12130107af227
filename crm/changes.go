package crm

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

// changeLog owns the change records. Ids are monotonic ULIDs so the id
// order matches creation order within a process.
type changeLog struct {
	records *orderedMap[Change]
	entropy io.Reader
}

func newChangeLog() *changeLog {
	return &changeLog{
		records: newOrderedMap[Change](),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (l *changeLog) newID(at time.Time) string {
	id, err := ulid.New(ulid.Timestamp(at), l.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// record appends ch, assigning id and timestamp. It returns the stored
// record.
func (l *changeLog) record(ch Change, at time.Time, offline bool) *Change {
	ch.ID = l.newID(at)
	ch.Timestamp = at
	ch.IsOffline = offline
	ch.IsSynced = false
	ch.SyncAttempts = 0
	ch.LastSyncAttempt = nil
	ch.SyncError = ""
	ch.SupersededBy = ""
	stored := &ch
	l.records.put(ch.ID, stored)
	return stored
}

// pending returns unsynced, live records in creation order.
func (l *changeLog) pending() []*Change {
	var out []*Change
	l.records.each(func(_ string, ch *Change) bool {
		if ch.open() {
			out = append(out, ch)
		}
		return true
	})
	return out
}

func (l *changeLog) unsyncedCount() int {
	n := 0
	l.records.each(func(_ string, ch *Change) bool {
		if ch.open() {
			n++
		}
		return true
	})
	return n
}

// hasUnsyncedField reports whether an unsynced change for the customer
// touches field.
func (l *changeLog) hasUnsyncedField(customerID, field string) bool {
	found := false
	l.records.each(func(_ string, ch *Change) bool {
		if ch.open() && ch.EntityType == EntityCustomer &&
			ch.EntityID == customerID && ch.Field == field {
			found = true
			return false
		}
		return true
	})
	return found
}

// basedOn reports whether the oldest unsynced change of field was made on
// top of value, i.e. the local edit is ahead of a remote still holding it.
func (l *changeLog) basedOn(customerID, field string, value json.RawMessage) bool {
	based := false
	l.records.each(func(_ string, ch *Change) bool {
		if ch.open() && ch.EntityType == EntityCustomer &&
			ch.EntityID == customerID && ch.Field == field {
			based = rawEqual(ch.OldValue, value)
			return false
		}
		return true
	})
	return based
}

// supersede retires the open changes of a customer field on behalf of the
// conflict resolved by conflictID, so that only changes recorded afterwards
// represent the field. It returns how many were retired.
func (l *changeLog) supersede(customerID, field, conflictID string) int {
	n := 0
	l.records.each(func(_ string, ch *Change) bool {
		if ch.open() && ch.EntityType == EntityCustomer &&
			ch.EntityID == customerID && ch.Field == field {
			ch.SupersededBy = conflictID
			n++
		}
		return true
	})
	return n
}

func (l *changeLog) isOpen(id string) bool {
	ch, ok := l.records.get(id)
	return ok && ch.open()
}

func (l *changeLog) markSynced(id string, at time.Time) {
	if ch, ok := l.records.get(id); ok {
		ch.IsSynced = true
		t := at
		ch.LastSyncAttempt = &t
		ch.SyncError = ""
	}
}

func (l *changeLog) markFailed(id string, at time.Time, cause error) {
	if ch, ok := l.records.get(id); ok {
		ch.SyncAttempts++
		t := at
		ch.LastSyncAttempt = &t
		ch.SyncError = cause.Error()
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
