// Package sse streams manager events to HTTP clients as server-sent events.
package sse

import (
	"encoding/json"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

// WireEvent is the JSON form of a crm.Event carried in each "data:" line.
type WireEvent struct {
	Seq        uint64          `json:"seq"`
	Type       crm.EventType   `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	CustomerID string          `json:"customerId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// toWireEvent converts an event. Error payloads are carried as text since
// error values do not marshal.
func toWireEvent(seq uint64, e crm.Event) WireEvent {
	w := WireEvent{
		Seq:        seq,
		Type:       e.Type,
		Timestamp:  e.Timestamp,
		CustomerID: e.CustomerID,
	}
	switch d := e.Data.(type) {
	case nil:
	case error:
		w.Error = d.Error()
	default:
		if data, err := json.Marshal(d); err == nil {
			w.Data = data
		} else {
			w.Error = "unencodable payload: " + err.Error()
		}
	}
	return w
}
