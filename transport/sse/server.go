package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Source is the subscription side of crm.Manager.
type Source interface {
	SubscribeAll(h crm.Handler) crm.SubscriptionID
	Unsubscribe(id crm.SubscriptionID) bool
}

// Server streams events from a Source. Query parameters narrow the stream:
// "type" takes a comma separated list of event types and "customer" a
// customer id.
type Server struct {
	Source    Source
	Logger    *logging.Logger
	Buffer    int
	KeepAlive time.Duration

	seq         atomic.Uint64
	dropped     atomic.Uint64
	subscribers atomic.Int64
}

// NewServer creates a new SSE server with default settings
func NewServer(source Source, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.WithComponent(logging.Component("sse"))
	}
	return &Server{
		Source:    source,
		Logger:    logger,
		Buffer:    256,
		KeepAlive: 15 * time.Second,
	}
}

// Dropped reports how many events were discarded because a client's
// buffer was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Subscribers reports the number of connected streams.
func (s *Server) Subscribers() int { return int(s.subscribers.Load()) }

type filter struct {
	types    map[crm.EventType]bool
	customer string
}

func parseFilter(r *http.Request) filter {
	f := filter{customer: r.URL.Query().Get("customer")}
	for _, raw := range r.URL.Query()["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				if f.types == nil {
					f.types = map[crm.EventType]bool{}
				}
				f.types[crm.EventType(t)] = true
			}
		}
	}
	return f
}

func (f filter) match(e crm.Event) bool {
	if f.types != nil && !f.types[e.Type] {
		return false
	}
	return f.customer == "" || f.customer == e.CustomerID
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		f := parseFilter(r)
		events := make(chan WireEvent, s.Buffer)
		// Bus handlers run on the publisher's goroutine and must not block.
		id := s.Source.SubscribeAll(func(e crm.Event) {
			if !f.match(e) {
				return
			}
			select {
			case events <- toWireEvent(s.seq.Add(1), e):
			default:
				s.dropped.Add(1)
			}
		})
		s.subscribers.Add(1)
		defer func() {
			s.Source.Unsubscribe(id)
			s.subscribers.Add(-1)
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		keepAlive := time.NewTicker(s.KeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev := <-events:
				b, err := json.Marshal(ev)
				if err != nil {
					s.Logger.Warn("Failed to encode event", slog.String("type", string(ev.Type)), slog.Any("error", err))
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, b); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
