package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// SaveNotification is the payload published on every Save.
type SaveNotification struct {
	WriterID      string    `json:"writerId"`
	SchemaVersion int       `json:"schemaVersion"`
	Customers     int       `json:"customers"`
	Interactions  int       `json:"interactions"`
	Changes       int       `json:"changes"`
	SavedAt       time.Time `json:"savedAt"`
}

// SaveHandler receives save notifications from other writers.
type SaveHandler func(SaveNotification)

// Watcher listens for snapshots saved by other processes sharing the
// same tables. Saves made through the owning Store are filtered out.
type Watcher struct {
	listener *pq.Listener
	channel  string
	writerID string
	logger   *logging.Logger
	closed   int32
	done     chan struct{}
}

// Watch subscribes to save notifications and calls fn for each one until
// ctx is cancelled or the watcher is closed.
func (s *Store) Watch(ctx context.Context, fn SaveHandler) (*Watcher, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	w := &Watcher{
		channel:  s.channel(),
		writerID: s.writerID,
		logger:   logging.WithComponent(logging.Component("postgres-watcher")),
		done:     make(chan struct{}),
	}
	w.listener = pq.NewListener(
		s.config.ConnectionString,
		s.config.ReconnectInterval,
		s.config.NotificationTimeout,
		w.eventCallback,
	)
	if err := w.listener.Listen(w.channel); err != nil {
		w.listener.Close()
		return nil, fmt.Errorf("failed to listen to channel %s: %w", w.channel, err)
	}

	go w.listenLoop(ctx, fn)
	return w, nil
}

// eventCallback handles pq.Listener connection events
func (w *Watcher) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		w.logger.Debug("Connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		w.logger.Warn("Disconnected from PostgreSQL", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		// pq.Listener re-issues LISTEN for its channels on reconnect.
		w.logger.Info("Reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		w.logger.Warn("Connection attempt failed", slog.Any("error", err))
	}
}

func (w *Watcher) listenLoop(ctx context.Context, fn SaveHandler) {
	defer w.logger.Debug("Save watcher stopped")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.done:
			return
		case n, ok := <-w.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; saves may have been missed.
			if n == nil {
				continue
			}
			w.handle(n.Extra, fn)
		case <-ping.C:
			go func() {
				if err := w.listener.Ping(); err != nil {
					w.logger.Warn("Ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (w *Watcher) handle(payload string, fn SaveHandler) {
	var n SaveNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		w.logger.Warn("Invalid save notification", slog.Any("error", err))
		return
	}
	if n.WriterID == w.writerID {
		return
	}
	fn(n)
}

// Close stops listening.
func (w *Watcher) Close() error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil
	}
	close(w.done)
	return w.listener.Close()
}
