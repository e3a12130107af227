package crm

import (
	"slices"
	"sync"
)

// NetworkMonitor reports reachability of the remote authority and notifies
// listeners of transitions.
type NetworkMonitor interface {
	Online() bool
	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ManualNetwork is a NetworkMonitor whose state is set explicitly, e.g. by
// a platform connectivity callback or by tests.
type ManualNetwork struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
}

// NewManualNetwork creates a monitor in the given initial state.
func NewManualNetwork(online bool) *ManualNetwork {
	return &ManualNetwork{online: online, listeners: make(map[int]func(bool))}
}

func (n *ManualNetwork) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *ManualNetwork) Subscribe(fn func(bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

// SetOnline changes the state. Listeners are called synchronously, and only
// on an actual transition.
func (n *ManualNetwork) SetOnline(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(bool), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, n.listeners[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}
