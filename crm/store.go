package crm

import "slices"

// orderedMap is an id keyed collection that remembers insertion order.
type orderedMap[T any] struct {
	keys  []string
	items map[string]*T
}

func newOrderedMap[T any]() *orderedMap[T] {
	return &orderedMap[T]{items: make(map[string]*T)}
}

func (m *orderedMap[T]) get(id string) (*T, bool) {
	v, ok := m.items[id]
	return v, ok
}

// put stores v under id. A new id is appended; an existing id keeps its
// position.
func (m *orderedMap[T]) put(id string, v *T) {
	if _, ok := m.items[id]; !ok {
		m.keys = append(m.keys, id)
	}
	m.items[id] = v
}

func (m *orderedMap[T]) remove(id string) bool {
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	if i := slices.Index(m.keys, id); i >= 0 {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
	return true
}

func (m *orderedMap[T]) len() int { return len(m.keys) }

// each visits records in insertion order until fn returns false.
func (m *orderedMap[T]) each(fn func(id string, v *T) bool) {
	for _, id := range m.keys {
		if !fn(id, m.items[id]) {
			return
		}
	}
}

func (m *orderedMap[T]) reset() {
	m.keys = nil
	m.items = make(map[string]*T)
}
