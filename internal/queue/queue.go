// Package queue tracks the daemon job ids still outstanding in a batch.
package queue

// Tracker is a set of gids. It is not safe for concurrent use; a batch only
// touches it from the connection's read loop.
type Tracker struct {
	ids map[string]struct{}
}

func New() *Tracker {
	return &Tracker{ids: map[string]struct{}{}}
}

// Add reports whether id was newly added.
func (t *Tracker) Add(id string) bool {
	if _, exists := t.ids[id]; exists {
		return false
	}
	t.ids[id] = struct{}{}
	return true
}

// Remove reports whether id was outstanding.
func (t *Tracker) Remove(id string) bool {
	if _, exists := t.ids[id]; !exists {
		return false
	}
	delete(t.ids, id)
	return true
}

func (t *Tracker) Contains(id string) bool {
	_, exists := t.ids[id]
	return exists
}

func (t *Tracker) Len() int {
	return len(t.ids)
}

func (t *Tracker) Reset() {
	t.ids = map[string]struct{}{}
}
