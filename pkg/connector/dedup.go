// Copyright 2024-2026 Aiku AI

package connector

// DefaultDedupCapacity is the number of recent post ids remembered.
const DefaultDedupCapacity = 20

// DedupWindow remembers the most recent post ids in insertion order and
// forgets the oldest once full. It is not safe for concurrent use; the
// supervisor loop owns it.
type DedupWindow struct {
	capacity int
	ids      []string
	index    map[string]struct{}
}

// NewDedupWindow returns an empty window. A non-positive capacity uses
// DefaultDedupCapacity.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupWindow{
		capacity: capacity,
		ids:      make([]string, 0, capacity+1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

// Contains reports whether id is in the window.
func (w *DedupWindow) Contains(id string) bool {
	_, ok := w.index[id]
	return ok
}

// Add inserts id unless present and reports whether it was new.
func (w *DedupWindow) Add(id string) bool {
	if w.Contains(id) {
		return false
	}
	w.ids = append(w.ids, id)
	w.index[id] = struct{}{}
	if len(w.ids) > w.capacity {
		oldest := w.ids[0]
		delete(w.index, oldest)
		w.ids = append(w.ids[:0], w.ids[1:]...)
	}
	return true
}

// IDs returns the remembered ids, oldest first.
func (w *DedupWindow) IDs() []string {
	return append([]string(nil), w.ids...)
}

// Len returns the number of remembered ids.
func (w *DedupWindow) Len() int {
	return len(w.ids)
}

// Reset forgets every id.
func (w *DedupWindow) Reset() {
	w.ids = w.ids[:0]
	clear(w.index)
}
