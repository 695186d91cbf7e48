// Copyright 2024-2026 Aiku AI

package connector

// State is the lifecycle state of the stream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TrackedSet is the ordered set of account ids the stream follows.
type TrackedSet struct {
	ids   []string
	index map[string]struct{}
}

// NewTrackedSet builds a set from ids, dropping empty ids and duplicates
// while keeping first-seen order.
func NewTrackedSet(ids []string) *TrackedSet {
	s := &TrackedSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// Has reports whether id is tracked.
func (s *TrackedSet) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// IDs returns the tracked ids in order.
func (s *TrackedSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.ids...)
}

// Len returns the number of tracked ids.
func (s *TrackedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Session is the mutable state of one supervisor. Only the supervisor loop
// writes it; the pipeline reads it from the same goroutine.
type Session struct {
	Tracked *TrackedSet
	Dedup   *DedupWindow
	State   State
}

// NewSession returns a disconnected session with an empty tracked set.
func NewSession() *Session {
	return &Session{
		Tracked: NewTrackedSet(nil),
		Dedup:   NewDedupWindow(DefaultDedupCapacity),
		State:   StateDisconnected,
	}
}

// Clear drops the tracked set and the dedup window.
func (s *Session) Clear() {
	s.Tracked = NewTrackedSet(nil)
	s.Dedup.Reset()
}
