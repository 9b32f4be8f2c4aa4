package progress

import (
	"sync"
	"time"
)

type Snapshot struct {
	Started   bool
	Total     int
	Completed int
	Fields    Fields
	StartedAt time.Time
}

// Percent is the completed share in [0, 100].
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return ClampPercent(float64(s.Completed) / float64(s.Total) * 100)
}

// ETA extrapolates the remaining time from the average completion rate so far.
func (s Snapshot) ETA(now time.Time) (time.Duration, bool) {
	if !s.Started || s.Completed <= 0 || s.Total <= 0 || s.Completed >= s.Total {
		return 0, false
	}
	elapsed := now.Sub(s.StartedAt)
	if elapsed <= 0 {
		return 0, false
	}
	perItem := elapsed / time.Duration(s.Completed)
	return perItem * time.Duration(s.Total-s.Completed), true
}

// State is the shared model behind the Bar and Events aggregators.
type State struct {
	mu    sync.Mutex
	state Snapshot
	now   func() time.Time
}

func NewState() *State {
	return &State{now: time.Now}
}

func (m *State) Start(total int, fields Fields) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Snapshot{
		Started:   true,
		Total:     clampCount(total),
		Fields:    mergeFields(nil, fields),
		StartedAt: m.now(),
	}
	return m.copyLocked()
}

// Update records completed; a count lower than the current one is ignored so
// the displayed value never moves backwards.
func (m *State) Update(completed int, fields Fields) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if completed > m.state.Completed {
		m.state.Completed = completed
	}
	if m.state.Total > 0 && m.state.Completed > m.state.Total {
		m.state.Completed = m.state.Total
	}
	m.state.Fields = mergeFields(m.state.Fields, fields)
	return m.copyLocked()
}

func (m *State) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *State) copyLocked() Snapshot {
	snap := m.state
	snap.Fields = mergeFields(nil, m.state.Fields)
	return snap
}

func mergeFields(dst Fields, src Fields) Fields {
	if dst == nil {
		dst = Fields{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func clampCount(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
