package export

import (
	"sync"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
)

// Export phases reported by the progress tracker.
const (
	PhaseIdle      = "idle"
	PhaseLocating  = "locating"
	PhaseArchiving = "archiving"
	PhaseDone      = "done"
	PhaseError     = "error"
)

// Tracker reports archive-building progress per session. Exports run as
// independent request-triggered tasks, so the map is mutex-guarded.
type Tracker struct {
	mu sync.Mutex
	m  map[string]model.ExportProgress
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{m: make(map[string]model.ExportProgress)}
}

// Get returns the last known progress for a session (idle when never
// exported).
func (t *Tracker) Get(sessionID string) model.ExportProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.m[sessionID]; ok {
		return p
	}
	return model.ExportProgress{SessionID: sessionID, Phase: PhaseIdle}
}

// Update applies fn to the session's progress entry.
func (t *Tracker) Update(sessionID string, fn func(*model.ExportProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[sessionID]
	if !ok {
		p = model.ExportProgress{SessionID: sessionID, Phase: PhaseIdle}
	}
	fn(&p)
	t.m[sessionID] = p
}
