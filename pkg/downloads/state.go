package downloads

import (
	"sort"
	"sync"

	"github.com/tankobon/tankobon/pkg/models"
)

// transitions lists every status change the queue allows.
var transitions = map[string][]string{
	models.DownloadStatusPending:     {models.DownloadStatusDownloading},
	models.DownloadStatusDownloading: {models.DownloadStatusCompleted, models.DownloadStatusFailed, models.DownloadStatusPaused},
	models.DownloadStatusPaused:      {models.DownloadStatusPending},
	models.DownloadStatusFailed:      {models.DownloadStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// State is the scheduler's in-memory view: which job is transferring, which
// jobs were asked to pause or were removed mid-transfer, and whether the
// drain loop is running.
type State struct {
	mu       sync.Mutex
	activeID int
	pauses   map[int]struct{}
	removed  map[int]struct{}
	running  bool
	kicked   bool
}

func NewState() *State {
	return &State{
		pauses:  make(map[int]struct{}),
		removed: make(map[int]struct{}),
	}
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	ActiveID        *int  `json:"active_id"`
	PauseRequested  []int `json:"pause_requested"`
	DrainLoopActive bool  `json:"drain_loop_active"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		PauseRequested:  make([]int, 0, len(s.pauses)),
		DrainLoopActive: s.running,
	}
	if s.activeID != 0 {
		id := s.activeID
		snap.ActiveID = &id
	}
	for id := range s.pauses {
		snap.PauseRequested = append(snap.PauseRequested, id)
	}
	sort.Ints(snap.PauseRequested)
	return snap
}

func (s *State) IsActive(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID != 0 && s.activeID == id
}

func (s *State) begin(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	delete(s.pauses, id)
	delete(s.removed, id)
}

// finish clears the active job and every flag raised against it.
func (s *State) finish(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == id {
		s.activeID = 0
	}
	delete(s.pauses, id)
	delete(s.removed, id)
}

func (s *State) requestPause(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses[id] = struct{}{}
}

func (s *State) pauseRequested(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pauses[id]
	return ok
}

func (s *State) markRemoved(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[id] = struct{}{}
}

func (s *State) wasRemoved(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.removed[id]
	return ok
}

// tryStart records that work may exist and reports whether the caller should
// start the drain loop.
func (s *State) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = true
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *State) clearKick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = false
}

// tryStop stops the loop unless work was signalled since the last clearKick.
func (s *State) tryStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kicked {
		return false
	}
	s.running = false
	return true
}

func (s *State) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
