package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"mediafetch/internal/file"
)

// StatusStore maps task ids to their latest snapshot. Writers replace the
// whole snapshot in one step, so a reader never observes a half-applied
// update (a bumped completed count without its outcome entry, say).
type StatusStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewStatusStore() *StatusStore {
	return &StatusStore{snaps: make(map[string]Snapshot)}
}

// Put publishes a snapshot. The outcomes map is copied so later mutation of
// the caller's map cannot leak into published state.
func (s *StatusStore) Put(snap Snapshot) {
	snap.Outcomes = cloneOutcomes(snap.Outcomes)
	s.mu.Lock()
	s.snaps[snap.ID] = snap
	s.mu.Unlock()
}

// Get returns an independent copy of the task's snapshot.
func (s *StatusStore) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	snap, ok := s.snaps[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	snap.Outcomes = cloneOutcomes(snap.Outcomes)
	return snap, true
}

// List returns all known task ids, for housekeeping.
func (s *StatusStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids
}

func (s *StatusStore) Remove(id string) {
	s.mu.Lock()
	delete(s.snaps, id)
	s.mu.Unlock()
}

func cloneOutcomes(in map[string]ItemOutcome) map[string]ItemOutcome {
	out := make(map[string]ItemOutcome, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func snapshotPath(dataDir, id string) string {
	return filepath.Join(dataDir, "tasks", id, "status.json")
}

// persistSnapshot writes the snapshot to disk atomically.
func persistSnapshot(dataDir string, snap Snapshot) error {
	return file.WriteJSONAtomic(snapshotPath(dataDir, snap.ID), snap)
}

// loadSnapshots reads every persisted snapshot under dataDir/tasks.
// Unreadable entries are skipped.
func loadSnapshots(dataDir string) ([]Snapshot, error) {
	root := filepath.Join(dataDir, "tasks")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(snapshotPath(dataDir, e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
