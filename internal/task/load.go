package task

import "fmt"

// LoadFromDisk restores persisted task snapshots into the status store.
// A task persisted as pending or running belongs to a previous process
// life; it cannot be resumed, so it is reloaded as failed.
func (m *Manager) LoadFromDisk() error {
	snaps, err := loadSnapshots(m.dataDir)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	for _, snap := range snaps {
		if !snap.Status.Terminal() {
			snap.Status = StatusFailed
			snap.Err = "interrupted by restart"
			_ = persistSnapshot(m.dataDir, snap)
		}
		m.store.Put(snap)
	}
	return nil
}
