package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mediafetch/internal/catalog"
	"mediafetch/internal/fetch"
	"mediafetch/internal/quota"
)

// run drives one task to a terminal state: a bounded pool of workers drains
// the item feed, each finished item is merged into the published snapshot,
// and the reservation made at submission is finally committed with the sum
// of bytes the succeeded items actually transferred.
func (m *Manager) run(ctx context.Context, id string, items []catalog.ContentItem, res *quota.Reservation) {
	workers := m.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan catalog.ContentItem)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				outcome := m.fetchWithRetry(ctx, item)
				m.recordOutcome(id, item.URL, outcome)
			}
		}()
	}

	// Cancellation is observed here, between items: whatever is already in
	// a worker's hands finishes, the rest is never handed out.
feed:
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	m.finish(id, res, ctx.Err() != nil)
}

// fetchWithRetry runs up to the configured number of attempts for one item,
// backing off between attempts. Only retryable failures are reattempted.
func (m *Manager) fetchWithRetry(ctx context.Context, item catalog.ContentItem) ItemOutcome {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		written, err := m.fetch(ctx, item)
		if err == nil {
			return ItemOutcome{Succeeded: true, Bytes: written}
		}
		lastErr = err
		if !fetch.Retryable(err) || ctx.Err() != nil {
			break
		}
		log.Warn().Str("url", item.URL).Int("attempt", attempt).Err(err).Msg("fetch attempt failed")
		if attempt < m.attempts {
			backoff := m.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ItemOutcome{Error: lastErr.Error()}
			case <-time.After(backoff):
			}
		}
	}
	return ItemOutcome{Error: lastErr.Error()}
}

// recordOutcome merges one item's result into the task snapshot and
// publishes it. The merge and the publish happen under the manager mutex so
// pollers always see the outcome entry and the bumped count together.
func (m *Manager) recordOutcome(id, url string, outcome ItemOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.store.Get(id)
	if !ok {
		return
	}
	snap.Outcomes[url] = outcome
	snap.CompletedCount++
	snap.Progress = float64(snap.CompletedCount) / float64(snap.TotalCount)
	m.store.Put(snap)
}

// finish commits actual usage and publishes the terminal snapshot. Item
// failures do not fail the task; only a rejected commit does, and that is a
// contract violation worth shouting about.
func (m *Manager) finish(id string, res *quota.Reservation, cancelled bool) {
	m.mu.Lock()
	snap, ok := m.store.Get(id)
	if !ok {
		m.mu.Unlock()
		_ = m.ledger.Release(res)
		return
	}

	var actual int64
	for _, outcome := range snap.Outcomes {
		if outcome.Succeeded {
			actual += outcome.Bytes
		}
	}
	commitErr := m.ledger.Commit(res, actual)
	switch {
	case commitErr != nil:
		snap.Status = StatusFailed
		snap.Err = commitErr.Error()
		log.Error().Str("task_id", id).Err(commitErr).Msg("quota commit rejected")
	case cancelled:
		snap.Status = StatusFailed
		snap.Cancelled = true
		snap.Err = "cancelled"
	default:
		snap.Status = StatusCompleted
	}
	m.store.Put(snap)
	delete(m.cancels, id)
	m.mu.Unlock()

	if err := persistSnapshot(m.dataDir, snap); err != nil { // best-effort
		log.Warn().Str("task_id", id).Err(err).Msg("persist terminal snapshot failed")
	}
	log.Info().
		Str("task_id", id).
		Str("status", string(snap.Status)).
		Int("completed", snap.CompletedCount).
		Int64("actual_bytes", actual).
		Msg("task finished")
}
