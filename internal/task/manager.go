package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mediafetch/internal/catalog"
	"mediafetch/internal/quota"
)

// FetchFunc performs one retrieval attempt for one item and reports the
// bytes stored. Production wiring passes fetch.Service.Fetch; tests inject
// their own.
type FetchFunc func(ctx context.Context, item catalog.ContentItem) (int64, error)

// Ledger is the slice of the quota ledger the orchestrator needs.
type Ledger interface {
	Reserve(kind quota.Kind, amount int64, owner string) (*quota.Reservation, error)
	Commit(res *quota.Reservation, actual int64) error
	Release(res *quota.Reservation) error
}

// Manager orchestrates batch fetch tasks: it admits submissions against the
// download quota, runs per-task bounded worker pools, and publishes pollable
// snapshots through a StatusStore.
type Manager struct {
	mu          sync.Mutex
	store       *StatusStore
	cancels     map[string]context.CancelFunc
	ledger      Ledger
	fetch       FetchFunc
	dataDir     string
	concurrency int
	attempts    int
	retryBase   time.Duration
	baseCtx     context.Context
	workersWG   sync.WaitGroup
}

func NewManager(ledger Ledger, fetch FetchFunc, opts Options) *Manager {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = defaultFetchConcurrency
	}
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = defaultFetchAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &Manager{
		store:       NewStatusStore(),
		cancels:     make(map[string]context.CancelFunc),
		ledger:      ledger,
		fetch:       fetch,
		dataDir:     opts.DataDir,
		concurrency: opts.FetchConcurrency,
		attempts:    opts.FetchAttempts,
		retryBase:   opts.RetryBaseDelay,
		baseCtx:     context.Background(),
	}
}

// Submit validates the batch, reserves download quota for the summed size
// estimates and starts the fetch pool. It returns the new task id without
// waiting for any fetch work. When the reservation is refused no task
// exists and no network activity has happened.
func (m *Manager) Submit(items []catalog.ContentItem) (string, error) {
	if len(items) == 0 {
		return "", ErrNoItems
	}
	seen := make(map[string]struct{}, len(items))
	var estimated int64
	for _, item := range items {
		if _, dup := seen[item.URL]; dup {
			return "", fmt.Errorf("%w: %s", ErrDuplicateItem, item.URL)
		}
		seen[item.URL] = struct{}{}
		estimated += item.SizeBytes
	}

	id := uuid.NewString()
	res, err := m.ledger.Reserve(quota.KindDownload, estimated, id)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		ID:         id,
		Status:     StatusPending,
		TotalCount: len(items),
		Outcomes:   make(map[string]ItemOutcome, len(items)),
		CreatedAt:  time.Now().UTC(),
	}
	m.store.Put(snap)

	m.mu.Lock()
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancels[id] = cancel
	snap.Status = StatusRunning
	m.store.Put(snap)
	m.mu.Unlock()

	log.Info().Str("task_id", id).Int("items", len(items)).Int64("estimated_bytes", estimated).Msg("task submitted")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.run(ctx, id, items, res)
	}()
	return id, nil
}

// GetStatus returns the task's latest snapshot.
func (m *Manager) GetStatus(id string) (Snapshot, error) {
	snap, ok := m.store.Get(id)
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return snap, nil
}

// Cancel requests cooperative cancellation. Workers finish their in-flight
// item and stop picking up new ones; the task ends failed with the
// cancelled marker.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, running := m.cancels[id]
	m.mu.Unlock()
	if running {
		cancel()
		log.Info().Str("task_id", id).Msg("task cancellation requested")
		return nil
	}
	snap, ok := m.store.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if snap.Status.Terminal() {
		return ErrTaskFinished
	}
	return ErrTaskNotFound
}

// ListTasks returns all known task ids.
func (m *Manager) ListTasks() []string {
	return m.store.List()
}

// Remove drops a terminal task's snapshot. Running tasks are kept.
func (m *Manager) Remove(id string) error {
	snap, ok := m.store.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if !snap.Status.Terminal() {
		return fmt.Errorf("task %s still %s", id, snap.Status)
	}
	m.store.Remove(id)
	return nil
}

// SetBaseContext sets the context new tasks derive from. Intended to be set
// at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight task workers finish or the context is
// done. Returns true if all workers finished.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
