package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const dayFormat = "2006-01-02"

// Store persists committed per-day usage so that a restart on the same day
// resumes with correct counters. Outstanding reservations are deliberately
// not persisted: a crash leaves them unresolved, and not restoring them is
// exactly the release-on-recovery policy.
type Store interface {
	Load(day string) (map[Kind]int64, error)
	Save(day string, kind Kind, bytes int64) error
}

// Ledger tracks per-calendar-day committed and reserved bytes for each kind.
// All operations share one mutex; they are O(1), so contention stays cheap.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	limits    Limits
	now       func() time.Time
	day       string
	committed map[Kind]int64
	reserved  map[Kind]int64
	open      map[string]*Reservation
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's notion of "now". Used by tests to drive
// day rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger loads today's committed usage from the store.
func NewLedger(store Store, limits Limits, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		limits:    limits,
		now:       time.Now,
		committed: make(map[Kind]int64),
		reserved:  make(map[Kind]int64),
		open:      make(map[string]*Reservation),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.rolloverLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) limit(kind Kind) int64 {
	switch kind {
	case KindUpload:
		return l.limits.UploadBytes
	default:
		return l.limits.DownloadBytes
	}
}

// rolloverLocked refreshes the ledger when the calendar day has changed.
// Committed counters restart from the store (zero for a fresh day); bytes
// reserved by still-running work carry over and will commit into the new
// day's record.
func (l *Ledger) rolloverLocked() error {
	day := l.now().Format(dayFormat)
	if day == l.day {
		return nil
	}
	loaded, err := l.store.Load(day)
	if err != nil {
		return fmt.Errorf("load usage for %s: %w", day, err)
	}
	if loaded == nil {
		loaded = make(map[Kind]int64)
	}
	l.day = day
	l.committed = loaded
	return nil
}

// Reserve provisionally claims amount bytes of today's budget for kind.
// The claim counts against the budget immediately so a concurrent caller
// cannot double-spend the same bytes.
func (l *Ledger) Reserve(kind Kind, amount int64, owner string) (*Reservation, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rolloverLocked(); err != nil {
		return nil, err
	}
	limit := l.limit(kind)
	used := l.committed[kind] + l.reserved[kind]
	if limit > 0 && used+amount > limit {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		return nil, &QuotaExceededError{Kind: kind, Requested: amount, Remaining: remaining}
	}
	res := &Reservation{ID: uuid.NewString(), Kind: kind, Amount: amount, Owner: owner}
	l.reserved[kind] += amount
	l.open[res.ID] = res
	return res, nil
}

// Commit resolves a reservation with the bytes actually transferred. The
// counter is trued up from the estimate to the actual value; an actual above
// the limit is accepted since the bytes are already on disk. Committing a
// reservation twice is a contract violation.
func (l *Ledger) Commit(res *Reservation, actual int64) error {
	if actual < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.open[res.ID]
	if !ok {
		return ErrReservationResolved
	}
	if err := l.rolloverLocked(); err != nil {
		return err
	}
	l.reserved[held.Kind] -= held.Amount
	if l.reserved[held.Kind] < 0 {
		l.reserved[held.Kind] = 0
	}
	l.committed[held.Kind] += actual
	delete(l.open, res.ID)
	if err := l.store.Save(l.day, held.Kind, l.committed[held.Kind]); err != nil {
		return fmt.Errorf("persist %s usage: %w", held.Kind, err)
	}
	log.Debug().
		Str("kind", string(held.Kind)).
		Int64("reserved", held.Amount).
		Int64("actual", actual).
		Msg("reservation committed")
	return nil
}

// Release resolves a reservation whose work never happened, returning the
// reserved bytes to the budget.
func (l *Ledger) Release(res *Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.open[res.ID]
	if !ok {
		return ErrReservationResolved
	}
	l.reserved[held.Kind] -= held.Amount
	if l.reserved[held.Kind] < 0 {
		l.reserved[held.Kind] = 0
	}
	delete(l.open, res.ID)
	return nil
}

// CurrentUsage reports the day's budget state for kind. Used includes
// outstanding reservations.
func (l *Ledger) CurrentUsage(kind Kind) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rolloverLocked(); err != nil {
		return Usage{}, err
	}
	limit := l.limit(kind)
	used := l.committed[kind] + l.reserved[kind]
	u := Usage{Used: used, Limit: limit, Remaining: -1}
	if limit > 0 {
		u.Remaining = limit - used
		if u.Remaining < 0 {
			u.Remaining = 0
		}
	}
	return u, nil
}

// Day returns the calendar day the ledger is currently accounting for.
func (l *Ledger) Day() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.rolloverLocked()
	return l.day
}
