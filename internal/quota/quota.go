package quota

import (
	"errors"
	"fmt"
)

// Kind names one of the two independently tracked daily budgets.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// Limits configures the per-day byte budgets. A zero value means the kind
// is unlimited.
type Limits struct {
	DownloadBytes int64
	UploadBytes   int64
}

// Usage is a read-only snapshot of one kind's budget for the current day.
// Remaining is -1 when no limit is configured.
type Usage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Reservation is a provisional claim against a daily budget. It must be
// resolved exactly once, by Commit or by Release.
type Reservation struct {
	ID     string
	Kind   Kind
	Amount int64
	Owner  string
}

var (
	ErrReservationResolved = errors.New("reservation already resolved")
	ErrNegativeAmount      = errors.New("negative reservation amount")
)

// QuotaExceededError is returned when a reservation cannot be granted in
// full. Remaining is the budget still available at refusal time.
type QuotaExceededError struct {
	Kind      Kind
	Requested int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: requested %d bytes, %d remaining", e.Kind, e.Requested, e.Remaining)
}

// IsExceeded reports whether err is a quota refusal and returns it typed.
func IsExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
