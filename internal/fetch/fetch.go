package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"mediafetch/internal/catalog"
	"mediafetch/internal/file"
)

// RetryableError marks a failure that a later attempt may recover from:
// transport errors, timeouts and server-side 5xx responses. Everything else
// (4xx, local disk failures) is fatal for the item.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

const defaultAttemptTimeout = 20 * time.Second

// Options configures a fetch Service.
type Options struct {
	Dir            string        // destination directory for fetched items
	AttemptTimeout time.Duration // per-attempt deadline
}

// Service performs single retrieval attempts of remote items into durable
// local storage. It is stateless; the orchestrator owns retries.
type Service struct {
	dir     string
	timeout time.Duration
	client  *http.Client
}

func NewService(opts Options) *Service {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	return &Service{
		dir:     opts.Dir,
		timeout: opts.AttemptTimeout,
		client:  &http.Client{},
	}
}

// Fetch performs one attempt at retrieving the item, writing it atomically
// under the service directory, and reports the byte count written.
func (s *Service) Fetch(ctx context.Context, item catalog.ContentItem) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, item.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// Covers timeouts, refused connections and DNS failures.
		return 0, &RetryableError{Err: fmt.Errorf("get %s: %w", item.URL, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return 0, &RetryableError{Err: fmt.Errorf("get %s: http %d", item.URL, resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, fmt.Errorf("get %s: http %d", item.URL, resp.StatusCode)
	}

	dest := filepath.Join(s.dir, file.SanitizeName(item.Name))
	written, err := file.CopyAtomic(dest, resp.Body)
	if err != nil {
		// CopyAtomic cannot tell a broken body stream from a disk
		// failure; both end the item.
		return 0, fmt.Errorf("store %s: %w", item.Name, err)
	}
	log.Debug().Str("url", item.URL).Str("dest", dest).Int64("bytes", written).Msg("item fetched")
	return written, nil
}

// LocalPath returns where a fetched item lands on disk.
func (s *Service) LocalPath(item catalog.ContentItem) string {
	return filepath.Join(s.dir, file.SanitizeName(item.Name))
}
