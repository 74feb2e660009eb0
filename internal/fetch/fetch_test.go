package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediafetch/internal/catalog"
)

func TestFetchWritesFileAndReportsBytes(t *testing.T) {
	body := []byte("some video payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewService(Options{Dir: dir})
	written, err := s.Fetch(context.Background(), catalog.ContentItem{URL: srv.URL, Name: "clip.mp4"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if written != int64(len(body)) {
		t.Fatalf("written = %d, want %d", written, len(body))
	}
	stored, err := os.ReadFile(filepath.Join(dir, "clip.mp4"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(stored) != string(body) {
		t.Fatalf("stored content mismatch")
	}
}

func TestFetchSanitizesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewService(Options{Dir: dir})
	item := catalog.ContentItem{URL: srv.URL, Name: "../../etc/passwd"}
	if _, err := s.Fetch(context.Background(), item); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(s.LocalPath(item)); err != nil {
		t.Fatalf("sanitized file missing: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "passwd" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewService(Options{Dir: t.TempDir()})
	_, err := s.Fetch(context.Background(), catalog.ContentItem{URL: srv.URL, Name: "a.bin"})
	if err == nil || !Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewService(Options{Dir: t.TempDir()})
	_, err := s.Fetch(context.Background(), catalog.ContentItem{URL: srv.URL, Name: "a.bin"})
	if err == nil || Retryable(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	blocker := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocker
	}))
	defer srv.Close()
	defer close(blocker)

	s := NewService(Options{Dir: t.TempDir(), AttemptTimeout: 20 * time.Millisecond})
	_, err := s.Fetch(context.Background(), catalog.ContentItem{URL: srv.URL, Name: "slow.bin"})
	if err == nil || !Retryable(err) {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
}
