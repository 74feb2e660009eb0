package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"mediafetch/internal/catalog"
	"mediafetch/internal/quota"
	"mediafetch/internal/task"
	"mediafetch/internal/upload"
)

const mb = int64(1 << 20)

type testStore struct {
	mu   sync.Mutex
	days map[string]map[quota.Kind]int64
}

func newTestStore() *testStore {
	return &testStore{days: make(map[string]map[quota.Kind]int64)}
}

func (s *testStore) Load(day string) (map[quota.Kind]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := make(map[quota.Kind]int64, len(s.days[day]))
	for k, v := range s.days[day] {
		loaded[k] = v
	}
	return loaded, nil
}

func (s *testStore) Save(day string, kind quota.Kind, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.days[day] == nil {
		s.days[day] = make(map[quota.Kind]int64)
	}
	s.days[day][kind] = bytes
	return nil
}

type fakeCatalog struct {
	items []catalog.ContentItem
	err   error
}

func (f *fakeCatalog) Discover(_ context.Context, _ catalog.Filter) ([]catalog.ContentItem, error) {
	return f.items, f.err
}

type testEnv struct {
	router *gin.Engine
	srcDir string
}

func setupEnv(t *testing.T, limits quota.Limits, cat catalog.Catalog) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger, err := quota.NewLedger(newTestStore(), limits)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	manager := task.NewManager(ledger, func(_ context.Context, item catalog.ContentItem) (int64, error) {
		return item.SizeBytes, nil
	}, task.Options{DataDir: t.TempDir(), RetryBaseDelay: time.Millisecond})

	srcDir := t.TempDir()
	uploader, err := upload.NewUploader(ledger, srcDir, t.TempDir())
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}

	router := gin.New()
	NewAPI(manager, uploader, ledger, cat).RegisterRoutes(router)
	return testEnv{router: router, srcDir: srcDir}
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestSubmitAndPollTask(t *testing.T) {
	env := setupEnv(t, quota.Limits{}, &fakeCatalog{})

	body := `{"items":[
		{"url":"https://e.org/a.mp4","name":"a.mp4","kind":"video","size_bytes":1048576},
		{"url":"https://e.org/b.jpg","name":"b.jpg","kind":"image","size_bytes":2097152}
	]}`
	w := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["task_id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty task_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, env.router, http.MethodGet, "/api/v1/tasks/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("get task: %d", w.Code)
		}
		resp := decode(t, w)
		if status := resp["status"]; status == string(task.StatusCompleted) {
			if resp["completed_count"].(float64) != 2 {
				t.Fatalf("completed_count = %v, want 2", resp["completed_count"])
			}
			return
		} else if status == string(task.StatusFailed) {
			t.Fatalf("task failed: %v", resp)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for task completion")
}

func TestSubmitValidationAndNotFound(t *testing.T) {
	env := setupEnv(t, quota.Limits{}, &fakeCatalog{})

	if w := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", `{"items":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty items: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", `{bad json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, env.router, http.MethodGet, "/api/v1/tasks/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown task: expected 404, got %d", w.Code)
	}
	if w := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks/nope/cancel", ""); w.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: expected 404, got %d", w.Code)
	}
}

func TestSubmitQuotaRefusalReportsRemaining(t *testing.T) {
	env := setupEnv(t, quota.Limits{DownloadBytes: 10 * mb}, &fakeCatalog{})

	body := `{"items":[{"url":"https://e.org/big.mp4","name":"big.mp4","kind":"video","size_bytes":15728640}]}`
	w := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["remaining"].(float64) != float64(10*mb) {
		t.Fatalf("remaining = %v, want %d", resp["remaining"], 10*mb)
	}

	// The refused submission must not have touched usage.
	w = doJSON(t, env.router, http.MethodGet, "/api/v1/usage", "")
	if w.Code != http.StatusOK {
		t.Fatalf("usage: %d", w.Code)
	}
	download := decode(t, w)["download"].(map[string]any)
	if download["used"].(float64) != 0 {
		t.Fatalf("used = %v, want 0", download["used"])
	}
}

func TestUsageReportsNullWhenUnlimited(t *testing.T) {
	env := setupEnv(t, quota.Limits{DownloadBytes: 100 * mb}, &fakeCatalog{})

	w := doJSON(t, env.router, http.MethodGet, "/api/v1/usage", "")
	resp := decode(t, w)
	if resp["date"] == "" {
		t.Fatalf("missing date: %v", resp)
	}
	download := resp["download"].(map[string]any)
	if download["limit"].(float64) != float64(100*mb) {
		t.Fatalf("download limit = %v", download["limit"])
	}
	up := resp["upload"].(map[string]any)
	if up["limit"] != nil || up["remaining"] != nil {
		t.Fatalf("unlimited upload should report null limit, got %v", up)
	}
}

func TestUploadEndpoint(t *testing.T) {
	env := setupEnv(t, quota.Limits{}, &fakeCatalog{})
	if err := os.WriteFile(filepath.Join(env.srcDir, "clip.mp4"), []byte("data"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	body := `{"items":[
		{"url":"u1","name":"clip.mp4","kind":"video"},
		{"url":"u2","name":"ghost.mp4","kind":"video"}
	]}`
	w := doJSON(t, env.router, http.MethodPost, "/api/v1/uploads", body)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["success_count"].(float64) != 1 || resp["fail_count"].(float64) != 1 {
		t.Fatalf("unexpected result: %v", resp)
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	found := []catalog.ContentItem{{URL: "/f/1", Name: "a.mp4", Kind: catalog.KindVideo, SizeBytes: mb}}
	env := setupEnv(t, quota.Limits{}, &fakeCatalog{items: found})

	w := doJSON(t, env.router, http.MethodGet, "/api/v1/catalog?kinds=videos&period=7d&min_size_mb=0.5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("discover: %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", resp["count"])
	}

	if w := doJSON(t, env.router, http.MethodGet, "/api/v1/catalog?period=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad period: expected 400, got %d", w.Code)
	}
}

func TestDiscoverUpstreamFailureIsBadGateway(t *testing.T) {
	env := setupEnv(t, quota.Limits{}, &fakeCatalog{err: &catalog.UpstreamError{URL: "x", Err: context.DeadlineExceeded}})
	if w := doJSON(t, env.router, http.MethodGet, "/api/v1/catalog", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
