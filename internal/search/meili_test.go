package search

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeMeili stands in for a Meilisearch instance: /health reports available
// and every other route returns an enqueued task, while recording the calls
// so tests can assert which document routes were hit.
type fakeMeili struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/health" {
		json.NewEncoder(w).Encode(map[string]string{"status": "available"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"taskUid":    1,
		"indexUid":   idxHierarchy,
		"status":     "enqueued",
		"type":       "documentAdditionOrUpdate",
		"enqueuedAt": "2026-03-14T00:00:00Z",
	})
}

func (f *fakeMeili) sawCall(want string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call == want {
			return true
		}
	}
	return false
}

func TestMeiliDocumentCalls(t *testing.T) {
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "test-key")
	defer m.Close()

	if !m.Healthy() {
		t.Fatal("expected client to report healthy against the fake server")
	}

	record := Record{ID: "rt_1", UserID: "usr_1", Type: ResultRoutine, Title: "Stretch", Category: "Health"}
	if err := m.Index(record); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := m.IndexAll([]Record{{ID: "pr_1", Type: ResultParent}, {ID: "sr_1", Type: ResultSubRoutine}}); err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}
	if err := m.IndexAll(nil); err != nil {
		t.Fatalf("IndexAll with no records failed: %v", err)
	}
	if err := m.Delete("rt_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if !fake.sawCall("POST /indexes/" + idxHierarchy + "/documents") {
		t.Errorf("expected document upsert call, saw %v", fake.calls)
	}
	if !fake.sawCall("DELETE /indexes/" + idxHierarchy + "/documents/rt_1") {
		t.Errorf("expected document delete call, saw %v", fake.calls)
	}
}
