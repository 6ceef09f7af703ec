package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("x-user-id", "ext-1")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["status"] != "ok" || response["service"] != "routin0-api" {
		t.Errorf("unexpected health payload %v", response)
	}
}

func TestReadyEndpoint(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when database is up, got %d", rr.Code)
	}

	fs.pingErr = errors.New("connection refused")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when database is down, got %d", rr.Code)
	}
}

func TestPreflightNoContent(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodOptions, "/api/routines", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("204 response must carry no body, got %q", rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("preflight must carry CORS headers")
	}
}

func TestMissingIdentity(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/routines", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["message"] != "Missing user identity" {
		t.Errorf("unexpected body %v", response)
	}
}

func TestDevBearerIdentity(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/routines", nil)
	req.Header.Set("Authorization", "Bearer dev:ext-9")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with dev bearer token, got %d", rr.Code)
	}
}

func TestCreateParentEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health","category":"Wellness"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	// The created entity comes back bare, not wrapped in an envelope.
	parent := decodeResponse(t, rr)
	if _, wrapped := parent["parent"]; wrapped {
		t.Fatalf("expected bare parent object, got envelope %v", parent)
	}
	if parent["title"] != "Health" || parent["category"] != "Wellness" {
		t.Errorf("unexpected parent %v", parent)
	}
	if parent["completion"] != float64(0) {
		t.Errorf("fresh parent must report completion 0, got %v", parent["completion"])
	}
}

func TestCreateEndpointsReturnBareEntities(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health"}`)

	rr := doRequest(t, server, http.MethodPost, "/api/routines/parents/"+fs.parents[0].ID+"/sub-routines", `{"title":"Morning"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	sub := decodeResponse(t, rr)
	if sub["title"] != "Morning" || sub["id"] != fs.subs[0].ID {
		t.Errorf("expected bare sub-routine, got %v", sub)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+fs.subs[0].ID+"/routines", `{"title":"Stretch"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	routine := decodeResponse(t, rr)
	if routine["title"] != "Stretch" || routine["id"] != fs.routines[0].ID {
		t.Errorf("expected bare routine, got %v", routine)
	}
}

func TestCreateParentEmptyTitle(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	rr := doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["message"] != "Title is required" {
		t.Errorf("unexpected body %v", response)
	}
	if len(fs.parents) != 0 {
		t.Errorf("rejected create must not persist, have %d parents", len(fs.parents))
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"X","bogus":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestMarkEndpoint(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health"}`)
	parentID := fs.parents[0].ID
	doRequest(t, server, http.MethodPost, "/api/routines/parents/"+parentID+"/sub-routines", `{"title":"Morning"}`)
	subID := fs.subs[0].ID
	doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+subID+"/routines", `{"title":"Stretch"}`)
	routineID := fs.routines[0].ID

	rr := doRequest(t, server, http.MethodPost, "/api/routines/"+routineID+"/mark", `{"action":"done"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	logEntry := decodeResponse(t, rr)
	if logEntry["routineId"] != routineID || logEntry["action"] != "done" {
		t.Errorf("expected bare log entry, got %v", logEntry)
	}
	if len(fs.logs) != 1 || fs.logs[0].Action != "done" {
		t.Fatalf("expected one done log, got %+v", fs.logs)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/routines/"+routineID+"/mark", `{"action":"finished"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid action, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["message"] != "Invalid action" {
		t.Errorf("unexpected body %v", response)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/routines/rt_missing/mark", `{"action":"done"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown routine, got %d", rr.Code)
	}
}

func TestAnalyticsTodayEndpoint(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/parents/"+fs.parents[0].ID+"/sub-routines", `{"title":"Morning"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+fs.subs[0].ID+"/routines", `{"title":"Stretch"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/"+fs.routines[0].ID+"/mark", `{"action":"done"}`)

	rr := doRequest(t, server, http.MethodGet, "/api/routines/logs/analytics/today", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	summary, ok := response["summary"].(map[string]any)
	if !ok {
		t.Fatalf("missing summary in %v", response)
	}
	if summary["total"] != float64(1) || summary["done"] != float64(1) {
		t.Errorf("unexpected summary %v", summary)
	}
	if _, ok := response["byCategory"]; !ok {
		t.Errorf("missing byCategory")
	}
	if _, ok := response["byParent"]; !ok {
		t.Errorf("missing byParent")
	}
	if logs, ok := response["logs"].([]any); !ok || len(logs) != 1 {
		t.Errorf("expected 1 log in payload, got %v", response["logs"])
	}
}

func TestInsightsEndpointUnconfigured(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodPost, "/api/ai/insights", `{"mode":"today"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/parents/"+fs.parents[0].ID+"/sub-routines", `{"title":"Morning"}`)
	for _, title := range []string{"A", "B", "C"} {
		doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+fs.subs[0].ID+"/routines", `{"title":"`+title+`"}`)
	}
	subID := fs.subs[0].ID

	rr := doRequest(t, server, http.MethodGet, "/api/routines/sub-routines/"+subID+"/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if pending, ok := response["pending"].([]any); !ok || len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %v", response["pending"])
	}

	// pass, pass: [A,B,C] → [C,A,B]
	doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+subID+"/session/pass", "")
	rr = doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+subID+"/session/pass", "")
	response = decodeResponse(t, rr)
	pending := response["pending"].([]any)
	front := pending[0].(map[string]any)
	if front["title"] != "C" {
		t.Errorf("expected C on front after two passes, got %v", front["title"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+subID+"/session/unmark", `{"routineId":"`+fs.routines[0].ID+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 unmarking a pending routine, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/routines/sub-routines/sr_missing/session", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown sub-routine, got %d", rr.Code)
	}
}

func TestCascadeDeleteEndpoint(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	doRequest(t, server, http.MethodPost, "/api/routines/parents", `{"title":"Health"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/parents/"+fs.parents[0].ID+"/sub-routines", `{"title":"Morning"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/sub-routines/"+fs.subs[0].ID+"/routines", `{"title":"Stretch"}`)
	doRequest(t, server, http.MethodPost, "/api/routines/"+fs.routines[0].ID+"/mark", `{"action":"done"}`)

	rr := doRequest(t, server, http.MethodDelete, "/api/routines/parents/"+fs.parents[0].ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(fs.parents)+len(fs.subs)+len(fs.routines)+len(fs.logs) != 0 {
		t.Errorf("cascade left data behind: %d/%d/%d/%d",
			len(fs.parents), len(fs.subs), len(fs.routines), len(fs.logs))
	}

	rr = doRequest(t, server, http.MethodGet, "/api/routines", "")
	response := decodeResponse(t, rr)
	if parents, ok := response["parents"].([]any); !ok || len(parents) != 0 {
		t.Errorf("expected empty parents array, got %v", response["parents"])
	}
}
