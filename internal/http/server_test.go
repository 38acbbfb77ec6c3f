package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type nodeStatus struct {
	Role   string `json:"role"`
	Stable uint64 `json:"stable_gp"`
}

func testServer(sealed *bool) *Server {
	return NewServer("0",
		func() any { return nodeStatus{Role: "sequencer", Stable: 7} },
		func() map[string]uint64 { return map[string]uint64{"appends_total": 3, "stable_gp": 7} },
		func() { *sealed = true },
		func() ([]string, error) { return []string{"replica-5001", "replica-5002"}, nil },
	)
}

func TestHealth(t *testing.T) {
	var sealed bool
	router := testServer(&sealed).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("response status = %q", resp.Status)
	}
}

func TestStatus(t *testing.T) {
	var sealed bool
	router := testServer(&sealed).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var st nodeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Role != "sequencer" || st.Stable != 7 {
		t.Fatalf("status = %+v", st)
	}
}

func TestMetrics(t *testing.T) {
	var sealed bool
	router := testServer(&sealed).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "lazylog_appends_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
	if !strings.Contains(body, "lazylog_stable_gp 7") {
		t.Fatalf("metrics body missing gauge:\n%s", body)
	}
}

func TestSeal(t *testing.T) {
	var sealed bool
	router := testServer(&sealed).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seal", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !sealed {
		t.Fatal("seal callback not invoked")
	}
}

func TestReplicas(t *testing.T) {
	var sealed bool
	router := testServer(&sealed).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/replicas", nil))

	var replicas []string
	if err := json.Unmarshal(rec.Body.Bytes(), &replicas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replicas) != 2 || replicas[0] != "replica-5001" {
		t.Fatalf("replicas = %v", replicas)
	}
}

func TestOptionalRoutesAbsent(t *testing.T) {
	srv := NewServer("0",
		func() any { return nodeStatus{Role: "shard"} },
		func() map[string]uint64 { return nil },
		nil, nil)
	router := srv.createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seal", nil))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("seal route should be absent, got %d", rec.Code)
	}
}
