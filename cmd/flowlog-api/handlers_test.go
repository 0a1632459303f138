package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"FlowTagger/internal/config"
	"FlowTagger/internal/store"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const apiFlows = "2 123456789012 eni-1 10.0.0.1 10.0.0.2 25 49153 6 25 20000 1620140761 1620140821 ACCEPT OK\n" +
	"2 123456789012 eni-1 10.0.0.1 10.0.0.2 443 49154 6 25 20000 1620140761 1620140821 ACCEPT OK\n" +
	"2 123456789012 eni-1 10.0.0.1 10.0.0.2 9999 49155 6 25 20000 1620140761 1620140821 ACCEPT OK\n"

type apiFixture struct {
	dir        string
	flowPath   string
	lookupPath string
	router     http.Handler
}

func newFixture(t *testing.T, withStore bool) *apiFixture {
	t.Helper()
	f := &apiFixture{dir: t.TempDir()}
	f.flowPath = filepath.Join(f.dir, "flow.log")
	f.lookupPath = filepath.Join(f.dir, "lookup.csv")
	if err := os.WriteFile(f.flowPath, []byte(apiFlows), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.lookupPath, []byte("dstport,protocol,tag\n25,tcp,sv_P1\n443,tcp,sv_P2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var runStore *store.Store
	if withStore {
		s, err := store.Open(filepath.Join(f.dir, "runs.db"))
		if err != nil {
			t.Fatalf("store.Open() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		runStore = s
	}
	f.router = newRouter(NewAPIHandler(config.Default(), runStore))
	return f
}

func (f *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) analyzeBody() string {
	return `{"flow_log":"` + f.flowPath + `","lookup_table":"` + f.lookupPath + `"}`
}

func decodeStruct(t *testing.T, rec *httptest.ResponseRecorder) map[string]*structpb.Value {
	t.Helper()
	var s structpb.Struct
	if err := protojson.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, rec.Body.String())
	}
	return s.GetFields()
}

func TestHealthz(t *testing.T) {
	rec := newFixture(t, false).do("GET", "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("GET /healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do("POST", "/api/v1/analyze", f.analyzeBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/analyze = %d %s", rec.Code, rec.Body.String())
	}
	fields := decodeStruct(t, rec)
	if fields["records"].GetNumberValue() != 3 {
		t.Errorf("records = %v, want 3", fields["records"])
	}
	if len(fields["tag_counts"].GetListValue().GetValues()) != 3 {
		t.Errorf("tag_counts = %v, want 3 rows", fields["tag_counts"])
	}
	if _, ok := fields["run_id"]; ok {
		t.Error("run_id should be absent without a store")
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing field", `{"flow_log":"` + f.flowPath + `"}`, http.StatusBadRequest},
		{"unknown field", `{"flow_log":"a","lookup_table":"b","extra":1}`, http.StatusBadRequest},
		{"missing file", `{"flow_log":"` + filepath.Join(f.dir, "nope") + `","lookup_table":"` + f.lookupPath + `"}`, http.StatusNotFound},
		{"directory input", `{"flow_log":"` + f.dir + `","lookup_table":"` + f.lookupPath + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do("POST", "/api/v1/analyze", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRuns_StoredAndLoaded(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do("POST", "/api/v1/analyze", f.analyzeBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/analyze = %d %s", rec.Code, rec.Body.String())
	}
	runID := decodeStruct(t, rec)["run_id"].GetNumberValue()
	if runID != 1 {
		t.Fatalf("run_id = %v, want 1", runID)
	}

	for _, target := range []string{"/api/v1/runs/1", "/api/v1/runs/latest"} {
		rec = f.do("GET", target, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d %s", target, rec.Code, rec.Body.String())
		}
		fields := decodeStruct(t, rec)
		if fields["records"].GetNumberValue() != 3 || fields["run_id"].GetNumberValue() != 1 {
			t.Errorf("GET %s = %v", target, fields)
		}
	}

	if rec = f.do("GET", "/api/v1/runs/99", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/v1/runs/99 = %d, want 404", rec.Code)
	}
}

func TestRuns_NoStore(t *testing.T) {
	f := newFixture(t, false)
	for _, target := range []string{"/api/v1/runs/1", "/api/v1/runs/latest"} {
		if rec := f.do("GET", target, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", target, rec.Code)
		}
	}
}

func TestRuns_LatestEmpty(t *testing.T) {
	if rec := newFixture(t, true).do("GET", "/api/v1/runs/latest", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/v1/runs/latest = %d, want 404", rec.Code)
	}
}
