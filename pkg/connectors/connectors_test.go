package connectors

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/retry"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(config.PipelineConfig{
		FetchTimeout: 10 * time.Second,
		UserAgent:    "SafetyGraph-Test/1.0",
	}, WithRetryConfig(&retry.Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}))
}

func testSource(key string, t config.SourceType, url, format string) *config.SourceConfig {
	return &config.SourceConfig{
		Key:          key,
		Type:         t,
		URL:          url,
		Format:       format,
		FieldMapping: map[string]string{"id": "incident_id"},
	}
}

func TestAPIConnector_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "SafetyGraph-Test/1.0" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"id": "A-1", "event_date": "2025-03-01", "naics": 23821, "open": true},
			{"id": "A-2", "event_date": "2025-03-02", "naics": null}
		]}`))
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceAPI)(testClient(t))
	ds, err := conn.Fetch(context.Background(), testSource("osha", config.SourceAPI, srv.URL, "json"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if ds.SourceKey != "osha" {
		t.Errorf("expected provenance source key osha, got %q", ds.SourceKey)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", ds.Len())
	}
	if ds.Rows[0]["naics"] != "23821" {
		t.Errorf("expected numeric cell preserved as 23821, got %q", ds.Rows[0]["naics"])
	}
	if ds.Rows[1]["naics"] != "" {
		t.Errorf("expected null cell to be empty, got %q", ds.Rows[1]["naics"])
	}
}

func TestAPIConnector_SendsAPIKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	t.Setenv("OSHA_API_KEY", "tok-123")
	src := testSource("osha", config.SourceAPI, srv.URL, "json")
	src.APIKeyEnv = "OSHA_API_KEY"

	conn := GetFactory(config.SourceAPI)(testClient(t))
	if _, err := conn.Fetch(context.Background(), src); err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
}

func TestAPIConnector_PostsMetadataPayload(t *testing.T) {
	var gotMethod, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"results": [{"id": "S-1", "year": "2024", "value": "12"}]}`))
	}))
	defer srv.Close()

	src := testSource("bls", config.SourceAPI, srv.URL, "json")
	src.Metadata = map[string]string{"payload": `{"seriesid": ["FWU00X"], "startyear": "2015"}`}

	conn := GetFactory(config.SourceAPI)(testClient(t))
	ds, err := conn.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST for payload sources, got %s", gotMethod)
	}
	if gotType != "application/json" {
		t.Errorf("expected json content type, got %q", gotType)
	}
	if gotBody != src.Metadata["payload"] {
		t.Errorf("payload not relayed verbatim: %q", gotBody)
	}
	if ds.Len() != 1 {
		t.Errorf("expected 1 row, got %d", ds.Len())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("id\nA-1\n"))
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceBulkFile)(testClient(t))
	ds, err := conn.Fetch(context.Background(), testSource("dares", config.SourceBulkFile, srv.URL, "csv"))
	if err != nil {
		t.Fatalf("Fetch() failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if ds.Len() != 1 {
		t.Errorf("expected 1 row, got %d", ds.Len())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceAPI)(testClient(t))
	_, err := conn.Fetch(context.Background(), testSource("osha", config.SourceAPI, srv.URL, "json"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 403 to short-circuit retries, got %d attempts", calls.Load())
	}

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Errorf("expected wrapped StatusError 403, got %v", err)
	}
}

func TestBulkFileConnector_CSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("id,code_naf,gravite\nFR-1,4321,grave\nFR-2,2511,\n"))
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceBulkFile)(testClient(t))
	ds, err := conn.Fetch(context.Background(), testSource("dares", config.SourceBulkFile, srv.URL, "csv"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(ds.Columns) != 3 || ds.Columns[1] != "code_naf" {
		t.Errorf("unexpected columns %v", ds.Columns)
	}
	if ds.Rows[0]["gravite"] != "grave" {
		t.Errorf("unexpected row: %v", ds.Rows[0])
	}
}

func TestDatasetRepoConnector_MergesResources(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/2024.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("id,secteur\nQC-1,236\n"))
	})
	mux.HandleFunc("/2025.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("id,secteur,gravite\nQC-2,238,grave\n"))
	})
	mux.HandleFunc("/dataset", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"resources": [
			{"name": "2024", "format": "CSV", "url": "` + srv.URL + `/2024.csv"},
			{"name": "2025", "format": "CSV", "url": "` + srv.URL + `/2025.csv"},
			{"name": "notes", "format": "PDF", "url": "` + srv.URL + `/notes.pdf"}
		]}}`))
	})

	conn := GetFactory(config.SourceDatasetRepo)(testClient(t))
	ds, err := conn.Fetch(context.Background(), testSource("cnesst", config.SourceDatasetRepo, srv.URL+"/dataset", "csv"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected rows merged from both csv resources, got %d", ds.Len())
	}
	// Column union across vintages.
	if len(ds.Columns) != 3 {
		t.Errorf("expected 3 columns, got %v", ds.Columns)
	}
}

func TestDatasetRepoConnector_NoMatchingResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resources": [{"name": "notes", "format": "PDF", "url": "https://example.com/n.pdf"}]}`))
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceDatasetRepo)(testClient(t))
	if _, err := conn.Fetch(context.Background(), testSource("cnesst", config.SourceDatasetRepo, srv.URL, "csv")); err == nil {
		t.Fatal("expected error for dataset without matching resources")
	}
}

func TestSDMXConnector_JSONStat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": ["nace_r2", "time"],
			"size": [2, 2],
			"dimension": {
				"nace_r2": {"category": {
					"index": {"F": 0, "C": 1},
					"label": {"F": "Construction", "C": "Manufacturing"}
				}},
				"time": {"category": {
					"index": {"2023": 0, "2024": 1},
					"label": {"2023": "2023", "2024": "2024"}
				}}
			},
			"value": {"0": 120, "3": 47.5}
		}`))
	}))
	defer srv.Close()

	conn := GetFactory(config.SourceSDMX)(testClient(t))
	ds, err := conn.Fetch(context.Background(), testSource("eurostat", config.SourceSDMX, srv.URL, "jsonstat"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 observed cells, got %d", ds.Len())
	}

	byValue := make(map[string]map[string]string)
	for _, row := range ds.Rows {
		byValue[row["value"]] = row
	}

	// Linear index 0 -> (F, 2023); index 3 -> (C, 2024).
	first := byValue["120"]
	if first["nace_r2"] != "F" || first["time"] != "2023" {
		t.Errorf("cell 0 decoded wrong: %v", first)
	}
	if first["nace_r2_label"] != "Construction" {
		t.Errorf("expected label column, got %v", first)
	}
	second := byValue["47.5"]
	if second["nace_r2"] != "C" || second["time"] != "2024" {
		t.Errorf("cell 3 decoded wrong: %v", second)
	}
}

func TestRegistry_AllTypesRegistered(t *testing.T) {
	for _, st := range []config.SourceType{
		config.SourceAPI,
		config.SourceBulkFile,
		config.SourceDatasetRepo,
		config.SourceSDMX,
	} {
		if !IsRegistered(st) {
			t.Errorf("connector type %q not registered", st)
		}
		if GetFactory(st) == nil {
			t.Errorf("no factory for connector type %q", st)
		}
	}
	if len(RegisteredConnectors()) != 4 {
		t.Errorf("expected 4 registered connectors, got %d", len(RegisteredConnectors()))
	}
}
