package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/preventera/safetygraph/pkg/models"
)

func TestBronzeStore_Write(t *testing.T) {
	dataDir := t.TempDir()
	store := NewBronzeStore(dataDir, nil)

	fetched := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	ds := &models.RawDataset{
		SourceKey: "osha_severe_injuries",
		FetchedAt: fetched,
		Columns:   []string{"id", "event_date"},
		Rows: []map[string]string{
			{"id": "A-1", "event_date": "2026-03-01"},
			{"id": "A-2", "event_date": "2026-03-02"},
		},
	}

	path, err := store.Write(ds)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if !strings.Contains(path, "bronze/osha_severe_injuries/bronze_20260315T093000.jsonl") {
		t.Errorf("unexpected bronze path %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening bronze file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("bronze line %d is not valid json: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 jsonl lines, got %d", lines)
	}

	metaBytes, err := os.ReadFile(strings.TrimSuffix(path, ".jsonl") + ".meta.json")
	if err != nil {
		t.Fatalf("reading provenance sidecar: %v", err)
	}
	var meta provenance
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		t.Fatalf("parsing provenance: %v", err)
	}
	if meta.SourceKey != "osha_severe_injuries" || meta.Rows != 2 {
		t.Errorf("unexpected provenance: %+v", meta)
	}
	if !meta.FetchedAt.Equal(fetched) {
		t.Errorf("expected fetched_at %v, got %v", fetched, meta.FetchedAt)
	}
	if meta.SHA256 == "" {
		t.Error("expected content checksum in provenance")
	}
}

func TestBronzeStore_EmptyDataset(t *testing.T) {
	store := NewBronzeStore(t.TempDir(), nil)
	ds := &models.RawDataset{
		SourceKey: "eurostat_esaw",
		FetchedAt: time.Now().UTC(),
	}
	path, err := store.Write(ds)
	if err != nil {
		t.Fatalf("Write() failed for empty dataset: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat bronze file: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty jsonl, got %d bytes", info.Size())
	}
}
