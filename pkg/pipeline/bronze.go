package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/models"
)

// BronzeStore persists raw datasets exactly as fetched, one JSONL file
// per batch with a provenance sidecar. Bronze files are append-only
// history; nothing in the engine deletes them.
type BronzeStore struct {
	dataDir string
	logger  *zap.Logger
}

// NewBronzeStore creates a bronze store rooted at dataDir.
func NewBronzeStore(dataDir string, logger *zap.Logger) *BronzeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BronzeStore{dataDir: dataDir, logger: logger}
}

// provenance is the sidecar written next to each bronze batch.
type provenance struct {
	SourceKey string    `json:"source_key"`
	FetchedAt time.Time `json:"fetched_at"`
	WrittenAt time.Time `json:"written_at"`
	Rows      int       `json:"rows"`
	Columns   []string  `json:"columns"`
	SHA256    string    `json:"sha256"`
}

// Write persists a raw dataset and returns the JSONL path. Each row
// becomes one JSON line keyed by the source's own column names.
func (s *BronzeStore) Write(ds *models.RawDataset) (string, error) {
	dir := filepath.Join(s.dataDir, "bronze", ds.SourceKey)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating bronze dir: %w", err)
	}

	stamp := ds.FetchedAt.UTC().Format("20060102T150405")
	path := filepath.Join(dir, fmt.Sprintf("bronze_%s.jsonl", stamp))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating bronze file: %w", err)
	}

	hash := sha256.New()
	enc := json.NewEncoder(f)
	for _, row := range ds.Rows {
		line, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return "", fmt.Errorf("encoding bronze row: %w", err)
		}
		hash.Write(line)
		if err := enc.Encode(row); err != nil {
			f.Close()
			return "", fmt.Errorf("writing bronze row: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing bronze file: %w", err)
	}

	meta := provenance{
		SourceKey: ds.SourceKey,
		FetchedAt: ds.FetchedAt,
		WrittenAt: time.Now().UTC(),
		Rows:      ds.Len(),
		Columns:   ds.Columns,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding provenance: %w", err)
	}
	metaPath := path[:len(path)-len(".jsonl")] + ".meta.json"
	if err := os.WriteFile(metaPath, metaBytes, 0644); err != nil {
		return "", fmt.Errorf("writing provenance: %w", err)
	}

	s.logger.Info("bronze batch written",
		zap.String("source", ds.SourceKey),
		zap.String("path", path),
		zap.Int("rows", ds.Len()))
	return path, nil
}
