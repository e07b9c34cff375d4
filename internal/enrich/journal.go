package enrich

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// Result pairs an indicator with its assembled enrichment bundle.
type Result struct {
	Indicator model.Indicator `json:"indicator"`
	Bundle    model.Bundle    `json:"enrichment"`
	Cached    bool            `json:"cached,omitempty"`
}

// Journal is an append-only JSONL log of enrichment results. Each
// batch flush appends one line per result and fsyncs, so a crash
// mid-run loses at most the current in-flight batch.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenJournal opens (or creates) the journal at path, creating parent
// directories as needed.
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{file: file, enc: json.NewEncoder(file)}, nil
}

// Append writes one JSON line per result and syncs to disk.
func (j *Journal) Append(results []Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range results {
		if err := j.enc.Encode(r); err != nil {
			return fmt.Errorf("writing journal entry for %s: %w", r.Indicator.Key(), err)
		}
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
