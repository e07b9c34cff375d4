package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

func writeInput(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	return path
}

func TestLoadCandidates(t *testing.T) {
	path := writeInput(t, `[
		{"type": "ip", "value": "203.0.113.7", "source": "urlhaus"},
		{"type": "domain", "value": "evil.example.com"}
	]`)

	candidates, err := loadCandidates(path, zap.NewNop())
	if err != nil {
		t.Fatalf("loadCandidates() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Type != model.IndicatorTypeIP || candidates[0].Value != "203.0.113.7" {
		t.Errorf("unexpected first candidate: %+v", candidates[0])
	}
}

func TestLoadCandidatesSkipsMalformed(t *testing.T) {
	path := writeInput(t, `[
		{"type": "ip", "value": "203.0.113.7"},
		{"type": "", "value": "orphan.example.com"},
		{"type": "domain", "value": ""},
		{"type": "domain", "value": "   "},
		{"value": "198.51.100.9"},
		{"type": "domain", "value": "kept.example.com"}
	]`)

	candidates, err := loadCandidates(path, zap.NewNop())
	if err != nil {
		t.Fatalf("loadCandidates() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected malformed records dropped, got %d candidates", len(candidates))
	}
	if candidates[0].Value != "203.0.113.7" || candidates[1].Value != "kept.example.com" {
		t.Errorf("wrong survivors: %+v", candidates)
	}
}

func TestLoadCandidatesBadJSON(t *testing.T) {
	path := writeInput(t, `{"not": "a list"}`)
	if _, err := loadCandidates(path, zap.NewNop()); err == nil {
		t.Error("expected error for non-array input")
	}
}

func TestLoadCandidatesMissingFile(t *testing.T) {
	if _, err := loadCandidates(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop()); err == nil {
		t.Error("expected error for missing file")
	}
}
