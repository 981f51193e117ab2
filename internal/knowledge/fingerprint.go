package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fingerprint records one successful ingestion of a source so repeated
// loads can be skipped. It also records which embedder produced the
// vectors, so a degraded (fallback) load is never mistaken for a primary
// one when deciding whether to re-ingest.
type Fingerprint struct {
	Digest       string    `json:"digest"`
	ChunksLoaded int       `json:"chunks_loaded"`
	Embedder     string    `json:"embedder"`
	Degraded     bool      `json:"degraded"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// FingerprintStore persists fingerprints keyed by source URL in a single
// JSON file next to the index.
type FingerprintStore struct {
	mu      sync.Mutex
	path    string
	records map[string]Fingerprint
}

// OpenFingerprintStore loads (or starts) the fingerprint file at path.
func OpenFingerprintStore(path string) (*FingerprintStore, error) {
	s := &FingerprintStore{
		path:    path,
		records: make(map[string]Fingerprint),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fingerprint directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint file: %w", err)
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse fingerprint file %s: %w", path, err)
	}
	return s, nil
}

// Get returns the fingerprint for a source URL, if any.
func (s *FingerprintStore) Get(sourceURL string) (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.records[sourceURL]
	return fp, ok
}

// Put records a fingerprint and persists the file.
func (s *FingerprintStore) Put(sourceURL string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sourceURL] = fp
	return s.save()
}

// Clear drops every fingerprint; used when the index is recreated.
func (s *FingerprintStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Fingerprint)
	return s.save()
}

// save writes the file atomically. Callers hold the lock.
func (s *FingerprintStore) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fingerprints: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fingerprint file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace fingerprint file: %w", err)
	}
	return nil
}

// ContentDigest hashes fetched source text for fingerprint comparison.
func ContentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
