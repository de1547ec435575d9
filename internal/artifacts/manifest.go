package artifacts

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Manifest describes one run: what went in, what came out, and when.
type Manifest struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	PolicyPath string            `json:"policy_path,omitempty"`
	Inputs     []InputDigest     `json:"inputs"`
	Counts     map[string]int    `json:"counts"`
	Outputs    []string          `json:"outputs"`
	Notes      map[string]string `json:"notes,omitempty"`
}

// InputDigest fingerprints one input file.
type InputDigest struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// NewManifest starts a manifest for a fresh run.
func NewManifest(started time.Time) *Manifest {
	return &Manifest{
		RunID:     uuid.New().String(),
		StartedAt: started,
		Counts:    make(map[string]int),
	}
}

// AddInput hashes one input file into the manifest.
func (m *Manifest) AddInput(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("hash input %s: %w", path, err)
	}
	m.Inputs = append(m.Inputs, InputDigest{
		Path:   path,
		SHA256: fmt.Sprintf("%x", h.Sum(nil)),
		Bytes:  n,
	})
	sort.Slice(m.Inputs, func(i, j int) bool { return m.Inputs[i].Path < m.Inputs[j].Path })
	return nil
}

// SetCount records an output count under a stable key.
func (m *Manifest) SetCount(key string, n int) { m.Counts[key] = n }

// WriteManifest finalizes and writes manifest.json atomically.
func (w *Writer) WriteManifest(m *Manifest, finished time.Time) error {
	m.FinishedAt = finished
	m.Outputs = []string{CanonicalFile, TimelineFile, ActionsFile}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(w.dir, ManifestFile)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}

	w.log.Info().Str("run_id", m.RunID).Int("inputs", len(m.Inputs)).Msg("manifest written")
	return nil
}
