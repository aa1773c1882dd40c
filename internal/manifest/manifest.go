// Package manifest records what a build consumed and produced in output/build-manifest.json.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rsjsoftware/rsjbuild/internal/stage"
)

// FileName is the manifest written into the output directory.
const FileName = "build-manifest.json"

// Build status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// BuildManifest represents a complete record of a build's inputs and outputs.
type BuildManifest struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Platform  string    `json:"platform"`
	Inputs    Inputs    `json:"inputs"`
	// Executables lists every compiled target in configuration order.
	Executables []Executable      `json:"executables"`
	Stages      []StageTiming     `json:"stages"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	Status      string            `json:"status"`
	Duration    int64             `json:"duration_ms"`
}

// Inputs captures what determines the build.
type Inputs struct {
	ConfigHash string   `json:"config_hash"`
	Flags      []string `json:"flags,omitempty"`
}

// Executable is one compiled target.
type Executable struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	SHA256  string   `json:"sha256,omitempty"`
	Dirty   []string `json:"dirty,omitempty"`
	Reused  int      `json:"reused_objects"`
	Objects int      `json:"objects"`
}

// StageTiming mirrors stage.Timing with millisecond durations.
type StageTiming struct {
	Name     string `json:"name"`
	Result   string `json:"result"`
	Duration int64  `json:"duration_ms"`
}

// New starts a manifest with a fresh build ID.
func New(version, commit, platform string) *BuildManifest {
	return &BuildManifest{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Version:   version,
		Commit:    commit,
		Platform:  platform,
		Artifacts: map[string]string{},
	}
}

// AddStages appends the timings of a stage report.
func (m *BuildManifest) AddStages(r *stage.Report) {
	if r == nil {
		return
	}
	for _, t := range r.Stages {
		m.Stages = append(m.Stages, StageTiming{
			Name:     string(t.Stage),
			Result:   string(t.Result),
			Duration: t.Duration.Milliseconds(),
		})
	}
}

// AddArtifact records the SHA-256 of the file at path under name.
func (m *BuildManifest) AddArtifact(name, path string) error {
	sum, err := FileSHA256(path)
	if err != nil {
		return err
	}
	if m.Artifacts == nil {
		m.Artifacts = map[string]string{}
	}
	m.Artifacts[name] = sum
	return nil
}

// Finish sets status and total duration.
func (m *BuildManifest) Finish(err error, elapsed time.Duration) {
	m.Status = StatusSuccess
	if err != nil {
		m.Status = StatusFailed
	}
	m.Duration = elapsed.Milliseconds()
}

// ToJSON serializes the manifest to JSON.
func (m *BuildManifest) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// FromJSON deserializes a manifest from JSON.
func FromJSON(data []byte) (*BuildManifest, error) {
	var m BuildManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Write stores the manifest as dir/build-manifest.json, replacing any previous one.
func (m *BuildManifest) Write(dir string) (string, error) {
	data, err := m.ToJSON()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// Hash computes a deterministic hash of the inputs, version and commit. Two builds with the
// same hash were made from the same sources and configuration.
func (m *BuildManifest) Hash() (string, error) {
	hashInput := struct {
		Inputs   Inputs `json:"inputs"`
		Version  string `json:"version"`
		Commit   string `json:"commit"`
		Platform string `json:"platform"`
	}{m.Inputs, m.Version, m.Commit, m.Platform}

	data, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	// #nosec G304 -- build artifacts
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
