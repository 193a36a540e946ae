package artifacts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Manifest records the content hash of every finished artifact of a circuit.
// It has no timestamps so that rebuilding identical artifacts leaves it
// byte-identical.
type Manifest struct {
	Circuit   string          `json:"circuit"`
	PotSize   int             `json:"pot_size"`
	Artifacts []ManifestEntry `json:"artifacts"`
}

// ManifestEntry is one hashed artifact.
type ManifestEntry struct {
	Kind   string `json:"kind"`
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Entry returns the entry of the given kind.
func (m *Manifest) Entry(kind string) (ManifestEntry, bool) {
	for _, e := range m.Artifacts {
		if e.Kind == kind {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// BuildManifest hashes the artifacts of p that exist on disk.
func BuildManifest(p Paths, potSize int) (*Manifest, error) {
	m := &Manifest{Circuit: p.Circuit.Name, PotSize: potSize}
	for _, kind := range Kinds() {
		path, _ := p.Artifact(kind)
		if !Exists(path) {
			continue
		}
		sum, size, err := FileHash(path)
		if err != nil {
			return nil, err
		}
		m.Artifacts = append(m.Artifacts, ManifestEntry{
			Kind:   kind,
			File:   filepath.Base(path),
			SHA256: sum,
			Size:   size,
		})
	}
	return m, nil
}

// WriteManifest stores m at path unless the file already holds the same
// content. It reports whether the file was written.
func WriteManifest(path string, m *Manifest) (bool, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := WriteFile(path, data); err != nil {
		return false, err
	}
	return true, nil
}

// ReadManifest loads a manifest from disk.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// FileHash returns the hex sha256 and size of a file.
func FileHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
