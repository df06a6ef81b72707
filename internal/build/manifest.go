package build

import (
	"encoding/json"
	"os"
	"path/filepath"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

// ManifestEntry records the current artifact for one logical entry.
type ManifestEntry struct {
	ArtifactPath string `json:"artifactPath"`
	Hash         string `json:"hash"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// Manifest maps logical entry names to artifacts. A manifest value is an
// immutable snapshot: consumers only ever observe a fully-published one,
// never a partially-updated state.
type Manifest struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// Lookup returns the entry for a logical name.
func (m *Manifest) Lookup(entry string) (ManifestEntry, bool) {
	e, ok := m.Entries[entry]
	return e, ok
}

// ByArtifactPath finds the entry serving the given artifact path.
func (m *Manifest) ByArtifactPath(path string) (string, ManifestEntry, bool) {
	for name, e := range m.Entries {
		if e.ArtifactPath == path {
			return name, e, true
		}
	}
	return "", ManifestEntry{}, false
}

// clone returns a copy safe to mutate before the next atomic publish.
func (m *Manifest) clone() *Manifest {
	out := &Manifest{Entries: make(map[string]ManifestEntry, len(m.Entries))}
	for k, v := range m.Entries {
		out.Entries[k] = v
	}
	return out
}

const manifestFile = "manifest.json"

// Save writes the manifest into the output directory. Used by production
// builds; the dev server keeps its manifest in memory.
func (m *Manifest) Save(outputDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return tavoerrors.NewInternalError("marshaling manifest", err)
	}
	path := filepath.Join(outputDir, manifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return tavoerrors.NewIOError("writing manifest", err)
	}
	return nil
}

// LoadManifest reads a previously saved manifest from the output directory.
// The production server trusts it instead of building on demand.
func LoadManifest(outputDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, manifestFile))
	if err != nil {
		return nil, tavoerrors.NewIOError("reading manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, tavoerrors.NewConfigError("manifest file is corrupt", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]ManifestEntry)
	}
	return &m, nil
}
