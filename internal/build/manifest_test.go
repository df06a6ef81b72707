package build

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Entries: map[string]ManifestEntry{
		"home": {ArtifactPath: "dist/home.abc123.js", Hash: "abc123", SizeBytes: 512},
	}}

	require.NoError(t, m.Save(dir))

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m.Entries, loaded.Entries)
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nowhere"))
	require.Error(t, err)
}

func TestByArtifactPath(t *testing.T) {
	m := &Manifest{Entries: map[string]ManifestEntry{
		"home": {ArtifactPath: "dist/home.abc123.js", Hash: "abc123"},
	}}

	name, e, ok := m.ByArtifactPath("dist/home.abc123.js")
	require.True(t, ok)
	assert.Equal(t, "home", name)
	assert.Equal(t, "abc123", e.Hash)

	_, _, ok = m.ByArtifactPath("dist/stale.js")
	assert.False(t, ok)
}

func TestCloneIsolation(t *testing.T) {
	m := &Manifest{Entries: map[string]ManifestEntry{
		"home": {Hash: "v1"},
	}}

	next := m.clone()
	next.Entries["home"] = ManifestEntry{Hash: "v2"}

	assert.Equal(t, "v1", m.Entries["home"].Hash)
	assert.Equal(t, "v2", next.Entries["home"].Hash)
}
