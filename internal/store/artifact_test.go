package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/models"
)

func newTestArtifactStore(t *testing.T) *ArtifactStore {
	t.Helper()
	root := t.TempDir()
	s, err := NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestArtifactStorePutThenLookup(t *testing.T) {
	s := newTestArtifactStore(t)

	data := []byte("fake png bytes")
	artifact, err := s.Put("proj-1", models.ArtifactImage, "scene-1.png", data)
	require.NoError(t, err)
	assert.FileExists(t, artifact.Path)
	assert.Equal(t, filepath.Join("proj-1", "images", "scene-1.png"), mustRel(t, s.root, artifact.Path))

	path, ok := s.Lookup(artifact.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, artifact.Path, path)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestArtifactStoreLookupMiss(t *testing.T) {
	s := newTestArtifactStore(t)
	_, ok := s.Lookup("no-such-fingerprint")
	assert.False(t, ok)
}

func TestArtifactStorePurgeIntermediatesKeepsOutput(t *testing.T) {
	s := newTestArtifactStore(t)

	_, err := s.Put("proj-1", models.ArtifactImage, "a.png", []byte("img"))
	require.NoError(t, err)
	_, err = s.Put("proj-1", models.ArtifactFinal, "final.mp4", []byte("video"))
	require.NoError(t, err)

	require.NoError(t, s.PurgeIntermediates(context.Background(), "proj-1"))

	assert.NoDirExists(t, filepath.Join(s.root, "proj-1", "images"))
	assert.FileExists(t, filepath.Join(s.root, "proj-1", "output", "final.mp4"))
}

func mustRel(t *testing.T, root, path string) string {
	t.Helper()
	rel, err := filepath.Rel(root, path)
	require.NoError(t, err)
	return rel
}
