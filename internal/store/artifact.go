// Package store implements the on-disk Artifact Store, the Redis-backed
// Critique Cache, and ProjectState persistence.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcframe/reelforge/internal/models"
)

// artifactDirs maps each ArtifactKind to its on-disk subdirectory name.
var artifactDirs = map[models.ArtifactKind]string{
	models.ArtifactImage: "images",
	models.ArtifactAudio: "audio",
	models.ArtifactClip:  "clips",
	models.ArtifactFrame: "frames",
	models.ArtifactFinal: "output",
}

// ArtifactStore persists generated media to projects/{id}/<kind>/ with a
// fingerprint index from key to stored path. Put keys an artifact by a
// hash of its kind, project and bytes, known only after generation;
// PutKeyed keys it by a caller-built request key, which the Audio Stage
// looks up before calling a provider. Image and clip requests are not
// looked up before generation, so a repeated request reaches the
// provider again. Grounded on a Supabase-backed storage client's approach to the
// atomic-write idiom, and on the ManuGH-xg2g pack repo for using
// dgraph-io/badger/v4 as an embedded index instead of a relational table.
type ArtifactStore struct {
	root string
	db   *badger.DB
}

// NewArtifactStore opens (or creates) the badger index at badgerDir and
// returns a store rooted at projectsRoot. Callers must call Close when
// done.
func NewArtifactStore(projectsRoot, badgerDir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(projectsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	if err := os.MkdirAll(badgerDir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	opts := badger.DefaultOptions(badgerDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}
	return &ArtifactStore{root: projectsRoot, db: db}, nil
}

func (s *ArtifactStore) Close() error {
	return s.db.Close()
}

// Fingerprint derives the content-addressing key for a generated artifact:
// sha256 over the kind, project id, and the bytes themselves, so identical
// bytes for the same project/kind dedupe even if produced by different
// scenes.
func Fingerprint(kind models.ArtifactKind, projectID string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte(projectID))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *ArtifactStore) projectDir(projectID string, kind models.ArtifactKind) string {
	return filepath.Join(s.root, projectID, artifactDirs[kind])
}

// ResolveAssetPath confines a caller-supplied path (the tail of GET
// /assets/{path}) to the store's project root, rejecting anything that
// would resolve outside it through "../" segments or an absolute path
// pointing elsewhere on disk.
func (s *ArtifactStore) ResolveAssetPath(path string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	full := filepath.Join(s.root, clean)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("asset path %q escapes the artifact store root", path)
	}
	return full, nil
}

// Lookup returns the on-disk path for a previously stored fingerprint, or
// ("", false) on a cache miss.
func (s *ArtifactStore) Lookup(fingerprint string) (string, bool) {
	var path string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			path = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return path, true
}

// Put writes data atomically (temp file + rename, the same approach a
// storage-upload client would use) under projects/{id}/<kind>/<filename>,
// records its content fingerprint in the index, and returns the resulting
// Artifact.
func (s *ArtifactStore) Put(projectID string, kind models.ArtifactKind, filename string, data []byte) (models.Artifact, error) {
	return s.putIndexed(projectID, kind, filename, Fingerprint(kind, projectID, data), data)
}

// PutKeyed is like Put but indexes the artifact under an explicit
// request-level key instead of a content hash — used by the Audio Stage,
// where the cache key must be derivable before generation happens, not
// after.
func (s *ArtifactStore) PutKeyed(projectID string, kind models.ArtifactKind, filename, key string, data []byte) (models.Artifact, error) {
	return s.putIndexed(projectID, kind, filename, key, data)
}

func (s *ArtifactStore) putIndexed(projectID string, kind models.ArtifactKind, filename, indexKey string, data []byte) (models.Artifact, error) {
	dir := s.projectDir(projectID, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	finalPath := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return models.Artifact{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return models.Artifact{}, fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return models.Artifact{}, fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return models.Artifact{}, fmt.Errorf("rename artifact into place: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(indexKey), []byte(finalPath))
	}); err != nil {
		return models.Artifact{}, fmt.Errorf("index artifact fingerprint: %w", err)
	}

	return models.Artifact{Kind: kind, Path: finalPath, Fingerprint: indexKey, CreatedAt: time.Now()}, nil
}

// RequestFingerprint hashes an ordered set of request-level attributes
// (prompt, voice, duration, ...) into a cache key, for providers whose
// output isn't known until after generation completes.
func RequestFingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PurgeIntermediates removes every non-final artifact directory for a
// project (images/, audio/, clips/, frames/), keeping output/. Nothing in
// the pipeline calls it; a completed project's intermediates stay on disk
// until it is called.
func (s *ArtifactStore) PurgeIntermediates(ctx context.Context, projectID string) error {
	for kind, dir := range artifactDirs {
		if kind == models.ArtifactFinal {
			continue
		}
		full := filepath.Join(s.root, projectID, dir)
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("purge %s: %w", dir, err)
		}
	}
	return nil
}
