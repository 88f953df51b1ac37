package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/executor"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/providers"
	"github.com/arcframe/reelforge/internal/store"
)

type fakeImage struct {
	byteFor func(req providers.ImageRequest) ([]byte, error)
	calls   int
}

func (f *fakeImage) Generate(ctx context.Context, req providers.ImageRequest) ([]byte, error) {
	f.calls++
	return f.byteFor(req)
}

type fakeCritic struct {
	scoreFor func(image []byte) int
}

func (f *fakeCritic) Critique(ctx context.Context, image []byte, briefContext string) (*models.CritiqueVerdict, error) {
	score := f.scoreFor(image)
	return &models.CritiqueVerdict{Score: score, Rationale: "needs more contrast", Accept: score >= 7}, nil
}

type fakeCritiqueCache struct {
	entries map[string]models.CritiqueVerdict
}

func newFakeCritiqueCache() *fakeCritiqueCache {
	return &fakeCritiqueCache{entries: map[string]models.CritiqueVerdict{}}
}

func (f *fakeCritiqueCache) Get(ctx context.Context, fingerprint string) (*models.CritiqueVerdict, error) {
	v, ok := f.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeCritiqueCache) Set(ctx context.Context, fingerprint string, verdict models.CritiqueVerdict) error {
	f.entries[fingerprint] = verdict
	return nil
}

func newTestArtifacts(t *testing.T) *store.ArtifactStore {
	t.Helper()
	root := t.TempDir()
	as, err := store.NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = as.Close() })
	return as
}

func TestImageStageAcceptsFirstCandidateAboveThreshold(t *testing.T) {
	artifacts := newTestArtifacts(t)
	img := &fakeImage{byteFor: func(req providers.ImageRequest) ([]byte, error) { return []byte("candidate"), nil }}
	critic := &fakeCritic{scoreFor: func([]byte) int { return 9 }}

	stage := &ImageStage{
		Image:     img,
		Critic:    critic,
		Artifacts: artifacts,
		Critiques: newFakeCritiqueCache(),
		Pool:      executor.New(3),
	}

	script := &models.Script{Scenes: []models.Scene{
		{ID: 1, VisualPrompt: "a cat on stage", DurationSeconds: 4},
	}}
	err := stage.Run(context.Background(), "proj-1", 7, nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	require.NoError(t, err)
	assert.NotEmpty(t, script.Scenes[0].ImagePath)
	assert.Equal(t, 9, script.Scenes[0].ImageScore)
	assert.Empty(t, script.Scenes[0].ImageWarning)
	assert.Equal(t, 1, img.calls)
}

func TestImageStageRetriesThenWarnsOnExhaustion(t *testing.T) {
	artifacts := newTestArtifacts(t)
	img := &fakeImage{byteFor: func(req providers.ImageRequest) ([]byte, error) { return []byte(req.Prompt), nil }}
	critic := &fakeCritic{scoreFor: func([]byte) int { return 5 }}

	stage := &ImageStage{
		Image:     img,
		Critic:    critic,
		Artifacts: artifacts,
		Critiques: newFakeCritiqueCache(),
		Pool:      executor.New(3),
	}

	script := &models.Script{Scenes: []models.Scene{
		{ID: 1, VisualPrompt: "a cat on stage", DurationSeconds: 4},
	}}
	err := stage.Run(context.Background(), "proj-1", 7, nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	require.NoError(t, err)
	assert.NotEmpty(t, script.Scenes[0].ImagePath, "best-effort candidate should still be persisted")
	assert.NotEmpty(t, script.Scenes[0].ImageWarning)
	assert.Equal(t, maxImageRetries+1, img.calls)
}

func TestImageStageFailsWhenNoSceneProducesAnyCandidate(t *testing.T) {
	artifacts := newTestArtifacts(t)
	img := &fakeImage{byteFor: func(req providers.ImageRequest) ([]byte, error) {
		return nil, fmt.Errorf("provider unavailable")
	}}
	critic := &fakeCritic{scoreFor: func([]byte) int { return 9 }}

	stage := &ImageStage{
		Image:     img,
		Critic:    critic,
		Artifacts: artifacts,
		Critiques: newFakeCritiqueCache(),
		Pool:      executor.New(3),
	}
	script := &models.Script{Scenes: []models.Scene{{ID: 1, VisualPrompt: "x", DurationSeconds: 4}}}
	err := stage.Run(context.Background(), "proj-1", 7, nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	assert.Error(t, err)
}

func TestImageStageMiddleSceneAcceptsLowerThreshold(t *testing.T) {
	artifacts := newTestArtifacts(t)
	img := &fakeImage{byteFor: func(req providers.ImageRequest) ([]byte, error) { return []byte("candidate"), nil }}
	critic := &fakeCritic{scoreFor: func([]byte) int { return 7 }}

	stage := &ImageStage{
		Image:     img,
		Critic:    critic,
		Artifacts: artifacts,
		Critiques: newFakeCritiqueCache(),
		Pool:      executor.New(3),
	}
	script := &models.Script{Scenes: []models.Scene{
		{ID: 1, VisualPrompt: "a", DurationSeconds: 4},
		{ID: 2, VisualPrompt: "b", DurationSeconds: 4},
		{ID: 3, VisualPrompt: "c", DurationSeconds: 4},
	}}
	err := stage.Run(context.Background(), "proj-1", 7, nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	require.NoError(t, err)
	assert.Empty(t, script.Scenes[1].ImageWarning, "middle scene should accept score 7")
}
