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

type fakeMotion struct {
	name         string
	submitErr    error
	pollStatus   providers.TaskStatus
	pollClip     []byte
	pollFailures int
}

func (f *fakeMotion) Name() string { return f.name }

func (f *fakeMotion) Submit(ctx context.Context, req providers.MotionRequest) (providers.TaskHandle, error) {
	if f.submitErr != nil {
		return providers.TaskHandle{}, f.submitErr
	}
	return providers.TaskHandle{Provider: f.name, ID: "task-1"}, nil
}

func (f *fakeMotion) Poll(ctx context.Context, handle providers.TaskHandle) (providers.PollResult, error) {
	switch f.pollStatus {
	case providers.TaskReady:
		return providers.PollResult{Status: providers.TaskReady, ClipBytes: f.pollClip}, nil
	case providers.TaskFailed:
		return providers.PollResult{Status: providers.TaskFailed, Reason: "rejected"}, nil
	default:
		return providers.PollResult{Status: providers.TaskPending}, nil
	}
}

func newTestMotionArtifacts(t *testing.T) *store.ArtifactStore {
	t.Helper()
	root := t.TempDir()
	as, err := store.NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = as.Close() })
	return as
}

func scriptWithImages(t *testing.T, artifacts *store.ArtifactStore, n int) *models.Script {
	t.Helper()
	script := &models.Script{}
	for i := 1; i <= n; i++ {
		artifact, err := artifacts.Put("proj-1", models.ArtifactImage, fmt.Sprintf("scene-%d.png", i), []byte(fmt.Sprintf("img-%d", i)))
		require.NoError(t, err)
		script.Scenes = append(script.Scenes, models.Scene{ID: i, DurationSeconds: 4, ImagePath: artifact.Path})
	}
	return script
}

func TestMotionStageFallsBackWhenPrimaryRejectsInput(t *testing.T) {
	artifacts := newTestMotionArtifacts(t)
	primary := &fakeMotion{name: "primary", submitErr: fmt.Errorf("invalid-input")}
	fallback := &fakeMotion{name: "fallback-1", pollStatus: providers.TaskReady, pollClip: []byte("clip")}

	stage := &MotionStage{
		Providers: []providers.Motion{primary, fallback},
		Artifacts: artifacts,
		Pool:      executor.New(3),
		Backoff:   executor.BackoffPolicy{Initial: 0, Multiplier: 1, Max: 0},
	}

	script := scriptWithImages(t, artifacts, 2)
	err := stage.Run(context.Background(), "proj-1", nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	require.NoError(t, err)
	for _, scene := range script.Scenes {
		assert.Equal(t, "fallback-1", scene.VideoProvider)
		assert.NotEmpty(t, scene.VideoPath)
	}
}

func TestMotionStageFailsAtOrAboveHalfSceneFailureThreshold(t *testing.T) {
	artifacts := newTestMotionArtifacts(t)
	allFail := &fakeMotion{name: "primary", submitErr: fmt.Errorf("permanent failure")}

	stage := &MotionStage{
		Providers: []providers.Motion{allFail},
		Artifacts: artifacts,
		Pool:      executor.New(3),
		Backoff:   executor.BackoffPolicy{Initial: 0, Multiplier: 1, Max: 0},
	}

	script := scriptWithImages(t, artifacts, 2)
	err := stage.Run(context.Background(), "proj-1", nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	assert.Error(t, err)
}

func TestMotionStageSucceedsBelowFailureThreshold(t *testing.T) {
	artifacts := newTestMotionArtifacts(t)
	ready := &fakeMotion{name: "primary", pollStatus: providers.TaskReady, pollClip: []byte("clip")}

	stage := &MotionStage{
		Providers: []providers.Motion{ready},
		Artifacts: artifacts,
		Pool:      executor.New(3),
		Backoff:   executor.BackoffPolicy{Initial: 0, Multiplier: 1, Max: 0},
	}

	script := scriptWithImages(t, artifacts, 3)
	// Simulate scene 1 missing its accepted image (1 of 3 failing, below 50%).
	script.Scenes[0].ImagePath = ""
	err := stage.Run(context.Background(), "proj-1", nil, models.Config{AspectRatio: models.Aspect9x16}, script)
	require.NoError(t, err)
	assert.NotEmpty(t, script.Scenes[0].VideoWarning)
	assert.NotEmpty(t, script.Scenes[1].VideoPath)
	assert.NotEmpty(t, script.Scenes[2].VideoPath)
}
