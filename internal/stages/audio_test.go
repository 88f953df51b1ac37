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

type fakeTTS struct {
	failText string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voiceID string, durationTargetMs int) (*providers.TTSResponse, error) {
	if text == f.failText {
		return nil, fmt.Errorf("tts provider unavailable")
	}
	return &providers.TTSResponse{AudioData: []byte("audio:" + text), Format: "mp3"}, nil
}

type fakeSFX struct {
	fail bool
}

func (f *fakeSFX) Synthesize(ctx context.Context, prompt string, durationTargetS float64) ([]byte, error) {
	if f.fail {
		return nil, fmt.Errorf("sfx provider unavailable")
	}
	return []byte("sfx:" + prompt), nil
}

func newTestAudioArtifacts(t *testing.T) *store.ArtifactStore {
	t.Helper()
	root := t.TempDir()
	as, err := store.NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = as.Close() })
	return as
}

func TestAudioStageResolvesVoicePrecedence(t *testing.T) {
	artifacts := newTestAudioArtifacts(t)
	stage := &AudioStage{
		TTS: &fakeTTS{}, SFX: &fakeSFX{}, Artifacts: artifacts, Pool: executor.New(3), DefaultVoiceID: "default-voice",
	}
	script := &models.Script{Lines: []models.ScriptLine{
		{Speaker: "narrator", Text: "explicit wins", VoiceID: "explicit-voice"},
		{Speaker: "narrator", Text: "map wins"},
	}}
	cfg := models.Config{VoiceMap: map[string]string{"narrator": "mapped-voice"}}

	var warnings []string
	_, err := stage.Run(context.Background(), "proj-1", cfg, script, func(w string) { warnings = append(warnings, w) })
	require.NoError(t, err)
	assert.NotEmpty(t, script.Lines[0].AudioPath)
	assert.NotEmpty(t, script.Lines[1].AudioPath)
	assert.Empty(t, warnings)
	assert.Equal(t, "explicit-voice", resolveVoiceID(script.Lines[0], cfg, stage.DefaultVoiceID))
	assert.Equal(t, "mapped-voice", resolveVoiceID(script.Lines[1], cfg, stage.DefaultVoiceID))
}

func TestAudioStageFailsStageOnVOFailure(t *testing.T) {
	artifacts := newTestAudioArtifacts(t)
	stage := &AudioStage{
		TTS: &fakeTTS{failText: "doomed line"}, SFX: &fakeSFX{}, Artifacts: artifacts, Pool: executor.New(3),
	}
	script := &models.Script{Lines: []models.ScriptLine{{Speaker: "a", Text: "doomed line"}}}

	_, err := stage.Run(context.Background(), "proj-1", models.Config{}, script, func(string) {})
	assert.Error(t, err)
}

func TestAudioStageDowngradesSFXFailureToWarning(t *testing.T) {
	artifacts := newTestAudioArtifacts(t)
	stage := &AudioStage{
		TTS: &fakeTTS{}, SFX: &fakeSFX{fail: true}, Artifacts: artifacts, Pool: executor.New(3),
	}
	script := &models.Script{
		Scenes: []models.Scene{{ID: 1, DurationSeconds: 4, AudioPrompt: "whoosh"}},
		Lines:  []models.ScriptLine{{Speaker: "a", Text: "hello"}},
	}
	cfg := models.Config{IncludeSFX: true}

	var warnings []string
	out, err := stage.Run(context.Background(), "proj-1", cfg, script, func(w string) { warnings = append(warnings, w) })
	require.NoError(t, err)
	assert.NotEmpty(t, script.Lines[0].AudioPath)
	assert.Empty(t, out.SFXPaths)
	assert.Len(t, warnings, 1)
}
