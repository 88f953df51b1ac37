package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/ffmpeg"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/store"
)

type fakeComposeFFmpeg struct {
	concatErr      error
	transcodeErr   error
	muxFailUntilCRF int // MuxFinal fails for any crf < this value
	mixErr         error
}

func (f *fakeComposeFFmpeg) RenderKenBurnsClip(ctx context.Context, imagePath, outputPath string, effect ffmpeg.Effect, durationMs int, subtitlePath, aspectRatio, resolution string) error {
	return os.WriteFile(outputPath, []byte("kenburns-clip"), 0o644)
}

func (f *fakeComposeFFmpeg) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if f.concatErr != nil {
		return f.concatErr
	}
	return os.WriteFile(outputPath, []byte("concatenated"), 0o644)
}

func (f *fakeComposeFFmpeg) TranscodeToCommon(ctx context.Context, inputPath, outputPath, aspectRatio, resolution string) error {
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	return os.WriteFile(outputPath, []byte("transcoded"), 0o644)
}

func (f *fakeComposeFFmpeg) BuildSilentBed(ctx context.Context, durationS float64, outputPath string) error {
	return os.WriteFile(outputPath, []byte("silence"), 0o644)
}

func (f *fakeComposeFFmpeg) MixAudio(ctx context.Context, bedPath string, inputs []ffmpeg.AudioInput, outputPath string) error {
	if f.mixErr != nil {
		return f.mixErr
	}
	return os.WriteFile(outputPath, []byte(fmt.Sprintf("mixed-%d-inputs", len(inputs))), 0o644)
}

func (f *fakeComposeFFmpeg) MuxFinal(ctx context.Context, videoOnlyPath, audioMixPath, outputPath string, crf int) error {
	if crf < f.muxFailUntilCRF {
		return fmt.Errorf("encode failed at crf %d", crf)
	}
	return os.WriteFile(outputPath, []byte(fmt.Sprintf("final-crf%d", crf)), 0o644)
}

func (f *fakeComposeFFmpeg) BurnSubtitles(ctx context.Context, videoPath, assPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("captioned"), 0o644)
}

func newTestComposer(t *testing.T, fake *fakeComposeFFmpeg) *Composer {
	t.Helper()
	root := t.TempDir()
	artifacts, err := store.NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = artifacts.Close() })
	return &Composer{FFmpeg: fake, Artifacts: artifacts, TempDir: t.TempDir()}
}

func testScript() *models.Script {
	end1 := 2.0
	return &models.Script{
		Scenes: []models.Scene{
			{ID: 1, DurationSeconds: 3, VideoPath: "/tmp/scene1.mp4"},
			{ID: 2, DurationSeconds: 3, VideoPath: "/tmp/scene2.mp4"},
		},
		Lines: []models.ScriptLine{
			{Speaker: "narrator", Text: "hello", AudioPath: "/tmp/line1.mp3", TimeRange: models.TimeRange{StartS: 0, EndS: &end1}},
		},
	}
}

func TestComposerAssembleHappyPath(t *testing.T) {
	composer := newTestComposer(t, &fakeComposeFFmpeg{})
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}
	audio := AudioOutput{SFXPaths: map[int]string{1: "/tmp/sfx1.mp3"}, BGMPath: "/tmp/bgm.mp3"}

	result, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), audio)
	require.NoError(t, err)
	assert.FileExists(t, result.VideoOnlyPath)
	assert.FileExists(t, result.AudioMixPath)
	assert.FileExists(t, result.FinalPath)
}

func TestComposerAssembleFallsBackToTranscodeWhenConcatFails(t *testing.T) {
	// ConcatenateClips fails once (stream-copy mismatch), succeeds on the
	// retry after TranscodeToCommon runs.
	failing := &fakeComposeFFmpeg{concatErr: fmt.Errorf("stream copy mismatch")}
	composer := newTestComposer(t, failing)
	composer.FFmpeg = &sequencedFake{first: failing, second: &fakeComposeFFmpeg{}}
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}

	_, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), AudioOutput{})
	require.NoError(t, err)
}

// sequencedFake routes the first ConcatenateClips call to `first` (which
// fails) and every subsequent ffmpeg call to `second` (which succeeds),
// modeling the transcode-then-retry path without needing a stateful mock
// library.
type sequencedFake struct {
	first, second *fakeComposeFFmpeg
	concatCalls   int
}

func (s *sequencedFake) RenderKenBurnsClip(ctx context.Context, imagePath, outputPath string, effect ffmpeg.Effect, durationMs int, subtitlePath, aspectRatio, resolution string) error {
	return s.second.RenderKenBurnsClip(ctx, imagePath, outputPath, effect, durationMs, subtitlePath, aspectRatio, resolution)
}

func (s *sequencedFake) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	s.concatCalls++
	if s.concatCalls == 1 {
		return s.first.ConcatenateClips(ctx, clipPaths, outputPath)
	}
	return s.second.ConcatenateClips(ctx, clipPaths, outputPath)
}

func (s *sequencedFake) TranscodeToCommon(ctx context.Context, inputPath, outputPath, aspectRatio, resolution string) error {
	return s.second.TranscodeToCommon(ctx, inputPath, outputPath, aspectRatio, resolution)
}

func (s *sequencedFake) BuildSilentBed(ctx context.Context, durationS float64, outputPath string) error {
	return s.second.BuildSilentBed(ctx, durationS, outputPath)
}

func (s *sequencedFake) MixAudio(ctx context.Context, bedPath string, inputs []ffmpeg.AudioInput, outputPath string) error {
	return s.second.MixAudio(ctx, bedPath, inputs, outputPath)
}

func (s *sequencedFake) MuxFinal(ctx context.Context, videoOnlyPath, audioMixPath, outputPath string, crf int) error {
	return s.second.MuxFinal(ctx, videoOnlyPath, audioMixPath, outputPath, crf)
}

func (s *sequencedFake) BurnSubtitles(ctx context.Context, videoPath, assPath, outputPath string) error {
	return s.second.BurnSubtitles(ctx, videoPath, assPath, outputPath)
}

func TestComposerFinalMuxFallsBackThroughCRFChain(t *testing.T) {
	fake := &fakeComposeFFmpeg{muxFailUntilCRF: 28}
	composer := newTestComposer(t, fake)
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}

	result, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), AudioOutput{})
	require.NoError(t, err)
	data, readErr := os.ReadFile(result.FinalPath)
	require.NoError(t, readErr)
	assert.Equal(t, "final-crf28", string(data))
}

func TestComposerFinalMuxFailsWhenEveryCRFLevelFails(t *testing.T) {
	fake := &fakeComposeFFmpeg{muxFailUntilCRF: 999}
	composer := newTestComposer(t, fake)
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}

	_, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), AudioOutput{})
	assert.Error(t, err)
}

func TestComposerAssembleFallsBackToKenBurnsWhenSceneHasNoClip(t *testing.T) {
	composer := newTestComposer(t, &fakeComposeFFmpeg{})
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}
	script := &models.Script{
		Scenes: []models.Scene{{ID: 1, DurationSeconds: 3, ImagePath: "/tmp/scene1.jpg"}},
	}

	result, err := composer.Assemble(context.Background(), "proj-1", cfg, script, AudioOutput{})
	require.NoError(t, err)
	assert.FileExists(t, result.VideoOnlyPath)
}

func TestComposerBurnsCaptionsWhenEnabled(t *testing.T) {
	oldGenerate := generateASSSubtitles
	var generatedLines []models.ScriptLine
	generateASSSubtitles = func(lines []models.ScriptLine, outputPath string, width, height int) error {
		generatedLines = lines
		return os.WriteFile(outputPath, []byte("ass"), 0o644)
	}
	t.Cleanup(func() { generateASSSubtitles = oldGenerate })

	composer := newTestComposer(t, &fakeComposeFFmpeg{})
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p, BurnCaptions: true}

	result, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), AudioOutput{})
	require.NoError(t, err)
	assert.FileExists(t, result.VideoOnlyPath)
	assert.Len(t, generatedLines, 1)

	data, err := os.ReadFile(result.VideoOnlyPath)
	require.NoError(t, err)
	assert.Equal(t, "captioned", string(data))
}

func TestComposerFallsBackToUncaptionedOnBurnFailure(t *testing.T) {
	fake := &fakeComposeFFmpeg{}
	composer := newTestComposer(t, fake)
	composer.FFmpeg = &burnFailingFake{fakeComposeFFmpeg: fake}
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p, BurnCaptions: true}

	result, err := composer.Assemble(context.Background(), "proj-1", cfg, testScript(), AudioOutput{})
	require.NoError(t, err)
	data, err := os.ReadFile(result.VideoOnlyPath)
	require.NoError(t, err)
	assert.Equal(t, "concatenated", string(data))
}

type burnFailingFake struct {
	*fakeComposeFFmpeg
}

func (f *burnFailingFake) BurnSubtitles(ctx context.Context, videoPath, assPath, outputPath string) error {
	return fmt.Errorf("ffmpeg ass filter failed")
}

func TestComposerRemixSkipsVideoCheckpointAndReusesPath(t *testing.T) {
	composer := newTestComposer(t, &fakeComposeFFmpeg{})
	cfg := models.Config{AspectRatio: models.Aspect9x16, Resolution: models.Resolution1080p}

	result, err := composer.Remix(context.Background(), "proj-1", cfg, testScript(), AudioOutput{}, "/tmp/existing-video-only.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/existing-video-only.mp4", result.VideoOnlyPath)
}
