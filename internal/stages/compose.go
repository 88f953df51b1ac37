package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcframe/reelforge/internal/ffmpeg"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/store"
)

// crfChain is the adaptive-quality encode ladder: try 18,
// fall back to 23, then 28; fatal if 28 also fails.
var crfChain = []int{18, 23, 28}

const bgmDuckDb = -12.0

// composeFFmpeg narrows *ffmpeg.Service to the methods the Composer needs,
// the same seam used for the Critique Cache, so tests can substitute a fake
// instead of shelling out to a real ffmpeg binary.
type composeFFmpeg interface {
	RenderKenBurnsClip(ctx context.Context, imagePath, outputPath string, effect ffmpeg.Effect, durationMs int, subtitlePath, aspectRatio, resolution string) error
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	TranscodeToCommon(ctx context.Context, inputPath, outputPath, aspectRatio, resolution string) error
	BuildSilentBed(ctx context.Context, durationS float64, outputPath string) error
	MixAudio(ctx context.Context, bedPath string, inputs []ffmpeg.AudioInput, outputPath string) error
	MuxFinal(ctx context.Context, videoOnlyPath, audioMixPath, outputPath string, crf int) error
	BurnSubtitles(ctx context.Context, videoPath, assPath, outputPath string) error
}

// generateASSSubtitles is a package variable so tests can stub out caption
// generation without touching disk in ways unrelated to the assertion.
var generateASSSubtitles = ffmpeg.GenerateASSSubtitles

// Composer assembles clips and audio into the final container through
// three durable checkpoints.
type Composer struct {
	FFmpeg    composeFFmpeg
	Artifacts *store.ArtifactStore
	TempDir   string
}

// ComposeResult carries the three checkpoint paths.
type ComposeResult struct {
	VideoOnlyPath string
	AudioMixPath  string
	FinalPath     string
}

// Assemble runs all three checkpoints for a fresh (non-remix) project.
func (c *Composer) Assemble(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio AudioOutput) (*ComposeResult, error) {
	videoOnlyPath, err := c.checkpointVideo(ctx, projectID, cfg, script)
	if err != nil {
		return nil, fmt.Errorf("checkpoint 1 (video timeline): %w", err)
	}
	return c.assembleFrom(ctx, projectID, cfg, script, audio, videoOnlyPath)
}

// Remix regenerates audio only and jumps straight to Checkpoints 2 and 3,
// reusing the existing video_only.mp4.
func (c *Composer) Remix(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio AudioOutput, existingVideoOnlyPath string) (*ComposeResult, error) {
	return c.assembleFrom(ctx, projectID, cfg, script, audio, existingVideoOnlyPath)
}

func (c *Composer) assembleFrom(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio AudioOutput, videoOnlyPath string) (*ComposeResult, error) {
	audioMixPath, err := c.checkpointAudio(ctx, projectID, script, audio)
	if err != nil {
		return nil, fmt.Errorf("checkpoint 2 (audio mix): %w", err)
	}

	finalPath, err := c.checkpointFinal(ctx, projectID, videoOnlyPath, audioMixPath)
	if err != nil {
		return nil, fmt.Errorf("checkpoint 3 (final mux): %w", err)
	}

	return &ComposeResult{VideoOnlyPath: videoOnlyPath, AudioMixPath: audioMixPath, FinalPath: finalPath}, nil
}

func (c *Composer) checkpointVideo(ctx context.Context, projectID string, cfg models.Config, script *models.Script) (string, error) {
	var clipPaths []string
	for _, scene := range script.Scenes {
		clip := scene.VideoPath
		if clip == "" {
			// No motion clip at all: fall back to a Ken Burns render of the
			// accepted still.
			if scene.ImagePath == "" {
				continue
			}
			rendered := filepath.Join(c.TempDir, fmt.Sprintf("scene-%d-kenburns.mp4", scene.ID))
			seed := int64(scene.ID)
			effect := ffmpeg.SeededEffect(seed)
			if err := c.FFmpeg.RenderKenBurnsClip(ctx, scene.ImagePath, rendered, effect, scene.DurationSeconds*1000, "", string(cfg.AspectRatio), string(cfg.Resolution)); err != nil {
				return "", fmt.Errorf("ken burns fallback for scene %d: %w", scene.ID, err)
			}
			clip = rendered
		}
		clipPaths = append(clipPaths, clip)
	}
	if len(clipPaths) == 0 {
		return "", fmt.Errorf("no scenes have a clip or accepted image to compose")
	}

	concatenated := filepath.Join(c.TempDir, "video-only-raw.mp4")
	if err := c.FFmpeg.ConcatenateClips(ctx, clipPaths, concatenated); err != nil {
		// Stream-copy concat failed, almost certainly because inputs
		// differ in codec/resolution; transcode each to a common
		// intermediate and retry.
		transcoded := make([]string, len(clipPaths))
		for i, clip := range clipPaths {
			out := filepath.Join(c.TempDir, fmt.Sprintf("transcoded-%d.mp4", i))
			if tErr := c.FFmpeg.TranscodeToCommon(ctx, clip, out, string(cfg.AspectRatio), string(cfg.Resolution)); tErr != nil {
				return "", fmt.Errorf("transcode clip %d to common intermediate: %w", i, tErr)
			}
			transcoded[i] = out
		}
		if err := c.FFmpeg.ConcatenateClips(ctx, transcoded, concatenated); err != nil {
			return "", fmt.Errorf("concatenate after transcode: %w", err)
		}
	}

	final := concatenated
	if cfg.BurnCaptions && len(script.Lines) > 0 {
		if burned, err := c.burnCaptions(ctx, script, concatenated, string(cfg.AspectRatio), string(cfg.Resolution)); err == nil {
			final = burned
		}
		// Caption burn-in is not a hard requirement of Checkpoint 1: fall
		// back to the uncaptioned timeline on error rather than failing
		// the whole assemble.
	}

	data, err := os.ReadFile(final)
	if err != nil {
		return "", fmt.Errorf("read concatenated video: %w", err)
	}
	artifact, err := c.Artifacts.Put(projectID, models.ArtifactFinal, "video_only.mp4", data)
	if err != nil {
		return "", fmt.Errorf("persist video_only.mp4: %w", err)
	}
	return artifact.Path, nil
}

// burnCaptions generates the word-level ASS caption track for the whole
// timeline and hardcodes it onto the concatenated video, gated by
// cfg.BurnCaptions.
func (c *Composer) burnCaptions(ctx context.Context, script *models.Script, videoPath string, aspectRatio, resolution string) (string, error) {
	assPath := filepath.Join(c.TempDir, "captions.ass")
	w, h := ffmpeg.Dimensions(aspectRatio, resolution)
	if err := generateASSSubtitles(script.Lines, assPath, w, h); err != nil {
		return "", fmt.Errorf("generate captions: %w", err)
	}
	burned := filepath.Join(c.TempDir, "video-only-captioned.mp4")
	if err := c.FFmpeg.BurnSubtitles(ctx, videoPath, assPath, burned); err != nil {
		return "", fmt.Errorf("burn captions: %w", err)
	}
	return burned, nil
}

func (c *Composer) checkpointAudio(ctx context.Context, projectID string, script *models.Script, audio AudioOutput) (string, error) {
	totalS := 0.0
	for _, scene := range script.Scenes {
		totalS += float64(scene.DurationSeconds)
	}

	bedPath := filepath.Join(c.TempDir, "silent-bed.m4a")
	if err := c.FFmpeg.BuildSilentBed(ctx, totalS, bedPath); err != nil {
		return "", fmt.Errorf("build silent bed: %w", err)
	}

	var inputs []ffmpeg.AudioInput
	var duckWindows []ffmpeg.DuckWindow
	for _, line := range script.Lines {
		if line.AudioPath == "" {
			continue
		}
		inputs = append(inputs, ffmpeg.AudioInput{Path: line.AudioPath, StartS: line.TimeRange.StartS})
		end := line.TimeRange.StartS + 1
		if line.TimeRange.EndS != nil {
			end = *line.TimeRange.EndS
		}
		duckWindows = append(duckWindows, ffmpeg.DuckWindow{StartS: line.TimeRange.StartS, EndS: end})
	}

	sceneStart := 0.0
	for _, scene := range script.Scenes {
		if path, ok := audio.SFXPaths[scene.ID]; ok {
			inputs = append(inputs, ffmpeg.AudioInput{Path: path, StartS: sceneStart})
		}
		sceneStart += float64(scene.DurationSeconds)
	}

	if audio.BGMPath != "" {
		inputs = append(inputs, ffmpeg.AudioInput{
			Path: audio.BGMPath, IsBGM: true, DuckGainDb: bgmDuckDb, DuckWindows: duckWindows,
		})
	}

	mixedPath := filepath.Join(c.TempDir, "audio-mix-raw.m4a")
	if err := c.FFmpeg.MixAudio(ctx, bedPath, inputs, mixedPath); err != nil {
		return "", fmt.Errorf("mix audio: %w", err)
	}

	data, err := os.ReadFile(mixedPath)
	if err != nil {
		return "", fmt.Errorf("read mixed audio: %w", err)
	}
	artifact, err := c.Artifacts.Put(projectID, models.ArtifactFinal, "audio_mix.m4a", data)
	if err != nil {
		return "", fmt.Errorf("persist audio_mix.m4a: %w", err)
	}
	return artifact.Path, nil
}

func (c *Composer) checkpointFinal(ctx context.Context, projectID, videoOnlyPath, audioMixPath string) (string, error) {
	var lastErr error
	for _, crf := range crfChain {
		out := filepath.Join(c.TempDir, fmt.Sprintf("final-crf%d.mp4", crf))
		if err := c.FFmpeg.MuxFinal(ctx, videoOnlyPath, audioMixPath, out, crf); err != nil {
			lastErr = err
			continue
		}
		data, err := os.ReadFile(out)
		if err != nil {
			lastErr = err
			continue
		}
		artifact, err := c.Artifacts.Put(projectID, models.ArtifactFinal, "final.mp4", data)
		if err != nil {
			lastErr = err
			continue
		}
		return artifact.Path, nil
	}
	return "", fmt.Errorf("final mux failed at every CRF level in the fallback chain: %w", lastErr)
}
