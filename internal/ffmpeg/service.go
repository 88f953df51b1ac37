package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// resolutionDims maps an aspect_ratio/resolution pair to its pixel dimensions.
var resolutionDims = map[string]struct{ W, H int }{
	"9:16-1080p": {1080, 1920},
	"9:16-720p":  {720, 1280},
	"16:9-1080p": {1920, 1080},
	"16:9-720p":  {1280, 720},
	"1:1-1080p":  {1080, 1080},
	"1:1-720p":   {720, 720},
}

// Dimensions resolves an aspect/resolution pair to concrete pixel
// dimensions, defaulting to 9:16 1080p on an
// unrecognized pair.
func Dimensions(aspectRatio, resolution string) (int, int) {
	d, ok := resolutionDims[aspectRatio+"-"+resolution]
	if !ok {
		return 1080, 1920
	}
	return d.W, d.H
}

const videoFPS = 30

// Service wraps ffmpeg/ffprobe invocations for the Composer, grounded on
// a shelling-out ffmpeg render service.
type Service struct {
	tempDir string
}

func NewService(tempDir string) (*Service, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create ffmpeg temp dir: %w", err)
	}
	return &Service{tempDir: tempDir}, nil
}

func (s *Service) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// RenderKenBurnsClip renders a still image into a motion clip using the
// Ken Burns fallback effect, optionally burning in ASS subtitles.
func (s *Service) RenderKenBurnsClip(ctx context.Context, imagePath, outputPath string, effect Effect, durationMs int, subtitlePath, aspectRatio, resolution string) error {
	w, h := Dimensions(aspectRatio, resolution)
	vf := buildMotionFilter(effect, durationMs, videoFPS, w, h)
	if subtitlePath != "" {
		vf += fmt.Sprintf(",ass='%s'", escapeFilterPath(subtitlePath))
	}
	return s.run(ctx,
		"-loop", "1", "-i", imagePath,
		"-t", fmt.Sprintf("%.3f", float64(durationMs)/1000),
		"-vf", vf,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", videoFPS),
		"-an",
		"-y", outputPath,
	)
}

// FreezeLastFrame extends videoPath to at least targetDurationS by
// cloning its final frame (tpad), the same handling used for a
// motion provider clip shorter than its scene's audio.
func (s *Service) FreezeLastFrame(ctx context.Context, videoPath, outputPath string, targetDurationS float64) error {
	return s.run(ctx,
		"-i", videoPath,
		"-vf", "tpad=stop_mode=clone:stop_duration=60",
		"-t", fmt.Sprintf("%.3f", targetDurationS),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y", outputPath,
	)
}

// ExtractLastFrame pulls the final frame of videoPath as a JPEG, used by
// the continuity bridge.
func (s *Service) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error {
	return s.run(ctx,
		"-sseof", "-0.1",
		"-i", videoPath,
		"-update", "1",
		"-q:v", "2",
		"-y", outputPath,
	)
}

// ConcatenateClips joins clipPaths in order into outputPath using the
// concat demuxer. Checkpoint 1 of the Composer.
func (s *Service) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	listPath := filepath.Join(s.tempDir, fmt.Sprintf("concat-%d.txt", len(clipPaths)))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	for _, path := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", path)
	}
	f.Close()
	defer os.Remove(listPath)

	return s.run(ctx, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", outputPath)
}

// TranscodeToCommon re-encodes a clip to a common codec/resolution when
// concat's stream-copy path can't be used because inputs differ.
func (s *Service) TranscodeToCommon(ctx context.Context, inputPath, outputPath, aspectRatio, resolution string) error {
	w, h := Dimensions(aspectRatio, resolution)
	return s.run(ctx,
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h, w, h),
		"-r", fmt.Sprintf("%d", videoFPS),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y", outputPath,
	)
}

// BuildSilentBed creates durationS seconds of silence at outputPath, the
// base of Checkpoint 2's audio mix.
func (s *Service) BuildSilentBed(ctx context.Context, durationS float64, outputPath string) error {
	return s.run(ctx,
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", fmt.Sprintf("%.3f", durationS),
		"-c:a", "aac",
		"-y", outputPath,
	)
}

// AudioInput is one timed or looping input to MixAudio.
type AudioInput struct {
	Path        string
	StartS      float64 // delay before this input begins, ignored for BGM
	IsBGM       bool
	DuckGainDb  float64 // applied during VO intervals when IsBGM; 0 disables ducking
	DuckWindows []DuckWindow
}

// DuckWindow is one VO interval during which BGM should be attenuated.
type DuckWindow struct {
	StartS, EndS float64
}

// MixAudio time-aligns VO lines on the silent bed, mixes in SFX at their
// scene boundaries, and ducks BGM under VO intervals by ~12dB (Checkpoint
// 2,
func (s *Service) MixAudio(ctx context.Context, bedPath string, inputs []AudioInput, outputPath string) error {
	args := []string{"-i", bedPath}
	var filterParts []string
	var mixLabels []string

	for i, in := range inputs {
		args = append(args, "-i", in.Path)
		inputIdx := i + 1 // 0 is the bed
		label := fmt.Sprintf("a%d", inputIdx)

		if in.IsBGM && in.DuckGainDb != 0 && len(in.DuckWindows) > 0 {
			volExpr := buildDuckExpression(in.DuckWindows, in.DuckGainDb)
			filterParts = append(filterParts, fmt.Sprintf("[%d:a]volume=%s:eval=frame[%s]", inputIdx, volExpr, label))
		} else if in.StartS > 0 {
			filterParts = append(filterParts, fmt.Sprintf("[%d:a]adelay=%d|%d[%s]", inputIdx, int(in.StartS*1000), int(in.StartS*1000), label))
		} else {
			filterParts = append(filterParts, fmt.Sprintf("[%d:a]anull[%s]", inputIdx, label))
		}
		mixLabels = append(mixLabels, "["+label+"]")
	}

	filterComplex := strings.Join(filterParts, ";")
	if filterComplex != "" {
		filterComplex += ";"
	}
	filterComplex += fmt.Sprintf("[0:a]%s amix=inputs=%d:duration=first:dropout_transition=3[aout]",
		strings.Join(mixLabels, ""), len(inputs)+1)

	args = append(args, "-filter_complex", filterComplex, "-map", "[aout]", "-c:a", "aac", "-b:a", "192k", "-y", outputPath)
	return s.run(ctx, args...)
}

// buildDuckExpression builds a volume= expression with enable-style
// conditionals so BGM drops by gainDb only while `between(t,start,end)`
// holds for any VO window, ducking BGM under VO by ~12dB during VO
// intervals.
func buildDuckExpression(windows []DuckWindow, gainDb float64) string {
	linear := dbToLinear(gainDb)
	var conditions []string
	for _, w := range windows {
		conditions = append(conditions, fmt.Sprintf("between(t,%.3f,%.3f)", w.StartS, w.EndS))
	}
	return fmt.Sprintf("if(%s,%.4f,1.0)", strings.Join(conditions, "+"), linear)
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// MuxFinal muxes the video-only and audio-mix checkpoints into the final
// container at the given CRF (Checkpoint 3, adaptive encoding).
func (s *Service) MuxFinal(ctx context.Context, videoOnlyPath, audioMixPath, outputPath string, crf int) error {
	return s.run(ctx,
		"-i", videoOnlyPath,
		"-i", audioMixPath,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libx264", "-crf", fmt.Sprintf("%d", crf), "-preset", "medium",
		"-c:a", "aac", "-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-y", outputPath,
	)
}

// BurnSubtitles hardcodes an ASS subtitle track onto videoPath, re-encoding
// video only (audio, if any, is dropped — Checkpoint 1 output is always
// silent at this stage). Used to apply the word-level caption overlay to
// the full concatenated timeline rather than per-clip.
func (s *Service) BurnSubtitles(ctx context.Context, videoPath, assPath, outputPath string) error {
	return s.run(ctx,
		"-i", videoPath,
		"-vf", fmt.Sprintf("ass='%s'", escapeFilterPath(assPath)),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y", outputPath,
	)
}

// GetDuration probes a media file's duration in seconds via ffprobe.
func (s *Service) GetDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return seconds, nil
}
