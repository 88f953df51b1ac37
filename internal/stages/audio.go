package stages

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arcframe/reelforge/internal/executor"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/providers"
	"github.com/arcframe/reelforge/internal/store"
)

const defaultSFXDurationS = 4.0

// AudioStage produces VO per line plus optional per-scene SFX and a
// single BGM bed.
type AudioStage struct {
	TTS       providers.TTS
	SFX       providers.SFXMusic
	Artifacts *store.ArtifactStore
	Pool      *executor.Pool

	// DefaultVoiceID is passed to the TTS provider when neither
	// line.VoiceID nor config.VoiceMap[speaker] resolves one, letting the
	// provider fall back to its own configured default voice.
	DefaultVoiceID string
}

// AudioOutput carries the Audio Stage's results that have no home on Scene or
// ScriptLine directly: per-scene SFX paths and the single BGM path, both
// consumed by the Composer.
type AudioOutput struct {
	SFXPaths map[int]string // keyed by scene ID
	BGMPath  string
}

type audioJobKind int

const (
	jobVO audioJobKind = iota
	jobSFX
	jobBGM
)

type audioJob struct {
	kind      audioJobKind
	lineIdx   int
	sceneID   int
	text      string
	voiceID   string
	durationS float64
}

// Run fans out VO lines, SFX prompts, and the BGM prompt (if configured)
// through the Executor and writes VO results onto script.Lines in place.
// A failed VO line is fatal; a failed SFX or BGM downgrades to a warning
// reported via appendWarning instead of failing the stage.
func (s *AudioStage) Run(ctx context.Context, projectID string, cfg models.Config, script *models.Script, appendWarning func(string)) (AudioOutput, error) {
	jobs := make([]audioJob, 0, len(script.Lines)+len(script.Scenes)+1)
	for i, line := range script.Lines {
		jobs = append(jobs, audioJob{
			kind:    jobVO,
			lineIdx: i,
			voiceID: resolveVoiceID(line, cfg, s.DefaultVoiceID),
			text:    line.Text,
		})
	}
	if cfg.IncludeSFX {
		for _, scene := range script.Scenes {
			if scene.AudioPrompt == "" {
				continue
			}
			jobs = append(jobs, audioJob{kind: jobSFX, sceneID: scene.ID, text: scene.AudioPrompt, durationS: defaultSFXDurationS})
		}
	}
	if cfg.IncludeBGM && cfg.BGMPrompt != "" {
		total := 0
		for _, sc := range script.Scenes {
			total += sc.DurationSeconds
		}
		jobs = append(jobs, audioJob{kind: jobBGM, text: cfg.BGMPrompt, durationS: float64(total)})
	}

	results := executor.Map(ctx, s.Pool, jobs, func(ctx context.Context, job audioJob) (string, error) {
		return s.runJob(ctx, projectID, job)
	})

	out := AudioOutput{SFXPaths: map[int]string{}}
	for i, job := range jobs {
		res := results[i]
		switch job.kind {
		case jobVO:
			if res.Err != nil {
				return out, fmt.Errorf("voiceover line %d failed: %w", job.lineIdx, res.Err)
			}
			script.Lines[job.lineIdx].AudioPath = res.Value
		case jobSFX:
			if res.Err != nil {
				appendWarning(fmt.Sprintf("sfx for scene %d failed, continuing without it: %v", job.sceneID, res.Err))
				continue
			}
			out.SFXPaths[job.sceneID] = res.Value
		case jobBGM:
			if res.Err != nil {
				appendWarning(fmt.Sprintf("bgm generation failed, continuing without music: %v", res.Err))
				continue
			}
			out.BGMPath = res.Value
		}
	}
	return out, nil
}

func (s *AudioStage) runJob(ctx context.Context, projectID string, job audioJob) (string, error) {
	switch job.kind {
	case jobVO:
		key := store.RequestFingerprint("vo", job.voiceID, job.text)
		if path, ok := s.Artifacts.Lookup(key); ok {
			return path, nil
		}
		resp, err := s.TTS.Synthesize(ctx, job.text, job.voiceID, 0)
		if err != nil {
			return "", err
		}
		artifact, err := s.Artifacts.PutKeyed(projectID, models.ArtifactAudio, fmt.Sprintf("vo-%d.%s", job.lineIdx, extForFormat(resp.Format)), key, resp.AudioData)
		if err != nil {
			return "", err
		}
		return artifact.Path, nil
	default:
		label := "sfx"
		if job.kind == jobBGM {
			label = "bgm"
		}
		key := store.RequestFingerprint(label, strconv.Itoa(job.sceneID), job.text, strconv.FormatFloat(job.durationS, 'f', 1, 64))
		if path, ok := s.Artifacts.Lookup(key); ok {
			return path, nil
		}
		data, err := s.SFX.Synthesize(ctx, job.text, job.durationS)
		if err != nil {
			return "", err
		}
		filename := fmt.Sprintf("%s-%d.mp3", label, job.sceneID)
		artifact, err := s.Artifacts.PutKeyed(projectID, models.ArtifactAudio, filename, key, data)
		if err != nil {
			return "", err
		}
		return artifact.Path, nil
	}
}

func extForFormat(format string) string {
	if format == "" {
		return "mp3"
	}
	return format
}

// resolveVoiceID implements precedence: explicit
// line.voice_id > config.voice_map[speaker] > default.
func resolveVoiceID(line models.ScriptLine, cfg models.Config, defaultVoiceID string) string {
	if line.VoiceID != "" {
		return line.VoiceID
	}
	if v, ok := cfg.VoiceMap[line.Speaker]; ok && v != "" {
		return v
	}
	return defaultVoiceID
}
