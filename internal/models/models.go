// Package models holds the data model the orchestrator owns: ProjectState
// and the entities that hang off it (Config, Strategy, Script, Scene,
// ScriptLine, Artifact, CritiqueVerdict, StyleProfile).
package models

import (
	"fmt"
	"time"
)

// ProjectStatus is the orchestrator's state machine position for a project.
type ProjectStatus string

const (
	StatusInitialized      ProjectStatus = "initialized"
	StatusPlanning         ProjectStatus = "planning"
	StatusPlanned          ProjectStatus = "planned"
	StatusGeneratingImages ProjectStatus = "generating_images"
	StatusImagesComplete   ProjectStatus = "images_complete"
	StatusGeneratingVideos ProjectStatus = "generating_videos"
	StatusVideosComplete   ProjectStatus = "videos_complete"
	StatusAssembling       ProjectStatus = "assembling"
	StatusCompleted        ProjectStatus = "completed"
	StatusRemixingAudio    ProjectStatus = "remixing_audio"
	StatusFailed           ProjectStatus = "failed"
)

// transitions enumerates every legal (from, to) move. Anything not listed
// here fails CanTransition, which the orchestrator's stage gates turn into
// a TransitionError (409 at the HTTP boundary).
var transitions = map[ProjectStatus]map[ProjectStatus]bool{
	StatusInitialized:      {StatusPlanning: true},
	StatusPlanning:         {StatusPlanned: true, StatusFailed: true},
	StatusPlanned:          {StatusGeneratingImages: true, StatusFailed: true},
	StatusGeneratingImages: {StatusImagesComplete: true, StatusFailed: true},
	StatusImagesComplete:   {StatusGeneratingVideos: true, StatusFailed: true},
	StatusGeneratingVideos: {StatusVideosComplete: true, StatusFailed: true},
	StatusVideosComplete:   {StatusAssembling: true, StatusFailed: true},
	StatusAssembling:       {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:        {StatusRemixingAudio: true},
	StatusRemixingAudio:    {StatusCompleted: true, StatusFailed: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the state machine. Failed is terminal: nothing
// transitions out of it except an explicit Reset, which callers perform by
// constructing a fresh ProjectState rather than via CanTransition.
func CanTransition(from, to ProjectStatus) bool {
	if from == StatusFailed {
		return false
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// TransitionError is returned when a caller asks the orchestrator to move a
// project to a status that isn't reachable from its current one. Intended
// to surface as a 409 at the HTTP boundary.
type TransitionError struct {
	From, To ProjectStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// LogEntry is one line of ProjectState.Logs — a dated, stage-tagged,
// human-readable record distinct from the operational structured log.
type LogEntry struct {
	Time time.Time `json:"time"`
	Tag  string    `json:"tag"` // e.g. "[APPROVAL_GATE_1]", "[PHASE 3A]"
	Msg  string    `json:"msg"`
}

// ProjectError captures a fatal pipeline failure.
type ProjectError struct {
	Kind   string `json:"kind"`
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Stage, e.Kind, e.Detail)
}

// Style is the enumerated visual/narrative style of the brief.
type Style string

// Platform is the target publishing surface.
type Platform string

// AspectRatio is one of the three supported framings.
type AspectRatio string

const (
	Aspect16x9 AspectRatio = "16:9"
	Aspect9x16 AspectRatio = "9:16"
	Aspect1x1  AspectRatio = "1:1"
)

// Resolution is one of the two supported output resolutions.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
)

// Config is the project's brief, an explicit validated record rather than a
// dynamic dictionary.
type Config struct {
	Topic           string            `json:"topic"`
	Style           Style             `json:"style"`
	DurationSeconds int               `json:"duration_seconds"`
	Platform        Platform          `json:"platform"`
	AspectRatio     AspectRatio       `json:"aspect_ratio"`
	Resolution      Resolution        `json:"resolution"`
	VoiceMap        map[string]string `json:"voice_map,omitempty"`
	References      []string          `json:"references,omitempty"`
	IncludeSFX      bool              `json:"include_sfx"`
	IncludeBGM      bool              `json:"include_bgm"`
	BGMPrompt       string            `json:"bgm_prompt,omitempty"`
	CostCapCents    *int64            `json:"cost_cap_cents,omitempty"`

	// BurnCaptions controls word-level caption burn-in. ApplyDefaults sets
	// it to true, so it is on unless cleared after ApplyDefaults runs.
	BurnCaptions bool `json:"burn_captions"`

	// ContinuityBridge opts into the last-frame bridge between adjacent
	// clips.
	ContinuityBridge bool `json:"continuity_bridge"`
}

const (
	minDurationSeconds = 4
	maxDurationSeconds = 60
	maxReferences      = 3
)

// ApplyDefaults fills zero-value fields with the project defaults and
// returns the list of log-worthy adjustments it made (e.g. duration
// clamping). Duration below provider minimum is clamped at plan time
// with a log entry, never silently ignored.
func (c *Config) ApplyDefaults() []string {
	var notes []string
	if c.Resolution == "" {
		c.Resolution = Resolution1080p
	}
	if c.AspectRatio == "" {
		c.AspectRatio = Aspect9x16
	}
	if !c.BurnCaptions {
		// BurnCaptions has no explicit "unset" sentinel distinct from
		// false; callers that truly want captions off must set it after
		// ApplyDefaults runs. Defaults on.
		c.BurnCaptions = true
	}
	if c.DurationSeconds < minDurationSeconds {
		notes = append(notes, fmt.Sprintf("duration_seconds %d below provider minimum, clamped to %d", c.DurationSeconds, minDurationSeconds))
		c.DurationSeconds = minDurationSeconds
	}
	if c.DurationSeconds > maxDurationSeconds {
		notes = append(notes, fmt.Sprintf("duration_seconds %d above maximum, clamped to %d", c.DurationSeconds, maxDurationSeconds))
		c.DurationSeconds = maxDurationSeconds
	}
	if len(c.References) > maxReferences {
		notes = append(notes, fmt.Sprintf("%d references supplied, truncated to %d", len(c.References), maxReferences))
		c.References = c.References[:maxReferences]
	}
	return notes
}

// Validate enforces the invariant-input checks: missing
// required config, unsupported aspect/resolution, duration below provider
// minimum. Validate itself clamps nothing; Orchestrator.Plan calls
// ApplyDefaults first and Validate second, so an out-of-range duration is
// clamped (with a note) before Validate sees it.
func (c *Config) Validate() error {
	if c.Topic == "" {
		return &ProjectError{Kind: "invalid_input", Stage: "plan", Detail: "topic is required"}
	}
	if c.DurationSeconds < minDurationSeconds || c.DurationSeconds > maxDurationSeconds {
		return &ProjectError{Kind: "invalid_input", Stage: "plan", Detail: fmt.Sprintf("duration_seconds %d outside [%d,%d]", c.DurationSeconds, minDurationSeconds, maxDurationSeconds)}
	}
	switch c.AspectRatio {
	case Aspect16x9, Aspect9x16, Aspect1x1:
	default:
		return &ProjectError{Kind: "invalid_input", Stage: "plan", Detail: fmt.Sprintf("unsupported aspect_ratio %q", c.AspectRatio)}
	}
	switch c.Resolution {
	case Resolution720p, Resolution1080p, "":
	default:
		return &ProjectError{Kind: "invalid_input", Stage: "plan", Detail: fmt.Sprintf("unsupported resolution %q", c.Resolution)}
	}
	if len(c.References) > maxReferences {
		return &ProjectError{Kind: "invalid_input", Stage: "plan", Detail: fmt.Sprintf("at most %d references allowed", maxReferences)}
	}
	return nil
}

// Strategy is the strategist LLM's opaque-text output, consumed by the
// Planner's scriptwriter call and by the image/motion prompt composer.
type Strategy struct {
	CoreConcept               string `json:"core_concept"`
	VisualLanguage             string `json:"visual_language"`
	NarrativeArc               string `json:"narrative_arc"`
	AudienceHook                string `json:"audience_hook"`
	CinematicDirection          string `json:"cinematic_direction"`
	ProductionRecommendations   string `json:"production_recommendations"`
}

// TimeRange is a ScriptLine's placement on the assembled audio timeline.
type TimeRange struct {
	StartS float64  `json:"start_s"`
	EndS   *float64 `json:"end_s,omitempty"`
}

// Validate enforces "time_range.start >= 0; if end present then end > start".
func (t TimeRange) Validate() error {
	if t.StartS < 0 {
		return fmt.Errorf("time_range.start_s must be >= 0, got %f", t.StartS)
	}
	if t.EndS != nil && *t.EndS <= t.StartS {
		return fmt.Errorf("time_range.end_s (%f) must be > start_s (%f)", *t.EndS, t.StartS)
	}
	return nil
}

// ScriptLine is one spoken line of the script.
type ScriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	TimeRange TimeRange `json:"time_range"`
	VoiceID   string    `json:"voice_id,omitempty"`
	AudioPath string    `json:"audio_path,omitempty"`
}

// Scene is one unit of the commercial: one still, one motion clip, zero or
// more audio lines reference it by time range.
type Scene struct {
	ID                   int    `json:"id"`
	DurationSeconds      int    `json:"duration_seconds"`
	VisualPrompt         string `json:"visual_prompt"`
	MotionPrompt         string `json:"motion_prompt"`
	AudioPrompt          string `json:"audio_prompt,omitempty"`
	PrimarySubject       string `json:"primary_subject,omitempty"`
	SubjectDescription   string `json:"subject_description,omitempty"`
	SubjectReferencePath string `json:"subject_reference_path,omitempty"`

	ImagePath      string  `json:"image_path,omitempty"`
	ImageCritique  string  `json:"image_critique,omitempty"`
	ImageScore     int     `json:"image_score,omitempty"`
	ImageWarning   string  `json:"image_warning,omitempty"`

	VideoPath     string `json:"video_path,omitempty"`
	VideoProvider string `json:"video_provider,omitempty"`
	VideoWarning  string `json:"video_warning,omitempty"`

	// FramePath is the persisted last frame used by the continuity
	// bridge: set once the clip is ready, consumed by scene+1.
	FramePath string `json:"frame_path,omitempty"`
}

// Script is the scriptwriter LLM's structured output.
type Script struct {
	Mood   string       `json:"mood"`
	Scenes []Scene      `json:"scenes"`
	Lines  []ScriptLine `json:"lines"`

	// SFXPaths/BGMPath hold the Audio Stage's non-VO output,
	// persisted on the Script so they survive the images_complete gate and
	// are available to the Composer without re-running the Audio Stage.
	SFXPaths map[int]string `json:"sfx_paths,omitempty"`
	BGMPath  string         `json:"bgm_path,omitempty"`
}

// ArtifactKind enumerates the Artifact Store's content categories.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactAudio ArtifactKind = "audio"
	ArtifactClip  ArtifactKind = "clip"
	ArtifactFrame ArtifactKind = "frame"
	ArtifactFinal ArtifactKind = "final"
)

// Artifact is any persisted output of a stage.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	Path        string       `json:"path"`
	Fingerprint string       `json:"fingerprint"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CritiqueVerdict is the image critic's judgement, memoised in the
// Critique Cache keyed by image fingerprint.
type CritiqueVerdict struct {
	Score     int    `json:"score"` // 1..10
	Rationale string `json:"rationale"`
	Accept    bool   `json:"accept"`
}

// StyleProfile is the optional inferred aesthetic used to inject stable
// phrases into image and motion prompts.
type StyleProfile struct {
	Aesthetic   string             `json:"aesthetic"`
	Format      string             `json:"format"`
	Tone        string             `json:"tone"`
	Pacing      string             `json:"pacing"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// ProjectState is the single source of truth for one project, persisted
// atomically on every transition.
type ProjectState struct {
	ID        string        `json:"id"`
	Seed      int64         `json:"seed"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	Config   Config        `json:"config"`
	Strategy *Strategy     `json:"strategy,omitempty"`
	Script   *Script       `json:"script,omitempty"`

	Logs []LogEntry `json:"logs"`

	Error           *ProjectError `json:"error,omitempty"`
	FinalVideoPath  string        `json:"final_video_path,omitempty"`
	StyleProfile    *StyleProfile `json:"style_profile,omitempty"`

	// VideoOnlyPath/AudioMixPath are Checkpoint 1/2 artifacts, kept on
	// ProjectState so Remix can reuse VideoOnlyPath without
	// re-running image/motion stages.
	VideoOnlyPath string `json:"video_only_path,omitempty"`
	AudioMixPath  string `json:"audio_mix_path,omitempty"`
}

// AppendLog appends a dated, stage-tagged log entry. Called only by the
// orchestrator: adapters never mutate ProjectState directly.
func (p *ProjectState) AppendLog(tag, msg string, now time.Time) {
	p.Logs = append(p.Logs, LogEntry{Time: now, Tag: tag, Msg: msg})
}

// SceneByID returns a pointer into p.Script.Scenes for in-place mutation,
// or nil if no scene with that id exists.
func (p *ProjectState) SceneByID(id int) *Scene {
	if p.Script == nil {
		return nil
	}
	for i := range p.Script.Scenes {
		if p.Script.Scenes[i].ID == id {
			return &p.Script.Scenes[i]
		}
	}
	return nil
}

// TotalDuration sums scene durations — used to validate Composer output
// duration against property 4 (±0.2s after assembly).
func (p *ProjectState) TotalDuration() int {
	if p.Script == nil {
		return 0
	}
	total := 0
	for _, s := range p.Script.Scenes {
		total += s.DurationSeconds
	}
	return total
}
