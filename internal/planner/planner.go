// Package planner implements the Planner component: a
// strategist call followed by a scriptwriter call, run synchronously
// end-to-end and returning a ProjectState with status planned. Grounded
// on an OpenAI strategist/scriptwriter call sequence,
// generalized over the providers.LLM contract so any LLM implementation
// can drive it.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/providers"
)

// Planner runs the two sequential LLM calls that turn a validated Config
// into a Strategy and a Script.
type Planner struct {
	llm providers.LLM
}

func New(llm providers.LLM) *Planner {
	return &Planner{llm: llm}
}

const strategistSystemPrompt = `You are a creative strategist for short-form video ads. Given a topic,
style, platform, and target duration, produce a strategy: the core concept, the visual language,
the narrative arc, the audience hook, cinematic direction, and any production recommendations.
Respond with JSON: {"core_concept":"...","visual_language":"...","narrative_arc":"...",
"audience_hook":"...","cinematic_direction":"...","production_recommendations":"..."}`

const scriptwriterSystemPrompt = `You are a scriptwriter for short-form video ads. Given a strategy
and a target duration in seconds, break the video into scenes (each 2-8 seconds) with a visual
prompt, a motion prompt describing camera/subject movement, and optionally a primary subject and
its description for character consistency across scenes. Also produce voiceover lines with
speaker, text, and a time_range {start_s, end_s} on the overall timeline, non-overlapping, summing
to approximately the target duration. Respond with JSON: {"mood":"...","scenes":[{"id":1,
"duration_seconds":4,"visual_prompt":"...","motion_prompt":"...","audio_prompt":"...",
"primary_subject":"...","subject_description":"..."}],"lines":[{"speaker":"...","text":"...",
"time_range":{"start_s":0,"end_s":4}}]}`

// Plan runs the strategist then the scriptwriter against cfg (already
// ApplyDefaults/Validate'd by the caller) and returns a ProjectState ready
// to persist at status planned. now is injected so callers control
// timestamps rather than the planner reaching for time.Now() mid-call.
func (p *Planner) Plan(ctx context.Context, projectID string, seed int64, cfg models.Config, now time.Time) (*models.ProjectState, error) {
	state := &models.ProjectState{
		ID:        projectID,
		Seed:      seed,
		Status:    models.StatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
		Config:    cfg,
	}

	strategy, err := p.runStrategist(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("strategist: %w", err)
	}
	state.Strategy = strategy
	state.AppendLog("plan", "strategy generated", now)

	script, err := p.runScriptwriter(ctx, cfg, strategy)
	if err != nil {
		return nil, fmt.Errorf("scriptwriter: %w", err)
	}
	if err := validateScript(script, cfg.DurationSeconds); err != nil {
		return nil, fmt.Errorf("scriptwriter produced invalid script: %w", err)
	}
	state.Script = script
	state.AppendLog("plan", fmt.Sprintf("script generated: %d scenes, %d lines", len(script.Scenes), len(script.Lines)), now)

	state.StyleProfile = InferStyleProfile(cfg, strategy, script)
	state.AppendLog("plan", "style profile inferred", now)

	state.Status = models.StatusPlanned
	state.UpdatedAt = now
	return state, nil
}

// InferStyleProfile derives a StyleProfile from the already-generated
// strategy and script instead of a third LLM round trip: the strategist's
// free-text fields and the scriptwriter's mood/scene count are a cheap,
// deterministic signal for the stable phrases the Image and Motion stages
// inject into every prompt. Confidences are heuristic, not
// model-calibrated, and exist only to let a caller decide whether to surface
// the inferred profile to an operator for review.
func InferStyleProfile(cfg models.Config, strategy *models.Strategy, script *models.Script) *models.StyleProfile {
	profile := &models.StyleProfile{
		Confidences: map[string]float64{},
	}

	if strategy != nil && strategy.VisualLanguage != "" {
		profile.Aesthetic = strategy.VisualLanguage
		profile.Confidences["aesthetic"] = 0.8
	} else if cfg.Style != "" {
		profile.Aesthetic = string(cfg.Style)
		profile.Confidences["aesthetic"] = 0.5
	}

	profile.Format = string(cfg.AspectRatio)
	profile.Confidences["format"] = 1.0

	if script != nil && script.Mood != "" {
		profile.Tone = script.Mood
		profile.Confidences["tone"] = 0.7
	} else if strategy != nil && strategy.AudienceHook != "" {
		profile.Tone = strategy.AudienceHook
		profile.Confidences["tone"] = 0.4
	}

	profile.Pacing = pacingFromSceneCount(script, cfg.DurationSeconds)
	profile.Confidences["pacing"] = 0.6

	return profile
}

// pacingFromSceneCount turns average scene length into a coarse pacing
// label ("quick-cut" below 3s/scene, "measured" above 6s/scene, "steady"
// between) consumed by the Motion stage's prompt composer.
func pacingFromSceneCount(script *models.Script, targetDuration int) string {
	sceneCount := 0
	if script != nil {
		sceneCount = len(script.Scenes)
	}
	if sceneCount == 0 {
		return "steady"
	}
	avg := float64(targetDuration) / float64(sceneCount)
	switch {
	case avg < 3:
		return "quick-cut"
	case avg > 6:
		return "measured"
	default:
		return "steady"
	}
}

func (p *Planner) runStrategist(ctx context.Context, cfg models.Config) (*models.Strategy, error) {
	userPrompt := fmt.Sprintf(
		"Topic: %s\nStyle: %s\nPlatform: %s\nDuration target: %d seconds\nAspect ratio: %s",
		cfg.Topic, cfg.Style, cfg.Platform, cfg.DurationSeconds, cfg.AspectRatio,
	)
	var strategy models.Strategy
	err := p.llm.Generate(ctx, strategistSystemPrompt, userPrompt, &strategy, func() error {
		if strategy.CoreConcept == "" {
			return fmt.Errorf("core_concept is required")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &strategy, nil
}

func (p *Planner) runScriptwriter(ctx context.Context, cfg models.Config, strategy *models.Strategy) (*models.Script, error) {
	userPrompt := fmt.Sprintf(
		"Strategy:\ncore_concept: %s\nvisual_language: %s\nnarrative_arc: %s\naudience_hook: %s\ncinematic_direction: %s\n\nTarget duration: %d seconds\nInclude SFX: %t\nInclude BGM: %t",
		strategy.CoreConcept, strategy.VisualLanguage, strategy.NarrativeArc, strategy.AudienceHook,
		strategy.CinematicDirection, cfg.DurationSeconds, cfg.IncludeSFX, cfg.IncludeBGM,
	)
	var script models.Script
	err := p.llm.Generate(ctx, scriptwriterSystemPrompt, userPrompt, &script, func() error {
		return validateScript(&script, cfg.DurationSeconds)
	})
	if err != nil {
		return nil, err
	}
	return &script, nil
}

// validateScript enforces the structural invariants a
// scriptwriter output must satisfy before any stage touches it: at least one scene,
// contiguous-ish non-overlapping time ranges, and total scene duration
// within 20% of the requested duration (LLMs routinely drift).
func validateScript(script *models.Script, targetDuration int) error {
	if len(script.Scenes) == 0 {
		return fmt.Errorf("script has no scenes")
	}
	seenIDs := map[int]bool{}
	for _, scene := range script.Scenes {
		if scene.DurationSeconds <= 0 {
			return fmt.Errorf("scene %d has non-positive duration", scene.ID)
		}
		if seenIDs[scene.ID] {
			return fmt.Errorf("duplicate scene id %d", scene.ID)
		}
		seenIDs[scene.ID] = true
	}
	var lastEnd float64
	for i, line := range script.Lines {
		if err := line.TimeRange.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		if line.TimeRange.StartS < lastEnd {
			return fmt.Errorf("line %d overlaps previous line: starts at %.2f before %.2f ends", i, line.TimeRange.StartS, lastEnd)
		}
		if line.TimeRange.EndS != nil {
			lastEnd = *line.TimeRange.EndS
		}
	}

	total := 0
	for _, s := range script.Scenes {
		total += s.DurationSeconds
	}
	lowerBound := float64(targetDuration) * 0.8
	upperBound := float64(targetDuration) * 1.2
	if float64(total) < lowerBound || float64(total) > upperBound {
		return fmt.Errorf("total scene duration %ds is too far from target %ds", total, targetDuration)
	}
	return nil
}
