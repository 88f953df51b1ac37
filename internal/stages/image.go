// Package stages implements the Image, Audio, and Motion stages: the
// per-scene/per-line generate-critique-accept loops that sit
// between the Planner and the Composer, fanned out through the Parallel
// Executor.
package stages

import (
	"context"
	"fmt"
	"os"

	"github.com/arcframe/reelforge/internal/executor"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/providers"
	"github.com/arcframe/reelforge/internal/store"
)

const maxImageRetries = 2 // "bounded retries, max 2 additional attempts"

// ImageStage runs the per-scene generate->critique->accept loop, with
// Scene 1 run synchronously first to lock the primary subject before the
// rest fan out through the Executor.
type ImageStage struct {
	Image     providers.Image
	Critic    providers.Critic
	Artifacts *store.ArtifactStore
	Critiques critiqueCache
	Pool      *executor.Pool

	// RetryBudget overrides maxImageRetries when positive; zero keeps the
	// default of 2 additional attempts.
	RetryBudget int
}

func (s *ImageStage) retryBudget() int {
	if s.RetryBudget > 0 {
		return s.RetryBudget
	}
	return maxImageRetries
}

// Run mutates script.Scenes in place, setting ImagePath/ImageScore/
// ImageCritique/ImageWarning using seed as project.seed so
// fingerprints are reproducible on replay (seed := project.seed +
// scene.id per scene).
func (s *ImageStage) Run(ctx context.Context, projectID string, seed int64, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	if len(script.Scenes) == 0 {
		return fmt.Errorf("image stage: script has no scenes")
	}

	// Scene 1 runs synchronously so it can lock the primary subject and
	// yield a reference image before Scenes 2..N fan out, honoring the
	// character-consistency contract.
	first := &script.Scenes[0]
	_ = s.runScene(ctx, projectID, seed, styleProfile, cfg, script, first)

	rest := script.Scenes[1:]
	results := executor.Map(ctx, s.Pool, rest, func(ctx context.Context, scene models.Scene) (models.Scene, error) {
		sceneCopy := scene
		err := s.runScene(ctx, projectID, seed, styleProfile, cfg, script, &sceneCopy)
		return sceneCopy, err
	})
	for i, r := range results {
		script.Scenes[i+1] = r.Value
	}

	anyCandidate := first.ImagePath != ""
	for _, scene := range script.Scenes[1:] {
		if scene.ImagePath != "" {
			anyCandidate = true
			break
		}
	}
	if !anyCandidate {
		return fmt.Errorf("image stage: no scene produced a candidate image")
	}
	return nil
}

func (s *ImageStage) runScene(ctx context.Context, projectID string, seed int64, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script, scene *models.Scene) error {
	threshold := middleThreshold
	if scene.ID == script.Scenes[0].ID || scene.ID == script.Scenes[len(script.Scenes)-1].ID {
		threshold = edgeThreshold
	}

	prompt := composeImagePrompt(scene, styleProfile, script.Scenes[0].ID)
	var best struct {
		bytes   []byte
		score   int
		verdict string
	}

	retries := s.retryBudget()
	for attempt := 0; attempt <= retries; attempt++ {
		req := providers.ImageRequest{
			Prompt:      prompt,
			AspectRatio: string(cfg.AspectRatio),
			Resolution:  string(cfg.Resolution),
			Seed:        seed + int64(scene.ID),
		}
		if scene.ID != script.Scenes[0].ID && script.Scenes[0].ImagePath != "" {
			if ref, err := readArtifact(script.Scenes[0].ImagePath); err == nil {
				req.References = [][]byte{ref}
			}
		}

		candidate, err := s.Image.Generate(ctx, req)
		if err != nil {
			continue // provider failure: try again within the retry budget
		}

		fingerprint := store.Fingerprint(models.ArtifactImage, projectID, candidate)
		verdict, err := s.Critiques.Get(ctx, fingerprint)
		if err != nil {
			verdict = nil
		}
		if verdict == nil {
			v, err := s.Critic.Critique(ctx, candidate, prompt)
			if err != nil {
				continue
			}
			verdict = v
			_ = s.Critiques.Set(ctx, fingerprint, *verdict)
		}

		if verdict.Score > best.score {
			best.bytes = candidate
			best.score = verdict.Score
			best.verdict = verdict.Rationale
		}

		if verdict.Score >= threshold {
			artifact, err := s.Artifacts.Put(projectID, models.ArtifactImage, fmt.Sprintf("scene-%d.png", scene.ID), candidate)
			if err != nil {
				return fmt.Errorf("persist accepted image: %w", err)
			}
			scene.ImagePath = artifact.Path
			scene.ImageScore = verdict.Score
			scene.ImageCritique = verdict.Rationale
			return nil
		}

		prompt = perturbPrompt(prompt, verdict.Rationale)
	}

	// Retries exhausted: persist the best candidate seen and tag a
	// non-fatal warning instead of failing the scene outright.
	if best.bytes != nil {
		artifact, err := s.Artifacts.Put(projectID, models.ArtifactImage, fmt.Sprintf("scene-%d.png", scene.ID), best.bytes)
		if err != nil {
			return fmt.Errorf("persist best-effort image: %w", err)
		}
		scene.ImagePath = artifact.Path
		scene.ImageScore = best.score
		scene.ImageCritique = best.verdict
	}
	scene.ImageWarning = fmt.Sprintf("exhausted %d retries without reaching acceptance threshold %d", retries, threshold)
	return nil
}

const (
	edgeThreshold   = 8
	middleThreshold = 7
)

func composeImagePrompt(scene *models.Scene, styleProfile *models.StyleProfile, firstSceneID int) string {
	prompt := scene.VisualPrompt
	if styleProfile != nil && styleProfile.Aesthetic != "" {
		prompt = fmt.Sprintf("%s\nStyle: %s, tone: %s, pacing: %s.", prompt, styleProfile.Aesthetic, styleProfile.Tone, styleProfile.Pacing)
	}
	if scene.ID != firstSceneID && scene.PrimarySubject != "" {
		prompt = fmt.Sprintf("%s\nThe primary subject, %s, must match the reference image exactly: %s.", prompt, scene.PrimarySubject, scene.SubjectDescription)
	}
	return prompt
}

func perturbPrompt(prompt, rationale string) string {
	return fmt.Sprintf("%s\nCorrective note from prior attempt: %s", prompt, rationale)
}

func readArtifact(path string) ([]byte, error) {
	return os.ReadFile(path)
}
