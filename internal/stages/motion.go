package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcframe/reelforge/internal/executor"
	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/providers"
	"github.com/arcframe/reelforge/internal/store"
)

// MotionStage animates each scene's accepted still through a
// provider-fallback chain, submitting all scenes' tasks and polling them
// as one group.
type MotionStage struct {
	// Providers is the fixed fallback order {primary, fallback-1,
	// fallback-2}; a nil entry marks a provider disabled by config, which
	// Run skips without counting it as a failed attempt.
	Providers []providers.Motion
	Artifacts *store.ArtifactStore
	Pool      *executor.Pool
	Backoff   executor.BackoffPolicy

	// ContinuityBridge opts into extracting each clip's last frame and
	// publishing it as the next scene's reference input,
	// which forces strictly sequential submission instead of the default
	// bounded-parallel fan-out.
	ContinuityBridge bool
	ExtractLastFrame func(clipBytes []byte) ([]byte, error)
}

type sceneSubmission struct {
	sceneIdx int
	provider providers.Motion
	handle   providers.TaskHandle
}

// Run mutates script.Scenes in place, setting VideoPath/VideoProvider, or
// VideoWarning when every provider fails for a scene. Returns an error
// only when ≥50% of scenes end up with no clip.
func (s *MotionStage) Run(ctx context.Context, projectID string, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	if s.ContinuityBridge {
		return s.runSequentialWithBridge(ctx, projectID, styleProfile, cfg, script)
	}
	return s.runParallel(ctx, projectID, styleProfile, cfg, script)
}

func (s *MotionStage) runParallel(ctx context.Context, projectID string, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	scenes := script.Scenes

	failCount := 0

	// Submission runs through the Executor too (default 3 in flight),
	// submitting then polling across scenes in parallel.
	submitResults := executor.Map(ctx, s.Pool, scenes, func(ctx context.Context, scene models.Scene) (*sceneSubmission, error) {
		if scene.ImagePath == "" {
			return nil, fmt.Errorf("no accepted image for scene %d", scene.ID)
		}
		imageBytes, err := readArtifact(scene.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("could not read accepted image: %w", err)
		}
		return s.submitWithFallback(ctx, imageBytes, &scene, styleProfile, cfg)
	})

	submissions := make([]*sceneSubmission, len(scenes))
	for idx, res := range submitResults {
		if res.Err != nil {
			scenes[idx].VideoWarning = res.Err.Error()
			failCount++
			continue
		}
		submissions[idx] = res.Value
	}

	tasks := make([]executor.PollableTask[*sceneSubmission], 0, len(submissions))
	for _, sub := range submissions {
		if sub == nil {
			continue
		}
		sub := sub
		tasks = append(tasks, executor.PollableTask[*sceneSubmission]{
			Handle: sub,
			Poll: func(ctx context.Context, h *sceneSubmission) (executor.PollStatus, any, string, error) {
				res, err := h.provider.Poll(ctx, h.handle)
				if err != nil {
					return executor.StatusFailed, nil, err.Error(), nil
				}
				switch res.Status {
				case providers.TaskReady:
					return executor.StatusReady, res.ClipBytes, "", nil
				case providers.TaskFailed:
					return executor.StatusFailed, nil, res.Reason, nil
				default:
					return executor.StatusPending, nil, "", nil
				}
			},
		})
	}

	outcomes := executor.PollUntilTerminal(ctx, tasks, s.Backoff)
	taskIdx := 0
	for idx, sub := range submissions {
		if sub == nil {
			continue
		}
		outcome := outcomes[taskIdx]
		taskIdx++
		scene := &scenes[idx]
		if outcome.Status != executor.StatusReady {
			scene.VideoWarning = fmt.Sprintf("motion provider %s failed: %s", sub.provider.Name(), outcome.Reason)
			failCount++
			continue
		}
		clipBytes := outcome.Result.([]byte)
		artifact, err := s.Artifacts.Put(projectID, models.ArtifactClip, fmt.Sprintf("scene-%d.mp4", scene.ID), clipBytes)
		if err != nil {
			scene.VideoWarning = fmt.Sprintf("failed to persist clip: %v", err)
			failCount++
			continue
		}
		scene.VideoPath = artifact.Path
		scene.VideoProvider = sub.provider.Name()
	}

	if len(scenes) > 0 && failCount*2 >= len(scenes) {
		return fmt.Errorf("motion stage: %d/%d scenes failed, at or above the 50%% threshold", failCount, len(scenes))
	}
	return nil
}

// runSequentialWithBridge implements the continuity-bridge variant: scene
// k+1 cannot start before scene k's last frame is published.
func (s *MotionStage) runSequentialWithBridge(ctx context.Context, projectID string, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	failCount := 0
	for idx := range script.Scenes {
		scene := &script.Scenes[idx]
		if scene.ImagePath == "" {
			failCount++
			continue
		}
		imageBytes, err := readArtifact(scene.ImagePath)
		if err != nil {
			scene.VideoWarning = fmt.Sprintf("could not read accepted image: %v", err)
			failCount++
			continue
		}
		if idx > 0 && script.Scenes[idx-1].FramePath != "" {
			if bridge, err := readArtifact(script.Scenes[idx-1].FramePath); err == nil {
				imageBytes = bridge
			}
		}

		sub, err := s.submitWithFallback(ctx, imageBytes, scene, styleProfile, cfg)
		if err != nil {
			scene.VideoWarning = err.Error()
			failCount++
			continue
		}

		outcomes := executor.PollUntilTerminal(ctx, []executor.PollableTask[*sceneSubmission]{{
			Handle: sub,
			Poll: func(ctx context.Context, h *sceneSubmission) (executor.PollStatus, any, string, error) {
				res, err := h.provider.Poll(ctx, h.handle)
				if err != nil {
					return executor.StatusFailed, nil, err.Error(), nil
				}
				switch res.Status {
				case providers.TaskReady:
					return executor.StatusReady, res.ClipBytes, "", nil
				case providers.TaskFailed:
					return executor.StatusFailed, nil, res.Reason, nil
				default:
					return executor.StatusPending, nil, "", nil
				}
			},
		}}, s.Backoff)

		outcome := outcomes[0]
		if outcome.Status != executor.StatusReady {
			scene.VideoWarning = fmt.Sprintf("motion provider %s failed: %s", sub.provider.Name(), outcome.Reason)
			failCount++
			continue
		}
		clipBytes := outcome.Result.([]byte)
		artifact, err := s.Artifacts.Put(projectID, models.ArtifactClip, fmt.Sprintf("scene-%d.mp4", scene.ID), clipBytes)
		if err != nil {
			scene.VideoWarning = fmt.Sprintf("failed to persist clip: %v", err)
			failCount++
			continue
		}
		scene.VideoPath = artifact.Path
		scene.VideoProvider = sub.provider.Name()

		if s.ExtractLastFrame != nil {
			if frame, err := s.ExtractLastFrame(clipBytes); err == nil {
				if frameArtifact, err := s.Artifacts.Put(projectID, models.ArtifactFrame, fmt.Sprintf("scene-%d-last.jpg", scene.ID), frame); err == nil {
					scene.FramePath = frameArtifact.Path
				}
			}
		}
	}
	if len(script.Scenes) > 0 && failCount*2 >= len(script.Scenes) {
		return fmt.Errorf("motion stage: %d/%d scenes failed, at or above the 50%% threshold", failCount, len(script.Scenes))
	}
	return nil
}

func (s *MotionStage) submitWithFallback(ctx context.Context, imageBytes []byte, scene *models.Scene, styleProfile *models.StyleProfile, cfg models.Config) (*sceneSubmission, error) {
	motionPrompt := composeMotionPrompt(scene, styleProfile)
	var lastErr error
	for _, provider := range s.Providers {
		if provider == nil {
			continue
		}
		handle, err := provider.Submit(ctx, providers.MotionRequest{
			Image:        imageBytes,
			MotionPrompt: motionPrompt,
			DurationS:    scene.DurationSeconds,
			AspectRatio:  string(cfg.AspectRatio),
		})
		if err != nil {
			lastErr = err
			continue // invalid-input/quota/other permanent errors all advance to the next provider
		}
		return &sceneSubmission{provider: provider, handle: handle}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no motion providers configured")
	}
	return nil, fmt.Errorf("all motion providers exhausted: %w", lastErr)
}

func composeMotionPrompt(scene *models.Scene, styleProfile *models.StyleProfile) string {
	prompt := scene.MotionPrompt
	if styleProfile != nil && styleProfile.Pacing != "" {
		prompt = fmt.Sprintf("%s\nPacing: %s.", prompt, styleProfile.Pacing)
	}
	return prompt
}
