// Package orchestrator implements the State Machine: the single-writer-
// per-project driver that gates Image, Motion, and Assemble stages behind
// explicit operator approvals, dispatching each
// stage run to the background so the HTTP façade can return 202
// immediately, and serialising every read/write of ProjectState
// through the Artifact Store's sibling, the per-project StateStore lock.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/planner"
	"github.com/arcframe/reelforge/internal/stages"
	"github.com/arcframe/reelforge/internal/store"
)

// imageRunner/audioRunner/motionRunner/composer narrow the stages package
// to the one method the Orchestrator calls, the same seam the stages
// package uses internally for its own provider fakes, so orchestrator
// tests never need a real ffmpeg binary or provider credentials.
type imageRunner interface {
	Run(ctx context.Context, projectID string, seed int64, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error
}

type audioRunner interface {
	Run(ctx context.Context, projectID string, cfg models.Config, script *models.Script, appendWarning func(string)) (stages.AudioOutput, error)
}

type motionRunner interface {
	Run(ctx context.Context, projectID string, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error
}

type composer interface {
	Assemble(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio stages.AudioOutput) (*stages.ComposeResult, error)
	Remix(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio stages.AudioOutput, existingVideoOnlyPath string) (*stages.ComposeResult, error)
}

type planRunner interface {
	Plan(ctx context.Context, projectID string, seed int64, cfg models.Config, now time.Time) (*models.ProjectState, error)
}

// RemixOptions controls whether a Remix keeps, removes, or regenerates the
// non-VO audio layers; default is keep for both.
type RemixOptions struct {
	Sfx string `json:"sfx"` // "keep" | "remove" | "regenerate"
	Bgm string `json:"bgm"` // "keep" | "remove" | "regenerate"
}

func (o RemixOptions) sfxMode() string {
	if o.Sfx == "" {
		return "keep"
	}
	return o.Sfx
}

func (o RemixOptions) bgmMode() string {
	if o.Bgm == "" {
		return "keep"
	}
	return o.Bgm
}

// Orchestrator is the state-machine driver. A single instance is shared
// across all projects in the process: one project per process is a valid
// deployment, but nothing here prevents more.
type Orchestrator struct {
	States    *store.StateStore
	Artifacts *store.ArtifactStore
	Planner   planRunner
	Image     imageRunner
	Audio     audioRunner
	Motion    motionRunner
	Composer  composer
	Dispatch  Dispatcher
	Log       zerolog.Logger

	mu      sync.Mutex
	inflight map[string]context.CancelFunc
}

// New wires an Orchestrator for production use, dispatching stage jobs
// through a suture-supervised background loop. Tests construct the
// struct literal directly with an inline Dispatcher instead.
func New(states *store.StateStore, artifacts *store.ArtifactStore, p *planner.Planner, image *stages.ImageStage, audio *stages.AudioStage, motion *stages.MotionStage, comp *stages.Composer, dispatch Dispatcher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		States:    states,
		Artifacts: artifacts,
		Planner:   p,
		Image:     image,
		Audio:     audio,
		Motion:    motion,
		Composer:  comp,
		Dispatch:  dispatch,
		Log:       log,
		inflight:  map[string]context.CancelFunc{},
	}
}

func (o *Orchestrator) logger() zerolog.Logger {
	return o.Log
}

// markInflight records a cancellable context for projectID and reports
// whether a run was already inflight (the caller should then treat the
// request as a no-op property 5: "idempotence: re-POST of an
// approval endpoint while the stage is already running returns the
// current status without launching a second run").
func (o *Orchestrator) markInflight(projectID string) (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == nil {
		o.inflight = map[string]context.CancelFunc{}
	}
	if _, ok := o.inflight[projectID]; ok {
		return nil, true
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.inflight[projectID] = cancel
	return ctx, false
}

func (o *Orchestrator) clearInflight(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, projectID)
}

// Cancel signals the running stage for projectID, if any, for cooperative
// cancellation: in-flight provider calls run to completion, but new
// submissions stop and partial progress is persisted.
func (o *Orchestrator) Cancel(projectID string) error {
	o.mu.Lock()
	cancel, ok := o.inflight[projectID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no stage run in flight for project %s", projectID)
	}
	cancel()
	return nil
}

// GetStatus loads the persisted ProjectState, the read side of the
// single-writer contract.
func (o *Orchestrator) GetStatus(projectID string) (*models.ProjectState, error) {
	unlock := o.States.Lock(projectID)
	defer unlock()
	return o.States.Load(projectID)
}

// Plan runs the Planner synchronously end-to-end and persists the
// resulting planned ProjectState. seed is derived from the project id so
// repeated plans of the same id with identical config are independently
// reproducible, while distinct ids almost never share a seed.
func (o *Orchestrator) Plan(ctx context.Context, projectID string, cfg models.Config, now time.Time) (*models.ProjectState, error) {
	notes := cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := seedFromProjectID(projectID)
	state, err := o.Planner.Plan(ctx, projectID, seed, cfg, now)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	for _, note := range notes {
		state.AppendLog("[PHASE 1]", note, now)
	}
	state.AppendLog("[APPROVAL_GATE_1]", "plan ready for review", now)

	unlock := o.States.Lock(projectID)
	defer unlock()
	if err := o.States.Save(state); err != nil {
		return nil, fmt.Errorf("persist planned state: %w", err)
	}
	return state, nil
}

// seedFromProjectID derives a deterministic int64 seed from a project id
// so Plan never has to reach for a random source; this seed goes on to
// seed every image/motion generation for the project.
func seedFromProjectID(projectID string) int64 {
	var h uint64 = 14695981039346656037 // FNV-1a 64-bit offset basis
	for _, b := range []byte(projectID) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return int64(h >> 1)
}

// StartImageStage is the gate-1 Approve action: advances planned ->
// generating_images immediately, then runs the Image and Audio stages
// concurrently in the background (the generating_images gate covers both;
// audio's SFX/BGM survive on Script until the
// Composer needs them) and transitions to images_complete or back to
// planned on cancellation.
func (o *Orchestrator) StartImageStage(ctx context.Context, projectID string) (*models.ProjectState, error) {
	state, err := o.beginStage(projectID, models.StatusGeneratingImages, "[PHASE 2]", "image and audio generation started")
	if err != nil {
		return nil, err
	}
	if state == nil {
		// Already inflight: idempotent no-op, return current status.
		return o.GetStatus(projectID)
	}

	runCtx, already := o.markInflight(projectID)
	if already {
		return o.GetStatus(projectID)
	}

	job := newStageJob(func() {
		o.runImageAndAudio(runCtx, projectID)
	})
	o.Dispatch.Dispatch(job)
	return o.GetStatus(projectID)
}

func (o *Orchestrator) runImageAndAudio(ctx context.Context, projectID string) {
	defer o.clearInflight(projectID)

	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("load state for image stage")
		return
	}

	var wg sync.WaitGroup
	var imageErr, audioErr error
	var audioOut stages.AudioOutput
	var warnings []string
	var warnMu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		imageErr = o.Image.Run(ctx, projectID, state.Seed, state.StyleProfile, state.Config, state.Script)
	}()
	go func() {
		defer wg.Done()
		audioOut, audioErr = o.Audio.Run(ctx, projectID, state.Config, state.Script, func(msg string) {
			warnMu.Lock()
			warnings = append(warnings, msg)
			warnMu.Unlock()
		})
	}()
	wg.Wait()

	now := time.Now()
	unlock = o.States.Lock(projectID)
	defer unlock()
	state, err = o.States.Load(projectID)
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("reload state after image stage")
		return
	}

	for _, w := range warnings {
		state.AppendLog("[PHASE 2]", w, now)
	}

	if ctx.Err() != nil {
		// Cancelled: revert to the pre-stage status (images/audio are
		// cheap to retry in full), preserving whatever was persisted to
		// disk independent of ProjectState. Already-persisted images stay
		// on disk even as status reverts to planned.
		state.Status = models.StatusPlanned
		state.UpdatedAt = now
		state.AppendLog("[PHASE 2]", "image/audio stage cancelled, reverted to planned", now)
		_ = o.States.Save(state)
		return
	}

	if imageErr != nil {
		o.fail(state, "image", imageErr, now)
		return
	}
	if audioErr != nil {
		o.fail(state, "audio", audioErr, now)
		return
	}

	if audioOut.SFXPaths != nil {
		state.Script.SFXPaths = audioOut.SFXPaths
	}
	state.Script.BGMPath = audioOut.BGMPath

	state.Status = models.StatusImagesComplete
	state.UpdatedAt = now
	state.AppendLog("[APPROVAL_GATE_2]", "images and audio ready for review", now)
	if err := o.States.Save(state); err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("persist images_complete")
	}
}

// motionAspectSupported rejects aspect/resolution combinations the
// configured motion providers cannot animate, at generate/videos entry.
// Square framing is excluded: neither the REST
// motion provider nor Veo's documented presets offer a 1:1 output mode.
func motionAspectSupported(cfg models.Config) bool {
	return cfg.AspectRatio != models.Aspect1x1
}

// StartMotionStage is the gate-2 Approve action. It resumes rather than
// restarts: only scenes still missing a video_path are re-submitted, so a
// subsequent POST /generate/videos after a partial failure resumes just
// the scenes that never got a clip.
func (o *Orchestrator) StartMotionStage(ctx context.Context, projectID string) (*models.ProjectState, error) {
	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !models.CanTransition(state.Status, models.StatusGeneratingVideos) && state.Status != models.StatusGeneratingVideos {
		return nil, &models.TransitionError{From: state.Status, To: models.StatusGeneratingVideos}
	}
	if !motionAspectSupported(state.Config) {
		return nil, &models.ProjectError{Kind: "invalid_input", Stage: "motion", Detail: fmt.Sprintf("aspect_ratio %q is not supported by the configured motion providers", state.Config.AspectRatio)}
	}

	runCtx, already := o.markInflight(projectID)
	if already {
		return o.GetStatus(projectID)
	}

	if state.Status != models.StatusGeneratingVideos {
		now := time.Now()
		state.Status = models.StatusGeneratingVideos
		state.UpdatedAt = now
		state.AppendLog("[PHASE 3]", "motion generation started", now)
		unlock := o.States.Lock(projectID)
		err := o.States.Save(state)
		unlock()
		if err != nil {
			o.clearInflight(projectID)
			return nil, fmt.Errorf("persist generating_videos: %w", err)
		}
	}

	job := newStageJob(func() {
		o.runMotion(runCtx, projectID)
	})
	o.Dispatch.Dispatch(job)
	return o.GetStatus(projectID)
}

func (o *Orchestrator) runMotion(ctx context.Context, projectID string) {
	defer o.clearInflight(projectID)

	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("load state for motion stage")
		return
	}

	pending := &models.Script{Mood: state.Script.Mood, SFXPaths: state.Script.SFXPaths, BGMPath: state.Script.BGMPath}
	for _, scene := range state.Script.Scenes {
		if scene.VideoPath == "" {
			pending.Scenes = append(pending.Scenes, scene)
		}
	}
	pending.Lines = state.Script.Lines

	var runErr error
	if len(pending.Scenes) > 0 {
		runErr = o.Motion.Run(ctx, projectID, state.StyleProfile, state.Config, pending)
	}

	now := time.Now()
	unlock = o.States.Lock(projectID)
	defer unlock()
	state, err = o.States.Load(projectID)
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("reload state after motion stage")
		return
	}

	for _, scene := range pending.Scenes {
		if existing := state.SceneByID(scene.ID); existing != nil {
			*existing = scene
		}
	}

	if ctx.Err() != nil {
		// Motion is slow and submit/poll based: parking at
		// generating_videos (rather than reverting) preserves whatever
		// scenes already went ready, scenario 5.
		state.UpdatedAt = now
		state.AppendLog("[PHASE 3]", "motion stage cancelled, partial progress persisted", now)
		_ = o.States.Save(state)
		return
	}

	if runErr != nil {
		o.fail(state, "motion", runErr, now)
		return
	}

	state.Status = models.StatusVideosComplete
	state.UpdatedAt = now
	state.AppendLog("[APPROVAL_GATE_3]", "videos ready for review", now)
	if err := o.States.Save(state); err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("persist videos_complete")
	}
}

// StartAssemble is the gate-3 Approve action.
func (o *Orchestrator) StartAssemble(ctx context.Context, projectID string) (*models.ProjectState, error) {
	state, err := o.beginStage(projectID, models.StatusAssembling, "[PHASE 4]", "assembly started")
	if err != nil {
		return nil, err
	}
	if state == nil {
		return o.GetStatus(projectID)
	}

	runCtx, already := o.markInflight(projectID)
	if already {
		return o.GetStatus(projectID)
	}

	job := newStageJob(func() {
		o.runAssemble(runCtx, projectID)
	})
	o.Dispatch.Dispatch(job)
	return o.GetStatus(projectID)
}

func (o *Orchestrator) runAssemble(ctx context.Context, projectID string) {
	defer o.clearInflight(projectID)

	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("load state for assemble")
		return
	}

	audio := stages.AudioOutput{SFXPaths: state.Script.SFXPaths, BGMPath: state.Script.BGMPath}
	result, err := o.Composer.Assemble(ctx, projectID, state.Config, state.Script, audio)

	now := time.Now()
	unlock = o.States.Lock(projectID)
	defer unlock()
	state, loadErr := o.States.Load(projectID)
	if loadErr != nil {
		o.logger().Error().Err(loadErr).Str("project_id", projectID).Msg("reload state after assemble")
		return
	}

	if ctx.Err() != nil {
		state.Status = models.StatusVideosComplete
		state.UpdatedAt = now
		state.AppendLog("[PHASE 4]", "assembly cancelled, reverted to videos_complete", now)
		_ = o.States.Save(state)
		return
	}

	if err != nil {
		o.fail(state, "assemble", err, now)
		return
	}

	state.VideoOnlyPath = result.VideoOnlyPath
	state.AudioMixPath = result.AudioMixPath
	state.FinalVideoPath = result.FinalPath
	state.Status = models.StatusCompleted
	state.UpdatedAt = now
	state.AppendLog("[PHASE 4]", "assembly complete", now)
	if err := o.States.Save(state); err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("persist completed")
	}
}

// Remix reruns only the Audio stage and Composer on an already-completed
// project, reusing the existing video_only.mp4
// without touching scene.image_path or scene.video_path.
func (o *Orchestrator) Remix(ctx context.Context, projectID string, newScript *models.Script, options RemixOptions) (*models.ProjectState, error) {
	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !models.CanTransition(state.Status, models.StatusRemixingAudio) {
		return nil, &models.TransitionError{From: state.Status, To: models.StatusRemixingAudio}
	}
	if state.VideoOnlyPath == "" {
		return nil, fmt.Errorf("project %s has no video_only.mp4 to remix", projectID)
	}

	runCtx, already := o.markInflight(projectID)
	if already {
		return o.GetStatus(projectID)
	}

	now := time.Now()
	cfg := state.Config
	cfg.IncludeSFX = cfg.IncludeSFX && options.sfxMode() == "regenerate"
	cfg.IncludeBGM = cfg.IncludeBGM && options.bgmMode() == "regenerate"

	prior := state.Script
	state.Script = newScript
	if prior != nil {
		// Visuals and the existing non-VO mix carry over; runRemix then
		// keeps, removes, or regenerates SFX/BGM per options.
		state.Script.SFXPaths = prior.SFXPaths
		state.Script.BGMPath = prior.BGMPath
		for i := range state.Script.Scenes {
			for _, old := range prior.Scenes {
				if old.ID == state.Script.Scenes[i].ID {
					state.Script.Scenes[i].ImagePath = old.ImagePath
					state.Script.Scenes[i].VideoPath = old.VideoPath
				}
			}
		}
	}
	state.Status = models.StatusRemixingAudio
	state.Config = cfg
	state.UpdatedAt = now
	state.AppendLog("[PHASE 5]", "remix started", now)
	unlock = o.States.Lock(projectID)
	saveErr := o.States.Save(state)
	unlock()
	if saveErr != nil {
		o.clearInflight(projectID)
		return nil, fmt.Errorf("persist remixing_audio: %w", saveErr)
	}

	job := newStageJob(func() {
		o.runRemix(runCtx, projectID, options)
	})
	o.Dispatch.Dispatch(job)
	return o.GetStatus(projectID)
}

func (o *Orchestrator) runRemix(ctx context.Context, projectID string, options RemixOptions) {
	defer o.clearInflight(projectID)

	unlock := o.States.Lock(projectID)
	state, err := o.States.Load(projectID)
	unlock()
	if err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("load state for remix")
		return
	}

	priorSFX := state.Script.SFXPaths
	priorBGM := state.Script.BGMPath

	audioOut, err := o.Audio.Run(ctx, projectID, state.Config, state.Script, func(msg string) {
		state.AppendLog("[PHASE 5]", msg, time.Now())
	})
	if err == nil {
		switch options.sfxMode() {
		case "remove":
			audioOut.SFXPaths = map[int]string{}
		case "keep":
			audioOut.SFXPaths = priorSFX
		}
		switch options.bgmMode() {
		case "remove":
			audioOut.BGMPath = ""
		case "keep":
			audioOut.BGMPath = priorBGM
		}
	}

	var result *stages.ComposeResult
	if err == nil {
		result, err = o.Composer.Remix(ctx, projectID, state.Config, state.Script, audioOut, state.VideoOnlyPath)
	}

	now := time.Now()
	unlock = o.States.Lock(projectID)
	defer unlock()
	state, loadErr := o.States.Load(projectID)
	if loadErr != nil {
		o.logger().Error().Err(loadErr).Str("project_id", projectID).Msg("reload state after remix")
		return
	}

	if ctx.Err() != nil {
		state.Status = models.StatusCompleted
		state.UpdatedAt = now
		state.AppendLog("[PHASE 5]", "remix cancelled, reverted to completed", now)
		_ = o.States.Save(state)
		return
	}

	if err != nil {
		o.fail(state, "remix", err, now)
		return
	}

	state.Script.SFXPaths = audioOut.SFXPaths
	state.Script.BGMPath = audioOut.BGMPath
	state.AudioMixPath = result.AudioMixPath
	state.FinalVideoPath = result.FinalPath
	state.Status = models.StatusCompleted
	state.UpdatedAt = now
	state.AppendLog("[PHASE 5]", "remix complete", now)
	if err := o.States.Save(state); err != nil {
		o.logger().Error().Err(err).Str("project_id", projectID).Msg("persist remix completed")
	}
}

// Reset drops a project back to initialized by constructing a fresh
// ProjectState rather than moving through CanTransition (models.go licenses
// this: "Failed is terminal... except an explicit Reset, which callers
// perform by constructing a fresh ProjectState").
func (o *Orchestrator) Reset(projectID string) (*models.ProjectState, error) {
	unlock := o.States.Lock(projectID)
	defer unlock()
	existing, err := o.States.Load(projectID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	fresh := &models.ProjectState{
		ID:        projectID,
		Status:    models.StatusInitialized,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now(),
		Config:    existing.Config,
	}
	fresh.AppendLog("[PHASE 0]", "project reset", fresh.UpdatedAt)
	if err := o.States.Save(fresh); err != nil {
		return nil, fmt.Errorf("persist reset: %w", err)
	}
	return fresh, nil
}

// beginStage validates the gate and, if open, immediately transitions and
// persists the in-progress status before returning state for the caller
// to dispatch work against. A nil, nil return means a run is already
// inflight for this project and the caller should treat this as the
// idempotent no-op of property 5.
func (o *Orchestrator) beginStage(projectID string, to models.ProjectStatus, tag, msg string) (*models.ProjectState, error) {
	unlock := o.States.Lock(projectID)
	defer unlock()

	state, err := o.States.Load(projectID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state.Status == to {
		// Already mid-stage: idempotent no-op (markInflight handles the
		// actual dedup; this covers the case where a prior run advanced
		// the status but the process restarted before clearing inflight).
		return nil, nil
	}
	if !models.CanTransition(state.Status, to) {
		return nil, &models.TransitionError{From: state.Status, To: to}
	}

	now := time.Now()
	state.Status = to
	state.UpdatedAt = now
	state.AppendLog(tag, msg, now)
	if err := o.States.Save(state); err != nil {
		return nil, fmt.Errorf("persist %s: %w", to, err)
	}
	return state, nil
}

func (o *Orchestrator) fail(state *models.ProjectState, stage string, err error, now time.Time) {
	state.Status = models.StatusFailed
	state.UpdatedAt = now
	state.Error = &models.ProjectError{Kind: "fatal", Stage: stage, Detail: err.Error()}
	state.AppendLog("[FAILURE]", fmt.Sprintf("%s stage failed: %v", stage, err), now)
	if saveErr := o.States.Save(state); saveErr != nil {
		o.logger().Error().Err(saveErr).Str("project_id", state.ID).Msg("persist failed state")
	}
}
