package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// VeoMotion implements Motion via Google's Veo SDK, grounded on the
// a Veo long-running-operation client. The SDK's own operation object is the task
// handle's payload; Submit starts the operation, Poll fetches its latest
// state and downloads once done.
type VeoMotion struct {
	apiKey string
	model  string

	mu   map[string]*genai.GenerateVideosOperation
}

var _ Motion = (*VeoMotion)(nil)

func NewVeoMotion(apiKey, model string) *VeoMotion {
	if model == "" {
		model = "veo-3.1-generate-preview"
	}
	return &VeoMotion{apiKey: apiKey, model: model, mu: map[string]*genai.GenerateVideosOperation{}}
}

func (v *VeoMotion) Name() string { return "veo" }

func buildVeoPrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Generate subtle, natural, realistic movement: gentle drift, soft ambient motion, slow camera
push-in. Avoid jerky or cartoonish motion, and avoid changing the art style between frames.
No generated audio or dialogue. Silent video only.`, rawPrompt)
}

func (v *VeoMotion) Submit(ctx context.Context, req MotionRequest) (TaskHandle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: v.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return TaskHandle{}, &ProviderError{Kind: KindRetryable, Provider: "veo", UpstreamErr: err}
	}

	firstFrame := &genai.Image{ImageBytes: req.Image, MIMEType: req.ImageMIMEType}
	config := &genai.GenerateVideosConfig{
		AspectRatio:      req.AspectRatio,
		Resolution:       "1080p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	op, err := client.Models.GenerateVideos(ctx, v.model, buildVeoPrompt(req.MotionPrompt), firstFrame, config)
	if err != nil {
		return TaskHandle{}, &ProviderError{Kind: KindRetryable, Provider: "veo", UpstreamErr: err}
	}

	v.mu[op.Name] = op
	return TaskHandle{Provider: "veo", ID: op.Name}, nil
}

func (v *VeoMotion) Poll(ctx context.Context, handle TaskHandle) (PollResult, error) {
	op, ok := v.mu[handle.ID]
	if !ok {
		return errToPollFailure(fmt.Errorf("unknown veo operation %s", handle.ID)), nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: v.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return PollResult{Status: TaskPending}, nil
	}

	op, err = client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return PollResult{Status: TaskPending}, nil
	}
	v.mu[handle.ID] = op

	if !op.Done {
		return PollResult{Status: TaskPending}, nil
	}

	if op.Error != nil && len(op.Error) > 0 {
		errJSON, _ := json.Marshal(op.Error)
		return PollResult{Status: TaskFailed, Reason: string(errJSON)}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return PollResult{Status: TaskFailed, Reason: "no videos in completed operation"}, nil
	}
	if op.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(op.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(op.Response.RAIMediaFilteredReasons, ", ")
		}
		return PollResult{Status: TaskFailed, Reason: "filtered by safety review: " + reasons}, nil
	}

	video := op.Response.GeneratedVideos[0]
	if video.Video == nil {
		return PollResult{Status: TaskFailed, Reason: "generated video object is nil"}, nil
	}
	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	clipBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil || len(clipBytes) == 0 {
		return PollResult{Status: TaskFailed, Reason: fmt.Sprintf("download failed: %v", err)}, nil
	}
	return PollResult{Status: TaskReady, ClipBytes: clipBytes}, nil
}
