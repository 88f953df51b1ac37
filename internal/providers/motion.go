package providers

import (
	"context"
	"fmt"
)

// TaskStatus is the terminal-state enum a Motion provider's Poll returns.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskReady   TaskStatus = "ready"
	TaskFailed  TaskStatus = "failed"
)

// TaskHandle opaquely identifies a submitted async motion-generation job.
type TaskHandle struct {
	Provider string
	ID       string
}

// PollResult is the outcome of a single Poll call.
type PollResult struct {
	Status    TaskStatus
	ClipBytes []byte
	Reason    string
}

// MotionRequest bundles the provider-facing inputs for image-to-video
// generation: a still image, a motion prompt, duration in
// whole seconds, aspect ratio, and an optional negative prompt.
type MotionRequest struct {
	Image          []byte
	ImageMIMEType  string
	MotionPrompt   string
	DurationS      int
	AspectRatio    string
	NegativePrompt string
}

// Motion is the submit/poll contract for the
// {primary, fallback-1, fallback-2} provider-fallback chain.
type Motion interface {
	Name() string
	Submit(ctx context.Context, req MotionRequest) (TaskHandle, error)
	Poll(ctx context.Context, handle TaskHandle) (PollResult, error)
}

// errToPollFailure converts an error into a terminal PollResult so
// callers of the Motion Stage never have to distinguish a Poll-returned
// error from a Poll-returned TaskFailed — both end that scene's attempt.
// The Motion Stage moves on to the next provider only when Submit fails;
// a task that fails on Poll is not resubmitted to another provider.
func errToPollFailure(err error) PollResult {
	return PollResult{Status: TaskFailed, Reason: fmt.Sprintf("%v", err)}
}
