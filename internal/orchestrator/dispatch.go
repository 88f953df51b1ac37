package orchestrator

import (
	"context"

	"github.com/thejerf/suture/v4"
)

// Dispatcher hands a one-shot background job to whatever runs it. The
// production implementation is suture-backed (background dispatch
// supervision, tests substitute one that runs jobs inline.
type Dispatcher interface {
	Dispatch(job suture.Service)
}

// SutureDispatcher adds each stage job to a supervisor whose Serve loop is
// already running (owned by cmd/server, following the common pattern of
// starting long-lived background work in its own goroutine from main and
// stopping it on shutdown signal). Unlike the services suture usually
// supervises, a stage job is one-shot: it always returns
// suture.ErrDoNotRestart so a failed or cancelled stage run is never
// silently retried behind the orchestrator's back — retries are the
// Image/Motion stages' own bounded-retry loops, not suture's restart
// policy.
type SutureDispatcher struct {
	Supervisor *suture.Supervisor
}

func (d *SutureDispatcher) Dispatch(job suture.Service) {
	d.Supervisor.Add(job)
}

// stageJob adapts a plain run func into a suture.Service for one dispatch.
// run closes over its own cancellable context (tracked in the
// orchestrator's in-flight map for Cancel) rather than using the one
// suture's Serve passes in, since that context belongs to the
// supervisor's lifetime, not any one project's. done is closed after run
// returns, letting tests (or an inline dispatcher) observe completion
// without polling ProjectState.
type stageJob struct {
	run  func()
	done chan struct{}
}

func newStageJob(run func()) *stageJob {
	return &stageJob{run: run, done: make(chan struct{})}
}

func (j *stageJob) Serve(ctx context.Context) error {
	defer close(j.done)
	j.run()
	return suture.ErrDoNotRestart
}

// inlineDispatcher runs jobs synchronously in the calling goroutine,
// grounded on the same stageJob contract the suture-backed dispatcher
// uses, for tests that want deterministic completion without standing up
// a supervisor.
type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(job suture.Service) {
	_ = job.Serve(context.Background())
}

// NewInlineDispatcher returns a Dispatcher that runs every job synchronously
// in the calling goroutine. Exported for httpapi and other callers that need
// a deterministic Orchestrator in tests without standing up a supervisor.
func NewInlineDispatcher() Dispatcher {
	return inlineDispatcher{}
}
