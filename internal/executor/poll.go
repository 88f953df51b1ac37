package executor

import (
	"context"
	"time"
)

// PollableTask is anything that exposes the submit-then-poll shape: an
// opaque handle plus repeatable polling for a terminal status. It is
// satisfied by providers.Motion once a handle has been produced, keeping
// this package decoupled from the providers package.
type PollableTask[H any] struct {
	Handle H
	Poll   func(ctx context.Context, handle H) (status PollStatus, result any, reason string, err error)
}

// PollStatus is the three-way terminal/non-terminal signal a Poll
// function reports back each round.
type PollStatus int

const (
	StatusPending PollStatus = iota
	StatusReady
	StatusFailed
)

// PollOutcome is one task's final resolution once PollUntilTerminal
// returns.
type PollOutcome struct {
	Result any
	Reason string
	Status PollStatus
}

// PollUntilTerminal implements "submit all, then poll each
// with exponential backoff until all terminal": every task is polled on
// the same round-robin cadence (the wait grows by policy.Multiplier after
// each round that leaves tasks pending, capped at policy.Max), so one slow provider
// does not starve the backoff schedule of the others. Terminal tasks drop
// out of subsequent rounds. Context cancellation marks all still-pending
// tasks as failed with the context error as the reason.
func PollUntilTerminal[H any](ctx context.Context, tasks []PollableTask[H], policy BackoffPolicy) []PollOutcome {
	outcomes := make([]PollOutcome, len(tasks))
	pending := make([]int, 0, len(tasks))
	for i := range tasks {
		pending = append(pending, i)
	}

	wait := policy.Initial

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			for _, idx := range pending {
				outcomes[idx] = PollOutcome{Status: StatusFailed, Reason: err.Error()}
			}
			return outcomes
		}

		stillPending := pending[:0]
		for _, idx := range pending {
			status, result, reason, err := tasks[idx].Poll(ctx, tasks[idx].Handle)
			if err != nil {
				status = StatusFailed
				reason = err.Error()
			}
			switch status {
			case StatusReady:
				outcomes[idx] = PollOutcome{Status: StatusReady, Result: result}
			case StatusFailed:
				outcomes[idx] = PollOutcome{Status: StatusFailed, Reason: reason}
			default:
				stillPending = append(stillPending, idx)
			}
		}
		pending = stillPending
		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			continue
		case <-time.After(wait):
		}
		wait = policy.next(wait)
	}
	return outcomes
}
