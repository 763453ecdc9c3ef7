// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner

import (
	"context"
)

// undoFunc reverses one completed mutation.
type undoFunc func(ctx context.Context) error

// completedStep is one mutation that took effect on a remote system,
// together with the action that undoes it.
type completedStep struct {
	// action is a human-readable name of the mutation, used in rollback
	// reporting.
	action string
	// resource identifies what was created, so an operator can find it
	// if rollback fails.
	resource string
	undo     undoFunc
}

// transaction tracks the mutations of one provisioning run in the order
// they completed. It exists only for the duration of the run and drives
// rollback when a later step fails.
type transaction struct {
	steps []completedStep
}

// completed records a mutation that took effect.
func (t *transaction) completed(action, resource string, undo undoFunc) {
	t.steps = append(t.steps, completedStep{action: action, resource: resource, undo: undo})
}

// changed reports whether any remote state was modified.
func (t *transaction) changed() bool {
	return len(t.steps) > 0
}

// RollbackResult is the outcome of undoing one completed step.
type RollbackResult struct {
	// Action names the mutation that was reversed, e.g. "remove logical
	// volume".
	Action string
	// Resource identifies the remote resource involved.
	Resource string
	// Err is nil when the reversal succeeded. A failed reversal leaves
	// the resource behind for manual cleanup.
	Err error
}

// rollback reverses every completed step in strict reverse order. Each
// reversal is attempted exactly once regardless of earlier failures; the
// caller surfaces the collected results.
func (t *transaction) rollback(ctx context.Context) []RollbackResult {
	results := make([]RollbackResult, 0, len(t.steps))
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		err := step.undo(ctx)
		if err != nil {
			logger.Warningf("rollback of %s (%s) failed: %v", step.action, step.resource, err)
		} else {
			logger.Debugf("rolled back %s (%s)", step.action, step.resource)
		}
		results = append(results, RollbackResult{
			Action:   step.action,
			Resource: step.resource,
			Err:      err,
		})
	}
	t.steps = nil
	return results
}
