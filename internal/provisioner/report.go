// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner

import (
	"fmt"
	"strings"
)

// Stage identifies where in the forward sequence a provisioning run failed.
type Stage int

const (
	// StageAdapterPair covers the virtual SCSI server and client adapter
	// creation.
	StageAdapterPair Stage = iota + 1
	// StageVolume covers the logical volume creation.
	StageVolume
	// StageMapping covers locating the vhost and binding the volume to
	// it as a virtual target device.
	StageMapping
	// StageVerify covers the final mapping re-read.
	StageVerify
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageAdapterPair:
		return "adapter-pair"
	case StageVolume:
		return "volume"
	case StageMapping:
		return "mapping"
	case StageVerify:
		return "verify"
	}
	return fmt.Sprintf("stage-%d", int(s))
}

// Error is a provisioning failure: the stage that failed, the underlying
// cause and the result of rolling back every previously completed step. The
// message always names every remote resource that could not be cleaned up,
// so an operator can finish by hand.
type Error struct {
	// Stage is where the forward sequence stopped.
	Stage Stage
	// Cause is the error that stopped it.
	Cause error
	// Rollback holds one result per reversed step, in the order the
	// reversals ran (most recent mutation first). Empty when no mutation
	// had completed.
	Rollback []RollbackResult
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provisioning failed at stage %d (%s): %v", int(e.Stage), e.Stage, e.Cause)
	if len(e.Rollback) == 0 {
		b.WriteString("; nothing to roll back")
		return b.String()
	}
	if e.FullyRolledBack() {
		fmt.Fprintf(&b, "; rolled back %d completed steps", len(e.Rollback))
		return b.String()
	}
	b.WriteString("; rollback incomplete, clean up manually:")
	for _, r := range e.Rollback {
		if r.Err != nil {
			fmt.Fprintf(&b, " [%s %s: %v]", r.Action, r.Resource, r.Err)
		}
	}
	return b.String()
}

// Unwrap exposes the original failure for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// FullyRolledBack reports whether every reversal succeeded.
func (e *Error) FullyRolledBack() bool {
	for _, r := range e.Rollback {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Remaining lists the resources whose reversal failed and which therefore
// still exist on the remote systems.
func (e *Error) Remaining() []string {
	var left []string
	for _, r := range e.Rollback {
		if r.Err != nil {
			left = append(left, r.Resource)
		}
	}
	return left
}
