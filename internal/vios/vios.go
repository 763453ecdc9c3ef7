// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package vios routes restricted-shell commands to a virtual I/O server.
// Normally they travel through the HMC's viosvrcmd passthrough; when the
// caller supplies a VIOS network address and credentials, they run directly
// against the VIOS instead.
package vios

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/powervm/internal/hmccmd"
	"github.com/juju/powervm/internal/sshexec"
)

// Runner executes one command in the VIOS restricted shell.
type Runner interface {
	RunVIOS(ctx context.Context, command string) (sshexec.Response, error)
}

// ConsoleRunner executes VIOS commands through the HMC's viosvrcmd
// passthrough, so only the console needs to be reachable.
type ConsoleRunner struct {
	Console       sshexec.Executor
	ManagedSystem string
	VIOS          string
}

// RunVIOS implements Runner.
func (r ConsoleRunner) RunVIOS(ctx context.Context, command string) (sshexec.Response, error) {
	resp, err := r.Console.Run(ctx, hmccmd.Viosvrcmd(r.ManagedSystem, r.VIOS, command))
	if err != nil {
		return resp, errors.Trace(err)
	}
	return resp, nil
}

// DirectRunner executes VIOS commands over a dedicated command channel to
// the VIOS's own address, using its restricted-shell credentials.
type DirectRunner struct {
	VIOS sshexec.Executor
}

// RunVIOS implements Runner.
func (r DirectRunner) RunVIOS(ctx context.Context, command string) (sshexec.Response, error) {
	resp, err := r.VIOS.Run(ctx, command)
	if err != nil {
		return resp, errors.Trace(err)
	}
	return resp, nil
}
