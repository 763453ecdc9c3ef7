// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sshexec runs single commands over an authenticated SSH channel to
// the HMC. Every query and every mutation the provisioner performs goes
// through the Executor interface; the concrete client opens a fresh
// connection per call and never keeps state between commands.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"golang.org/x/crypto/ssh"
)

var logger = loggo.GetLogger("powervm.sshexec")

const (
	// ErrConnection is returned when the host is unreachable or rejects
	// our credentials.
	ErrConnection = errors.ConstError("cannot establish command channel")

	// ErrCommandTimeout is returned when a remote command exceeds the
	// configured execution timeout.
	ErrCommandTimeout = errors.ConstError("remote command timed out")
)

// Response carries everything a remote command produced. Stdout and Stderr
// are populated even when the command failed or timed out, so partial output
// is never lost.
type Response struct {
	Code   int
	Stdout string
	Stderr string
}

// Executor runs one remote command and reports its result. A non-zero exit
// status is returned as *ExitError with the Response attached.
type Executor interface {
	Run(ctx context.Context, command string) (Response, error)
}

// ExitError reports a remote command that ran to completion with a non-zero
// exit status.
type ExitError struct {
	Command  string
	Response Response
}

// Error implements error.
func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Response.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Response.Stdout)
	}
	return fmt.Sprintf("remote command %q failed (rc %d): %s", e.Command, e.Response.Code, msg)
}

// ClientConfig holds what the client needs to reach one host.
type ClientConfig struct {
	// Host is the target hostname or address, with an optional port
	// (defaulting to 22).
	Host string
	// Username and Password authenticate the session. HMCs commonly
	// answer with a keyboard-interactive prompt rather than plain
	// password auth, so both methods are offered.
	Username string
	Password string

	// ConnectTimeout bounds dialing and authenticating.
	ConnectTimeout time.Duration
	// CommandTimeout bounds a single command execution.
	CommandTimeout time.Duration
	// DialAttempts is how many times to dial before giving up.
	// Authentication rejections fail immediately.
	DialAttempts int

	// Clock is used for timeouts and retry delays.
	Clock clock.Clock
}

// Validate checks the config is complete enough to dial with.
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Username == "" {
		return errors.NotValidf("empty username")
	}
	if c.ConnectTimeout <= 0 {
		return errors.NotValidf("connect timeout %v", c.ConnectTimeout)
	}
	if c.CommandTimeout <= 0 {
		return errors.NotValidf("command timeout %v", c.CommandTimeout)
	}
	if c.DialAttempts < 1 {
		return errors.NotValidf("dial attempts %d", c.DialAttempts)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil clock")
	}
	return nil
}

// Client is an Executor over SSH.
type Client struct {
	cfg  ClientConfig
	addr string
}

// NewClient returns a Client for the configured host.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	addr := cfg.Host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}
	return &Client{cfg: cfg, addr: addr}, nil
}

// Run executes one command on the remote host. The connection is dialed,
// authenticated and torn down within the call.
func (c *Client) Run(ctx context.Context, command string) (Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Response{}, errors.Trace(err)
	}
	defer func() { _ = conn.Close() }()

	session, err := conn.NewSession()
	if err != nil {
		return Response{}, errors.WithType(
			errors.Annotatef(err, "opening session to %s", c.cfg.Host), ErrConnection)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logger.Tracef("running on %s: %s", c.cfg.Host, command)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-c.cfg.Clock.After(c.cfg.CommandTimeout):
		// Tear the connection down to unblock Run, then collect
		// whatever output made it across.
		_ = conn.Close()
		<-done
		resp := Response{Code: -1, Stdout: stdout.String(), Stderr: stderr.String()}
		return resp, errors.WithType(
			errors.Errorf("command %q on %s exceeded %v", command, c.cfg.Host, c.cfg.CommandTimeout),
			ErrCommandTimeout)
	}

	resp := Response{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return resp, nil
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		resp.Code = exitErr.ExitStatus()
		logger.Debugf("command on %s exited %d: %s", c.cfg.Host, resp.Code, command)
		return resp, &ExitError{Command: command, Response: resp}
	}
	// The channel broke mid-command: connection trouble, not a remote
	// failure.
	resp.Code = -1
	return resp, errors.WithType(
		errors.Annotatef(runErr, "running %q on %s", command, c.cfg.Host), ErrConnection)
}

// dial establishes and authenticates a connection, retrying transient dial
// failures with a short backoff. Rejected credentials are terminal.
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	sshConfig := &ssh.ClientConfig{
		User: c.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.cfg.Password),
			ssh.KeyboardInteractive(c.answerInteractive),
		},
		// The HMC's host key is not tracked anywhere we could verify
		// it against, matching the behaviour of the tooling this
		// replaces.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.ConnectTimeout,
	}

	var conn *ssh.Client
	err := retry.Call(retry.CallArgs{
		Clock:    c.cfg.Clock,
		Attempts: c.cfg.DialAttempts,
		Delay:    time.Second,
		Func: func() error {
			netConn, err := net.DialTimeout("tcp", c.addr, c.cfg.ConnectTimeout)
			if err != nil {
				return errors.Trace(err)
			}
			sshConn, chans, reqs, err := ssh.NewClientConn(netConn, c.addr, sshConfig)
			if err != nil {
				_ = netConn.Close()
				return errors.Trace(err)
			}
			conn = ssh.NewClient(sshConn, chans, reqs)
			return nil
		},
		IsFatalError: func(err error) bool {
			return isAuthError(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("dial %s attempt %d failed: %v", c.addr, attempt, lastError)
		},
		Stop: ctx.Done(),
	})
	if err != nil {
		if isAuthError(err) {
			return nil, errors.WithType(
				errors.Annotatef(err, "authentication to %s rejected", c.cfg.Host), ErrConnection)
		}
		return nil, errors.WithType(
			errors.Annotatef(err, "dialing %s", c.cfg.Host), ErrConnection)
	}
	return conn, nil
}

func (c *Client) answerInteractive(name, instruction string, questions []string, echos []bool) ([]string, error) {
	answers := make([]string, len(questions))
	for i := range questions {
		answers[i] = c.cfg.Password
	}
	return answers, nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ssh: unable to authenticate")
}
