// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hmcrest is a read-only client for the HMC session API. It logs on
// for a session token, resolves managed systems, partitions and virtual I/O
// servers to their identifiers, and logs off again. Every mutating operation
// stays on the command channel; the public session API exposes none of the
// reconfiguration commands the provisioner needs.
package hmcrest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jujuhttp "github.com/juju/http/v2"
	"github.com/juju/loggo/v2"

	"github.com/juju/powervm/core/powervm"
)

var logger = loggo.GetLogger("powervm.hmcrest")

const (
	// ErrAuthentication is returned when the HMC rejects a logon.
	ErrAuthentication = errors.ConstError("HMC session logon rejected")

	// ErrSessionExpired is returned when a query fails with an expired
	// session even after one re-authentication.
	ErrSessionExpired = errors.ConstError("HMC session expired")
)

const (
	powervmNamespace = "http://www.ibm.com/xmlns/systems/power/firmware/web/mc/2012_10/"

	logonPath = "/rest/api/web/Logon"
	uomPath   = "/rest/api/uom"

	sessionHeader = "X-API-Session"

	logonRequestMIME  = "application/vnd.ibm.powervm.web+xml; type=LogonRequest"
	logonResponseMIME = "application/vnd.ibm.powervm.web+xml; type=LogonResponse"
)

// Transport performs one HTTP request; it matches the juju/http client.
type Transport interface {
	Do(*http.Request) (*http.Response, error)
}

// SessionConfig holds what a Session needs to reach one HMC.
type SessionConfig struct {
	// Host is the HMC hostname or address.
	Host string
	// Port is the session API port.
	Port int
	// Credentials authenticate the logon.
	Credentials powervm.Credentials

	// SkipTLSVerify allows the HMC's self-signed certificate. Without it
	// the TLS handshake fails; it is never assumed.
	SkipTLSVerify bool
	// Lifetime is how long a session token is trusted before
	// re-authenticating.
	Lifetime time.Duration
	// Clock times token expiry.
	Clock clock.Clock

	// BaseURL overrides the endpoint derived from Host and Port.
	BaseURL string
	// Transport overrides the HTTP client.
	Transport Transport
}

// Validate checks the config is complete.
func (c SessionConfig) Validate() error {
	if c.Host == "" && c.BaseURL == "" {
		return errors.NotValidf("empty host")
	}
	if err := c.Credentials.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Lifetime <= 0 {
		return errors.NotValidf("session lifetime %v", c.Lifetime)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil clock")
	}
	return nil
}

// Session is an authenticated HMC API session. It re-authenticates at most
// once per query when the HMC reports the token expired.
type Session struct {
	cfg       SessionConfig
	baseURL   string
	transport Transport

	mu     sync.Mutex
	token  string
	issued time.Time
}

// NewSession returns an unauthenticated Session; Logon establishes the
// token.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port)
	}
	transport := cfg.Transport
	if transport == nil {
		transport = jujuhttp.NewClient(
			jujuhttp.WithSkipHostnameVerification(cfg.SkipTLSVerify),
			jujuhttp.WithLogger(logger),
		)
	}
	return &Session{
		cfg:       cfg,
		baseURL:   baseURL,
		transport: transport,
	}, nil
}

type logonRequest struct {
	XMLName       xml.Name `xml:"LogonRequest"`
	Namespace     string   `xml:"xmlns,attr"`
	SchemaVersion string   `xml:"schemaVersion,attr"`
	UserID        string   `xml:"UserID"`
	Password      string   `xml:"Password"`
}

type logonResponse struct {
	XMLName xml.Name `xml:"LogonResponse"`
	Token   string   `xml:"X-API-Session"`
}

// Logon authenticates and stores the session token. Some HMC versions return
// the token only in the response body, so both the header and the body are
// consulted.
func (s *Session) Logon(ctx context.Context) error {
	body, err := xml.Marshal(logonRequest{
		Namespace:     powervmNamespace,
		SchemaVersion: "V1_0",
		UserID:        s.cfg.Credentials.Username,
		Password:      s.cfg.Credentials.Password,
	})
	if err != nil {
		return errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", s.baseURL+logonPath, strings.NewReader(xml.Header+string(body)))
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Content-Type", logonRequestMIME)
	req.Header.Set("Accept", logonResponseMIME)

	resp, err := s.transport.Do(req)
	if err != nil {
		return errors.Annotatef(err, "logging on to %s", s.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.WithType(
			errors.Errorf("logon to %s: HTTP %d", s.baseURL, resp.StatusCode), ErrAuthentication)
	}
	token := resp.Header.Get(sessionHeader)
	if token == "" {
		var lr logonResponse
		if err := xml.Unmarshal(data, &lr); err == nil {
			token = strings.TrimSpace(lr.Token)
		}
	}
	if token == "" {
		return errors.WithType(
			errors.Errorf("logon to %s returned no session token", s.baseURL), ErrAuthentication)
	}

	s.mu.Lock()
	s.token = token
	s.issued = s.cfg.Clock.Now()
	s.mu.Unlock()
	logger.Debugf("logged on to %s", s.baseURL)
	return nil
}

// Logoff invalidates the session token. Failures are logged, not returned;
// the token dies with its lifetime anyway.
func (s *Session) Logoff(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.mu.Unlock()
	if token == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, "DELETE", s.baseURL+logonPath, nil)
	if err != nil {
		logger.Warningf("building logoff request: %v", err)
		return
	}
	req.Header.Set(sessionHeader, token)
	resp, err := s.transport.Do(req)
	if err != nil {
		logger.Warningf("logging off %s: %v", s.baseURL, err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// expired reports whether the token has outlived its configured lifetime.
func (s *Session) expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == "" || s.cfg.Clock.Now().Sub(s.issued) >= s.cfg.Lifetime
}

// get fetches one feed, re-authenticating at most once when the token has
// expired locally or the HMC rejects it.
func (s *Session) get(ctx context.Context, path string) ([]byte, error) {
	if s.expired() {
		if err := s.Logon(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	data, status, err := s.getOnce(ctx, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// The HMC invalidated the token early. One fresh logon, then
		// give up.
		if err := s.Logon(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		if data, status, err = s.getOnce(ctx, path); err != nil {
			return nil, errors.Trace(err)
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, errors.WithType(
				errors.Errorf("GET %s: HTTP %d after re-authentication", path, status), ErrSessionExpired)
		}
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("GET %s: HTTP %d", path, status)
	}
	return data, nil
}

func (s *Session) getOnce(ctx context.Context, path string) ([]byte, int, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	req.Header.Set(sessionHeader, token)
	resp, err := s.transport.Do(req)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "GET %s", path)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return data, resp.StatusCode, nil
}
