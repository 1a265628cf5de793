package sii

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"sii-rcv-service/internal/config"
	"sii-rcv-service/internal/models"
)

// ErrAuthenticationFailed means the bootstrap sequence got a non-success
// response or finished without the expected session artifacts.
var ErrAuthenticationFailed = errors.New("sii authentication failed")

// BootstrapStep is one request of the login sequence. The SII changes this
// sequence between releases, so steps come from configuration.
type BootstrapStep struct {
	Method string
	URL    string
	Form   url.Values
}

// SessionConfig carries everything needed to bootstrap a session. RootCAs
// is optional and pins the authority's CA chain when set.
type SessionConfig struct {
	AuthURL     string
	TokenCookie string
	Steps       []BootstrapStep
	Timeout     time.Duration
	RootCAs     *x509.CertPool
}

// ParseSteps parses a configured step list of the form
// "GET https://host/a;POST https://host/b". An empty spec yields no steps.
func ParseSteps(spec string) ([]BootstrapStep, error) {
	var steps []BootstrapStep
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid bootstrap step %q, want \"METHOD URL\"", part)
		}
		method := strings.ToUpper(fields[0])
		if method != http.MethodGet && method != http.MethodPost {
			return nil, fmt.Errorf("invalid bootstrap step method %q", fields[0])
		}
		steps = append(steps, BootstrapStep{Method: method, URL: fields[1]})
	}
	return steps, nil
}

// Session is an authenticated mutual-TLS HTTP session against the SII. It is
// owned by exactly one import run and must be closed when the run ends.
type Session struct {
	Client *http.Client
	Token  string

	kp *KeyPair
}

// EstablishSession builds the mutual-TLS client and walks the bootstrap
// sequence. The session takes ownership of the keypair on success; on error
// the caller still owns it.
func EstablishSession(ctx context.Context, kp *KeyPair, cfg SessionConfig) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Jar:     jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{kp.TLSCertificate()},
				RootCAs:      cfg.RootCAs,
				MinVersion:   tls.VersionTLS12,
			},
		},
	}

	steps := cfg.Steps
	if len(steps) == 0 {
		steps = []BootstrapStep{{Method: http.MethodGet, URL: cfg.AuthURL}}
	}

	token := ""
	for _, step := range steps {
		var body io.Reader
		if step.Method == http.MethodPost && step.Form != nil {
			body = strings.NewReader(step.Form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, step.Method, step.URL, body)
		if err != nil {
			return nil, fmt.Errorf("%w: building request for %s: %v", ErrAuthenticationFailed, step.URL, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrAuthenticationFailed, step.Method, step.URL, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %s %s returned %d", ErrAuthenticationFailed, step.Method, step.URL, resp.StatusCode)
		}

		for _, c := range resp.Cookies() {
			if c.Name == cfg.TokenCookie {
				token = c.Value
			}
		}
	}

	if cfg.TokenCookie != "" && token == "" {
		return nil, fmt.Errorf("%w: session cookie %q not granted", ErrAuthenticationFailed, cfg.TokenCookie)
	}

	return &Session{Client: client, Token: token, kp: kp}, nil
}

// Close erases the key material and drops connections holding it. Must run
// on every exit path of the owning import call.
func (s *Session) Close() {
	if s.Client != nil {
		s.Client.CloseIdleConnections()
	}
	if s.kp != nil {
		s.kp.Wipe()
		s.kp = nil
	}
}

// Dialer turns a stored certificate into an authenticated session.
type Dialer struct {
	Config SessionConfig
	Legacy bool
}

// NewDialer builds a Dialer from service configuration.
func NewDialer(cfg config.SIIConfig) (*Dialer, error) {
	steps, err := ParseSteps(cfg.BootstrapSteps)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		Config: SessionConfig{
			AuthURL:     cfg.AuthURL,
			TokenCookie: cfg.TokenCookie,
			Steps:       steps,
			Timeout:     cfg.Timeout(),
		},
		Legacy: cfg.LegacyPKCS12,
	}, nil
}

// Dial decodes the certificate bundle and establishes the session. Key
// material is wiped on every failure path; on success the returned session
// owns it until Close.
func (d *Dialer) Dial(ctx context.Context, cert *models.Certificate) (*Session, error) {
	kp, err := DecodeBundle(cert.Content, cert.Passphrase, d.Legacy)
	if err != nil {
		return nil, err
	}
	session, err := EstablishSession(ctx, kp, d.Config)
	if err != nil {
		kp.Wipe()
		return nil, err
	}
	return session, nil
}
