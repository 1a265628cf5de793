package sii

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps("GET https://host/a; POST https://host/b")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, http.MethodGet, steps[0].Method)
	assert.Equal(t, "https://host/a", steps[0].URL)
	assert.Equal(t, http.MethodPost, steps[1].Method)

	steps, err = ParseSteps("")
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = ParseSteps("FETCH https://host/a")
	assert.Error(t, err)

	_, err = ParseSteps("GET")
	assert.Error(t, err)
}

// authorityStub is a TLS server that demands a client certificate and grants
// a session cookie, mimicking the SII login endpoint.
func authorityStub(t *testing.T, kp *KeyPair, handler http.Handler) (*httptest.Server, SessionConfig) {
	t.Helper()

	clientCAs := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(kp.TLSCertificate().Certificate[0])
	require.NoError(t, err)
	clientCAs.AddCert(leaf)

	srv := httptest.NewUnstartedServer(handler)
	srv.TLS = &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  clientCAs,
		MinVersion: tls.VersionTLS12,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	rootCAs := x509.NewCertPool()
	rootCAs.AddCert(srv.Certificate())

	return srv, SessionConfig{
		AuthURL:     srv.URL + "/login",
		TokenCookie: "CSESSIONID",
		Timeout:     5 * time.Second,
		RootCAs:     rootCAs,
	}
}

func decodeTestKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	bundle, _ := testBundle(t, "secreto")
	kp, err := DecodeBundle(bundle, "secreto", false)
	require.NoError(t, err)
	return kp
}

func TestEstablishSession(t *testing.T) {
	kp := decodeTestKeyPair(t)

	var sawClientCert bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawClientCert = r.TLS != nil && len(r.TLS.PeerCertificates) > 0
		http.SetCookie(w, &http.Cookie{Name: "CSESSIONID", Value: "tok-123"})
		w.WriteHeader(http.StatusOK)
	})
	_, cfg := authorityStub(t, kp, handler)

	session, err := EstablishSession(context.Background(), kp, cfg)
	require.NoError(t, err)
	defer session.Close()

	assert.True(t, sawClientCert, "server never saw the client certificate")
	assert.Equal(t, "tok-123", session.Token)
}

func TestEstablishSessionMultiStep(t *testing.T) {
	kp := decodeTestKeyPair(t)

	var order []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/referencia" {
			http.SetCookie(w, &http.Cookie{Name: "CSESSIONID", Value: "tok-456"})
		}
		w.WriteHeader(http.StatusOK)
	})
	srv, cfg := authorityStub(t, kp, handler)

	cfg.Steps = []BootstrapStep{
		{Method: http.MethodGet, URL: srv.URL + "/inicio"},
		{Method: http.MethodPost, URL: srv.URL + "/referencia"},
	}

	session, err := EstablishSession(context.Background(), kp, cfg)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, []string{"GET /inicio", "POST /referencia"}, order)
	assert.Equal(t, "tok-456", session.Token)
}

func TestEstablishSessionRejected(t *testing.T) {
	kp := decodeTestKeyPair(t)
	defer kp.Wipe()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, cfg := authorityStub(t, kp, handler)

	_, err := EstablishSession(context.Background(), kp, cfg)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEstablishSessionMissingCookie(t *testing.T) {
	kp := decodeTestKeyPair(t)
	defer kp.Wipe()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, cfg := authorityStub(t, kp, handler)

	_, err := EstablishSession(context.Background(), kp, cfg)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSessionCloseWipesKeyPair(t *testing.T) {
	kp := decodeTestKeyPair(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "CSESSIONID", Value: "tok"})
	})
	_, cfg := authorityStub(t, kp, handler)

	session, err := EstablishSession(context.Background(), kp, cfg)
	require.NoError(t, err)

	session.Close()
	assert.Nil(t, kp.KeyPEM())
}
