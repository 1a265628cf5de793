package sii

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// testBundle builds a self-signed client certificate and wraps it in a
// PKCS#12 bundle protected by password.
func testBundle(t *testing.T, password string) ([]byte, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "76123456-7", Organization: []string{"Empresa de Prueba"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	bundle, err := pkcs12.Modern2023.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return bundle, cert
}

func TestDecodeBundle(t *testing.T) {
	bundle, cert := testBundle(t, "secreto")

	kp, err := DecodeBundle(bundle, "secreto", false)
	require.NoError(t, err)

	tlsCert := kp.TLSCertificate()
	require.NotEmpty(t, tlsCert.Certificate)
	assert.Equal(t, cert.Raw, tlsCert.Certificate[0])
	assert.NotEmpty(t, kp.CertPEM())
	assert.NotEmpty(t, kp.KeyPEM())
}

func TestDecodeBundleBadPassphrase(t *testing.T) {
	bundle, _ := testBundle(t, "secreto")

	_, err := DecodeBundle(bundle, "equivocado", false)
	assert.ErrorIs(t, err, ErrBadPassphrase)

	// The legacy path must report the same sentinel, not a format error.
	_, err = DecodeBundle(bundle, "equivocado", true)
	assert.ErrorIs(t, err, ErrBadPassphrase)
}

func TestDecodeBundleGarbage(t *testing.T) {
	_, err := DecodeBundle([]byte("no es un pkcs12"), "secreto", false)
	assert.ErrorIs(t, err, ErrUnsupportedBundleFormat)
}

func TestDecodeBundleLegacyEncoding(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "76123456-7"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	bundle, err := pkcs12.LegacyDES.Encode(key, cert, nil, "secreto")
	require.NoError(t, err)

	kp, err := DecodeBundle(bundle, "secreto", true)
	require.NoError(t, err)
	assert.NotEmpty(t, kp.CertPEM())
}

func TestKeyPairWipe(t *testing.T) {
	bundle, _ := testBundle(t, "secreto")
	kp, err := DecodeBundle(bundle, "secreto", false)
	require.NoError(t, err)

	keyPEM := kp.KeyPEM()
	require.NotEmpty(t, keyPEM)

	kp.Wipe()

	assert.Nil(t, kp.CertPEM())
	assert.Nil(t, kp.KeyPEM())
	assert.Nil(t, kp.TLSCertificate().PrivateKey)
	for _, b := range keyPEM {
		require.Zero(t, b, "key material still readable after wipe")
	}
}
