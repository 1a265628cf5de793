// Package sii implements the authenticated client side of the SII RCV
// integration: PKCS#12 decoding, the mutual-TLS session bootstrap, and the
// period fetch behind a pluggable transport.
package sii

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrBadPassphrase means the passphrase does not unlock the bundle.
	ErrBadPassphrase = errors.New("pkcs12 passphrase does not unlock bundle")

	// ErrUnsupportedBundleFormat means the bundle uses an algorithm the
	// decoder cannot negotiate. Legacy SII bundles sometimes need the
	// lenient decode path, enabled via SII_P12_LEGACY.
	ErrUnsupportedBundleFormat = errors.New("unsupported pkcs12 bundle format")
)

// KeyPair holds the decoded certificate and key material for one session.
// It never touches the filesystem; Wipe must be called on every exit path
// once the TLS client no longer needs it.
type KeyPair struct {
	certPEM []byte
	keyPEM  []byte
	tlsCert tls.Certificate
}

// DecodeBundle unlocks a PKCS#12 bundle into an in-memory keypair. With
// legacy enabled, bundles using pre-modern encryption algorithms are decoded
// through the lenient PEM path when the strict decoder rejects them.
func DecodeBundle(content []byte, passphrase string, legacy bool) (*KeyPair, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(content, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassphrase
		}
		if !legacy {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedBundleFormat, err)
		}
		return decodeLegacy(content, passphrase)
	}
	return newKeyPair(key, cert, caCerts)
}

// decodeLegacy converts the bundle via the deprecated PEM path, which
// accepts older encryption algorithms that DecodeChain refuses.
func decodeLegacy(content []byte, passphrase string) (*KeyPair, error) {
	blocks, err := pkcs12.ToPEM(content, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassphrase
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedBundleFormat, err)
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			if certPEM == nil {
				certPEM = pem.EncodeToMemory(b)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			keyPEM = pem.EncodeToMemory(b)
		}
	}
	if certPEM == nil || keyPEM == nil {
		return nil, fmt.Errorf("%w: bundle lacks certificate or key", ErrUnsupportedBundleFormat)
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedBundleFormat, err)
	}
	return &KeyPair{certPEM: certPEM, keyPEM: keyPEM, tlsCert: tlsCert}, nil
}

func newKeyPair(key interface{}, cert *x509.Certificate, caCerts []*x509.Certificate) (*KeyPair, error) {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedBundleFormat, err)
	}

	chain := [][]byte{cert.Raw}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	return &KeyPair{
		certPEM: certPEM,
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		tlsCert: tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: cert},
	}, nil
}

// TLSCertificate returns the client certificate for mutual TLS.
func (kp *KeyPair) TLSCertificate() tls.Certificate {
	return kp.tlsCert
}

// CertPEM returns the PEM-encoded certificate.
func (kp *KeyPair) CertPEM() []byte {
	return kp.certPEM
}

// KeyPEM returns the PEM-encoded private key.
func (kp *KeyPair) KeyPEM() []byte {
	return kp.keyPEM
}

// Wipe zeroes the PEM buffers and drops the key reference. The pair is
// unusable afterwards.
func (kp *KeyPair) Wipe() {
	for i := range kp.certPEM {
		kp.certPEM[i] = 0
	}
	for i := range kp.keyPEM {
		kp.keyPEM[i] = 0
	}
	kp.certPEM = nil
	kp.keyPEM = nil
	kp.tlsCert = tls.Certificate{}
}
