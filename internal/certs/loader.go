// Package certs selects the signing certificate to use for a company on a
// given date. Certificates are administered externally; this is read-only.
package certs

import (
	"errors"
	"fmt"
	"time"

	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/repositories"
)

var (
	// ErrCertificateNotFound means no certificate's validity window contains
	// the as-of date. An expired certificate is never silently used.
	ErrCertificateNotFound = errors.New("no valid certificate for company")

	// ErrCertificateIncomplete means the stored certificate lacks the bundle
	// bytes or the passphrase.
	ErrCertificateIncomplete = errors.New("certificate is missing bundle or passphrase")
)

type Loader struct {
	repo repositories.CertificateRepository
}

func NewLoader(repo repositories.CertificateRepository) *Loader {
	return &Loader{repo: repo}
}

// Active returns the certificate whose validity window contains asOf.
func (l *Loader) Active(companyID int64, asOf time.Time) (*models.Certificate, error) {
	cert, err := l.repo.GetActiveCertificate(companyID, asOf)
	if err != nil {
		return nil, fmt.Errorf("looking up certificate for company %d: %w", companyID, err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: company %d at %s", ErrCertificateNotFound, companyID, asOf.Format("2006-01-02"))
	}
	if len(cert.Content) == 0 || cert.Passphrase == "" {
		return nil, fmt.Errorf("%w: certificate %d", ErrCertificateIncomplete, cert.ID)
	}
	return cert, nil
}
