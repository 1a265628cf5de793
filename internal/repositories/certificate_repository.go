package repositories

import (
	"database/sql"
	"time"

	"sii-rcv-service/internal/models"
)

type CertificateRepository interface {
	GetActiveCertificate(companyID int64, asOf time.Time) (*models.Certificate, error)
}

type certificateRepository struct {
	db *sql.DB
}

func NewCertificateRepository(db *sql.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

// GetActiveCertificate selects by validity window, not mere existence. When
// several certificates overlap the one expiring last wins. Returns nil when
// none covers asOf.
func (r *certificateRepository) GetActiveCertificate(companyID int64, asOf time.Time) (*models.Certificate, error) {
	cert := &models.Certificate{}
	query := `
		SELECT id, company_id, name, content, passphrase,
		       date_start, date_end, created_at, updated_at
		FROM certificates
		WHERE company_id = ?
		AND date_start <= ?
		AND date_end >= ?
		ORDER BY date_end DESC
		LIMIT 1
	`
	day := asOf.Format("2006-01-02")
	err := r.db.QueryRow(query, companyID, day, day).Scan(
		&cert.ID,
		&cert.CompanyID,
		&cert.Name,
		&cert.Content,
		&cert.Passphrase,
		&cert.DateStart,
		&cert.DateEnd,
		&cert.CreatedAt,
		&cert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cert, nil
}
