package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"sii-rcv-service/internal/models"
)

// AccountingRepository is the ledger collaborator surface: search posted
// entries, look up journals/taxes/partners, and create-and-post new entries.
// Existing entries are never mutated through it.
type AccountingRepository interface {
	FindPostedEntry(companyID int64, moveType, documentType, folio, partnerVat string) (*models.AccountingEntry, error)
	FindJournal(companyID int64, journalType string) (*models.Journal, error)
	FindTax(companyID int64, taxType string) (*models.Tax, error)
	FindPartnerByVat(vat string) (*models.Partner, error)
	CreatePartner(p *models.Partner) error
	CreateAndPostEntry(ctx context.Context, entry *models.AccountingEntry) error
}

type accountingRepository struct {
	db *sql.DB
}

func NewAccountingRepository(db *sql.DB) AccountingRepository {
	return &accountingRepository{db: db}
}

// FindPostedEntry matches by (company, move type, document type, folio) and
// filters by counterparty RUT only when one is given, since not all RCV rows
// carry it. Returns nil when nothing matches.
func (r *accountingRepository) FindPostedEntry(companyID int64, moveType, documentType, folio, partnerVat string) (*models.AccountingEntry, error) {
	query := `
		SELECT id, company_id, move_type, document_type, folio, partner_id,
		       partner_vat, journal_id, invoice_date, date, ref, description,
		       amount_net, amount_tax, amount_total, tax_id, state,
		       created_at, updated_at
		FROM accounting_entries
		WHERE company_id = ? AND move_type = ? AND document_type = ?
		AND folio = ? AND state = ?
	`
	args := []interface{}{companyID, moveType, documentType, folio, models.EntryStatePosted}
	if partnerVat != "" {
		query += " AND partner_vat = ?"
		args = append(args, partnerVat)
	}
	query += " LIMIT 1"

	entry := &models.AccountingEntry{}
	err := r.db.QueryRow(query, args...).Scan(
		&entry.ID,
		&entry.CompanyID,
		&entry.MoveType,
		&entry.DocumentType,
		&entry.Folio,
		&entry.PartnerID,
		&entry.PartnerVat,
		&entry.JournalID,
		&entry.InvoiceDate,
		&entry.Date,
		&entry.Ref,
		&entry.Description,
		&entry.AmountNet,
		&entry.AmountTax,
		&entry.AmountTotal,
		&entry.TaxID,
		&entry.State,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *accountingRepository) FindJournal(companyID int64, journalType string) (*models.Journal, error) {
	journal := &models.Journal{}
	err := r.db.QueryRow(`
		SELECT id, company_id, type, name
		FROM journals
		WHERE company_id = ? AND type = ?
		LIMIT 1
	`, companyID, journalType).Scan(
		&journal.ID,
		&journal.CompanyID,
		&journal.Type,
		&journal.Name,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return journal, nil
}

func (r *accountingRepository) FindTax(companyID int64, taxType string) (*models.Tax, error) {
	tax := &models.Tax{}
	err := r.db.QueryRow(`
		SELECT id, company_id, type, name, rate
		FROM taxes
		WHERE company_id = ? AND type = ?
		LIMIT 1
	`, companyID, taxType).Scan(
		&tax.ID,
		&tax.CompanyID,
		&tax.Type,
		&tax.Name,
		&tax.Rate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tax, nil
}

func (r *accountingRepository) FindPartnerByVat(vat string) (*models.Partner, error) {
	partner := &models.Partner{}
	err := r.db.QueryRow(`
		SELECT id, name, vat FROM partners WHERE vat = ? LIMIT 1
	`, vat).Scan(&partner.ID, &partner.Name, &partner.Vat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return partner, nil
}

func (r *accountingRepository) CreatePartner(p *models.Partner) error {
	result, err := r.db.Exec(`
		INSERT INTO partners (name, vat) VALUES (?, ?)
	`, p.Name, p.Vat)
	if err != nil {
		return err
	}
	p.ID, err = result.LastInsertId()
	return err
}

// CreateAndPostEntry inserts the entry in draft and posts it in the same
// transaction, so a posting failure can never leave an orphan draft behind.
func (r *accountingRepository) CreateAndPostEntry(ctx context.Context, entry *models.AccountingEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO accounting_entries (
			company_id, move_type, document_type, folio, partner_id,
			partner_vat, journal_id, invoice_date, date, ref, description,
			amount_net, amount_tax, amount_total, tax_id, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.CompanyID,
		entry.MoveType,
		entry.DocumentType,
		entry.Folio,
		entry.PartnerID,
		entry.PartnerVat,
		entry.JournalID,
		entry.InvoiceDate,
		entry.Date,
		entry.Ref,
		entry.Description,
		entry.AmountNet,
		entry.AmountTax,
		entry.AmountTotal,
		entry.TaxID,
		models.EntryStateDraft,
	)
	if err != nil {
		return fmt.Errorf("creating accounting entry: %w", err)
	}
	entry.ID, err = result.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounting_entries SET state = ?, updated_at = NOW() WHERE id = ?
	`, models.EntryStatePosted, entry.ID); err != nil {
		return fmt.Errorf("posting accounting entry %d: %w", entry.ID, err)
	}
	entry.State = models.EntryStatePosted

	return tx.Commit()
}
