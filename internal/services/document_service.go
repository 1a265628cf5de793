package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/repositories"
)

var (
	// ErrNoJournalConfigured means the company lacks a journal of the
	// required direction; nothing can be created for the book.
	ErrNoJournalConfigured = errors.New("no journal configured for direction")

	// ErrNoTaxDocumentType means the DTE catalog has no entry for a line's
	// document-type code.
	ErrNoTaxDocumentType = errors.New("unknown tax document type")

	// ErrNoCounterparty means counterparty resolution found nothing and the
	// policy forbids creating one.
	ErrNoCounterparty = errors.New("no counterparty for RUT")

	// ErrPostingFailed means the entry could not be created-and-posted, or
	// was posted but the line linkage write failed afterwards.
	ErrPostingFailed = errors.New("posting accounting entry failed")
)

// PartnerPolicy decides what happens when a line's RUT resolves to no known
// counterparty. Creating one on the fly is an explicit opt-in.
type PartnerPolicy string

const (
	PartnerPolicyRequire PartnerPolicy = "require"
	PartnerPolicyCreate  PartnerPolicy = "create"
)

// DocumentService creates and posts ledger entries for unmatched RCV lines.
type DocumentService struct {
	rcvRepo repositories.RcvRepository
	ledger  repositories.AccountingRepository
	log     *logrus.Logger
}

func NewDocumentService(
	rcvRepo repositories.RcvRepository,
	ledger repositories.AccountingRepository,
	log *logrus.Logger,
) *DocumentService {
	return &DocumentService{rcvRepo: rcvRepo, ledger: ledger, log: log}
}

type CreateResult struct {
	BookID  int64    `json:"book_id"`
	State   string   `json:"state"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// CreateDocuments builds and posts one entry per not_found line. Creation
// and posting are atomic per line; a line's failure is recorded and the
// batch continues. The book moves to posted once no line remains
// unreconciled.
func (s *DocumentService) CreateDocuments(ctx context.Context, bookID int64, policy PartnerPolicy) (*CreateResult, error) {
	book, err := s.rcvRepo.GetBookByID(bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	}

	lines, err := s.rcvRepo.GetLines(book.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEmptyBook, book.ID)
	}

	journalType := models.JournalTypeFor(book.RcvType)
	journal, err := s.ledger.FindJournal(book.CompanyID, journalType)
	if err != nil {
		return nil, err
	}
	if journal == nil {
		return nil, fmt.Errorf("%w: company %d, %s", ErrNoJournalConfigured, book.CompanyID, journalType)
	}

	result := &CreateResult{BookID: book.ID}
	unresolved := 0

	for _, line := range lines {
		if line.MatchState != models.MatchStateNotFound {
			if line.MatchState == models.MatchStateAmountDiff {
				unresolved++
			}
			result.Skipped++
			continue
		}

		if err := s.createForLine(ctx, book, journal, line, policy); err != nil {
			result.Failed++
			unresolved++
			msg := fmt.Sprintf("line %s/%s: %v", line.DocumentType, line.Folio, err)
			s.rcvRepo.AddLog(book.ID, models.LogLevelError, msg)
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, msg)
			}
			continue
		}
		result.Created++
	}

	if unresolved == 0 {
		if err := s.rcvRepo.SetBookState(book.ID, models.BookStatePosted); err != nil {
			return nil, err
		}
		book.State = models.BookStatePosted
	}
	result.State = book.State

	s.rcvRepo.AddLog(book.ID, models.LogLevelInfo,
		fmt.Sprintf("document creation: %d created, %d skipped, %d failed", result.Created, result.Skipped, result.Failed))

	return result, nil
}

func (s *DocumentService) createForLine(ctx context.Context, book *models.RcvBook, journal *models.Journal, line *models.RcvLine, policy PartnerPolicy) error {
	if _, ok := models.LookupDocumentType(line.DocumentType); !ok {
		return fmt.Errorf("%w: code %q", ErrNoTaxDocumentType, line.DocumentType)
	}

	partner, err := s.resolvePartner(line, policy)
	if err != nil {
		return err
	}

	entry := &models.AccountingEntry{
		CompanyID:    book.CompanyID,
		MoveType:     models.MoveTypeFor(book.RcvType, line.DocumentType),
		DocumentType: line.DocumentType,
		Folio:        line.Folio,
		PartnerID:    sql.NullInt64{Int64: partner.ID, Valid: true},
		PartnerVat:   partner.Vat,
		JournalID:    journal.ID,
		InvoiceDate:  line.InvoiceDate,
		Date:         line.AccountingDate,
		Ref:          fmt.Sprintf("RCV DTE %s Folio %s", line.DocumentType, line.Folio),
		Description:  fmt.Sprintf("%s %s", line.DocumentType, line.Folio),
		AmountNet:    line.NetAmount,
		AmountTax:    line.TaxAmount,
		AmountTotal:  line.TotalAmount,
	}

	if !line.TaxAmount.IsZero() {
		tax, err := s.ledger.FindTax(book.CompanyID, models.JournalTypeFor(book.RcvType))
		if err != nil {
			return err
		}
		if tax != nil {
			entry.TaxID = sql.NullInt64{Int64: tax.ID, Valid: true}
		}
	}

	if err := s.ledger.CreateAndPostEntry(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}

	link := sql.NullInt64{Int64: entry.ID, Valid: true}
	if err := s.rcvRepo.SetLineMatch(line.ID, models.MatchStateCreated, link); err != nil {
		// The entry is posted but the line link is not. Surface it loudly
		// rather than leaving an invisible orphan.
		s.log.WithFields(logrus.Fields{
			"book":  book.ID,
			"line":  line.ID,
			"entry": entry.ID,
		}).Error("entry posted but line linkage failed")
		return fmt.Errorf("%w: entry %d posted but line %d link failed: %v", ErrPostingFailed, entry.ID, line.ID, err)
	}
	line.MatchState = models.MatchStateCreated
	line.AccountMoveID = link
	return nil
}

func (s *DocumentService) resolvePartner(line *models.RcvLine, policy PartnerPolicy) (*models.Partner, error) {
	vat := models.NormalizeRUT(line.PartnerVat)
	if vat == "" {
		return nil, fmt.Errorf("%w: line has no RUT", ErrNoCounterparty)
	}

	partner, err := s.ledger.FindPartnerByVat(vat)
	if err != nil {
		return nil, err
	}
	if partner != nil {
		return partner, nil
	}

	if policy != PartnerPolicyCreate {
		return nil, fmt.Errorf("%w: %s", ErrNoCounterparty, vat)
	}

	name := line.PartnerName
	if name == "" {
		name = "RCV " + vat
	}
	partner = &models.Partner{Name: name, Vat: vat}
	if err := s.ledger.CreatePartner(partner); err != nil {
		return nil, err
	}
	return partner, nil
}
