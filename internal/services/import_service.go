package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/certs"
	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/parser"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/sii"
)

var (
	// ErrBookNotFound means the referenced RCV book does not exist.
	ErrBookNotFound = errors.New("rcv book not found")

	// ErrEmptyBook means the book has no lines; it cannot be reconciled or
	// posted.
	ErrEmptyBook = errors.New("rcv book has no lines")
)

// SessionDialer produces an authenticated SII session from a stored
// certificate.
type SessionDialer interface {
	Dial(ctx context.Context, cert *models.Certificate) (*sii.Session, error)
}

// ImportService runs one RCV acquisition end to end: certificate, session,
// fetch, parse, persist. Persistence is all-or-nothing; transport, auth and
// certificate failures abort before any state is written.
type ImportService struct {
	certLoader *certs.Loader
	dialer     SessionDialer
	transport  sii.Transport
	rcvRepo    repositories.RcvRepository
	log        *logrus.Logger
}

func NewImportService(
	certLoader *certs.Loader,
	dialer SessionDialer,
	transport sii.Transport,
	rcvRepo repositories.RcvRepository,
	log *logrus.Logger,
) *ImportService {
	return &ImportService{
		certLoader: certLoader,
		dialer:     dialer,
		transport:  transport,
		rcvRepo:    rcvRepo,
		log:        log,
	}
}

type ImportRequest struct {
	CompanyID  int64  `json:"company_id"`
	CompanyRUT string `json:"company_rut"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	RcvType    string `json:"rcv_type"`
}

func (r ImportRequest) validate() error {
	if r.RcvType != models.RcvTypePurchase && r.RcvType != models.RcvTypeSale {
		return fmt.Errorf("invalid rcv_type %q", r.RcvType)
	}
	if r.Year < 2000 || r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("invalid period %d-%02d", r.Year, r.Month)
	}
	return nil
}

type ImportResult struct {
	BookID         int64  `json:"book_id"`
	RcvType        string `json:"rcv_type"`
	Lines          int    `json:"lines"`
	AmountDefaults int    `json:"amount_defaults"`
}

// Run imports one (company, period, type) book from the SII.
func (s *ImportService) Run(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	cert, err := s.certLoader.Active(req.CompanyID, time.Now())
	if err != nil {
		return nil, err
	}

	session, err := s.dialer.Dial(ctx, cert)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	s.log.WithFields(logrus.Fields{
		"company": req.CompanyID,
		"period":  fmt.Sprintf("%d-%02d", req.Year, req.Month),
		"type":    req.RcvType,
	}).Info("fetching RCV from SII")

	raw, err := s.transport.FetchRCV(ctx, session, req.CompanyRUT, req.Year, req.Month, req.RcvType)
	if err != nil {
		return nil, err
	}

	return s.importPayload(ctx, req, raw)
}

// RunFromFile imports a locally supplied SII CSV export, bypassing the
// remote fetch. Same parser, same book semantics.
func (s *ImportService) RunFromFile(ctx context.Context, req ImportRequest, payload []byte) (*ImportResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.importPayload(ctx, req, payload)
}

func (s *ImportService) importPayload(ctx context.Context, req ImportRequest, raw []byte) (*ImportResult, error) {
	records, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	lines := make([]*models.RcvLine, 0, len(records))
	defaults := 0
	for _, rec := range records {
		if rec.AmountDefaulted {
			defaults++
		}
		lines = append(lines, &models.RcvLine{
			DocumentType:    rec.DocumentType,
			Folio:           rec.Folio,
			PartnerVat:      rec.PartnerVat,
			PartnerName:     rec.PartnerName,
			InvoiceDate:     rec.IssueDate.Format("2006-01-02"),
			AccountingDate:  rec.ReceiptDate.Format("2006-01-02"),
			NetAmount:       rec.NetAmount,
			TaxAmount:       rec.TaxAmount,
			TotalAmount:     rec.TotalAmount,
			SiiStatus:       rec.SiiStatus,
			AmountDefaulted: rec.AmountDefaulted,
		})
	}

	book := &models.RcvBook{
		CompanyID: req.CompanyID,
		Year:      req.Year,
		Month:     req.Month,
		RcvType:   req.RcvType,
	}
	if err := s.rcvRepo.ImportBook(ctx, book, lines); err != nil {
		return nil, err
	}

	s.rcvRepo.AddLog(book.ID, models.LogLevelInfo,
		fmt.Sprintf("imported %d lines for %d-%02d %s", len(lines), req.Year, req.Month, req.RcvType))
	if defaults > 0 {
		s.rcvRepo.AddLog(book.ID, models.LogLevelWarning,
			fmt.Sprintf("%d lines had unparseable amounts defaulted to zero", defaults))
	}

	return &ImportResult{
		BookID:         book.ID,
		RcvType:        req.RcvType,
		Lines:          len(lines),
		AmountDefaults: defaults,
	}, nil
}
