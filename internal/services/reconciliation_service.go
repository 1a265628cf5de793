package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/matching"
	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/repositories"
)

// maxReportedErrors bounds the error detail carried back to the caller; the
// full picture stays in the book log.
const maxReportedErrors = 10

// ReconciliationService classifies a book's lines against the ledger. One
// line's failure never aborts the batch.
type ReconciliationService struct {
	rcvRepo repositories.RcvRepository
	ledger  repositories.AccountingRepository
	matcher *matching.Matcher
	log     *logrus.Logger
}

func NewReconciliationService(
	rcvRepo repositories.RcvRepository,
	ledger repositories.AccountingRepository,
	log *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		rcvRepo: rcvRepo,
		ledger:  ledger,
		matcher: matching.NewMatcher(),
		log:     log,
	}
}

type ReconcileResult struct {
	BookID     int64    `json:"book_id"`
	State      string   `json:"state"`
	Matched    int      `json:"matched"`
	AmountDiff int      `json:"amount_diff"`
	NotFound   int      `json:"not_found"`
	Created    int      `json:"created"`
	Failed     int      `json:"failed"`
	WasReset   bool     `json:"was_reset,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Reconcile classifies every unreconciled line of a book and moves the book
// to compared. If the book was already compared or posted but every linked
// ledger entry has since been deleted, it is reset to imported first.
func (s *ReconciliationService) Reconcile(bookID int64) (*ReconcileResult, error) {
	book, err := s.rcvRepo.GetBookByID(bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	}

	result := &ReconcileResult{BookID: book.ID}

	reset, err := s.maybeReset(book)
	if err != nil {
		return nil, err
	}
	result.WasReset = reset

	lines, err := s.rcvRepo.GetLines(book.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEmptyBook, book.ID)
	}

	for _, line := range lines {
		if line.MatchState == models.MatchStateCreated && line.AccountMoveID.Valid {
			result.Created++
			continue
		}

		state, entry, err := s.matcher.Classify(book, line, s.ledger)
		if err != nil {
			result.Failed++
			s.recordLineError(book.ID, result, fmt.Sprintf("line %s/%s: %v", line.DocumentType, line.Folio, err))
			continue
		}

		link := line.AccountMoveID
		link.Valid = false
		if entry != nil {
			link.Int64 = entry.ID
			link.Valid = true
		}
		if err := s.rcvRepo.SetLineMatch(line.ID, state, link); err != nil {
			result.Failed++
			s.recordLineError(book.ID, result, fmt.Sprintf("line %s/%s: saving match: %v", line.DocumentType, line.Folio, err))
			continue
		}

		switch state {
		case models.MatchStateMatched:
			result.Matched++
		case models.MatchStateAmountDiff:
			result.AmountDiff++
		default:
			result.NotFound++
		}
	}

	if book.State != models.BookStatePosted {
		if err := s.rcvRepo.SetBookState(book.ID, models.BookStateCompared); err != nil {
			return nil, err
		}
		book.State = models.BookStateCompared
	}
	result.State = book.State

	s.rcvRepo.AddLog(book.ID, models.LogLevelInfo, fmt.Sprintf(
		"reconciled: %d matched, %d amount_diff, %d not_found, %d created, %d failed",
		result.Matched, result.AmountDiff, result.NotFound, result.Created, result.Failed))

	return result, nil
}

// maybeReset reverts a compared/posted book whose linked entries have all
// vanished from the ledger, instead of leaving it wedged.
func (s *ReconciliationService) maybeReset(book *models.RcvBook) (bool, error) {
	if book.State != models.BookStateCompared && book.State != models.BookStatePosted {
		return false, nil
	}

	linked, existing, err := s.rcvRepo.CountExistingLinks(book.ID)
	if err != nil {
		return false, err
	}
	if linked == 0 || existing > 0 {
		return false, nil
	}

	if err := s.rcvRepo.ResetBook(book.ID); err != nil {
		return false, err
	}
	book.State = models.BookStateImported

	s.log.WithField("book", book.ID).Warn("all linked entries deleted externally, book reset to imported")
	s.rcvRepo.AddLog(book.ID, models.LogLevelWarning, "linked accounting entries no longer exist, book reset to imported")
	return true, nil
}

func (s *ReconciliationService) recordLineError(bookID int64, result *ReconcileResult, msg string) {
	s.rcvRepo.AddLog(bookID, models.LogLevelError, msg)
	if len(result.Errors) < maxReportedErrors {
		result.Errors = append(result.Errors, msg)
	}
}
