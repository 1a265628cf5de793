package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/sii"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type bookKey struct {
	companyID   int64
	year, month int
	rcvType     string
}

// fakeRcvRepo is an in-memory RcvRepository with the same compound-operation
// semantics as the MySQL implementation. It consults the ledger fake for
// link existence, like the SQL join does.
type fakeRcvRepo struct {
	books      map[int64]*models.RcvBook
	byKey      map[bookKey]int64
	lines      map[int64][]*models.RcvLine
	logs       map[int64][]*models.RcvLog
	ledger     *fakeAccountingRepo
	nextBookID int64
	nextLineID int64

	importErr error
	matchErr  error
}

func newFakeRcvRepo(ledger *fakeAccountingRepo) *fakeRcvRepo {
	return &fakeRcvRepo{
		books:  make(map[int64]*models.RcvBook),
		byKey:  make(map[bookKey]int64),
		lines:  make(map[int64][]*models.RcvLine),
		logs:   make(map[int64][]*models.RcvLog),
		ledger: ledger,
	}
}

func (f *fakeRcvRepo) GetBook(companyID int64, year, month int, rcvType string) (*models.RcvBook, error) {
	id, ok := f.byKey[bookKey{companyID, year, month, rcvType}]
	if !ok {
		return nil, nil
	}
	return f.books[id], nil
}

func (f *fakeRcvRepo) GetBookByID(id int64) (*models.RcvBook, error) {
	return f.books[id], nil
}

func (f *fakeRcvRepo) ImportBook(ctx context.Context, book *models.RcvBook, lines []*models.RcvLine) error {
	if f.importErr != nil {
		return f.importErr
	}

	seen := make(map[string]bool)
	for _, l := range lines {
		key := l.DocumentType + "/" + l.Folio
		if seen[key] {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicateDocument, key)
		}
		seen[key] = true
	}

	key := bookKey{book.CompanyID, book.Year, book.Month, book.RcvType}
	if id, ok := f.byKey[key]; ok {
		existing := f.books[id]
		if existing.State != models.BookStateImported {
			return fmt.Errorf("%w: book %d in state %s", repositories.ErrBookNotResettable, id, existing.State)
		}
		book.ID = id
		f.lines[id] = nil
	} else {
		f.nextBookID++
		book.ID = f.nextBookID
		f.byKey[key] = book.ID
	}

	book.State = models.BookStateImported
	f.books[book.ID] = book

	for _, l := range lines {
		f.nextLineID++
		l.ID = f.nextLineID
		l.BookID = book.ID
		if l.MatchState == "" {
			l.MatchState = models.MatchStateNotFound
		}
		f.lines[book.ID] = append(f.lines[book.ID], l)
	}
	return nil
}

func (f *fakeRcvRepo) GetLines(bookID int64) ([]*models.RcvLine, error) {
	return f.lines[bookID], nil
}

func (f *fakeRcvRepo) SetLineMatch(lineID int64, matchState string, entryID sql.NullInt64) error {
	if f.matchErr != nil {
		return f.matchErr
	}
	for _, lines := range f.lines {
		for _, l := range lines {
			if l.ID == lineID {
				l.MatchState = matchState
				l.AccountMoveID = entryID
				return nil
			}
		}
	}
	return fmt.Errorf("line %d not found", lineID)
}

func (f *fakeRcvRepo) SetBookState(bookID int64, state string) error {
	book, ok := f.books[bookID]
	if !ok {
		return fmt.Errorf("book %d not found", bookID)
	}
	book.State = state
	return nil
}

func (f *fakeRcvRepo) ResetBook(bookID int64) error {
	for _, l := range f.lines[bookID] {
		l.MatchState = models.MatchStateNotFound
		l.AccountMoveID = sql.NullInt64{}
	}
	return f.SetBookState(bookID, models.BookStateImported)
}

func (f *fakeRcvRepo) CountExistingLinks(bookID int64) (int, int, error) {
	linked, existing := 0, 0
	for _, l := range f.lines[bookID] {
		if !l.AccountMoveID.Valid {
			continue
		}
		linked++
		if f.ledger != nil && f.ledger.byID(l.AccountMoveID.Int64) != nil {
			existing++
		}
	}
	return linked, existing, nil
}

func (f *fakeRcvRepo) AddLog(bookID int64, level, message string) error {
	f.logs[bookID] = append(f.logs[bookID], &models.RcvLog{BookID: bookID, Level: level, Message: message})
	return nil
}

func (f *fakeRcvRepo) GetLogs(bookID int64) ([]*models.RcvLog, error) {
	return f.logs[bookID], nil
}

// fakeAccountingRepo is an in-memory ledger.
type fakeAccountingRepo struct {
	entries  []*models.AccountingEntry
	journals []*models.Journal
	taxes    []*models.Tax
	partners []*models.Partner
	nextID   int64

	postErr error
}

func newFakeAccountingRepo() *fakeAccountingRepo {
	return &fakeAccountingRepo{}
}

func (f *fakeAccountingRepo) byID(id int64) *models.AccountingEntry {
	for _, e := range f.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeAccountingRepo) FindPostedEntry(companyID int64, moveType, documentType, folio, partnerVat string) (*models.AccountingEntry, error) {
	for _, e := range f.entries {
		if e.CompanyID != companyID || e.State != models.EntryStatePosted ||
			e.MoveType != moveType || e.DocumentType != documentType || e.Folio != folio {
			continue
		}
		if partnerVat != "" && e.PartnerVat != partnerVat {
			continue
		}
		return e, nil
	}
	return nil, nil
}

func (f *fakeAccountingRepo) FindJournal(companyID int64, journalType string) (*models.Journal, error) {
	for _, j := range f.journals {
		if j.CompanyID == companyID && j.Type == journalType {
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountingRepo) FindTax(companyID int64, taxType string) (*models.Tax, error) {
	for _, t := range f.taxes {
		if t.CompanyID == companyID && t.Type == taxType {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountingRepo) FindPartnerByVat(vat string) (*models.Partner, error) {
	for _, p := range f.partners {
		if p.Vat == vat {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountingRepo) CreatePartner(p *models.Partner) error {
	f.nextID++
	p.ID = f.nextID
	f.partners = append(f.partners, p)
	return nil
}

func (f *fakeAccountingRepo) CreateAndPostEntry(ctx context.Context, entry *models.AccountingEntry) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.nextID++
	entry.ID = f.nextID
	entry.State = models.EntryStatePosted
	f.entries = append(f.entries, entry)
	return nil
}

// fakeCertRepo serves the certificate loader.
type fakeCertRepo struct {
	cert *models.Certificate
	err  error
}

func (f *fakeCertRepo) GetActiveCertificate(companyID int64, asOf time.Time) (*models.Certificate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.cert == nil || f.cert.CompanyID != companyID {
		return nil, nil
	}
	return f.cert, nil
}

// fakeDialer hands out bare sessions without touching the network.
type fakeDialer struct {
	err   error
	dials int
}

func (f *fakeDialer) Dial(ctx context.Context, cert *models.Certificate) (*sii.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.dials++
	return &sii.Session{Token: "tok-test"}, nil
}

// fakeTransport returns a canned payload.
type fakeTransport struct {
	payload []byte
	err     error
	fetches int
}

func (f *fakeTransport) FetchRCV(ctx context.Context, session *sii.Session, companyRUT string, year, month int, rcvType string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fetches++
	return f.payload, nil
}
