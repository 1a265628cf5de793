package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"sii-rcv-service/internal/models"
)

// ErrDuplicateDocument is a (book, document_type, folio) uniqueness
// violation.
var ErrDuplicateDocument = errors.New("duplicate document in book")

// ErrBookNotResettable means an import was attempted over a book that has
// already been compared or posted.
var ErrBookNotResettable = errors.New("book is past imported state, reset it before reimporting")

const mysqlDuplicateEntry = 1062

type RcvRepository interface {
	GetBook(companyID int64, year, month int, rcvType string) (*models.RcvBook, error)
	GetBookByID(id int64) (*models.RcvBook, error)
	ImportBook(ctx context.Context, book *models.RcvBook, lines []*models.RcvLine) error
	GetLines(bookID int64) ([]*models.RcvLine, error)
	SetLineMatch(lineID int64, matchState string, entryID sql.NullInt64) error
	SetBookState(bookID int64, state string) error
	ResetBook(bookID int64) error
	CountExistingLinks(bookID int64) (linked int, existing int, err error)
	AddLog(bookID int64, level, message string) error
	GetLogs(bookID int64) ([]*models.RcvLog, error)
}

type rcvRepository struct {
	db *sql.DB
}

func NewRcvRepository(db *sql.DB) RcvRepository {
	return &rcvRepository{db: db}
}

func (r *rcvRepository) GetBook(companyID int64, year, month int, rcvType string) (*models.RcvBook, error) {
	query := `
		SELECT id, company_id, year, month, rcv_type, state, created_at, updated_at
		FROM rcv_books
		WHERE company_id = ? AND year = ? AND month = ? AND rcv_type = ?
	`
	return r.scanBook(r.db.QueryRow(query, companyID, year, month, rcvType))
}

func (r *rcvRepository) GetBookByID(id int64) (*models.RcvBook, error) {
	query := `
		SELECT id, company_id, year, month, rcv_type, state, created_at, updated_at
		FROM rcv_books
		WHERE id = ?
	`
	return r.scanBook(r.db.QueryRow(query, id))
}

func (r *rcvRepository) scanBook(row *sql.Row) (*models.RcvBook, error) {
	book := &models.RcvBook{}
	err := row.Scan(
		&book.ID,
		&book.CompanyID,
		&book.Year,
		&book.Month,
		&book.RcvType,
		&book.State,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

// ImportBook creates or reuses the (company, period, type) book and replaces
// its lines, all inside one transaction so an import is all-or-nothing. An
// advisory lock serializes concurrent imports of the same book; the unique
// line constraint is the backstop.
func (r *rcvRepository) ImportBook(ctx context.Context, book *models.RcvBook, lines []*models.RcvLine) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	lockName := fmt.Sprintf("rcv_book:%d:%d:%d:%s", book.CompanyID, book.Year, book.Month, book.RcvType)
	var locked int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 10)", lockName).Scan(&locked); err != nil {
		return err
	}
	if locked != 1 {
		return fmt.Errorf("could not acquire import lock %s", lockName)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", lockName)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := r.getBookTx(tx, book.CompanyID, book.Year, book.Month, book.RcvType)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.State != models.BookStateImported {
			return fmt.Errorf("%w: book %d in state %s", ErrBookNotResettable, existing.ID, existing.State)
		}
		book.ID = existing.ID
		if _, err := tx.ExecContext(ctx, "DELETE FROM rcv_lines WHERE book_id = ?", book.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE rcv_books SET state = ?, updated_at = NOW() WHERE id = ?",
			models.BookStateImported, book.ID); err != nil {
			return err
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO rcv_books (company_id, year, month, rcv_type, state)
			VALUES (?, ?, ?, ?, ?)
		`, book.CompanyID, book.Year, book.Month, book.RcvType, models.BookStateImported)
		if err != nil {
			return err
		}
		book.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}
	}
	book.State = models.BookStateImported

	insert := `
		INSERT INTO rcv_lines (
			book_id, document_type, folio, partner_vat, partner_name,
			invoice_date, accounting_date, net_amount, tax_amount, total_amount,
			sii_status, amount_defaulted, match_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, line := range lines {
		line.BookID = book.ID
		line.MatchState = models.MatchStateNotFound
		result, err := tx.ExecContext(ctx, insert,
			line.BookID,
			line.DocumentType,
			line.Folio,
			line.PartnerVat,
			line.PartnerName,
			line.InvoiceDate,
			line.AccountingDate,
			line.NetAmount,
			line.TaxAmount,
			line.TotalAmount,
			line.SiiStatus,
			line.AmountDefaulted,
			line.MatchState,
		)
		if err != nil {
			var me *mysql.MySQLError
			if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
				return fmt.Errorf("%w: type %s folio %s", ErrDuplicateDocument, line.DocumentType, line.Folio)
			}
			return err
		}
		line.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *rcvRepository) getBookTx(tx *sql.Tx, companyID int64, year, month int, rcvType string) (*models.RcvBook, error) {
	book := &models.RcvBook{}
	err := tx.QueryRow(`
		SELECT id, company_id, year, month, rcv_type, state, created_at, updated_at
		FROM rcv_books
		WHERE company_id = ? AND year = ? AND month = ? AND rcv_type = ?
		FOR UPDATE
	`, companyID, year, month, rcvType).Scan(
		&book.ID,
		&book.CompanyID,
		&book.Year,
		&book.Month,
		&book.RcvType,
		&book.State,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (r *rcvRepository) GetLines(bookID int64) ([]*models.RcvLine, error) {
	query := `
		SELECT id, book_id, document_type, folio, partner_vat, partner_name,
		       invoice_date, accounting_date, net_amount, tax_amount, total_amount,
		       sii_status, amount_defaulted, match_state, account_move_id,
		       created_at, updated_at
		FROM rcv_lines
		WHERE book_id = ?
		ORDER BY invoice_date, folio
	`
	rows, err := r.db.Query(query, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*models.RcvLine
	for rows.Next() {
		line := &models.RcvLine{}
		err := rows.Scan(
			&line.ID,
			&line.BookID,
			&line.DocumentType,
			&line.Folio,
			&line.PartnerVat,
			&line.PartnerName,
			&line.InvoiceDate,
			&line.AccountingDate,
			&line.NetAmount,
			&line.TaxAmount,
			&line.TotalAmount,
			&line.SiiStatus,
			&line.AmountDefaulted,
			&line.MatchState,
			&line.AccountMoveID,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *rcvRepository) SetLineMatch(lineID int64, matchState string, entryID sql.NullInt64) error {
	_, err := r.db.Exec(`
		UPDATE rcv_lines
		SET match_state = ?, account_move_id = ?, updated_at = NOW()
		WHERE id = ?
	`, matchState, entryID, lineID)
	return err
}

func (r *rcvRepository) SetBookState(bookID int64, state string) error {
	_, err := r.db.Exec(`
		UPDATE rcv_books SET state = ?, updated_at = NOW() WHERE id = ?
	`, state, bookID)
	return err
}

// ResetBook reverts a wedged book: every line back to not_found with its
// entry link cleared, the book back to imported.
func (r *rcvRepository) ResetBook(bookID int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE rcv_lines
		SET match_state = ?, account_move_id = NULL, updated_at = NOW()
		WHERE book_id = ?
	`, models.MatchStateNotFound, bookID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE rcv_books SET state = ?, updated_at = NOW() WHERE id = ?
	`, models.BookStateImported, bookID); err != nil {
		return err
	}
	return tx.Commit()
}

// CountExistingLinks reports how many lines carry an entry link and how many
// of those links still resolve to a ledger entry. linked > 0 with existing
// == 0 means every referenced entry was deleted externally.
func (r *rcvRepository) CountExistingLinks(bookID int64) (int, int, error) {
	var linked, existing int
	err := r.db.QueryRow(`
		SELECT COUNT(l.account_move_id), COUNT(ae.id)
		FROM rcv_lines l
		LEFT JOIN accounting_entries ae ON ae.id = l.account_move_id
		WHERE l.book_id = ?
	`, bookID).Scan(&linked, &existing)
	if err != nil {
		return 0, 0, err
	}
	return linked, existing, nil
}

func (r *rcvRepository) AddLog(bookID int64, level, message string) error {
	_, err := r.db.Exec(`
		INSERT INTO rcv_logs (book_id, level, message) VALUES (?, ?, ?)
	`, bookID, level, message)
	return err
}

func (r *rcvRepository) GetLogs(bookID int64) ([]*models.RcvLog, error) {
	rows, err := r.db.Query(`
		SELECT id, book_id, level, message, created_at
		FROM rcv_logs
		WHERE book_id = ?
		ORDER BY id
	`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.RcvLog
	for rows.Next() {
		l := &models.RcvLog{}
		if err := rows.Scan(&l.ID, &l.BookID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
