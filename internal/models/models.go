package models

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Certificate is a company's PKCS#12 signing certificate as stored by the
// external key-store. This pipeline only ever reads it.
type Certificate struct {
	ID         int64     `db:"id" json:"id"`
	CompanyID  int64     `db:"company_id" json:"company_id"`
	Name       string    `db:"name" json:"name"`
	Content    []byte    `db:"content" json:"-"`
	Passphrase string    `db:"passphrase" json:"-"`
	DateStart  string    `db:"date_start" json:"date_start"`
	DateEnd    string    `db:"date_end" json:"date_end"`
	CreatedAt  time.Time `db:"created_at" json:"-"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

// RcvBook is one RCV import run, keyed by (company, year, month, type).
type RcvBook struct {
	ID        int64     `db:"id" json:"id"`
	CompanyID int64     `db:"company_id" json:"company_id"`
	Year      int       `db:"year" json:"year"`
	Month     int       `db:"month" json:"month"`
	RcvType   string    `db:"rcv_type" json:"rcv_type"`
	State     string    `db:"state" json:"state"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// RcvLine is one tax document row inside a book. Dates are stored as
// YYYY-MM-DD strings; amounts are fixed-point.
type RcvLine struct {
	ID              int64           `db:"id" json:"id"`
	BookID          int64           `db:"book_id" json:"book_id"`
	DocumentType    string          `db:"document_type" json:"document_type"`
	Folio           string          `db:"folio" json:"folio"`
	PartnerVat      string          `db:"partner_vat" json:"partner_vat"`
	PartnerName     string          `db:"partner_name" json:"partner_name"`
	InvoiceDate     string          `db:"invoice_date" json:"invoice_date"`
	AccountingDate  string          `db:"accounting_date" json:"accounting_date"`
	NetAmount       decimal.Decimal `db:"net_amount" json:"net_amount"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	SiiStatus       string          `db:"sii_status" json:"sii_status,omitempty"`
	AmountDefaulted bool            `db:"amount_defaulted" json:"amount_defaulted,omitempty"`
	MatchState      string          `db:"match_state" json:"match_state"`
	AccountMoveID   sql.NullInt64   `db:"account_move_id" json:"account_move_id"`
	CreatedAt       time.Time       `db:"created_at" json:"-"`
	UpdatedAt       time.Time       `db:"updated_at" json:"-"`
}

// DocumentRecord is the canonical row produced by the parser. It exists only
// within a single import run and is never persisted as-is.
type DocumentRecord struct {
	DocumentType    string
	Folio           string
	PartnerVat      string
	PartnerName     string
	IssueDate       time.Time
	ReceiptDate     time.Time
	NetAmount       decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	SiiStatus       string
	AmountDefaulted bool
}

// AccountingEntry mirrors the ledger collaborator's invoice/credit-note
// record. The pipeline searches posted entries and creates new ones; it never
// mutates an existing entry.
type AccountingEntry struct {
	ID           int64           `db:"id" json:"id"`
	CompanyID    int64           `db:"company_id" json:"company_id"`
	MoveType     string          `db:"move_type" json:"move_type"`
	DocumentType string          `db:"document_type" json:"document_type"`
	Folio        string          `db:"folio" json:"folio"`
	PartnerID    sql.NullInt64   `db:"partner_id" json:"partner_id"`
	PartnerVat   string          `db:"partner_vat" json:"partner_vat"`
	JournalID    int64           `db:"journal_id" json:"journal_id"`
	InvoiceDate  string          `db:"invoice_date" json:"invoice_date"`
	Date         string          `db:"date" json:"date"`
	Ref          string          `db:"ref" json:"ref"`
	Description  string          `db:"description" json:"description"`
	AmountNet    decimal.Decimal `db:"amount_net" json:"amount_net"`
	AmountTax    decimal.Decimal `db:"amount_tax" json:"amount_tax"`
	AmountTotal  decimal.Decimal `db:"amount_total" json:"amount_total"`
	TaxID        sql.NullInt64   `db:"tax_id" json:"tax_id"`
	State        string          `db:"state" json:"state"`
	CreatedAt    time.Time       `db:"created_at" json:"-"`
	UpdatedAt    time.Time       `db:"updated_at" json:"-"`
}

// Journal is an accounting journal of the ledger collaborator.
type Journal struct {
	ID        int64  `db:"id" json:"id"`
	CompanyID int64  `db:"company_id" json:"company_id"`
	Type      string `db:"type" json:"type"`
	Name      string `db:"name" json:"name"`
}

// Tax is a tax rate definition for a (company, direction) pair.
type Tax struct {
	ID        int64           `db:"id" json:"id"`
	CompanyID int64           `db:"company_id" json:"company_id"`
	Type      string          `db:"type" json:"type"`
	Name      string          `db:"name" json:"name"`
	Rate      decimal.Decimal `db:"rate" json:"rate"`
}

// Partner is a counterparty identified by its RUT.
type Partner struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Vat  string `db:"vat" json:"vat"`
}

// RcvLog is a per-book log row persisted during import/reconcile runs.
type RcvLog struct {
	ID        int64     `db:"id" json:"id"`
	BookID    int64     `db:"book_id" json:"book_id"`
	Level     string    `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RCV book types
const (
	RcvTypePurchase = "purchase"
	RcvTypeSale     = "sale"
)

// RcvBook.State values
const (
	BookStateImported = "imported"
	BookStateCompared = "compared"
	BookStatePosted   = "posted"
)

// RcvLine.MatchState values
const (
	MatchStateNotFound   = "not_found"
	MatchStateMatched    = "matched"
	MatchStateAmountDiff = "amount_diff"
	MatchStateCreated    = "created"
)

// AccountingEntry.MoveType values
const (
	MoveTypeInInvoice  = "in_invoice"
	MoveTypeInRefund   = "in_refund"
	MoveTypeOutInvoice = "out_invoice"
	MoveTypeOutRefund  = "out_refund"
)

// AccountingEntry.State values
const (
	EntryStateDraft  = "draft"
	EntryStatePosted = "posted"
)

// Log levels
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// DocumentType describes one code of the SII DTE catalog.
type DocumentType struct {
	Code   string
	Name   string
	Credit bool
}

// documentTypes is the DTE catalog used for move-type selection. Code 61 is
// the credit-note family; everything else maps to the invoice family.
var documentTypes = map[string]DocumentType{
	"33": {Code: "33", Name: "Factura Electrónica"},
	"34": {Code: "34", Name: "Factura Exenta Electrónica"},
	"39": {Code: "39", Name: "Boleta Electrónica"},
	"46": {Code: "46", Name: "Factura de Compra Electrónica"},
	"56": {Code: "56", Name: "Nota de Débito Electrónica"},
	"61": {Code: "61", Name: "Nota de Crédito Electrónica", Credit: true},
}

// LookupDocumentType returns the catalog entry for a DTE code.
func LookupDocumentType(code string) (DocumentType, bool) {
	dt, ok := documentTypes[strings.TrimSpace(code)]
	return dt, ok
}

// MoveTypeFor maps (book type, DTE code) to the ledger move type: sales are
// outbound documents, purchases inbound, and the credit family flips
// invoice to refund.
func MoveTypeFor(rcvType, documentType string) string {
	credit := false
	if dt, ok := LookupDocumentType(documentType); ok {
		credit = dt.Credit
	}
	if rcvType == RcvTypeSale {
		if credit {
			return MoveTypeOutRefund
		}
		return MoveTypeOutInvoice
	}
	if credit {
		return MoveTypeInRefund
	}
	return MoveTypeInInvoice
}

// JournalTypeFor maps a book type to the journal direction required for
// document creation.
func JournalTypeFor(rcvType string) string {
	if rcvType == RcvTypeSale {
		return "sale"
	}
	return "purchase"
}

// NormalizeRUT normalizes a Chilean RUT for comparison: strips the CL
// prefix, dots and surrounding spaces, keeping the XXXXXXXX-X form. It does
// not validate the check digit.
func NormalizeRUT(rut string) string {
	rut = strings.ToUpper(strings.TrimSpace(rut))
	rut = strings.TrimPrefix(rut, "CL")
	rut = strings.ReplaceAll(rut, ".", "")
	return strings.TrimSpace(rut)
}
