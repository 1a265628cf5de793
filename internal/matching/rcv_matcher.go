// Package matching classifies RCV lines against the accounting ledger.
// Unlike statement reconciliation, RCV matching is keyed: an entry either
// exists for (company, direction, document type, folio, counterparty) or it
// does not, and the only fuzziness is the amount tolerance.
package matching

import (
	"github.com/shopspring/decimal"

	"sii-rcv-service/internal/models"
)

// LedgerLookup is the slice of the ledger the matcher needs.
type LedgerLookup interface {
	FindPostedEntry(companyID int64, moveType, documentType, folio, partnerVat string) (*models.AccountingEntry, error)
}

// AmountTolerance is one unit of currency, the observed SII rounding slack
// between the registry total and the posted total.
var AmountTolerance = decimal.NewFromInt(1)

type Matcher struct {
	tolerance decimal.Decimal
}

func NewMatcher() *Matcher {
	return &Matcher{tolerance: AmountTolerance}
}

// Classify resolves one line: not_found when no posted entry matches the
// keys, amount_diff when one matches but its total differs beyond the
// tolerance, matched otherwise. The counterparty key is applied only when
// the line carries a RUT.
func (m *Matcher) Classify(book *models.RcvBook, line *models.RcvLine, ledger LedgerLookup) (string, *models.AccountingEntry, error) {
	moveType := models.MoveTypeFor(book.RcvType, line.DocumentType)
	vat := models.NormalizeRUT(line.PartnerVat)

	entry, err := ledger.FindPostedEntry(book.CompanyID, moveType, line.DocumentType, line.Folio, vat)
	if err != nil {
		return "", nil, err
	}
	if entry == nil {
		return models.MatchStateNotFound, nil, nil
	}

	diff := entry.AmountTotal.Sub(line.TotalAmount).Abs()
	if diff.GreaterThan(m.tolerance) {
		return models.MatchStateAmountDiff, entry, nil
	}
	return models.MatchStateMatched, entry, nil
}
