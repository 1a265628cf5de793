package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sii-rcv-service/internal/models"
)

type fakeLedger struct {
	entries []*models.AccountingEntry
	lastVat string
}

func (f *fakeLedger) FindPostedEntry(companyID int64, moveType, documentType, folio, partnerVat string) (*models.AccountingEntry, error) {
	f.lastVat = partnerVat
	for _, e := range f.entries {
		if e.CompanyID != companyID || e.MoveType != moveType ||
			e.DocumentType != documentType || e.Folio != folio {
			continue
		}
		if partnerVat != "" && e.PartnerVat != partnerVat {
			continue
		}
		return e, nil
	}
	return nil, nil
}

func purchaseBook() *models.RcvBook {
	return &models.RcvBook{ID: 1, CompanyID: 7, Year: 2024, Month: 3, RcvType: models.RcvTypePurchase}
}

func line(docType, folio, vat string, total int64) *models.RcvLine {
	return &models.RcvLine{
		BookID:       1,
		DocumentType: docType,
		Folio:        folio,
		PartnerVat:   vat,
		TotalAmount:  decimal.NewFromInt(total),
	}
}

func entry(docType, folio, vat, moveType string, total int64) *models.AccountingEntry {
	return &models.AccountingEntry{
		ID:           42,
		CompanyID:    7,
		MoveType:     moveType,
		DocumentType: docType,
		Folio:        folio,
		PartnerVat:   vat,
		AmountTotal:  decimal.NewFromInt(total),
		State:        models.EntryStatePosted,
	}
}

func TestClassifyMatched(t *testing.T) {
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("33", "1234", "76123456-7", models.MoveTypeInInvoice, 119000),
	}}

	state, matched, err := NewMatcher().Classify(purchaseBook(), line("33", "1234", "76.123.456-7", 119000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateMatched, state)
	require.NotNil(t, matched)
	assert.Equal(t, int64(42), matched.ID)
}

func TestClassifyWithinTolerance(t *testing.T) {
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("33", "1234", "76123456-7", models.MoveTypeInInvoice, 119001),
	}}

	state, _, err := NewMatcher().Classify(purchaseBook(), line("33", "1234", "76123456-7", 119000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateMatched, state)
}

func TestClassifyAmountDiff(t *testing.T) {
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("33", "1234", "76123456-7", models.MoveTypeInInvoice, 119500),
	}}

	state, matched, err := NewMatcher().Classify(purchaseBook(), line("33", "1234", "76123456-7", 119000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateAmountDiff, state)
	assert.NotNil(t, matched)
}

func TestClassifyNotFound(t *testing.T) {
	state, matched, err := NewMatcher().Classify(purchaseBook(), line("33", "9999", "76123456-7", 119000), &fakeLedger{})
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateNotFound, state)
	assert.Nil(t, matched)
}

func TestClassifyCreditNoteUsesRefundMoveType(t *testing.T) {
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("61", "500", "76123456-7", models.MoveTypeInRefund, 50000),
	}}

	state, _, err := NewMatcher().Classify(purchaseBook(), line("61", "500", "76123456-7", 50000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateMatched, state)
}

func TestClassifySaleUsesOutboundMoveType(t *testing.T) {
	book := &models.RcvBook{ID: 2, CompanyID: 7, RcvType: models.RcvTypeSale}
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("33", "800", "96654321-0", models.MoveTypeOutInvoice, 238000),
	}}

	state, _, err := NewMatcher().Classify(book, line("33", "800", "96654321-0", 238000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateMatched, state)
}

func TestClassifySkipsVatFilterWhenLineHasNoRUT(t *testing.T) {
	ledger := &fakeLedger{entries: []*models.AccountingEntry{
		entry("33", "1234", "76123456-7", models.MoveTypeInInvoice, 119000),
	}}

	state, _, err := NewMatcher().Classify(purchaseBook(), line("33", "1234", "", 119000), ledger)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateMatched, state)
	assert.Equal(t, "", ledger.lastVat)
}
