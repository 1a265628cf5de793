package services

import (
	"errors"

	"sii-rcv-service/internal/certs"
	"sii-rcv-service/internal/parser"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/sii"
)

// ReasonCode maps a pipeline error to a stable machine-readable code, used
// by the CLI exit report and the API error body.
func ReasonCode(err error) string {
	var remote *sii.RemoteServiceError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, certs.ErrCertificateNotFound):
		return "certificate_not_found"
	case errors.Is(err, certs.ErrCertificateIncomplete):
		return "certificate_incomplete"
	case errors.Is(err, sii.ErrBadPassphrase):
		return "bad_passphrase"
	case errors.Is(err, sii.ErrUnsupportedBundleFormat):
		return "unsupported_bundle_format"
	case errors.Is(err, sii.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.As(err, &remote):
		return "remote_service_error"
	case errors.Is(err, sii.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, parser.ErrNoRecordsFound):
		return "no_records_found"
	case errors.Is(err, parser.ErrInvalidDateFormat):
		return "invalid_date_format"
	case errors.Is(err, repositories.ErrDuplicateDocument):
		return "duplicate_document"
	case errors.Is(err, repositories.ErrBookNotResettable):
		return "book_not_resettable"
	case errors.Is(err, ErrBookNotFound):
		return "book_not_found"
	case errors.Is(err, ErrEmptyBook):
		return "empty_book"
	case errors.Is(err, ErrNoJournalConfigured):
		return "no_journal_configured"
	case errors.Is(err, ErrNoTaxDocumentType):
		return "no_tax_document_type"
	case errors.Is(err, ErrNoCounterparty):
		return "no_counterparty"
	case errors.Is(err, ErrPostingFailed):
		return "posting_failed"
	default:
		return "internal_error"
	}
}
