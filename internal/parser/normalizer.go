// Package parser turns raw RCV payloads from the SII (semicolon-delimited
// CSV in UTF-8 or Latin-1, header names varying between export versions)
// into canonical document records.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"sii-rcv-service/internal/models"
)

var (
	// ErrNoRecordsFound means the payload decoded and parsed but produced
	// zero rows. An empty import signals a filter or transport
	// misconfiguration and is treated as fatal.
	ErrNoRecordsFound = errors.New("no records found in RCV payload")

	// ErrInvalidDateFormat means a date column matched none of the accepted
	// layouts. Dates are reconciliation keys and must never silently become
	// null, so this aborts the whole row set.
	ErrInvalidDateFormat = errors.New("invalid date format")
)

var dateLayouts = []string{"2006-01-02", "02-01-2006"}

// headerAliases maps every observed SII header spelling, after
// normalizeHeader, to its canonical field. New aliases from future SII
// export versions are added here and nowhere else.
var headerAliases = map[string]string{
	"tipo_doc":         "document_type",
	"tipo_dte":         "document_type",
	"tipodoc":          "document_type",
	"folio":            "folio",
	"nro":              "folio",
	"numero_documento": "folio",
	"rut":              "partner_vat",
	"rut_emisor":       "partner_vat",
	"rut_receptor":     "partner_vat",
	"rut_proveedor":    "partner_vat",
	"rut_cliente":      "partner_vat",
	"rut_contraparte":  "partner_vat",
	"razon_social":     "partner_name",
	"rznsoc":           "partner_name",
	"nombre":           "partner_name",
	"fecha_emision":    "issue_date",
	"fecha_docto":      "issue_date",
	"fchemis":          "issue_date",
	"fecha_recepcion":  "receipt_date",
	"fchrecep":         "receipt_date",
	"monto_neto":       "net_amount",
	"mntneto":          "net_amount",
	"neto":             "net_amount",
	"iva":              "tax_amount",
	"monto_iva":        "tax_amount",
	"mntiva":           "tax_amount",
	"iva_recuperable":  "tax_amount",
	"monto_total":      "total_amount",
	"mnttotal":         "total_amount",
	"total":            "total_amount",
	"estado":           "sii_status",
	"estado_sii":       "sii_status",
}

// stripAccents removes combining marks after NFD decomposition, so
// "Razón Social" and "Razon Social" normalize identically.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// DecodeBytes converts a raw payload to a string, preferring UTF-8 and
// falling back to Latin-1. Latin-1 decoding cannot fail, so this never
// returns an error by design of the preference list.
func DecodeBytes(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// normalizeHeader lowercases a header cell, strips the BOM and accents, and
// replaces space runs with underscores before alias lookup.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	if out, _, err := transform.String(stripAccents, h); err == nil {
		h = out
	}
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Join(strings.Fields(h), "_")
	return h
}

// CanonicalField resolves a raw header cell to its canonical field name.
func CanonicalField(header string) (string, bool) {
	field, ok := headerAliases[normalizeHeader(header)]
	return field, ok
}

// ParseAmount parses a Chilean-formatted amount ("1.234.567" or "1.234,56",
// optional $ prefix) into a fixed-point decimal. Unparseable values default
// to zero with defaulted=true so the data loss stays observable.
func ParseAmount(s string) (amount decimal.Decimal, defaulted bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, true
	}
	return d, false
}

// FormatAmount renders a decimal back into the SII convention: dot
// thousands separators and a comma decimal separator.
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(max(0, -d.Exponent()))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "," + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseDate accepts YYYY-MM-DD and DD-MM-YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
}

// Parse decodes and normalizes a raw RCV payload into canonical document
// records, in source order.
func Parse(raw []byte) ([]*models.DocumentRecord, error) {
	text := DecodeBytes(raw)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRecordsFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading RCV header: %w", err)
	}

	fieldIndex := make(map[string]int)
	for i, cell := range header {
		if field, ok := CanonicalField(cell); ok {
			if _, seen := fieldIndex[field]; !seen {
				fieldIndex[field] = i
			}
		}
	}

	var records []*models.DocumentRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading RCV row: %w", err)
		}

		cell := func(field string) string {
			i, ok := fieldIndex[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		if cell("folio") == "" && cell("document_type") == "" {
			continue
		}

		rec := &models.DocumentRecord{
			DocumentType: cell("document_type"),
			Folio:        cell("folio"),
			PartnerVat:   models.NormalizeRUT(cell("partner_vat")),
			PartnerName:  cell("partner_name"),
			SiiStatus:    cell("sii_status"),
		}

		var defaulted bool
		rec.NetAmount, defaulted = ParseAmount(cell("net_amount"))
		rec.AmountDefaulted = rec.AmountDefaulted || defaulted
		rec.TaxAmount, defaulted = ParseAmount(cell("tax_amount"))
		rec.AmountDefaulted = rec.AmountDefaulted || defaulted
		rec.TotalAmount, defaulted = ParseAmount(cell("total_amount"))
		rec.AmountDefaulted = rec.AmountDefaulted || defaulted

		rec.IssueDate, err = ParseDate(cell("issue_date"))
		if err != nil {
			return nil, err
		}
		if receipt := cell("receipt_date"); receipt != "" {
			rec.ReceiptDate, err = ParseDate(receipt)
			if err != nil {
				return nil, err
			}
		} else {
			// SII sale exports carry no reception date; the issue date is
			// the accounting date then.
			rec.ReceiptDate = rec.IssueDate
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrNoRecordsFound
	}
	return records, nil
}
