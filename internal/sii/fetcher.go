package sii

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEmptyResponse means the SII answered 2xx but the payload is empty or
// lacks the structural marker of an RCV export.
var ErrEmptyResponse = errors.New("empty RCV response")

// RemoteServiceError is a non-2xx answer from the SII.
type RemoteServiceError struct {
	Status int
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("sii remote service error: status %d", e.Status)
}

// Transport retrieves the raw RCV payload for one (company, period, type).
// The SII endpoint contract is unstable; implementations encapsulate one
// observed shape of it and are swappable without touching the pipeline.
type Transport interface {
	FetchRCV(ctx context.Context, session *Session, companyRUT string, year, month int, rcvType string) ([]byte, error)
}

// CSVTransport fetches the semicolon-delimited CSV export.
type CSVTransport struct {
	BaseURL string
}

func NewCSVTransport(baseURL string) *CSVTransport {
	return &CSVTransport{BaseURL: baseURL}
}

func (t *CSVTransport) FetchRCV(ctx context.Context, session *Session, companyRUT string, year, month int, rcvType string) ([]byte, error) {
	operation := "compra"
	if rcvType == "sale" {
		operation = "venta"
	}

	url := fmt.Sprintf("%s/recursos/v1/registro/%s/csv?rut=%s&periodo=%04d%02d",
		t.BaseURL, operation, companyRUT, year, month)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	if session.Token != "" {
		req.Header.Set("Cookie", "token="+session.Token)
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching RCV %s %d-%02d: %w", rcvType, year, month, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &RemoteServiceError{Status: resp.StatusCode}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading RCV payload: %w", err)
	}

	if len(bytes.TrimSpace(payload)) == 0 || !bytes.ContainsRune(payload, ';') {
		return nil, ErrEmptyResponse
	}
	return payload, nil
}
