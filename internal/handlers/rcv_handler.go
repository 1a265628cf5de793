package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sii-rcv-service/internal/certs"
	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/parser"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/services"
	"sii-rcv-service/internal/sii"
)

type RcvHandler struct {
	importService         *services.ImportService
	reconciliationService *services.ReconciliationService
	documentService       *services.DocumentService
	rcvRepo               repositories.RcvRepository
}

func NewRcvHandler(
	importService *services.ImportService,
	reconciliationService *services.ReconciliationService,
	documentService *services.DocumentService,
	rcvRepo repositories.RcvRepository,
) *RcvHandler {
	return &RcvHandler{
		importService:         importService,
		reconciliationService: reconciliationService,
		documentService:       documentService,
		rcvRepo:               rcvRepo,
	}
}

type ImportRequestBody struct {
	CompanyID  int64  `json:"company_id"`
	CompanyRUT string `json:"company_rut"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	RcvType    string `json:"rcv_type"`
	// Payload optionally carries a base64 SII CSV export; when present the
	// remote fetch is skipped.
	Payload string `json:"payload,omitempty"`
}

func (h *RcvHandler) RunImport(w http.ResponseWriter, r *http.Request) {
	var body ImportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload", "bad_request")
		return
	}

	types := []string{body.RcvType}
	if body.RcvType == "both" {
		types = []string{models.RcvTypePurchase, models.RcvTypeSale}
	}

	var results []*services.ImportResult
	for _, rcvType := range types {
		req := services.ImportRequest{
			CompanyID:  body.CompanyID,
			CompanyRUT: body.CompanyRUT,
			Year:       body.Year,
			Month:      body.Month,
			RcvType:    rcvType,
		}

		var result *services.ImportResult
		var err error
		if body.Payload != "" {
			var payload []byte
			payload, err = base64.StdEncoding.DecodeString(body.Payload)
			if err != nil {
				respondWithError(w, http.StatusBadRequest, "Invalid base64 payload", "bad_request")
				return
			}
			result, err = h.importService.RunFromFile(r.Context(), req, payload)
		} else {
			result, err = h.importService.Run(r.Context(), req)
		}
		if err != nil {
			respondWithError(w, statusFor(err), err.Error(), services.ReasonCode(err))
			return
		}
		results = append(results, result)
	}

	respondWithJSON(w, http.StatusCreated, results)
}

func (h *RcvHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	book, err := h.rcvRepo.GetBookByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	if book == nil {
		respondWithError(w, http.StatusNotFound, "Book not found", "book_not_found")
		return
	}

	lines, err := h.rcvRepo.GetLines(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"book":  book,
		"lines": lines,
	})
}

func (h *RcvHandler) GetBookLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	logs, err := h.rcvRepo.GetLogs(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	respondWithJSON(w, http.StatusOK, logs)
}

func (h *RcvHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	result, err := h.reconciliationService.Reconcile(id)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error(), services.ReasonCode(err))
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type CreateDocumentsBody struct {
	PartnerPolicy string `json:"partner_policy,omitempty"`
}

func (h *RcvHandler) CreateDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var body CreateDocumentsBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request payload", "bad_request")
			return
		}
	}

	policy := services.PartnerPolicyRequire
	if body.PartnerPolicy == string(services.PartnerPolicyCreate) {
		policy = services.PartnerPolicyCreate
	}

	result, err := h.documentService.CreateDocuments(r.Context(), id, policy)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error(), services.ReasonCode(err))
		return
	}

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusPartialContent
	}
	respondWithJSON(w, status, result)
}

func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid book id", "bad_request")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	var remote *sii.RemoteServiceError

	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, certs.ErrCertificateNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, repositories.ErrBookNotResettable),
		errors.Is(err, services.ErrEmptyBook),
		errors.Is(err, parser.ErrInvalidDateFormat),
		errors.Is(err, parser.ErrNoRecordsFound),
		errors.Is(err, certs.ErrCertificateIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sii.ErrBadPassphrase),
		errors.Is(err, sii.ErrUnsupportedBundleFormat),
		errors.Is(err, sii.ErrAuthenticationFailed):
		return http.StatusBadGateway
	case errors.As(err, &remote), errors.Is(err, sii.ErrEmptyResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
