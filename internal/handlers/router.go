package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/certs"
	"sii-rcv-service/internal/config"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/services"
	"sii-rcv-service/internal/sii"
)

func SetupRouter(db *sql.DB, cfg *config.Config, log *logrus.Logger) (*mux.Router, error) {
	certRepo := repositories.NewCertificateRepository(db)
	rcvRepo := repositories.NewRcvRepository(db)
	ledger := repositories.NewAccountingRepository(db)

	dialer, err := sii.NewDialer(cfg.SII)
	if err != nil {
		return nil, err
	}
	transport := sii.NewCSVTransport(cfg.SII.BaseURL)

	importService := services.NewImportService(certs.NewLoader(certRepo), dialer, transport, rcvRepo, log)
	reconciliationService := services.NewReconciliationService(rcvRepo, ledger, log)
	documentService := services.NewDocumentService(rcvRepo, ledger, log)

	handler := NewRcvHandler(importService, reconciliationService, documentService, rcvRepo)

	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(log))
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/rcv/imports", handler.RunImport).Methods(http.MethodPost)
	api.HandleFunc("/rcv/books/{id:[0-9]+}", handler.GetBook).Methods(http.MethodGet)
	api.HandleFunc("/rcv/books/{id:[0-9]+}/logs", handler.GetBookLogs).Methods(http.MethodGet)
	api.HandleFunc("/rcv/books/{id:[0-9]+}/reconcile", handler.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/rcv/books/{id:[0-9]+}/documents", handler.CreateDocuments).Methods(http.MethodPost)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router, nil
}

func loggingMiddleware(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("request")
			next.ServeHTTP(w, r)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message, reason string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Reason: reason})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
