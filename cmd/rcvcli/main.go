// rcvcli runs one RCV import/reconcile/create cycle for a (company, period,
// type) unit and reports a machine-readable JSON summary. Exit code 0 means
// full success; anything else carries a reason code in the report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"sii-rcv-service/internal/certs"
	"sii-rcv-service/internal/config"
	"sii-rcv-service/internal/database"
	"sii-rcv-service/internal/models"
	"sii-rcv-service/internal/repositories"
	"sii-rcv-service/internal/services"
	"sii-rcv-service/internal/sii"
)

type runReport struct {
	Status    string                      `json:"status"`
	Reason    string                      `json:"reason,omitempty"`
	Error     string                      `json:"error,omitempty"`
	Imports   []*services.ImportResult    `json:"imports,omitempty"`
	Reconcile []*services.ReconcileResult `json:"reconcile,omitempty"`
	Documents []*services.CreateResult    `json:"documents,omitempty"`
}

func main() {
	companyID := flag.Int64("company", 0, "Company id")
	companyRUT := flag.String("rut", "", "Company RUT as registered with the SII")
	year := flag.Int("year", 0, "Period year (YYYY)")
	month := flag.Int("month", 0, "Period month (1-12)")
	rcvType := flag.String("type", "both", "Document type filter: purchase, sale or both")
	autoCreate := flag.Bool("auto-create", false, "Create and post entries for unmatched lines")
	createPartners := flag.Bool("create-partners", false, "Create missing counterparties from RUT during auto-create")
	file := flag.String("file", "", "Import a local SII CSV export instead of fetching")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)

	if *companyID == 0 || *year == 0 || *month == 0 {
		fail("bad_request", fmt.Errorf("company, year and month are required"))
	}

	types, err := resolveTypes(*rcvType)
	if err != nil {
		fail("bad_request", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fail("config_error", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := database.NewConnection(cfg, log)
	if err != nil {
		fail("database_error", err)
	}
	defer db.Close()

	rcvRepo := repositories.NewRcvRepository(db)
	ledger := repositories.NewAccountingRepository(db)
	certLoader := certs.NewLoader(repositories.NewCertificateRepository(db))

	dialer, err := sii.NewDialer(cfg.SII)
	if err != nil {
		fail("config_error", err)
	}
	transport := sii.NewCSVTransport(cfg.SII.BaseURL)

	importService := services.NewImportService(certLoader, dialer, transport, rcvRepo, log)
	reconciliationService := services.NewReconciliationService(rcvRepo, ledger, log)
	documentService := services.NewDocumentService(rcvRepo, ledger, log)

	var payload []byte
	if *file != "" {
		payload, err = os.ReadFile(*file)
		if err != nil {
			fail("file_error", err)
		}
	}

	ctx := context.Background()
	report := &runReport{Status: "ok"}

	for _, t := range types {
		req := services.ImportRequest{
			CompanyID:  *companyID,
			CompanyRUT: *companyRUT,
			Year:       *year,
			Month:      *month,
			RcvType:    t,
		}

		var imported *services.ImportResult
		if payload != nil {
			imported, err = importService.RunFromFile(ctx, req, payload)
		} else {
			imported, err = importService.Run(ctx, req)
		}
		if err != nil {
			failWith(report, err)
		}
		report.Imports = append(report.Imports, imported)

		reconciled, err := reconciliationService.Reconcile(imported.BookID)
		if err != nil {
			failWith(report, err)
		}
		report.Reconcile = append(report.Reconcile, reconciled)

		if *autoCreate {
			policy := services.PartnerPolicyRequire
			if *createPartners {
				policy = services.PartnerPolicyCreate
			}
			created, err := documentService.CreateDocuments(ctx, imported.BookID, policy)
			if err != nil {
				failWith(report, err)
			}
			report.Documents = append(report.Documents, created)
			if created.Failed > 0 {
				report.Status = "partial"
				report.Reason = "document_creation_failed"
			}
		}

		if reconciled.Failed > 0 {
			report.Status = "partial"
			report.Reason = "reconciliation_failed"
		}
	}

	emit(report)
	if report.Status != "ok" {
		os.Exit(1)
	}
}

func resolveTypes(filter string) ([]string, error) {
	switch filter {
	case "both":
		return []string{models.RcvTypePurchase, models.RcvTypeSale}, nil
	case models.RcvTypePurchase, models.RcvTypeSale:
		return []string{filter}, nil
	default:
		return nil, fmt.Errorf("invalid type filter %q", filter)
	}
}

func failWith(report *runReport, err error) {
	report.Status = "error"
	report.Reason = services.ReasonCode(err)
	report.Error = err.Error()
	emit(report)
	os.Exit(1)
}

func fail(reason string, err error) {
	emit(&runReport{Status: "error", Reason: reason, Error: err.Error()})
	os.Exit(1)
}

func emit(report *runReport) {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(out))
}
