/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fiskal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/internal/apierror"
	redlock "github.com/seliom/fiskal/internal/lock"
	"github.com/seliom/fiskal/model"
)

// RequestReport admits a regulatory report run for (tenant, period, kind).
// The RUNNING row is inserted before any work happens so the run is
// queryable immediately; a second request for the same key while the first
// is RUNNING comes back as CONFLICT and is not enqueued. A Redis lock
// narrows the race window, the partial unique index is the hard guarantee.
func (f *Fiskal) RequestReport(ctx context.Context, tenantID, period, kind string) (*model.RegulatoryReport, error) {
	ctx, span := otel.Tracer("fiskal.reports").Start(ctx, "Requesting regulatory report")
	defer span.End()

	report := &model.RegulatoryReport{
		ReportID:  database.GenerateUUIDWithSuffix("rpt"),
		TenantID:  tenantID,
		Period:    period,
		Kind:      kind,
		State:     model.ReportStateRunning,
		CreatedAt: time.Now(),
	}
	if err := report.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	locker := redlock.NewLocker(f.redis, fmt.Sprintf("report:%s", report.Key()), report.ReportID)
	if err := locker.Lock(ctx, time.Minute); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Report for %s is already being requested", report.Key()), err)
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Errorf("failed to release report lock %s: %v", report.Key(), err)
		}
	}()

	report, err := f.datasource.CreateReport(ctx, report)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	err = f.queue.Enqueue(ctx, cfg.Queue.ReportQueue, model.ActionGenerateReport, &model.TaskPayload{
		Action:   model.ActionGenerateReport,
		ReportID: report.ReportID,
	}, 0)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GetReport retrieves a report row, including its state and content.
func (f *Fiskal) GetReport(ctx context.Context, id string) (*model.RegulatoryReport, error) {
	return f.datasource.GetReport(ctx, id)
}

// GenerateReport builds the content for a RUNNING report and attaches it
// atomically. A failure is recorded on the row via FailReport and the error
// is returned so the broker's bookkeeping still sees the failed run.
func (f *Fiskal) GenerateReport(ctx context.Context, reportID string) error {
	ctx, span := otel.Tracer("fiskal.reports").Start(ctx, "Generating regulatory report")
	defer span.End()

	report, err := f.datasource.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.State != model.ReportStateRunning {
		logrus.Infof("report %s is %s, not RUNNING; skipping generation", reportID, report.State)
		return nil
	}

	docs, err := f.datasource.GetDocumentsInPeriod(ctx, report.TenantID, report.Period)
	if err != nil {
		return f.failReport(ctx, report, err)
	}

	content, err := buildReportContent(report, docs)
	if err != nil {
		return f.failReport(ctx, report, err)
	}

	if err := f.datasource.CompleteReport(ctx, reportID, int64(len(docs)), content); err != nil {
		if apierror.Is(err, apierror.ErrPreconditionMismatch) {
			logrus.Infof("report %s already left RUNNING; completion skipped", reportID)
			return nil
		}
		return err
	}

	notifyWebhook("report.completed", map[string]interface{}{
		"report_id":    reportID,
		"tenant_id":    report.TenantID,
		"period":       report.Period,
		"kind":         report.Kind,
		"record_count": len(docs),
	})
	return nil
}

func (f *Fiskal) failReport(ctx context.Context, report *model.RegulatoryReport, cause error) error {
	logrus.Errorf("report %s generation failed: %v", report.ReportID, cause)
	if err := f.datasource.FailReport(ctx, report.ReportID, cause.Error()); err != nil {
		if !apierror.Is(err, apierror.ErrPreconditionMismatch) {
			return err
		}
	}
	notifyWebhook("report.failed", map[string]interface{}{
		"report_id": report.ReportID,
		"error":     cause.Error(),
	})
	return cause
}

type reportLine struct {
	DocumentID     string `json:"document_id"`
	Series         string `json:"series"`
	SequenceNumber int64  `json:"sequence_number"`
	Kind           string `json:"kind"`
	NetAmount      string `json:"net_amount"`
	TaxAmount      string `json:"tax_amount"`
	GrossAmount    string `json:"gross_amount"`
	Currency       string `json:"currency"`
	PayloadHash    string `json:"payload_hash"`
}

type reportBody struct {
	TenantID    string       `json:"tenant_id"`
	Period      string       `json:"period"`
	Kind        string       `json:"kind"`
	RecordCount int          `json:"record_count"`
	TotalNet    string       `json:"total_net"`
	TotalTax    string       `json:"total_tax"`
	TotalGross  string       `json:"total_gross"`
	Lines       []reportLine `json:"lines,omitempty"`
}

// buildReportContent renders the report body from the tenant's accepted
// documents. SAF-T invoicing carries every document line; the VAT summary
// keeps only the aggregates.
func buildReportContent(report *model.RegulatoryReport, docs []*model.FiscalDocument) (string, error) {
	body := reportBody{
		TenantID:    report.TenantID,
		Period:      report.Period,
		Kind:        report.Kind,
		RecordCount: len(docs),
	}

	totalNet, totalTax, totalGross := decimal.Zero, decimal.Zero, decimal.Zero
	for _, doc := range docs {
		totalNet = totalNet.Add(doc.NetAmount)
		totalTax = totalTax.Add(doc.TaxAmount)
		totalGross = totalGross.Add(doc.GrossAmount)
		if report.Kind == model.ReportKindSAFTInvoicing {
			body.Lines = append(body.Lines, reportLine{
				DocumentID:     doc.DocumentID,
				Series:         doc.Series,
				SequenceNumber: doc.SequenceNumber,
				Kind:           doc.Kind,
				NetAmount:      doc.NetAmount.String(),
				TaxAmount:      doc.TaxAmount.String(),
				GrossAmount:    doc.GrossAmount.String(),
				Currency:       doc.Currency,
				PayloadHash:    doc.PayloadHash,
			})
		}
	}
	body.TotalNet = totalNet.String()
	body.TotalTax = totalTax.String()
	body.TotalGross = totalGross.String()

	content, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", err
	}
	return string(content), nil
}
