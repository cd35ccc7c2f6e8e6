package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"
)

// CreateReport inserts the report row in RUNNING before any generation work
// begins, so callers can query status immediately. The partial unique index
// turns a concurrent request for the same (tenant, period, kind) into a
// CONFLICT instead of a second generation.
func (d Datasource) CreateReport(ctx context.Context, report *model.RegulatoryReport) (*model.RegulatoryReport, error) {
	ctx, span := otel.Tracer("fiskal.reports").Start(ctx, "Creating regulatory report row")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO regulatory_reports(report_id,tenant_id,period,kind,state,created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		report.ReportID, report.TenantID, report.Period, report.Kind, report.State, report.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Report for %s/%s/%s is already running", report.TenantID, report.Period, report.Kind), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to create regulatory report", err)
	}
	return report, nil
}

func (d Datasource) GetReport(ctx context.Context, id string) (*model.RegulatoryReport, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT report_id, tenant_id, period, kind, state, record_count, content, error_message, completed_at, created_at
		FROM regulatory_reports
		WHERE report_id = $1
	`, id)

	report := &model.RegulatoryReport{}
	var (
		content, errorMessage sql.NullString
		completedAt           sql.NullTime
	)
	err := row.Scan(&report.ReportID, &report.TenantID, &report.Period, &report.Kind, &report.State,
		&report.RecordCount, &content, &errorMessage, &completedAt, &report.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Report with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve regulatory report", err)
	}

	report.Content = content.String
	report.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		report.CompletedAt = &completedAt.Time
	}
	return report, nil
}

// CompleteReport attaches content and the record count in one write. No
// partial or streamed content ever lands on the row.
func (d Datasource) CompleteReport(ctx context.Context, id string, recordCount int64, content string) error {
	ctx, span := otel.Tracer("fiskal.reports").Start(ctx, "Completing regulatory report")
	defer span.End()

	return d.transitionReport(ctx, id, `
		UPDATE regulatory_reports
		SET state = 'COMPLETED', record_count = $2, content = $3, completed_at = NOW()
		WHERE report_id = $1 AND state = 'RUNNING'
	`, id, recordCount, content)
}

// FailReport records the captured error message. The triggering job still
// re-raises, so broker bookkeeping applies on top of this row update.
func (d Datasource) FailReport(ctx context.Context, id string, errorMessage string) error {
	ctx, span := otel.Tracer("fiskal.reports").Start(ctx, "Failing regulatory report")
	defer span.End()

	return d.transitionReport(ctx, id, `
		UPDATE regulatory_reports
		SET state = 'FAILED', error_message = $2, completed_at = NOW()
		WHERE report_id = $1 AND state = 'RUNNING'
	`, id, errorMessage)
}

func (d Datasource) transitionReport(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to transition regulatory report", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to read transition result", err)
	}
	if affected == 0 {
		current, getErr := d.GetReport(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrPreconditionMismatch,
			fmt.Sprintf("Report '%s' is in state %s, expected RUNNING", id, current.State), nil)
	}
	return nil
}
