package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"

	_ "github.com/lib/pq"
)

const documentColumns = `document_id, tenant_id, series, sequence_number, kind, net_amount, tax_amount, gross_amount, currency, counterpart_tax_id, counterpart_name, state, ticket_id, payload_hash, rejection_reason, ack_receipt, artifact_content, submitted_at, accepted_at, artifact_generated_at, created_at, meta_data`

func (d Datasource) RecordDocument(ctx context.Context, doc *model.FiscalDocument) (*model.FiscalDocument, error) {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Saving fiscal document to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(doc.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO fiscal_documents(document_id,tenant_id,series,sequence_number,kind,net_amount,tax_amount,gross_amount,currency,counterpart_tax_id,counterpart_name,state,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		doc.DocumentID, doc.TenantID, doc.Series, doc.SequenceNumber, doc.Kind, doc.NetAmount, doc.TaxAmount, doc.GrossAmount, doc.Currency, doc.CounterpartTaxID, doc.CounterpartName, doc.State, doc.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to record fiscal document", err)
	}

	return doc, nil
}

func (d Datasource) GetDocument(ctx context.Context, id string) (*model.FiscalDocument, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM fiscal_documents
		WHERE document_id = $1
	`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Document with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve fiscal document", err)
	}
	return doc, nil
}

func (d Datasource) GetDocumentByIdentity(ctx context.Context, tenantID, series string, sequence int64) (*model.FiscalDocument, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM fiscal_documents
		WHERE tenant_id = $1 AND series = $2 AND sequence_number = $3
	`, tenantID, series, sequence)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Document %s/%s/%d not found", tenantID, series, sequence), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve fiscal document", err)
	}
	return doc, nil
}

// UpdateDocumentState performs the atomic read-then-conditional-update the
// state machine relies on: the row only changes when it is still in
// expectedState, so duplicate deliveries of the same job cannot both
// perform the same transition.
func (d Datasource) UpdateDocumentState(ctx context.Context, id string, expectedState string, update DocumentUpdate) error {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Transitioning fiscal document state")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE fiscal_documents
		SET state = $3,
			ticket_id = COALESCE($4, ticket_id),
			payload_hash = COALESCE($5, payload_hash),
			rejection_reason = COALESCE($6, rejection_reason),
			ack_receipt = COALESCE($7, ack_receipt),
			artifact_content = COALESCE($8, artifact_content),
			submitted_at = COALESCE($9, submitted_at),
			accepted_at = COALESCE($10, accepted_at),
			artifact_generated_at = COALESCE($11, artifact_generated_at)
		WHERE document_id = $1 AND state = $2
	`, id, expectedState, update.NewState, update.TicketID, update.PayloadHash, update.RejectionReason, update.AckReceipt, update.ArtifactContent, update.SubmittedAt, update.AcceptedAt, update.ArtifactGeneratedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to transition fiscal document", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to read transition result", err)
	}
	if affected == 0 {
		current, getErr := d.GetDocument(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrPreconditionMismatch,
			fmt.Sprintf("Document '%s' is in state %s, expected %s", id, current.State, expectedState), nil)
	}
	return nil
}

// ListStaleDocuments returns documents sitting in state since before
// olderThan, ordered oldest first. Reconciliation uses it to re-arm stalled
// submissions.
func (d Datasource) ListStaleDocuments(ctx context.Context, state string, olderThan time.Time) ([]*model.FiscalDocument, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM fiscal_documents
		WHERE state = $1 AND submitted_at IS NOT NULL AND submitted_at < $2
		ORDER BY submitted_at ASC
	`, state, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to list stale documents", err)
	}
	defer rows.Close()

	var docs []*model.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to scan stale document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to iterate stale documents", err)
	}
	return docs, nil
}

// GetDocumentsInPeriod returns the tenant's accepted documents whose
// creation falls inside the YYYY-MM period. Report generation reads from
// here.
func (d Datasource) GetDocumentsInPeriod(ctx context.Context, tenantID, period string) ([]*model.FiscalDocument, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM fiscal_documents
		WHERE tenant_id = $1 AND to_char(created_at, 'YYYY-MM') = $2 AND state = 'ACCEPTED'
		ORDER BY series, sequence_number
	`, tenantID, period)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to list documents in period", err)
	}
	defer rows.Close()

	var docs []*model.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to iterate documents", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.FiscalDocument, error) {
	doc := &model.FiscalDocument{}
	var (
		counterpartName, ticketID, payloadHash, rejectionReason, ackReceipt, artifactContent sql.NullString
		submittedAt, acceptedAt, artifactGeneratedAt                             sql.NullTime
		metaDataJSON                                                             []byte
	)

	err := row.Scan(&doc.DocumentID, &doc.TenantID, &doc.Series, &doc.SequenceNumber, &doc.Kind,
		&doc.NetAmount, &doc.TaxAmount, &doc.GrossAmount, &doc.Currency, &doc.CounterpartTaxID,
		&counterpartName, &doc.State, &ticketID, &payloadHash, &rejectionReason, &ackReceipt, &artifactContent,
		&submittedAt, &acceptedAt, &artifactGeneratedAt, &doc.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	doc.CounterpartName = counterpartName.String
	doc.TicketID = ticketID.String
	doc.PayloadHash = payloadHash.String
	doc.RejectionReason = rejectionReason.String
	doc.AckReceipt = ackReceipt.String
	doc.ArtifactContent = artifactContent.String
	if submittedAt.Valid {
		doc.SubmittedAt = &submittedAt.Time
	}
	if acceptedAt.Valid {
		doc.AcceptedAt = &acceptedAt.Time
	}
	if artifactGeneratedAt.Valid {
		doc.ArtifactGeneratedAt = &artifactGeneratedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &doc.MetaData); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
