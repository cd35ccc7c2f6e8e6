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

package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Datasource{Conn: db}, mock
}

func sampleDocument() *model.FiscalDocument {
	return &model.FiscalDocument{
		DocumentID:       "doc_123",
		TenantID:         "acme",
		Series:           "A",
		SequenceNumber:   42,
		Kind:             model.KindInvoice,
		NetAmount:        decimal.RequireFromString("100.00"),
		TaxAmount:        decimal.RequireFromString("23.00"),
		GrossAmount:      decimal.RequireFromString("123.00"),
		Currency:         "EUR",
		CounterpartTaxID: "PT501234567",
		CounterpartName:  "Acme Supplies Lda",
		State:            model.StateDraft,
		CreatedAt:        time.Now(),
	}
}

func TestRecordDocumentSuccess(t *testing.T) {
	d, mock := newTestDatasource(t)
	doc := sampleDocument()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fiscal_documents`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := d.RecordDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentFailure(t *testing.T) {
	d, mock := newTestDatasource(t)
	doc := sampleDocument()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fiscal_documents`)).
		WillReturnError(assert.AnError)

	_, err := d.RecordDocument(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrPersistence))
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"document_id", "tenant_id", "series", "sequence_number", "kind",
		"net_amount", "tax_amount", "gross_amount", "currency", "counterpart_tax_id",
		"counterpart_name", "state", "ticket_id", "payload_hash", "rejection_reason",
		"ack_receipt", "artifact_content", "submitted_at", "accepted_at", "artifact_generated_at",
		"created_at", "meta_data",
	})
}

func TestGetDocumentSuccess(t *testing.T) {
	d, mock := newTestDatasource(t)

	rows := documentRows().AddRow(
		"doc_123", "acme", "A", 42, "INVOICE",
		"100.00", "23.00", "123.00", "EUR", "PT501234567",
		"Acme Supplies Lda", "SUBMITTED", "tkt_9", "abc123", nil,
		nil, nil, time.Now(), nil, nil,
		time.Now(), []byte(`{"origin":"api"}`),
	)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("doc_123").WillReturnRows(rows)

	doc, err := d.GetDocument(context.Background(), "doc_123")
	require.NoError(t, err)
	assert.Equal(t, "acme", doc.TenantID)
	assert.Equal(t, model.StateSubmitted, doc.State)
	assert.Equal(t, "tkt_9", doc.TicketID)
	assert.NotNil(t, doc.SubmittedAt)
	assert.Nil(t, doc.AcceptedAt)
	assert.Equal(t, "api", doc.MetaData["origin"])
}

func TestGetDocumentNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("doc_missing").
		WillReturnRows(documentRows())

	_, err := d.GetDocument(context.Background(), "doc_missing")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestUpdateDocumentStateSuccess(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE fiscal_documents`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ticket := "tkt_9"
	err := d.UpdateDocumentState(context.Background(), "doc_123", model.StateSubmitting, DocumentUpdate{
		NewState: model.StateSubmitted,
		TicketID: &ticket,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDocumentStatePreconditionMismatch(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE fiscal_documents`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := documentRows().AddRow(
		"doc_123", "acme", "A", 42, "INVOICE",
		"100.00", "23.00", "123.00", "EUR", "PT501234567",
		nil, "SUBMITTED", "tkt_9", nil, nil,
		nil, nil, time.Now(), nil, nil,
		time.Now(), nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("doc_123").WillReturnRows(rows)

	err := d.UpdateDocumentState(context.Background(), "doc_123", model.StateDraft, DocumentUpdate{
		NewState: model.StateSubmitting,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrPreconditionMismatch))
}

func TestUpdateDocumentStateMissingDocument(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE fiscal_documents`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("doc_gone").
		WillReturnRows(documentRows())

	err := d.UpdateDocumentState(context.Background(), "doc_gone", model.StateDraft, DocumentUpdate{
		NewState: model.StateSubmitting,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestListStaleDocuments(t *testing.T) {
	d, mock := newTestDatasource(t)
	cutoff := time.Now().Add(-30 * time.Minute)

	rows := documentRows().AddRow(
		"doc_old", "acme", "A", 7, "INVOICE",
		"10.00", "2.30", "12.30", "EUR", "PT501234567",
		nil, "SUBMITTED", "tkt_1", nil, nil,
		nil, nil, cutoff.Add(-time.Hour), nil, nil,
		cutoff.Add(-2*time.Hour), nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs(model.StateSubmitted, cutoff).
		WillReturnRows(rows)

	docs, err := d.ListStaleDocuments(context.Background(), model.StateSubmitted, cutoff)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc_old", docs[0].DocumentID)
}
