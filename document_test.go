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
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/internal/authority"
	"github.com/seliom/fiskal/model"
)

func draftDocument() *model.FiscalDocument {
	return &model.FiscalDocument{
		DocumentID:       "doc_1",
		TenantID:         "acme",
		Series:           "A",
		SequenceNumber:   42,
		Kind:             model.KindInvoice,
		NetAmount:        decimal.NewFromFloat(100),
		TaxAmount:        decimal.NewFromFloat(23),
		GrossAmount:      decimal.NewFromFloat(123),
		Currency:         "EUR",
		CounterpartTaxID: "PT501234567",
		CounterpartName:  gofakeit.Company(),
		State:            model.StateDraft,
		CreatedAt:        time.Now(),
	}
}

func TestRecordDocumentEnqueuesSubmit(t *testing.T) {
	f, ds, _, spy := newTestFiskal(t)
	doc := draftDocument()

	ds.On("RecordDocument", mock.Anything, mock.Anything).Return(doc, nil)

	saved, err := f.RecordDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, saved.State)

	submits := spy.tasks(model.ActionSubmit)
	require.Len(t, submits, 1)
	assert.Equal(t, config.DefaultDocumentQueue, submits[0].Queue)
	assert.Equal(t, doc.DocumentID, submits[0].Payload.DocumentID)
	ds.AssertExpectations(t)
}

func TestRecordDocumentRejectsInvalidInput(t *testing.T) {
	f, ds, _, spy := newTestFiskal(t)
	doc := draftDocument()
	doc.GrossAmount = decimal.NewFromFloat(999) // breaks gross = net + tax

	_, err := f.RecordDocument(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.Zero(t, spy.len())
	ds.AssertNotCalled(t, "RecordDocument", mock.Anything, mock.Anything)
}

func TestSubmitDocumentAcceptedFlow(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateDraft, mock.Anything).Return(nil)

	var submitted database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateSubmitting,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			submitted = u
			return u.NewState == model.StateSubmitted
		})).Return(nil)

	err := f.SubmitDocument(context.Background(), "doc_1")
	require.NoError(t, err)

	assert.Equal(t, 1, stub.SubmitCalls)
	require.NotNil(t, submitted.TicketID)
	assert.Equal(t, "tkt_stub", *submitted.TicketID)
	require.NotNil(t, submitted.PayloadHash)
	assert.NotEmpty(t, *submitted.PayloadHash)
	require.NotNil(t, submitted.SubmittedAt)

	polls := spy.tasks(model.ActionPollStatus)
	require.Len(t, polls, 1)
	assert.Equal(t, 120*time.Second, polls[0].Delay)
	ds.AssertExpectations(t)
}

func TestSubmitDocumentSkipsNonDraft(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateSubmitted

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	err := f.SubmitDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Zero(t, stub.SubmitCalls)
	assert.Zero(t, spy.len())
	ds.AssertNotCalled(t, "UpdateDocumentState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitDocumentLostClaimRace(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateDraft, mock.Anything).
		Return(apierror.NewAPIError(apierror.ErrPreconditionMismatch, "already claimed", nil))

	err := f.SubmitDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Zero(t, stub.SubmitCalls)
	assert.Zero(t, spy.len())
}

func TestSubmitDocumentAuthorityRejection(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()

	stub.SubmitFunc = func(ctx context.Context, signedPayload []byte) (*authority.SubmitResult, error) {
		return &authority.SubmitResult{Accepted: false, Reason: "series not registered"}, nil
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateDraft, mock.Anything).Return(nil)

	var rejected database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateSubmitting,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			rejected = u
			return u.NewState == model.StateRejected
		})).Return(nil)

	err := f.SubmitDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "series not registered", *rejected.RejectionReason)
	assert.Zero(t, spy.len())
}

func TestSubmitDocumentTransportFaultRejects(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()

	stub.SubmitFunc = func(ctx context.Context, signedPayload []byte) (*authority.SubmitResult, error) {
		return nil, apierror.NewAPIError(apierror.ErrTransport, "authority unreachable", nil)
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateDraft, mock.Anything).Return(nil)

	var rejected database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateSubmitting,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			rejected = u
			return u.NewState == model.StateRejected
		})).Return(nil)

	// the job succeeds: a submit is never retried automatically
	err := f.SubmitDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Contains(t, *rejected.RejectionReason, "submission failed")
	assert.Zero(t, spy.len())
}

func TestPollDocumentStatusPendingIsNoOp(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateSubmitted
	doc.TicketID = "tkt_9"

	stub.PollStatusFunc = func(ctx context.Context, ticketID string) (*authority.StatusResult, error) {
		return &authority.StatusResult{Verdict: authority.VerdictPending}, nil
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	err := f.PollDocumentStatus(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.PollCalls)
	assert.Zero(t, spy.len(), "a pending poll must not re-enqueue itself")
	ds.AssertNotCalled(t, "UpdateDocumentState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPollDocumentStatusAccepted(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateSubmitted
	doc.TicketID = "tkt_9"

	stub.PollStatusFunc = func(ctx context.Context, ticketID string) (*authority.StatusResult, error) {
		return &authority.StatusResult{Verdict: authority.VerdictAccepted, Ack: []byte(`{"receipt":"AT-1"}`)}, nil
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	var accepted database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateSubmitted,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			accepted = u
			return u.NewState == model.StateAccepted
		})).Return(nil)

	err := f.PollDocumentStatus(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NotNil(t, accepted.AckReceipt)
	assert.Contains(t, *accepted.AckReceipt, "AT-1")
	require.NotNil(t, accepted.AcceptedAt)

	artifacts := spy.tasks(model.ActionGenerateArtifact)
	require.Len(t, artifacts, 1)
	assert.Equal(t, config.DefaultDocumentQueue, artifacts[0].Queue)
}

func TestPollDocumentStatusRejected(t *testing.T) {
	f, ds, stub, spy := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateSubmitted
	doc.TicketID = "tkt_9"

	stub.PollStatusFunc = func(ctx context.Context, ticketID string) (*authority.StatusResult, error) {
		return &authority.StatusResult{Verdict: authority.VerdictRejected, Reason: "duplicate sequence"}, nil
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	var rejected database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateSubmitted,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			rejected = u
			return u.NewState == model.StateRejected
		})).Return(nil)

	err := f.PollDocumentStatus(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "duplicate sequence", *rejected.RejectionReason)
	assert.Zero(t, spy.len())
}

func TestPollDocumentStatusTransportFaultRetries(t *testing.T) {
	f, ds, stub, _ := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateSubmitted
	doc.TicketID = "tkt_9"

	stub.PollStatusFunc = func(ctx context.Context, ticketID string) (*authority.StatusResult, error) {
		return nil, apierror.NewAPIError(apierror.ErrTransport, "authority unreachable", nil)
	}

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	err := f.PollDocumentStatus(context.Background(), "doc_1")
	require.Error(t, err)
	assert.True(t, apierror.Retryable(err), "transport faults go back to the broker for retry")
	ds.AssertNotCalled(t, "UpdateDocumentState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPollDocumentStatusSkipsTerminal(t *testing.T) {
	f, ds, stub, _ := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateAccepted

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	err := f.PollDocumentStatus(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Zero(t, stub.PollCalls)
}

func TestGenerateDocumentArtifact(t *testing.T) {
	f, ds, _, _ := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateAccepted
	doc.TicketID = "tkt_9"
	doc.PayloadHash = "abc123"
	now := time.Now()
	doc.AcceptedAt = &now

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	var stored database.DocumentUpdate
	ds.On("UpdateDocumentState", mock.Anything, "doc_1", model.StateAccepted,
		mock.MatchedBy(func(u database.DocumentUpdate) bool {
			stored = u
			return u.NewState == model.StateAccepted
		})).Return(nil)

	err := f.GenerateDocumentArtifact(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NotNil(t, stored.ArtifactContent)
	assert.Contains(t, *stored.ArtifactContent, "A/42")
	assert.Contains(t, *stored.ArtifactContent, "tkt_9")
	require.NotNil(t, stored.ArtifactGeneratedAt)
}

func TestGenerateDocumentArtifactSkipsNonAccepted(t *testing.T) {
	f, ds, _, _ := newTestFiskal(t)
	doc := draftDocument()
	doc.State = model.StateRejected

	ds.On("GetDocument", mock.Anything, "doc_1").Return(doc, nil)

	err := f.GenerateDocumentArtifact(context.Background(), "doc_1")
	require.NoError(t, err)
	ds.AssertNotCalled(t, "UpdateDocumentState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
