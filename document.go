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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/internal/authority"
	"github.com/seliom/fiskal/model"
)

// RecordDocument validates and persists a new DRAFT document, then enqueues
// it for submission. This is the admission path: once the SUBMIT job is on
// the queue the pipeline owns the document.
func (f *Fiskal) RecordDocument(ctx context.Context, doc *model.FiscalDocument) (*model.FiscalDocument, error) {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Recording fiscal document")
	defer span.End()

	if err := doc.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if doc.DocumentID == "" {
		doc.DocumentID = database.GenerateUUIDWithSuffix("doc")
	}
	doc.State = model.StateDraft
	doc.CreatedAt = time.Now()

	doc, err := f.datasource.RecordDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	err = f.queue.Enqueue(ctx, cfg.Queue.DocumentQueue, model.ActionSubmit, &model.TaskPayload{
		Action:     model.ActionSubmit,
		DocumentID: doc.DocumentID,
	}, 0)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by its internal handle.
func (f *Fiskal) GetDocument(ctx context.Context, id string) (*model.FiscalDocument, error) {
	return f.datasource.GetDocument(ctx, id)
}

// SubmitDocument drives a DRAFT document through signing and submission.
// Any failure between SUBMITTING and the authority's answer parks the
// document in REJECTED with the reason recorded; the job itself succeeds so
// the broker never re-submits a fiscal filing on its own.
func (f *Fiskal) SubmitDocument(ctx context.Context, documentID string) error {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Submitting fiscal document")
	defer span.End()

	doc, err := f.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.State != model.StateDraft {
		logrus.Infof("document %s is %s, not DRAFT; skipping submit", documentID, doc.State)
		return nil
	}

	claimed, err := f.transitionDocument(ctx, documentID, model.StateDraft, database.DocumentUpdate{
		NewState: model.StateSubmitting,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	payload, err := doc.SubmissionPayload()
	if err != nil {
		return f.rejectDocument(ctx, doc, model.StateSubmitting, fmt.Sprintf("payload build failed: %v", err))
	}

	signed, hash, err := f.signer.Sign(payload)
	if err != nil {
		return f.rejectDocument(ctx, doc, model.StateSubmitting, fmt.Sprintf("signing failed: %v", err))
	}

	result, err := f.authority.Submit(ctx, signed)
	if err != nil {
		return f.rejectDocument(ctx, doc, model.StateSubmitting, fmt.Sprintf("submission failed: %v", err))
	}
	if !result.Accepted {
		return f.rejectDocument(ctx, doc, model.StateSubmitting, result.Reason)
	}

	now := time.Now()
	recorded, err := f.transitionDocument(ctx, documentID, model.StateSubmitting, database.DocumentUpdate{
		NewState:    model.StateSubmitted,
		TicketID:    &result.TicketID,
		PayloadHash: &hash,
		SubmittedAt: &now,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	err = f.queue.Enqueue(ctx, cfg.Queue.DocumentQueue, model.ActionPollStatus, &model.TaskPayload{
		Action:     model.ActionPollStatus,
		DocumentID: documentID,
	}, time.Duration(cfg.Queue.PollDelaySeconds)*time.Second)
	if err != nil {
		return err
	}

	notifyWebhook("document.submitted", map[string]interface{}{
		"document_id": documentID,
		"ticket_id":   result.TicketID,
	})
	return nil
}

// PollDocumentStatus asks the authority for a verdict on a SUBMITTED
// document. PENDING is a clean no-op: the job succeeds without re-enqueueing
// itself, and the reconciliation sweep re-arms the poll later. Transport
// faults are returned so the broker retries with backoff.
func (f *Fiskal) PollDocumentStatus(ctx context.Context, documentID string) error {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Polling document status")
	defer span.End()

	doc, err := f.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.State != model.StateSubmitted {
		logrus.Infof("document %s is %s, not SUBMITTED; skipping poll", documentID, doc.State)
		return nil
	}

	status, err := f.authority.PollStatus(ctx, doc.TicketID)
	if err != nil {
		return err
	}

	switch status.Verdict {
	case authority.VerdictPending:
		logrus.Infof("document %s still pending at the authority", documentID)
		return nil
	case authority.VerdictAccepted:
		now := time.Now()
		ack := string(status.Ack)
		recorded, err := f.transitionDocument(ctx, documentID, model.StateSubmitted, database.DocumentUpdate{
			NewState:   model.StateAccepted,
			AckReceipt: &ack,
			AcceptedAt: &now,
		})
		if err != nil {
			return err
		}
		if !recorded {
			return nil
		}
		cfg, err := config.Fetch()
		if err != nil {
			return err
		}
		err = f.queue.Enqueue(ctx, cfg.Queue.DocumentQueue, model.ActionGenerateArtifact, &model.TaskPayload{
			Action:     model.ActionGenerateArtifact,
			DocumentID: documentID,
		}, 0)
		if err != nil {
			return err
		}
		notifyWebhook("document.accepted", map[string]interface{}{
			"document_id": documentID,
			"ticket_id":   doc.TicketID,
		})
		return nil
	case authority.VerdictRejected:
		recorded, err := f.transitionDocument(ctx, documentID, model.StateSubmitted, database.DocumentUpdate{
			NewState:        model.StateRejected,
			RejectionReason: &status.Reason,
		})
		if err != nil {
			return err
		}
		if !recorded {
			return nil
		}
		notifyWebhook("document.rejected", map[string]interface{}{
			"document_id": documentID,
			"reason":      status.Reason,
		})
		return nil
	}
	return apierror.NewAPIError(apierror.ErrInternalServer,
		fmt.Sprintf("unknown authority verdict %q for document %s", status.Verdict, documentID), nil)
}

// GenerateDocumentArtifact renders the customer deliverable for an ACCEPTED
// document. Rendering is deterministic for a given document, so a redelivered
// job overwrites the artifact with identical content.
func (f *Fiskal) GenerateDocumentArtifact(ctx context.Context, documentID string) error {
	ctx, span := otel.Tracer("fiskal.documents").Start(ctx, "Generating document artifact")
	defer span.End()

	doc, err := f.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.State != model.StateAccepted {
		logrus.Infof("document %s is %s, not ACCEPTED; skipping artifact generation", documentID, doc.State)
		return nil
	}

	content, err := RenderInvoiceArtifact(doc)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to render document artifact", err)
	}

	now := time.Now()
	_, err = f.transitionDocument(ctx, documentID, model.StateAccepted, database.DocumentUpdate{
		NewState:            model.StateAccepted,
		ArtifactContent:     &content,
		ArtifactGeneratedAt: &now,
	})
	return err
}

// transitionDocument applies a conditional state update. A lost race comes
// back as (false, nil): another delivery already performed this transition,
// so the caller stops without treating it as a failure.
func (f *Fiskal) transitionDocument(ctx context.Context, id, expectedState string, update database.DocumentUpdate) (bool, error) {
	err := f.datasource.UpdateDocumentState(ctx, id, expectedState, update)
	if err != nil {
		if apierror.Is(err, apierror.ErrPreconditionMismatch) {
			logrus.Infof("document %s left %s concurrently; transition to %s skipped", id, expectedState, update.NewState)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// rejectDocument parks a document in REJECTED with the failure reason. The
// returned error is nil on purpose: submit failures are terminal for the
// attempt, and retrying could double-file with the authority.
func (f *Fiskal) rejectDocument(ctx context.Context, doc *model.FiscalDocument, fromState, reason string) error {
	logrus.Warnf("rejecting document %s: %s", doc.DocumentID, reason)
	recorded, err := f.transitionDocument(ctx, doc.DocumentID, fromState, database.DocumentUpdate{
		NewState:        model.StateRejected,
		RejectionReason: &reason,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}
	notifyWebhook("document.rejected", map[string]interface{}{
		"document_id": doc.DocumentID,
		"reason":      reason,
	})
	return nil
}
