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

package model

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// Document states. A document is owned by the pipeline from the moment it is
// enqueued for submission until it reaches a terminal state.
const (
	StateDraft      = "DRAFT"
	StateSubmitting = "SUBMITTING"
	StateSubmitted  = "SUBMITTED"
	StateAccepted   = "ACCEPTED"
	StateRejected   = "REJECTED"
)

// Document kinds accepted by the authority.
const (
	KindInvoice    = "INVOICE"
	KindCreditNote = "CREDIT_NOTE"
)

// FiscalDocument is an invoice-class record subject to external tax-authority
// acceptance. Its fiscal identity is (tenant, series, sequence number); the
// document_id is the internal handle used on queue payloads.
type FiscalDocument struct {
	ID                  int64                  `json:"-"`
	DocumentID          string                 `json:"document_id"`
	TenantID            string                 `json:"tenant_id"`
	Series              string                 `json:"series"`
	SequenceNumber      int64                  `json:"sequence_number"`
	Kind                string                 `json:"kind"`
	NetAmount           decimal.Decimal        `json:"net_amount"`
	TaxAmount           decimal.Decimal        `json:"tax_amount"`
	GrossAmount         decimal.Decimal        `json:"gross_amount"`
	Currency            string                 `json:"currency"`
	CounterpartTaxID    string                 `json:"counterpart_tax_id"`
	CounterpartName     string                 `json:"counterpart_name"`
	State               string                 `json:"state"`
	TicketID            string                 `json:"ticket_id,omitempty"`
	PayloadHash         string                 `json:"payload_hash,omitempty"`
	RejectionReason     string                 `json:"rejection_reason,omitempty"`
	AckReceipt          string                 `json:"ack_receipt,omitempty"`
	ArtifactContent     string                 `json:"artifact_content,omitempty"`
	SubmittedAt         *time.Time             `json:"submitted_at,omitempty"`
	AcceptedAt          *time.Time             `json:"accepted_at,omitempty"`
	ArtifactGeneratedAt *time.Time             `json:"artifact_generated_at,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
}

// Validate checks the document is well formed enough to be signed and
// submitted. It does not check fiscal arithmetic beyond gross = net + tax.
func (d *FiscalDocument) Validate() error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.TenantID, validation.Required),
		validation.Field(&d.Series, validation.Required),
		validation.Field(&d.SequenceNumber, validation.Min(1)),
		validation.Field(&d.Kind, validation.Required, validation.In(KindInvoice, KindCreditNote)),
		validation.Field(&d.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&d.CounterpartTaxID, validation.Required),
	)
	if err != nil {
		return err
	}
	if !d.NetAmount.Add(d.TaxAmount).Equal(d.GrossAmount) {
		return validation.NewError("validation_amounts", "gross amount must equal net plus tax")
	}
	return nil
}

// SubmissionPayload is the canonical representation handed to the signing
// engine. Only fiscally relevant fields participate; pipeline bookkeeping
// (state, ticket, artifact) stays out of the signed content.
func (d *FiscalDocument) SubmissionPayload() ([]byte, error) {
	payload := map[string]interface{}{
		"document_id":        d.DocumentID,
		"tenant_id":          d.TenantID,
		"series":             d.Series,
		"sequence_number":    d.SequenceNumber,
		"kind":               d.Kind,
		"net_amount":         d.NetAmount.String(),
		"tax_amount":         d.TaxAmount.String(),
		"gross_amount":       d.GrossAmount.String(),
		"currency":           d.Currency,
		"counterpart_tax_id": d.CounterpartTaxID,
		"counterpart_name":   d.CounterpartName,
		"issued_at":          d.CreatedAt.UTC().Format(time.RFC3339),
	}
	return json.Marshal(payload)
}

func (d *FiscalDocument) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// IsTerminal reports whether the document has left the pipeline's ownership.
func (d *FiscalDocument) IsTerminal() bool {
	return d.State == StateAccepted || d.State == StateRejected
}
