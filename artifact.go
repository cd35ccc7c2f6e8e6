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
	"strings"
	"text/template"
	"time"

	"github.com/seliom/fiskal/model"
)

// artifactTemplate is the customer-facing rendering of an accepted
// document. The output depends only on stored document fields so a
// regenerated artifact is byte-identical to the first.
var artifactTemplate = template.Must(template.New("artifact").Parse(
	`{{.Kind}} {{.Series}}/{{.SequenceNumber}}
Tenant:          {{.TenantID}}
Counterpart:     {{.CounterpartName}} ({{.CounterpartTaxID}})
Net:             {{.NetAmount}} {{.Currency}}
Tax:             {{.TaxAmount}} {{.Currency}}
Gross:           {{.GrossAmount}} {{.Currency}}
Authority ticket: {{.TicketID}}
Payload hash:    {{.PayloadHash}}
Issued:          {{.IssuedAt}}
Accepted:        {{.AcceptedAt}}
{{- if .AckReceipt}}
Acknowledgment:  {{.AckReceipt}}
{{- end}}
`))

type artifactFields struct {
	Kind             string
	Series           string
	SequenceNumber   int64
	TenantID         string
	CounterpartName  string
	CounterpartTaxID string
	NetAmount        string
	TaxAmount        string
	GrossAmount      string
	Currency         string
	TicketID         string
	PayloadHash      string
	IssuedAt         string
	AcceptedAt       string
	AckReceipt       string
}

// RenderInvoiceArtifact builds the printable deliverable for an accepted
// document.
func RenderInvoiceArtifact(doc *model.FiscalDocument) (string, error) {
	acceptedAt := ""
	if doc.AcceptedAt != nil {
		acceptedAt = doc.AcceptedAt.UTC().Format(time.RFC3339)
	}

	fields := artifactFields{
		Kind:             doc.Kind,
		Series:           doc.Series,
		SequenceNumber:   doc.SequenceNumber,
		TenantID:         doc.TenantID,
		CounterpartName:  doc.CounterpartName,
		CounterpartTaxID: doc.CounterpartTaxID,
		NetAmount:        doc.NetAmount.String(),
		TaxAmount:        doc.TaxAmount.String(),
		GrossAmount:      doc.GrossAmount.String(),
		Currency:         doc.Currency,
		TicketID:         doc.TicketID,
		PayloadHash:      doc.PayloadHash,
		IssuedAt:         doc.CreatedAt.UTC().Format(time.RFC3339),
		AcceptedAt:       acceptedAt,
		AckReceipt:       doc.AckReceipt,
	}

	var out strings.Builder
	if err := artifactTemplate.Execute(&out, fields); err != nil {
		return "", err
	}
	return out.String(), nil
}
