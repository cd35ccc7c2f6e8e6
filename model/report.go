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
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Regulatory report states. A report row exists in RUNNING before any work
// begins so its status is queryable immediately.
const (
	ReportStateRunning   = "RUNNING"
	ReportStateCompleted = "COMPLETED"
	ReportStateFailed    = "FAILED"
)

// Report kinds generated for the authority on a periodic cadence.
const (
	ReportKindSAFTInvoicing = "SAFT_INVOICING"
	ReportKindVATSummary    = "VAT_SUMMARY"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// RegulatoryReport is a periodic bulk report keyed by (tenant, period, kind).
// Only one RUNNING row may exist per key at a time.
type RegulatoryReport struct {
	ID           int64      `json:"-"`
	ReportID     string     `json:"report_id"`
	TenantID     string     `json:"tenant_id"`
	Period       string     `json:"period"`
	Kind         string     `json:"kind"`
	State        string     `json:"state"`
	RecordCount  int64      `json:"record_count"`
	Content      string     `json:"content,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (r *RegulatoryReport) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Period, validation.Required, validation.Match(periodPattern)),
		validation.Field(&r.Kind, validation.Required, validation.In(ReportKindSAFTInvoicing, ReportKindVATSummary)),
	)
}

// Key returns the report's logical identity used for locking and dedup.
func (r *RegulatoryReport) Key() string {
	return r.TenantID + ":" + r.Period + ":" + r.Kind
}

func (r *RegulatoryReport) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
