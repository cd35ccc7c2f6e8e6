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
	"time"

	"github.com/seliom/fiskal/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	document // Interface for fiscal document operations
	shipment // Interface for shipment guide operations
	report   // Interface for regulatory report operations
}

// DocumentUpdate carries the fields written alongside a state transition.
// Nil pointers leave the column untouched.
type DocumentUpdate struct {
	NewState            string
	TicketID            *string
	PayloadHash         *string
	RejectionReason     *string
	AckReceipt          *string
	ArtifactContent     *string
	SubmittedAt         *time.Time
	AcceptedAt          *time.Time
	ArtifactGeneratedAt *time.Time
}

// GuideUpdate carries the fields written alongside a guide state transition.
type GuideUpdate struct {
	NewState        string
	AuthorityCode   *string
	RejectionReason *string
	CommunicatedAt  *time.Time
}

// document defines methods for handling fiscal documents. All transitional
// writes are conditional on the expected current state; a stale expectation
// yields a PRECONDITION_MISMATCH, never a partial write.
type document interface {
	RecordDocument(ctx context.Context, doc *model.FiscalDocument) (*model.FiscalDocument, error)                  // Records a new fiscal document
	GetDocument(ctx context.Context, id string) (*model.FiscalDocument, error)                                     // Retrieves a document by ID
	GetDocumentByIdentity(ctx context.Context, tenantID, series string, sequence int64) (*model.FiscalDocument, error) // Retrieves a document by fiscal identity
	UpdateDocumentState(ctx context.Context, id string, expectedState string, update DocumentUpdate) error         // Conditional state transition
	ListStaleDocuments(ctx context.Context, state string, olderThan time.Time) ([]*model.FiscalDocument, error)    // Documents stuck in a state past the grace window
	GetDocumentsInPeriod(ctx context.Context, tenantID, period string) ([]*model.FiscalDocument, error)            // Accepted documents for a reporting period
}

// shipment defines methods for handling shipment guides.
type shipment interface {
	RecordGuide(ctx context.Context, guide *model.ShipmentGuide) (*model.ShipmentGuide, error) // Records a new shipment guide
	GetGuide(ctx context.Context, id string) (*model.ShipmentGuide, error)                     // Retrieves a guide by ID
	UpdateGuideState(ctx context.Context, id string, expectedState string, update GuideUpdate) error // Conditional state transition
}

// report defines methods for handling regulatory reports.
type report interface {
	CreateReport(ctx context.Context, report *model.RegulatoryReport) (*model.RegulatoryReport, error) // Creates a RUNNING report row; CONFLICT when the key is already running
	GetReport(ctx context.Context, id string) (*model.RegulatoryReport, error)                         // Retrieves a report by ID
	CompleteReport(ctx context.Context, id string, recordCount int64, content string) error            // RUNNING -> COMPLETED with content attached atomically
	FailReport(ctx context.Context, id string, errorMessage string) error                              // RUNNING -> FAILED with the captured error
}
