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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Document methods

func (m *MockDataSource) RecordDocument(ctx context.Context, doc *model.FiscalDocument) (*model.FiscalDocument, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(*model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) GetDocument(ctx context.Context, id string) (*model.FiscalDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) GetDocumentByIdentity(ctx context.Context, tenantID, series string, sequence int64) (*model.FiscalDocument, error) {
	args := m.Called(ctx, tenantID, series, sequence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) UpdateDocumentState(ctx context.Context, id string, expectedState string, update database.DocumentUpdate) error {
	args := m.Called(ctx, id, expectedState, update)
	return args.Error(0)
}

func (m *MockDataSource) ListStaleDocuments(ctx context.Context, state string, olderThan time.Time) ([]*model.FiscalDocument, error) {
	args := m.Called(ctx, state, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) GetDocumentsInPeriod(ctx context.Context, tenantID, period string) ([]*model.FiscalDocument, error) {
	args := m.Called(ctx, tenantID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.FiscalDocument), args.Error(1)
}

// Shipment guide methods

func (m *MockDataSource) RecordGuide(ctx context.Context, guide *model.ShipmentGuide) (*model.ShipmentGuide, error) {
	args := m.Called(ctx, guide)
	return args.Get(0).(*model.ShipmentGuide), args.Error(1)
}

func (m *MockDataSource) GetGuide(ctx context.Context, id string) (*model.ShipmentGuide, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ShipmentGuide), args.Error(1)
}

func (m *MockDataSource) UpdateGuideState(ctx context.Context, id string, expectedState string, update database.GuideUpdate) error {
	args := m.Called(ctx, id, expectedState, update)
	return args.Error(0)
}

// Report methods

func (m *MockDataSource) CreateReport(ctx context.Context, report *model.RegulatoryReport) (*model.RegulatoryReport, error) {
	args := m.Called(ctx, report)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegulatoryReport), args.Error(1)
}

func (m *MockDataSource) GetReport(ctx context.Context, id string) (*model.RegulatoryReport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegulatoryReport), args.Error(1)
}

func (m *MockDataSource) CompleteReport(ctx context.Context, id string, recordCount int64, content string) error {
	args := m.Called(ctx, id, recordCount, content)
	return args.Error(0)
}

func (m *MockDataSource) FailReport(ctx context.Context, id string, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}
