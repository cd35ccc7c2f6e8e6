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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"
)

func sampleGuide() *model.ShipmentGuide {
	return &model.ShipmentGuide{
		GuideID:      "gde_123",
		Number:       "G-2025-001",
		TenantID:     "acme",
		Destination:  "Porto",
		Modality:     model.ModalityRoad,
		WeightKg:     420.5,
		CarrierName:  "TransAcme",
		VehiclePlate: "AA-01-BB",
		State:        model.GuideStateDraft,
		CreatedAt:    time.Now(),
	}
}

func guideRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"guide_id", "number", "tenant_id", "destination", "modality", "weight_kg",
		"carrier_name", "vehicle_plate", "document_ref", "state", "authority_code",
		"rejection_reason", "communicated_at", "created_at",
	})
}

func TestRecordGuideSuccess(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO shipment_guides`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	saved, err := d.RecordGuide(context.Background(), sampleGuide())
	require.NoError(t, err)
	assert.Equal(t, "gde_123", saved.GuideID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGuideNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("gde_missing").
		WillReturnRows(guideRows())

	_, err := d.GetGuide(context.Background(), "gde_missing")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestGetGuideScansOptionalColumns(t *testing.T) {
	d, mock := newTestDatasource(t)

	communicated := time.Now()
	rows := guideRows().AddRow("gde_123", "G-2025-001", "acme", "Porto", "ROAD", 420.5,
		"TransAcme", "AA-01-BB", nil, "COMMUNICATED", "AT-0001", nil, communicated, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("gde_123").WillReturnRows(rows)

	guide, err := d.GetGuide(context.Background(), "gde_123")
	require.NoError(t, err)
	assert.Equal(t, "AT-0001", guide.AuthorityCode)
	assert.Empty(t, guide.DocumentRef)
	require.NotNil(t, guide.CommunicatedAt)
}

func TestUpdateGuideStateConditional(t *testing.T) {
	d, mock := newTestDatasource(t)

	code := "AT-0001"
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE shipment_guides`)).
		WithArgs("gde_123", model.GuideStateSubmitting, model.GuideStateCommunicated, "AT-0001", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.UpdateGuideState(context.Background(), "gde_123", model.GuideStateSubmitting, GuideUpdate{
		NewState:       model.GuideStateCommunicated,
		AuthorityCode:  &code,
		CommunicatedAt: &now,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGuideStateMismatch(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE shipment_guides`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := guideRows().AddRow("gde_123", "G-2025-001", "acme", "Porto", "ROAD", 420.5,
		"TransAcme", "AA-01-BB", nil, "REJECTED", nil, "duplicate number", nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).WithArgs("gde_123").WillReturnRows(rows)

	err := d.UpdateGuideState(context.Background(), "gde_123", model.GuideStateSubmitting, GuideUpdate{
		NewState: model.GuideStateCommunicated,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrPreconditionMismatch))
}
