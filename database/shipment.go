package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"
)

const guideColumns = `guide_id, number, tenant_id, destination, modality, weight_kg, carrier_name, vehicle_plate, document_ref, state, authority_code, rejection_reason, communicated_at, created_at`

func (d Datasource) RecordGuide(ctx context.Context, guide *model.ShipmentGuide) (*model.ShipmentGuide, error) {
	ctx, span := otel.Tracer("fiskal.shipments").Start(ctx, "Saving shipment guide to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO shipment_guides(guide_id,number,tenant_id,destination,modality,weight_kg,carrier_name,vehicle_plate,document_ref,state,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		guide.GuideID, guide.Number, guide.TenantID, guide.Destination, guide.Modality, guide.WeightKg, guide.CarrierName, guide.VehiclePlate, guide.DocumentRef, guide.State, guide.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to record shipment guide", err)
	}
	return guide, nil
}

func (d Datasource) GetGuide(ctx context.Context, id string) (*model.ShipmentGuide, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+guideColumns+`
		FROM shipment_guides
		WHERE guide_id = $1
	`, id)

	guide := &model.ShipmentGuide{}
	var (
		carrierName, vehiclePlate, documentRef, authorityCode, rejectionReason sql.NullString
		communicatedAt                                                        sql.NullTime
	)
	err := row.Scan(&guide.GuideID, &guide.Number, &guide.TenantID, &guide.Destination, &guide.Modality,
		&guide.WeightKg, &carrierName, &vehiclePlate, &documentRef, &guide.State, &authorityCode,
		&rejectionReason, &communicatedAt, &guide.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Shipment guide with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve shipment guide", err)
	}

	guide.CarrierName = carrierName.String
	guide.VehiclePlate = vehiclePlate.String
	guide.DocumentRef = documentRef.String
	guide.AuthorityCode = authorityCode.String
	guide.RejectionReason = rejectionReason.String
	if communicatedAt.Valid {
		guide.CommunicatedAt = &communicatedAt.Time
	}
	return guide, nil
}

// UpdateGuideState mirrors UpdateDocumentState: conditional on the expected
// current state so duplicate guide jobs land as no-ops.
func (d Datasource) UpdateGuideState(ctx context.Context, id string, expectedState string, update GuideUpdate) error {
	ctx, span := otel.Tracer("fiskal.shipments").Start(ctx, "Transitioning shipment guide state")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shipment_guides
		SET state = $3,
			authority_code = COALESCE($4, authority_code),
			rejection_reason = COALESCE($5, rejection_reason),
			communicated_at = COALESCE($6, communicated_at)
		WHERE guide_id = $1 AND state = $2
	`, id, expectedState, update.NewState, update.AuthorityCode, update.RejectionReason, update.CommunicatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to transition shipment guide", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to read transition result", err)
	}
	if affected == 0 {
		current, getErr := d.GetGuide(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrPreconditionMismatch,
			fmt.Sprintf("Guide '%s' is in state %s, expected %s", id, current.State, expectedState), nil)
	}
	return nil
}
