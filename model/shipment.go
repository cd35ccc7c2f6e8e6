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
)

// Shipment guide states. Guides are answered synchronously by the authority,
// so there is no SUBMITTED waiting state.
const (
	GuideStateDraft        = "DRAFT"
	GuideStateSubmitting   = "SUBMITTING"
	GuideStateCommunicated = "COMMUNICATED"
	GuideStateRejected     = "REJECTED"
)

// Transport modalities for a shipment guide.
const (
	ModalityRoad = "ROAD"
	ModalityRail = "RAIL"
	ModalitySea  = "SEA"
	ModalityAir  = "AIR"
)

// ShipmentGuide is a logistics document communicated to the authority before
// goods move. DocumentRef optionally points at the fiscal document the goods
// belong to; it is informational only, never a foreign-key constraint.
type ShipmentGuide struct {
	ID              int64      `json:"-"`
	GuideID         string     `json:"guide_id"`
	Number          string     `json:"number"`
	TenantID        string     `json:"tenant_id"`
	Destination     string     `json:"destination"`
	Modality        string     `json:"modality"`
	WeightKg        float64    `json:"weight_kg"`
	CarrierName     string     `json:"carrier_name,omitempty"`
	VehiclePlate    string     `json:"vehicle_plate,omitempty"`
	DocumentRef     string     `json:"document_ref,omitempty"`
	State           string     `json:"state"`
	AuthorityCode   string     `json:"authority_code,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CommunicatedAt  *time.Time `json:"communicated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Validate enforces the modality-conditional carrier fields: road transport
// must name a carrier and vehicle plate, other modalities must not.
func (g *ShipmentGuide) Validate() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.Number, validation.Required),
		validation.Field(&g.TenantID, validation.Required),
		validation.Field(&g.Destination, validation.Required),
		validation.Field(&g.Modality, validation.Required, validation.In(ModalityRoad, ModalityRail, ModalitySea, ModalityAir)),
		validation.Field(&g.WeightKg, validation.Min(0.0)),
		validation.Field(&g.CarrierName, validation.Required.When(g.Modality == ModalityRoad)),
		validation.Field(&g.VehiclePlate, validation.Required.When(g.Modality == ModalityRoad)),
	)
}

// CommunicationPayload is the canonical content signed and sent to the
// authority when the guide is communicated.
func (g *ShipmentGuide) CommunicationPayload() ([]byte, error) {
	payload := map[string]interface{}{
		"guide_id":      g.GuideID,
		"number":        g.Number,
		"tenant_id":     g.TenantID,
		"destination":   g.Destination,
		"modality":      g.Modality,
		"weight_kg":     g.WeightKg,
		"carrier_name":  g.CarrierName,
		"vehicle_plate": g.VehiclePlate,
		"document_ref":  g.DocumentRef,
	}
	return json.Marshal(payload)
}

func (g *ShipmentGuide) ToJSON() ([]byte, error) {
	return json.Marshal(g)
}
