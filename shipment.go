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
	"github.com/seliom/fiskal/model"
)

// RecordGuide validates and persists a new DRAFT shipment guide, then
// enqueues it for communication to the authority.
func (f *Fiskal) RecordGuide(ctx context.Context, guide *model.ShipmentGuide) (*model.ShipmentGuide, error) {
	ctx, span := otel.Tracer("fiskal.shipments").Start(ctx, "Recording shipment guide")
	defer span.End()

	if err := guide.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if guide.GuideID == "" {
		guide.GuideID = database.GenerateUUIDWithSuffix("gde")
	}
	guide.State = model.GuideStateDraft
	guide.CreatedAt = time.Now()

	guide, err := f.datasource.RecordGuide(ctx, guide)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	err = f.queue.Enqueue(ctx, cfg.Queue.ShipmentQueue, model.ActionSubmit, &model.TaskPayload{
		Action:  model.ActionSubmit,
		GuideID: guide.GuideID,
	}, 0)
	if err != nil {
		return nil, err
	}
	return guide, nil
}

// GetGuide retrieves a shipment guide by its handle.
func (f *Fiskal) GetGuide(ctx context.Context, id string) (*model.ShipmentGuide, error) {
	return f.datasource.GetGuide(ctx, id)
}

// CommunicateGuide signs a DRAFT guide and communicates it to the authority.
// Guides are answered synchronously, so the verdict lands in the same job:
// an authority code means COMMUNICATED, anything else parks the guide in
// REJECTED with the reason.
func (f *Fiskal) CommunicateGuide(ctx context.Context, guideID string) error {
	ctx, span := otel.Tracer("fiskal.shipments").Start(ctx, "Communicating shipment guide")
	defer span.End()

	guide, err := f.datasource.GetGuide(ctx, guideID)
	if err != nil {
		return err
	}
	if guide.State != model.GuideStateDraft {
		logrus.Infof("guide %s is %s, not DRAFT; skipping communication", guideID, guide.State)
		return nil
	}
	if err := guide.Validate(); err != nil {
		return f.rejectGuide(ctx, guide, model.GuideStateDraft, err.Error())
	}

	claimed, err := f.transitionGuide(ctx, guideID, model.GuideStateDraft, database.GuideUpdate{
		NewState: model.GuideStateSubmitting,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	payload, err := guide.CommunicationPayload()
	if err != nil {
		return f.rejectGuide(ctx, guide, model.GuideStateSubmitting, fmt.Sprintf("payload build failed: %v", err))
	}

	signed, _, err := f.signer.Sign(payload)
	if err != nil {
		return f.rejectGuide(ctx, guide, model.GuideStateSubmitting, fmt.Sprintf("signing failed: %v", err))
	}

	result, err := f.authority.CommunicateGuide(ctx, signed)
	if err != nil {
		return f.rejectGuide(ctx, guide, model.GuideStateSubmitting, fmt.Sprintf("communication failed: %v", err))
	}
	if !result.Accepted {
		return f.rejectGuide(ctx, guide, model.GuideStateSubmitting, result.Reason)
	}

	now := time.Now()
	recorded, err := f.transitionGuide(ctx, guideID, model.GuideStateSubmitting, database.GuideUpdate{
		NewState:       model.GuideStateCommunicated,
		AuthorityCode:  &result.Code,
		CommunicatedAt: &now,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}

	notifyWebhook("guide.communicated", map[string]interface{}{
		"guide_id":       guideID,
		"authority_code": result.Code,
	})
	return nil
}

func (f *Fiskal) transitionGuide(ctx context.Context, id, expectedState string, update database.GuideUpdate) (bool, error) {
	err := f.datasource.UpdateGuideState(ctx, id, expectedState, update)
	if err != nil {
		if apierror.Is(err, apierror.ErrPreconditionMismatch) {
			logrus.Infof("guide %s left %s concurrently; transition to %s skipped", id, expectedState, update.NewState)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *Fiskal) rejectGuide(ctx context.Context, guide *model.ShipmentGuide, fromState, reason string) error {
	logrus.Warnf("rejecting guide %s: %s", guide.GuideID, reason)
	recorded, err := f.transitionGuide(ctx, guide.GuideID, fromState, database.GuideUpdate{
		NewState:        model.GuideStateRejected,
		RejectionReason: &reason,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}
	notifyWebhook("guide.rejected", map[string]interface{}{
		"guide_id": guide.GuideID,
		"reason":   reason,
	})
	return nil
}
