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

import "encoding/json"

// Queue actions. Each worker dispatches on the action carried by the task;
// an unrecognized action is a fatal job error, never silently dropped.
const (
	ActionSubmit           = "SUBMIT"
	ActionPollStatus       = "POLL_STATUS"
	ActionGenerateArtifact = "GENERATE_ARTIFACT"
	ActionGenerateReport   = "GENERATE"
	ActionNotify           = "NOTIFY"
)

// TaskPayload is the ephemeral message placed on a queue. It is a trigger,
// not state: the owning document or report row is always the source of
// truth for progress.
type TaskPayload struct {
	Action     string `json:"action"`
	DocumentID string `json:"document_id,omitempty"`
	GuideID    string `json:"guide_id,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
}

func (p *TaskPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

func TaskPayloadFromJSON(data []byte) (*TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
