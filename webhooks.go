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
	"encoding/json"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/internal/request"
	"github.com/seliom/fiskal/model"
)

// NewWebhook is an outbound pipeline notification. Events:
// document.submitted, document.accepted, document.rejected,
// guide.communicated, guide.rejected, report.completed, report.failed.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// SendWebhook enqueues a webhook notification on the webhook queue. It is a
// silent no-op when no webhook endpoint is configured.
func SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	redisOption, err := redisOptionFromConfig(conf)
	if err != nil {
		return err
	}
	client := asynq.NewClient(redisOption)
	defer client.Close()

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypename(conf.Queue.WebhookQueue, model.ActionNotify), payload,
		asynq.Queue(conf.Queue.WebhookQueue),
		asynq.MaxRetry(conf.Queue.MaxRetryAttempts))
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// ProcessWebhook delivers a queued webhook notification to the configured
// endpoint. Non-2xx responses are logged and dropped rather than retried so
// a dead subscriber endpoint cannot back up the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling webhook payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %s", payload.Event)

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	resp, err := request.Call(req, &response)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook delivery to %s failed with status %d", conf.Notification.Webhook.Url, resp.StatusCode)
		return nil
	}
	return nil
}

// notifyWebhook fires a webhook without letting delivery problems fail the
// job that produced the event.
func notifyWebhook(event string, payload interface{}) {
	if err := SendWebhook(NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.Errorf("failed to enqueue %s webhook: %v", event, err)
	}
}
