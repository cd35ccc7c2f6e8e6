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

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/internal/request"
)

// SlackNotification posts an error to the configured Slack webhook so
// operators hear about pipeline failures without reading queue internals.
func SlackNotification(err error) error {
	conf, confErr := config.Fetch()
	if confErr != nil {
		return confErr
	}
	webhookURL := conf.Notification.Slack.WebhookUrl
	if webhookURL == "" {
		return nil
	}

	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Fiskal Pipeline",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%s"
					}
				]
			}
		]
	}`, err, time.Now().Format(time.RFC3339)))

	payload, err2 := request.ToJsonReq(&data)
	if err2 != nil {
		return err2
	}

	req, err2 := http.NewRequest("POST", webhookURL, payload)
	if err2 != nil {
		return err2
	}

	var response map[string]interface{}
	resp, err2 := request.Call(req, &response)
	if err2 != nil {
		return err2
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack notification failed with status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError reports err to Slack in the background. Logging is the only
// fallback; notification failures never affect the caller.
func NotifyError(systemError error) {
	go func() {
		if err := SlackNotification(systemError); err != nil {
			logrus.Error("notification error ", err)
		}
	}()
}
