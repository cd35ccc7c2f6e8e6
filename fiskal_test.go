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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database/mocks"
	"github.com/seliom/fiskal/internal/authority"
	"github.com/seliom/fiskal/internal/signing"
	"github.com/seliom/fiskal/model"
)

type enqueuedTask struct {
	Queue   string
	Action  string
	Payload *model.TaskPayload
	Delay   time.Duration
}

// queueSpy records queue admissions instead of touching a broker.
type queueSpy struct {
	mu      sync.Mutex
	entries []enqueuedTask
	failErr error
}

func (q *queueSpy) Enqueue(_ context.Context, queueName, action string, payload *model.TaskPayload, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failErr != nil {
		return q.failErr
	}
	q.entries = append(q.entries, enqueuedTask{Queue: queueName, Action: action, Payload: payload, Delay: delay})
	return nil
}

func (q *queueSpy) tasks(action string) []enqueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var matched []enqueuedTask
	for _, entry := range q.entries {
		if entry.Action == action {
			matched = append(matched, entry)
		}
	}
	return matched
}

func (q *queueSpy) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func mockConfiguration() {
	config.MockConfig(&config.Configuration{
		ProjectName: "fiskal-test",
		Queue: config.QueueConfig{
			DocumentQueue:    config.DefaultDocumentQueue,
			ShipmentQueue:    config.DefaultShipmentQueue,
			ReportQueue:      config.DefaultReportQueue,
			WebhookQueue:     config.DefaultWebhookQueue,
			MaxRetryAttempts: 5,
			PollDelaySeconds: 120,
		},
		Reconciliation: config.ReconciliationConfig{
			Schedule:           "0 */6 * * *",
			GraceWindowMinutes: 30,
		},
	})
}

func newTestFiskal(t *testing.T) (*Fiskal, *mocks.MockDataSource, *authority.StubClient, *queueSpy) {
	t.Helper()
	mockConfiguration()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	signer, err := signing.NewSigner(&signing.DemoCredentialStore{})
	require.NoError(t, err)

	datasource := &mocks.MockDataSource{}
	stub := &authority.StubClient{}
	spy := &queueSpy{}

	return NewFiskalWithDeps(datasource, spy, signer, stub, redisClient), datasource, stub, spy
}
