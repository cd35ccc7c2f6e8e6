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
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/seliom/fiskal/config"
	redis_db "github.com/seliom/fiskal/internal/redis-db"
	"github.com/seliom/fiskal/model"
)

// TaskQueuer is the queue admission boundary. The state machine and the
// reconciliation sweep only see this interface; tests substitute a spy.
type TaskQueuer interface {
	Enqueue(ctx context.Context, queueName, action string, payload *model.TaskPayload, delay time.Duration) error
}

// Queue wraps the asynq client and inspector over Redis. Delayed scheduling
// is the broker's, not an in-process timer, so delayed jobs survive worker
// restarts.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	queueOptions, err := redisOptionFromConfig(conf)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// redisOptionFromConfig resolves the broker connection options shared by
// the client, the inspector, and the worker server.
func redisOptionFromConfig(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}, nil
}

// TaskTypename is the task type dispatched on by the worker mux. Keeping
// the action in the type makes the per-action mapping explicit and
// exhaustive; an unregistered action never reaches a handler.
func TaskTypename(queueName, action string) string {
	return fmt.Sprintf("%s:%s", queueName, action)
}

// Enqueue places a job on the named queue. The task ID is derived from the
// action and subject so a duplicate admission of the same job (for example
// two SUBMITs racing for one document) collapses while the first is still
// pending.
func (q *Queue) Enqueue(ctx context.Context, queueName, action string, payload *model.TaskPayload, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	data, err := payload.ToJSON()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	if subject := payloadSubject(payload); subject != "" {
		taskOptions = append(taskOptions, asynq.TaskID(fmt.Sprintf("%s:%s", action, subject)))
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TaskTypename(queueName, action), data, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Duplicate %s for %s collapsed", action, subjectOrAction(payload, action))
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued %s on %s: %s", action, queueName, subjectOrAction(payload, action))
	return nil
}

// QueueStats returns pending and active counts for the health probe.
func (q *Queue) QueueStats(queueName string) (pending int, active int, err error) {
	info, err := q.Inspector.GetQueueInfo(queueName)
	if err != nil {
		return 0, 0, err
	}
	return info.Pending, info.Active, nil
}

func payloadSubject(payload *model.TaskPayload) string {
	switch {
	case payload.DocumentID != "":
		return payload.DocumentID
	case payload.GuideID != "":
		return payload.GuideID
	case payload.ReportID != "":
		return payload.ReportID
	}
	return ""
}

func subjectOrAction(payload *model.TaskPayload, action string) string {
	if subject := payloadSubject(payload); subject != "" {
		return subject
	}
	return action
}
