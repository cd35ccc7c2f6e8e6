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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/seliom/fiskal"
	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/internal/apierror"
	redis_db "github.com/seliom/fiskal/internal/redis-db"
	"github.com/seliom/fiskal/model"
)

// documentHandler adapts a state-machine operation to an asynq handler.
// Non-retryable failures are wrapped in SkipRetry so the broker archives
// them instead of hammering a permanent condition.
func documentHandler(name string, op func(ctx context.Context, id string) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("fiskal.workers").Start(ctx, fmt.Sprintf("Processing %s from queue", name))
		defer span.End()

		payload, err := model.TaskPayloadFromJSON(t.Payload())
		if err != nil {
			logrus.Errorf("malformed %s payload: %v", name, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		id := payload.DocumentID
		if id == "" {
			id = payload.GuideID
		}
		if id == "" {
			id = payload.ReportID
		}

		if err := op(ctx, id); err != nil {
			if !apierror.Retryable(err) {
				logrus.Errorf("%s for %s failed permanently: %v", name, id, err)
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			logrus.Infof("%s for %s pushed back for retry: %v", name, id, err)
			return err
		}

		log.Printf(" [*] %s processed %s", name, id)
		return nil
	}
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	// submission gets the most workers, report generation stays serial
	return map[string]int{
		cfg.Queue.DocumentQueue: 3,
		cfg.Queue.ShipmentQueue: 2,
		cfg.Queue.ReportQueue:   1,
		cfg.Queue.WebhookQueue:  1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 7,
			Queues:      queues,
		},
	), nil
}

// initializeTaskHandlers registers every queue:action pair explicitly. A
// task type that reaches the mux without a registration is a wiring bug,
// not something to dispatch dynamically.
func initializeTaskHandlers(f *fiskalInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.DocumentQueue, model.ActionSubmit),
		documentHandler("document submit", f.fiskal.SubmitDocument))
	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.DocumentQueue, model.ActionPollStatus),
		documentHandler("document status poll", f.fiskal.PollDocumentStatus))
	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.DocumentQueue, model.ActionGenerateArtifact),
		documentHandler("artifact generation", f.fiskal.GenerateDocumentArtifact))
	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.ShipmentQueue, model.ActionSubmit),
		documentHandler("guide communication", f.fiskal.CommunicateGuide))
	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.ReportQueue, model.ActionGenerateReport),
		documentHandler("report generation", f.fiskal.GenerateReport))
	mux.HandleFunc(fiskal.TaskTypename(cfg.Queue.WebhookQueue, model.ActionNotify), fiskal.ProcessWebhook)

	// Catch-all per queue. ServeMux prefers longer patterns, so these only
	// fire for actions with no registration above; such a task is a wiring
	// bug and must fail fatally, not burn retries.
	for _, queueName := range []string{
		cfg.Queue.DocumentQueue,
		cfg.Queue.ShipmentQueue,
		cfg.Queue.ReportQueue,
		cfg.Queue.WebhookQueue,
	} {
		mux.HandleFunc(queueName+":", rejectUnknownAction)
	}
}

func rejectUnknownAction(_ context.Context, t *asynq.Task) error {
	logrus.Errorf("no handler registered for task type %s", t.Type())
	return fmt.Errorf("unrecognized task type %s: %w", t.Type(), asynq.SkipRetry)
}

// workerCommands defines the "workers" command: the asynq server, the
// monitoring UI and the reconciliation processor share this process.
func workerCommands(f *fiskalInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start fiskal workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(f, mux)

			reconciler := fiskal.NewReconciliationProcessor(f.fiskal)
			reconciler.Start(ctx)
			defer reconciler.Stop()

			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
