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
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/model"
)

// ReconciliationProcessor periodically sweeps for documents stuck in
// SUBMITTED past the grace window and re-arms a status poll for each. The
// sweep is safe to run concurrently with in-flight polls: the conditional
// transition means a verdict that lands between listing and polling simply
// turns the extra poll into a no-op.
type ReconciliationProcessor struct {
	fiskal      *Fiskal
	schedule    cron.Schedule
	graceWindow time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

// NewReconciliationProcessor builds the processor from configuration. The
// schedule has already been validated at config load, so a parse failure
// here falls back to every six hours rather than refusing to start.
func NewReconciliationProcessor(fiskal *Fiskal) *ReconciliationProcessor {
	scheduleExpr := "0 */6 * * *"
	graceWindow := 30 * time.Minute
	cfg, err := config.Fetch()
	if err == nil {
		if cfg.Reconciliation.Schedule != "" {
			scheduleExpr = cfg.Reconciliation.Schedule
		}
		if cfg.Reconciliation.GraceWindowMinutes > 0 {
			graceWindow = time.Duration(cfg.Reconciliation.GraceWindowMinutes) * time.Minute
		}
	}

	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		logrus.Errorf("invalid reconciliation schedule %q: %v; using every six hours", scheduleExpr, err)
		schedule, _ = cron.ParseStandard("0 */6 * * *")
	}

	return &ReconciliationProcessor{
		fiskal:      fiskal,
		schedule:    schedule,
		graceWindow: graceWindow,
		stopCh:      make(chan struct{}),
	}
}

func (p *ReconciliationProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Reconciliation processor started")
}

func (p *ReconciliationProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Reconciliation processor stopped")
}

func (p *ReconciliationProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconciliationProcessor) run(ctx context.Context) {
	for {
		now := time.Now()
		timer := time.NewTimer(p.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Reconciliation processor context cancelled")
			return
		case <-p.stopCh:
			timer.Stop()
			logrus.Info("Reconciliation processor stop signal received")
			return
		case <-timer.C:
			if _, err := p.SweepOnce(ctx, time.Now()); err != nil {
				logrus.Errorf("reconciliation sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass as of now and returns the
// number of polls re-armed. Only documents sitting in SUBMITTED since
// before the grace window are touched; everything newer is presumed to
// still have its scheduled poll in flight.
func (p *ReconciliationProcessor) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.graceWindow)
	stale, err := p.fiskal.datasource.ListStaleDocuments(ctx, model.StateSubmitted, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	rearmed := 0
	for _, doc := range stale {
		err := p.fiskal.queue.Enqueue(ctx, cfg.Queue.DocumentQueue, model.ActionPollStatus, &model.TaskPayload{
			Action:     model.ActionPollStatus,
			DocumentID: doc.DocumentID,
		}, 0)
		if err != nil {
			logrus.Errorf("failed to re-arm poll for document %s: %v", doc.DocumentID, err)
			continue
		}
		rearmed++
	}

	logrus.Infof("reconciliation sweep re-armed %d of %d stale documents", rearmed, len(stale))
	return rearmed, nil
}
