// Package scheduler runs the five background loops the server requires,
// delegating wake-time computation to robfig/cron/v3 rather than a
// fixed-interval ticker.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named background task. Run is invoked on each cron firing
// with a context cancelled at Scheduler shutdown.
type Job struct {
	Name string
	Spec string // standard 5-field cron expression, UTC
	Run  func(ctx context.Context) error
}

// Scheduler wraps a robfig/cron/v3 Cron, catching and logging every job's
// error so that one failing run never terminates the others.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
	ctx  context.Context
	stop context.CancelFunc
}

// New builds a Scheduler whose cron expressions are interpreted in UTC.
func New(log *slog.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log,
		ctx:  ctx,
		stop: stop,
	}
}

// Register adds a job to the schedule. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	_, err := s.cron.AddFunc(job.Spec, func() {
		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.log.Error("scheduler job failed", "job", job.Name, "error", err, "duration", time.Since(start))
			return
		}
		s.log.Info("scheduler job completed", "job", job.Name, "duration", time.Since(start))
	})
	return err
}

// Start begins running registered jobs on their schedule. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the shared context and waits for in-flight jobs to
// observe it, then stops the cron driver.
func (s *Scheduler) Stop() {
	s.stop()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
