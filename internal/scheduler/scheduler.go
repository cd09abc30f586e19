// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules until its context ends.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// New returns an idle scheduler.
func New(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.WithField("component", "scheduler")
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
		ctx:  context.Background(),
		jobs: map[string]cron.EntryID{},
	}
}

// Add registers job under name on spec. Failures are logged; the job
// keeps its schedule.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		err := job(s.ctx)
		entry := s.log.WithFields(logrus.Fields{"job": name, "duration": time.Since(start)})
		if err != nil {
			entry.WithError(err).Warn("scheduled job failed")
			return
		}
		entry.Debug("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", name, spec, err)
	}
	s.jobs[name] = id
	return nil
}

// Next returns when name next fires, or the zero time before Run.
func (s *Scheduler) Next(name string) time.Time {
	id, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Run starts the jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// NextAfter parses a 5-field expression and returns its next fire time
// after t.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return sched.Next(t), nil
}
