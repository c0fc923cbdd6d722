// Package scheduler provides cron-based scheduling for secondself.
//
// Its main consumer is the follow-up sweep, which runs on a recurring
// schedule and nudges flows that have gone quiet.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// DefaultFollowUpSchedule runs the follow-up sweep every 30 minutes.
const DefaultFollowUpSchedule = "*/30 * * * *"

// Scheduler wraps a started cron runner.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
