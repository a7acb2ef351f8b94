package jobs

import (
	"context"
	"errors"
	"fmt"

	"trading-alerts/api/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule maps each job to a standard five-field cron spec.
var DefaultSchedule = map[string]string{
	SendNotifications:   "*/5 * * * *",
	ExpireSubscriptions: "0 * * * *",
	TrialReminders:      "0 9 * * *",
	CloseTrainings:      "15 0 * * *",
}

type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(runner *Runner, schedule map[string]string) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
	for name, spec := range schedule {
		if _, ok := runner.jobs[name]; !ok {
			cancel()
			return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
		job := name
		if _, err := s.cron.AddFunc(spec, func() { s.run(job) }); err != nil {
			cancel()
			return nil, err
		}
		logger.Get().Info("job scheduled", zap.String("job", job), zap.String("spec", spec))
	}
	return s, nil
}

func (s *Scheduler) run(name string) {
	if _, err := s.runner.Run(s.ctx, name); err != nil && !errors.Is(err, ErrLocked) {
		logger.Get().Warn("scheduled job failed", zap.String("job", name), zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
