// Package jobs holds the batch work triggered by cron, the internal HTTP
// endpoint or the CLI: notification mail fan-out and subscription and
// training housekeeping.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"
	"trading-alerts/api/models"
	"trading-alerts/api/notify"
	"trading-alerts/api/store"

	"go.uber.org/zap"
)

const (
	SendNotifications   = "send-notifications"
	ExpireSubscriptions = "expire-subscriptions"
	TrialReminders      = "trial-reminders"
	CloseTrainings      = "close-trainings"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrLocked     = errors.New("job already running")
)

const userPageSize = 500

type Settings struct {
	TrialReminderDays int
	// ClaimTimeout is how long a notification may sit in sending before
	// another run reclaims it.
	ClaimTimeout time.Duration
	// MaxNotifications bounds the notifications handled per run.
	MaxNotifications int
	LockTTL          time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.TrialReminderDays <= 0 {
		s.TrialReminderDays = 3
	}
	if s.ClaimTimeout <= 0 {
		s.ClaimTimeout = 30 * time.Minute
	}
	if s.MaxNotifications <= 0 {
		s.MaxNotifications = 100
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 15 * time.Minute
	}
	return s
}

type Result struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Duration  string `json:"duration"`
}

type jobFunc func(ctx context.Context, now time.Time) (Result, error)

type Runner struct {
	repo      store.Repository
	batch     *notify.BatchSender
	templates notify.Templates
	locker    Locker
	settings  Settings
	now       func() time.Time
	jobs      map[string]jobFunc
}

func NewRunner(repo store.Repository, batch *notify.BatchSender, templates notify.Templates, locker Locker, settings Settings, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	r := &Runner{
		repo:      repo,
		batch:     batch,
		templates: templates,
		locker:    locker,
		settings:  settings.withDefaults(),
		now:       now,
	}
	r.jobs = map[string]jobFunc{
		SendNotifications:   r.sendNotifications,
		ExpireSubscriptions: r.expireSubscriptions,
		TrialReminders:      r.trialReminders,
		CloseTrainings:      r.closeTrainings,
	}
	return r
}

func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named job once, holding its lock for the duration.
func (r *Runner) Run(ctx context.Context, name string) (Result, error) {
	job, ok := r.jobs[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	release, ok, err := r.locker.Acquire(ctx, name, r.settings.LockTTL)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		return Result{}, err
	}
	if !ok {
		metrics.JobRunsTotal.WithLabelValues(name, "locked").Inc()
		logger.Get().Info("job skipped, lock held elsewhere", zap.String("job", name))
		return Result{}, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	defer release()

	start := time.Now()
	res, err := job(ctx, r.now())
	res.Job = name
	res.Duration = time.Since(start).Round(time.Millisecond).String()

	fields := []zap.Field{
		zap.String("job", name),
		zap.Int("processed", res.Processed),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.String("duration", res.Duration),
	}
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		logger.Get().Error("job failed", append(fields, zap.Error(err))...)
		return res, err
	}
	metrics.JobRunsTotal.WithLabelValues(name, "ok").Inc()
	logger.Get().Info("job finished", fields...)
	return res, nil
}

// listUsers pages through every user matching filter. Results are collected
// up front because the jobs modify the fields they filter on.
func (r *Runner) listUsers(ctx context.Context, filter store.UserFilter) ([]models.User, error) {
	var all []models.User
	filter.Limit = userPageSize
	for skip := int64(0); ; skip += userPageSize {
		filter.Skip = skip
		users, err := r.repo.ListUsers(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("error listing users: %w", err)
		}
		all = append(all, users...)
		if len(users) < userPageSize {
			return all, nil
		}
	}
}
