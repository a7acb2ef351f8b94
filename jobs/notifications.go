package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/notify"
	"trading-alerts/api/store"

	"go.uber.org/zap"
)

// sendNotifications drains the pending mail queue. Each notification is
// claimed atomically so overlapping runs never mail it twice.
func (r *Runner) sendNotifications(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	staleBefore := now.Add(-r.settings.ClaimTimeout)
	for res.Processed < r.settings.MaxNotifications {
		n, err := r.repo.ClaimPendingNotification(ctx, now, staleBefore)
		if err != nil {
			return res, err
		}
		if n == nil {
			break
		}
		res.Processed++

		status, br, err := r.mailNotification(ctx, n, now)
		res.Sent += br.Sent
		res.Failed += br.Failed
		if status == models.EmailSkipped {
			res.Skipped++
		}

		errMsg := ""
		if joined := errors.Join(br.Errors...); joined != nil {
			errMsg = joined.Error()
		}
		if err != nil {
			status = models.EmailFailed
			errMsg = err.Error()
		}
		// record the outcome even when the run is being cancelled
		if cerr := r.repo.CompleteNotificationEmail(context.WithoutCancel(ctx), n.ID, status, br.Sent, errMsg); cerr != nil {
			return res, cerr
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) mailNotification(ctx context.Context, n *models.Notification, now time.Time) (models.EmailStatus, notify.BatchResult, error) {
	recipients, err := r.recipients(ctx, n, now)
	if err != nil {
		return models.EmailFailed, notify.BatchResult{}, err
	}
	if len(recipients) == 0 {
		return models.EmailSkipped, notify.BatchResult{}, nil
	}

	emails := make([]notify.Email, 0, len(recipients))
	renderFailures := 0
	for i := range recipients {
		email, err := r.templates.NotificationEmail(n, &recipients[i])
		if err != nil {
			renderFailures++
			logger.Get().Warn("failed to render notification email",
				zap.String("notification_id", n.ID.Hex()), zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}

	br, err := r.batch.SendAll(ctx, emails)
	br.Failed += renderFailures
	if err != nil {
		return models.EmailFailed, br, err
	}
	logger.Get().Info("notification mailed",
		zap.String("notification_id", n.ID.Hex()),
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", br.Sent),
		zap.Int("failed", br.Failed))
	if br.Sent == 0 && br.Failed > 0 {
		return models.EmailFailed, br, nil
	}
	return models.EmailSent, br, nil
}

// recipients resolves who gets n by mail: the target audience narrowed by
// email preference and subscription state.
func (r *Runner) recipients(ctx context.Context, n *models.Notification, now time.Time) ([]models.User, error) {
	var candidates []models.User
	switch n.Target {
	case models.TargetUser:
		if n.TargetUserID == nil {
			return nil, nil
		}
		u, err := r.repo.GetUserByID(ctx, *n.TargetUserID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		candidates = []models.User{*u}
	case models.TargetAll, models.TargetAdmins, models.TargetSubscribers:
		filter := store.UserFilter{EmailEnabled: true, Now: now}
		switch n.Target {
		case models.TargetAdmins:
			filter.Role = models.RoleAdmin
		case models.TargetSubscribers:
			filter.ActiveService = n.Service
		}
		users, err := r.listUsers(ctx, filter)
		if err != nil {
			return nil, err
		}
		candidates = users
	default:
		return nil, fmt.Errorf("%w: unknown target %q", models.ErrInvalidInput, n.Target)
	}

	out := candidates[:0]
	for i := range candidates {
		if n.WantsEmail(&candidates[i], now) {
			out = append(out, candidates[i])
		}
	}
	return out, nil
}
