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

func expiryMessage(sub models.Subscription) (title, message string) {
	if sub.Type == models.SubscriptionTrial {
		return fmt.Sprintf("Tu prueba de %s ha terminado", sub.Service),
			fmt.Sprintf("El periodo de prueba de %s finalizó el %s. Suscríbete para seguir recibiendo alertas.",
				sub.Service, sub.EndDate.Format("02/01/2006"))
	}
	return fmt.Sprintf("Tu suscripción a %s ha vencido", sub.Service),
		fmt.Sprintf("Tu suscripción a %s venció el %s. Renueva para recuperar el acceso.",
			sub.Service, sub.EndDate.Format("02/01/2006"))
}

func (r *Runner) expireSubscriptions(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	users, err := r.listUsers(ctx, store.UserFilter{ExpiredBy: &now, Now: now})
	if err != nil {
		return res, err
	}
	for i := range users {
		var expired []models.Subscription
		u, err := store.UpdateUser(ctx, r.repo, users[i].ID, func(u *models.User) (bool, error) {
			// a renewal may have landed since the listing
			expired = u.ExpireSubscriptions(now)
			if len(expired) == 0 {
				return false, nil
			}
			u.UpdatedAt = now
			return true, nil
		})
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		if len(expired) == 0 {
			continue
		}
		res.Processed++

		for _, sub := range expired {
			title, message := expiryMessage(sub)
			n, err := models.NewUserNotification(u.ID, models.NotificationSubscription, sub.Service, title, message, now)
			if err != nil {
				return res, err
			}
			n.ActionURL = "/suscripciones"
			if err := r.repo.CreateNotification(ctx, n); err != nil {
				return res, err
			}
			res.Sent++
		}
		logger.Get().Info("subscriptions expired",
			zap.String("user_id", u.ID.Hex()),
			zap.Int("count", len(expired)))
	}
	return res, nil
}

// trialReminders mails each trial once, a few days before it ends. The flag
// is stored before sending, so a failed mail is not retried.
func (r *Runner) trialReminders(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	by := now.AddDate(0, 0, r.settings.TrialReminderDays)
	users, err := r.listUsers(ctx, store.UserFilter{TrialEndingBy: &by, Now: now})
	if err != nil {
		return res, err
	}

	var emails []notify.Email
	for i := range users {
		var pending []notify.Email
		skipped := 0
		_, err := store.UpdateUser(ctx, r.repo, users[i].ID, func(u *models.User) (bool, error) {
			pending, skipped = nil, 0
			for j := range u.Subscriptions {
				sub := &u.Subscriptions[j]
				if sub.Type != models.SubscriptionTrial || !sub.Active || sub.ReminderSent {
					continue
				}
				if !sub.EndDate.After(now) || sub.EndDate.After(by) {
					continue
				}
				sub.ReminderSent = true
				if !u.Preferences.Email {
					skipped++
					continue
				}
				email, err := r.templates.TrialReminderEmail(u, *sub, now)
				if err != nil {
					return false, err
				}
				pending = append(pending, email)
			}
			if len(pending) == 0 && skipped == 0 {
				return false, nil
			}
			u.UpdatedAt = now
			return true, nil
		})
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		if len(pending) == 0 && skipped == 0 {
			continue
		}
		emails = append(emails, pending...)
		res.Skipped += skipped
		res.Processed++
	}

	br, err := r.batch.SendAll(ctx, emails)
	res.Sent, res.Failed = br.Sent, br.Failed
	return res, err
}
