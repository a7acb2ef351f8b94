package notify

import (
	"trading-alerts/api/logger"
	"trading-alerts/api/models"

	"go.uber.org/zap"
)

// Notifier is the fire-and-forget side of notifications: Telegram broadcasts
// and single transactional mails. Bulk mail goes through the batch job.
type Notifier struct {
	dispatcher *Dispatcher
	templates  Templates
	channels   map[models.Service]int64
}

func NewNotifier(d *Dispatcher, t Templates, channels map[models.Service]int64) *Notifier {
	return &Notifier{dispatcher: d, templates: t, channels: channels}
}

// BroadcastAlert posts an alert event to the service's Telegram channel.
// It reports whether the message was queued.
func (n *Notifier) BroadcastAlert(a *models.Alert, event models.AlertEvent) bool {
	chatID := n.channels[a.Service]
	if chatID == 0 {
		logger.Get().Debug("no Telegram channel configured",
			zap.String("service", string(a.Service)))
		return false
	}
	return n.dispatcher.Submit(Delivery{
		Channel: ChannelTelegram,
		ChatID:  chatID,
		Text:    AlertTelegram(a, event),
	})
}

// DirectMessage sends text to a user who linked Telegram and kept it enabled.
func (n *Notifier) DirectMessage(u *models.User, text string) bool {
	if u.TelegramChatID == 0 || !u.Preferences.Telegram {
		return false
	}
	return n.dispatcher.Submit(Delivery{Channel: ChannelTelegram, ChatID: u.TelegramChatID, Text: text})
}

func (n *Notifier) email(e Email) bool {
	if e.To == "" {
		return false
	}
	return n.dispatcher.Submit(Delivery{Channel: ChannelEmail, Email: e})
}

// ConfirmEnrollment mails the class schedule to a newly enrolled student.
// It reports whether the mail was queued.
func (n *Notifier) ConfirmEnrollment(u *models.User, t *models.MonthlyTraining) bool {
	if !u.Preferences.Email {
		return false
	}
	e, err := n.templates.EnrollmentEmail(u, t)
	if err != nil {
		logger.Get().Error("failed to render enrollment email",
			zap.String("training_id", t.ID.Hex()),
			zap.Error(err))
		return false
	}
	return n.email(e)
}
