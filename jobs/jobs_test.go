package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/notify"
	"trading-alerts/api/store"
	"trading-alerts/api/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Email
	fail map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, e notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[e.To] {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeMailer) to() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.sent {
		out = append(out, e.To)
	}
	return out
}

func newRunner(repo store.Repository, mailer *fakeMailer) *Runner {
	batch := notify.NewBatchSender(mailer, 10, 0, notify.RetryPolicy{Tries: 1})
	return NewRunner(repo, batch, notify.Templates{FrontendURL: "https://app.test"}, NewLocalLocker(),
		Settings{TrialReminderDays: 3}, func() time.Time { return now })
}

func subscriber(email string, service models.Service, typ models.SubscriptionType, end time.Time, emailOn bool) *models.User {
	return &models.User{
		Email:       email,
		Role:        models.RoleUser,
		Preferences: models.NotificationPreferences{Email: emailOn},
		Subscriptions: []models.Subscription{{
			Service:   service,
			Type:      typ,
			StartDate: now.AddDate(0, -1, 0),
			EndDate:   end,
			Active:    true,
		}},
		CreatedAt: now.AddDate(0, -1, 0),
	}
}

func TestSendNotifications_MailsSubscribersOnce(t *testing.T) {
	repo := memstore.New()
	repo.PutUser(subscriber("tc@example.com", models.ServiceTraderCall, models.SubscriptionFull, now.AddDate(0, 0, 10), true))
	repo.PutUser(subscriber("muted@example.com", models.ServiceTraderCall, models.SubscriptionFull, now.AddDate(0, 0, 10), false))
	repo.PutUser(subscriber("sm@example.com", models.ServiceSmartMoney, models.SubscriptionFull, now.AddDate(0, 0, 10), true))
	repo.PutUser(subscriber("lapsed@example.com", models.ServiceTraderCall, models.SubscriptionFull, now.AddDate(0, 0, -1), true))
	repo.PutUser(&models.User{Email: "admin@example.com", Role: models.RoleAdmin, Preferences: models.NotificationPreferences{Email: true}})

	n, err := models.NewNotification(models.NotificationAlert, models.TargetSubscribers, models.ServiceTraderCall,
		"Nueva alerta BUY AAPL", "Entrada: $100.00", now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.CreateNotification(context.Background(), n))

	mailer := &fakeMailer{}
	r := newRunner(repo, mailer)

	res, err := r.Run(context.Background(), SendNotifications)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"tc@example.com"}, mailer.to())
	assert.True(t, strings.HasPrefix(mailer.sent[0].Subject, "[TraderCall]"))

	stored, err := repo.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailSent, stored.EmailStatus)
	assert.Equal(t, 1, stored.EmailSentCount)

	res, err = r.Run(context.Background(), SendNotifications)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, mailer.to(), 1)
}

func TestSendNotifications_StatusOutcomes(t *testing.T) {
	repo := memstore.New()
	target := repo.PutUser(&models.User{Email: "bounce@example.com", Preferences: models.NotificationPreferences{Email: true}})

	nobody, err := models.NewNotification(models.NotificationSystem, models.TargetAdmins, "", "Mantenimiento", "Hoy a las 22h", now)
	require.NoError(t, err)
	require.NoError(t, repo.CreateNotification(context.Background(), nobody))

	direct, err := models.NewUserNotification(target.ID, models.NotificationSubscription, models.ServiceTraderCall, "Pago fallido", "Revisa tu tarjeta", now)
	require.NoError(t, err)
	require.NoError(t, repo.CreateNotification(context.Background(), direct))

	mailer := &fakeMailer{fail: map[string]bool{"bounce@example.com": true}}
	res, err := newRunner(repo, mailer).Run(context.Background(), SendNotifications)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)

	got, err := repo.GetNotification(context.Background(), nobody.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailSkipped, got.EmailStatus)

	got, err = repo.GetNotification(context.Background(), direct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailFailed, got.EmailStatus)
	assert.Contains(t, got.EmailError, "mailbox unavailable")
}

func TestSendNotifications_ReclaimsStaleClaims(t *testing.T) {
	repo := memstore.New()
	n, err := models.NewNotification(models.NotificationSystem, models.TargetAll, "", "Hola", "Bienvenido", now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.CreateNotification(context.Background(), n))

	claimed, err := repo.ClaimPendingNotification(context.Background(), now.Add(-time.Hour), now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	res, err := newRunner(repo, &fakeMailer{}).Run(context.Background(), SendNotifications)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestExpireSubscriptions(t *testing.T) {
	repo := memstore.New()
	u := repo.PutUser(subscriber("old@example.com", models.ServiceSmartMoney, models.SubscriptionFull, now.Add(-time.Hour), true))
	repo.PutUser(subscriber("fresh@example.com", models.ServiceSmartMoney, models.SubscriptionFull, now.AddDate(0, 0, 5), true))

	res, err := newRunner(repo, &fakeMailer{}).Run(context.Background(), ExpireSubscriptions)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	stored, err := repo.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, stored.Subscriptions[0].Active)

	notes := repo.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.TargetUser, notes[0].Target)
	assert.Equal(t, u.ID, *notes[0].TargetUserID)
	assert.Contains(t, notes[0].Title, "SmartMoney")
}

func TestTrialReminders_SentOnce(t *testing.T) {
	repo := memstore.New()
	u := repo.PutUser(subscriber("trial@example.com", models.ServiceTraderCall, models.SubscriptionTrial, now.AddDate(0, 0, 2), true))
	repo.PutUser(subscriber("later@example.com", models.ServiceTraderCall, models.SubscriptionTrial, now.AddDate(0, 0, 20), true))

	mailer := &fakeMailer{}
	r := newRunner(repo, mailer)

	res, err := r.Run(context.Background(), TrialReminders)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"trial@example.com"}, mailer.to())

	stored, err := repo.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Subscriptions[0].ReminderSent)

	res, err = r.Run(context.Background(), TrialReminders)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Len(t, mailer.to(), 1)
}

func TestCloseTrainings(t *testing.T) {
	repo := memstore.New()
	closing := &models.MonthlyTraining{
		Title:             "Marzo",
		Month:             3,
		Year:              2026,
		MaxStudents:       10,
		Status:            models.TrainingOpen,
		RegistrationOpen:  now.AddDate(0, 0, -9),
		RegistrationClose: now.AddDate(0, 0, -1),
		Classes:           []models.TrainingClass{{Date: now.AddDate(0, 0, 5), Title: "Clase 1"}},
	}
	done := &models.MonthlyTraining{
		Title:             "Febrero",
		Month:             2,
		Year:              2026,
		MaxStudents:       10,
		Status:            models.TrainingClosed,
		RegistrationOpen:  now.AddDate(0, -1, -9),
		RegistrationClose: now.AddDate(0, -1, -1),
		Classes:           []models.TrainingClass{{Date: now.AddDate(0, 0, -12), Title: "Clase 1"}},
	}
	require.NoError(t, repo.CreateTraining(context.Background(), closing))
	require.NoError(t, repo.CreateTraining(context.Background(), done))

	res, err := newRunner(repo, &fakeMailer{}).Run(context.Background(), CloseTrainings)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	got, err := repo.GetTraining(context.Background(), closing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingClosed, got.Status)
	got, err = repo.GetTraining(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingFinished, got.Status)
}

func TestRun_UnknownAndLocked(t *testing.T) {
	repo := memstore.New()
	locker := NewLocalLocker()
	batch := notify.NewBatchSender(&fakeMailer{}, 10, 0, notify.RetryPolicy{Tries: 1})
	r := NewRunner(repo, batch, notify.Templates{}, locker, Settings{}, func() time.Time { return now })

	_, err := r.Run(context.Background(), "reindex")
	assert.ErrorIs(t, err, ErrUnknownJob)

	release, ok, err := locker.Acquire(context.Background(), CloseTrainings, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.Run(context.Background(), CloseTrainings)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	_, err = r.Run(context.Background(), CloseTrainings)
	assert.NoError(t, err)
}

func TestLocalLocker_Expires(t *testing.T) {
	l := NewLocalLocker()
	clock := now
	l.now = func() time.Time { return clock }

	_, ok, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(context.Background(), "k", time.Minute)
	assert.False(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(context.Background(), "k", time.Minute)
	assert.True(t, ok)
}

func TestNewScheduler_RejectsUnknownJob(t *testing.T) {
	r := newRunner(memstore.New(), &fakeMailer{})
	_, err := NewScheduler(r, map[string]string{"nope": "* * * * *"})
	assert.ErrorIs(t, err, ErrUnknownJob)

	s, err := NewScheduler(r, DefaultSchedule)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

// racingRepo runs afterList right after the job takes its snapshot.
type racingRepo struct {
	*memstore.Store
	afterList func()
}

func (r *racingRepo) ListUsers(ctx context.Context, f store.UserFilter) ([]models.User, error) {
	users, err := r.Store.ListUsers(ctx, f)
	if r.afterList != nil {
		r.afterList()
		r.afterList = nil
	}
	return users, err
}

func (r *racingRepo) ListTrainings(ctx context.Context, f store.TrainingFilter) ([]models.MonthlyTraining, error) {
	trainings, err := r.Store.ListTrainings(ctx, f)
	if r.afterList != nil {
		r.afterList()
		r.afterList = nil
	}
	return trainings, err
}

func TestCloseTrainings_KeepsLateEnrollment(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Store: memstore.New()}
	training := &models.MonthlyTraining{
		Title:             "Marzo",
		Month:             3,
		Year:              2026,
		MaxStudents:       10,
		Status:            models.TrainingOpen,
		RegistrationOpen:  now.AddDate(0, 0, -9),
		RegistrationClose: now.AddDate(0, 0, -1),
		Classes:           []models.TrainingClass{{Date: now.AddDate(0, 0, 5), Title: "Clase 1"}},
	}
	require.NoError(t, repo.CreateTraining(ctx, training))
	student := repo.PutUser(&models.User{Email: "late@example.com"})
	repo.afterList = func() {
		require.NoError(t, repo.AddEnrollment(ctx, training.ID, models.Enrollment{
			UserID: student.ID, Email: student.Email, EnrolledAt: now, PaymentID: "pi_late",
		}))
	}

	res, err := newRunner(repo, &fakeMailer{}).Run(ctx, CloseTrainings)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	got, err := repo.GetTraining(ctx, training.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingClosed, got.Status)
	assert.True(t, got.IsEnrolled(student.ID), "paid enrollment survives the status change")
}

func TestExpireSubscriptions_KeepsConcurrentRenewal(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Store: memstore.New()}
	u := repo.PutUser(subscriber("renewing@example.com", models.ServiceTraderCall, models.SubscriptionFull, now.Add(-time.Hour), true))
	repo.afterList = func() {
		fresh, err := repo.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		fresh.ExtendFull(models.ServiceTraderCall, 30, "sub_123", now)
		require.NoError(t, repo.SaveUser(ctx, fresh))
	}

	res, err := newRunner(repo, &fakeMailer{}).Run(ctx, ExpireSubscriptions)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	got, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasActiveSubscription(models.ServiceTraderCall, now), "renewal is not overwritten")
	feed, err := repo.ListNotifications(ctx, store.NotificationFilter{UserID: u.ID, Now: now})
	require.NoError(t, err)
	assert.Empty(t, feed)
}
