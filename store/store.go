// Package store declares the persistence ports used by handlers and jobs.
// mongodb.Store implements them against MongoDB; memstore keeps them in
// memory for tests.
package store

import (
	"context"
	"errors"
	"time"

	"trading-alerts/api/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type UserFilter struct {
	Role         models.Role
	EmailEnabled bool
	// ActiveService keeps users holding a current subscription to it at Now.
	ActiveService models.Service
	// ExpiredBy keeps users with an active subscription ending at or before it.
	ExpiredBy *time.Time
	// TrialEndingBy keeps users with an active, unreminded trial ending at or before it.
	TrialEndingBy *time.Time
	Now           time.Time
	Skip          int64
	Limit         int64
}

type Users interface {
	UpsertUserOnLogin(ctx context.Context, email, name string, now time.Time) (*models.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	GetUserByStripeSubscription(ctx context.Context, subscriptionID string) (*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error)
	// SaveUser replaces the stored user when its Version still matches and
	// bumps u.Version; otherwise it returns models.ErrStaleWrite.
	SaveUser(ctx context.Context, u *models.User) error
}

const maxUpdateAttempts = 5

// UpdateUser reloads the user, applies fn and saves it, starting over when a
// concurrent write got there first. fn reports whether it changed anything
// and may run more than once.
func UpdateUser(ctx context.Context, users Users, id bson.ObjectID, fn func(u *models.User) (bool, error)) (*models.User, error) {
	for attempt := 1; ; attempt++ {
		u, err := users.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(u)
		if err != nil || !changed {
			return u, err
		}
		err = users.SaveUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, models.ErrStaleWrite) || attempt == maxUpdateAttempts {
			return nil, err
		}
	}
}

type AlertFilter struct {
	// Services keeps alerts of any listed service; empty means all.
	Services []models.Service
	Status   models.AlertStatus
	Skip     int64
	Limit    int64
}

type Alerts interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id bson.ObjectID) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	SaveAlert(ctx context.Context, a *models.Alert) error
	DeleteAlert(ctx context.Context, id bson.ObjectID) error
}

type NotificationFilter struct {
	UserID   bson.ObjectID
	Services []models.Service
	IsAdmin  bool
	Now      time.Time
	Limit    int64
}

type Notifications interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id bson.ObjectID) (*models.Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID bson.ObjectID, ids []bson.ObjectID) error
	// ClaimPendingNotification moves one pending notification (or one stuck in
	// sending since before staleBefore) to sending and returns it, or nil when
	// there is nothing to send.
	ClaimPendingNotification(ctx context.Context, now, staleBefore time.Time) (*models.Notification, error)
	CompleteNotificationEmail(ctx context.Context, id bson.ObjectID, status models.EmailStatus, sent int, errMsg string) error
	MarkTelegramSent(ctx context.Context, id bson.ObjectID) error
}

type Liquidity interface {
	GetLiquidityPool(ctx context.Context, service models.Service) (*models.LiquidityPool, error)
	SaveLiquidityPool(ctx context.Context, p *models.LiquidityPool) error
}

type ReportFilter struct {
	Status   models.ReportStatus
	Category string
	Skip     int64
	Limit    int64
}

type Reports interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id bson.ObjectID) (*models.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]models.Report, error)
	SaveReport(ctx context.Context, r *models.Report) error
	DeleteReport(ctx context.Context, id bson.ObjectID) error
	IncrementReportViews(ctx context.Context, id bson.ObjectID) error
}

type TrainingFilter struct {
	Statuses []models.TrainingStatus
	Year     int
}

type Trainings interface {
	CreateTraining(ctx context.Context, t *models.MonthlyTraining) error
	GetTraining(ctx context.Context, id bson.ObjectID) (*models.MonthlyTraining, error)
	ListTrainings(ctx context.Context, filter TrainingFilter) ([]models.MonthlyTraining, error)
	// SaveTraining writes everything but the enrollments, which only
	// AddEnrollment changes. MaxStudents below the current enrollment count
	// is a models.ErrConflict.
	SaveTraining(ctx context.Context, t *models.MonthlyTraining) error
	// SetTrainingStatus moves a training from one status to another and
	// reports false when it was no longer in from.
	SetTrainingStatus(ctx context.Context, id bson.ObjectID, from, to models.TrainingStatus, now time.Time) (bool, error)
	DeleteTraining(ctx context.Context, id bson.ObjectID) error
	// AddEnrollment appends e unless the user is already enrolled or the
	// training is full; both cases return models.ErrConflict.
	AddEnrollment(ctx context.Context, trainingID bson.ObjectID, e models.Enrollment) error
}

type StripeEvents interface {
	// RecordStripeEvent stores a processed webhook event id and reports
	// whether it was seen for the first time.
	RecordStripeEvent(ctx context.Context, id, eventType string, now time.Time) (bool, error)
	// ForgetStripeEvent drops a recorded id so a failed event can be redelivered.
	ForgetStripeEvent(ctx context.Context, id string) error
}

type Repository interface {
	Users
	Alerts
	Notifications
	Liquidity
	Reports
	Trainings
	StripeEvents
	Ping(ctx context.Context) error
}
