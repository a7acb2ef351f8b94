// Package memstore is an in-memory store.Repository used by tests and by
// local runs without MongoDB. Values are copied in and out so callers never
// share state with the store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Store struct {
	mu            sync.Mutex
	users         []*models.User
	alerts        []*models.Alert
	notifications []*models.Notification
	pools         map[models.Service]*models.LiquidityPool
	reports       []*models.Report
	trainings     []*models.MonthlyTraining
	stripeEvents  map[string]string
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		pools:        make(map[models.Service]*models.LiquidityPool),
		stripeEvents: make(map[string]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func missing(kind string, id bson.ObjectID) error {
	return fmt.Errorf("%w: %s %s", models.ErrNotFound, kind, id.Hex())
}

func page[T any](items []T, skip, limit int64) []T {
	if skip >= int64(len(items)) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}

// users

func cloneUser(u *models.User) *models.User {
	out := *u
	out.Subscriptions = append([]models.Subscription{}, u.Subscriptions...)
	return &out
}

func (s *Store) UpsertUserOnLogin(_ context.Context, email, name string, now time.Time) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u.LastLogin = now
			u.UpdatedAt = now
			return cloneUser(u), nil
		}
	}
	u := &models.User{
		ID:            bson.NewObjectID(),
		Email:         email,
		Name:          name,
		Role:          models.RoleUser,
		Preferences:   models.NotificationPreferences{Email: true},
		Subscriptions: []models.Subscription{},
		CreatedAt:     now,
		UpdatedAt:     now,
		LastLogin:     now,
	}
	s.users = append(s.users, u)
	return cloneUser(u), nil
}

// PutUser stores u as is, assigning an id when it has none. Tests use it to
// seed admins and subscribers.
func (s *Store) PutUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	u.Email = strings.ToLower(u.Email)
	for i, existing := range s.users {
		if existing.ID == u.ID {
			s.users[i] = cloneUser(u)
			return u
		}
	}
	s.users = append(s.users, cloneUser(u))
	return u
}

func (s *Store) findUser(match func(*models.User) bool, what string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNotFound, what)
}

func (s *Store) GetUserByID(_ context.Context, id bson.ObjectID) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return u.ID == id }, "user "+id.Hex())
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.findUser(func(u *models.User) bool { return u.Email == email }, "user "+email)
}

func (s *Store) GetUserByStripeCustomer(_ context.Context, customerID string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool {
		return customerID != "" && u.StripeCustomerID == customerID
	}, "stripe customer "+customerID)
}

func (s *Store) GetUserByStripeSubscription(_ context.Context, subscriptionID string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool {
		for _, sub := range u.Subscriptions {
			if subscriptionID != "" && sub.StripeSubscriptionID == subscriptionID {
				return true
			}
		}
		return false
	}, "stripe subscription "+subscriptionID)
}

func anySubscription(u *models.User, match func(models.Subscription) bool) bool {
	for _, sub := range u.Subscriptions {
		if match(sub) {
			return true
		}
	}
	return false
}

func userMatches(u *models.User, f store.UserFilter) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.EmailEnabled && !u.Preferences.Email {
		return false
	}
	if f.ActiveService != "" && !u.HasActiveSubscription(f.ActiveService, f.Now) {
		return false
	}
	if f.ExpiredBy != nil && !anySubscription(u, func(sub models.Subscription) bool {
		return sub.Active && !sub.EndDate.After(*f.ExpiredBy)
	}) {
		return false
	}
	if f.TrialEndingBy != nil && !anySubscription(u, func(sub models.Subscription) bool {
		return sub.Type == models.SubscriptionTrial && sub.Active && !sub.ReminderSent &&
			sub.EndDate.After(f.Now) && !sub.EndDate.After(*f.TrialEndingBy)
	}) {
		return false
	}
	return true
}

func (s *Store) ListUsers(_ context.Context, f store.UserFilter) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if userMatches(u, f) {
			out = append(out, *cloneUser(u))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, f.Skip, f.Limit), nil
}

func (s *Store) SaveUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.users {
		if existing.ID == u.ID {
			if existing.Version != u.Version {
				return fmt.Errorf("%w: user %s", models.ErrStaleWrite, u.ID.Hex())
			}
			u.Version++
			s.users[i] = cloneUser(u)
			return nil
		}
	}
	return missing("user", u.ID)
}

// alerts

func cloneAlert(a *models.Alert) *models.Alert {
	out := *a
	out.PartialSales = append([]models.PartialSale{}, a.PartialSales...)
	return &out
}

func (s *Store) CreateAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	s.alerts = append(s.alerts, cloneAlert(a))
	return nil
}

func (s *Store) GetAlert(_ context.Context, id bson.ObjectID) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return cloneAlert(a), nil
		}
	}
	return nil, missing("alert", id)
}

func (s *Store) ListAlerts(_ context.Context, f store.AlertFilter) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Alert{}
	for _, a := range s.alerts {
		if len(f.Services) > 0 && !slices.Contains(f.Services, a.Service) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *cloneAlert(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Skip, f.Limit), nil
}

func (s *Store) SaveAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.alerts {
		if existing.ID == a.ID {
			s.alerts[i] = cloneAlert(a)
			return nil
		}
	}
	return missing("alert", a.ID)
}

func (s *Store) DeleteAlert(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.alerts {
		if a.ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return nil
		}
	}
	return missing("alert", id)
}

// notifications

func cloneNotification(n *models.Notification) *models.Notification {
	out := *n
	out.ReadBy = append([]bson.ObjectID{}, n.ReadBy...)
	return &out
}

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID.IsZero() {
		n.ID = bson.NewObjectID()
	}
	s.notifications = append(s.notifications, cloneNotification(n))
	return nil
}

func (s *Store) GetNotification(_ context.Context, id bson.ObjectID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			return cloneNotification(n), nil
		}
	}
	return nil, missing("notification", id)
}

func notificationMatches(n *models.Notification, f store.NotificationFilter) bool {
	if n.ExpiresAt != nil && !n.ExpiresAt.After(f.Now) {
		return false
	}
	switch n.Target {
	case models.TargetAll:
		return true
	case models.TargetUser:
		return n.TargetUserID != nil && *n.TargetUserID == f.UserID
	case models.TargetAdmins:
		return f.IsAdmin
	case models.TargetSubscribers:
		if f.IsAdmin {
			return true
		}
		for _, svc := range f.Services {
			if svc == n.Service {
				return true
			}
		}
	}
	return false
}

func (s *Store) ListNotifications(_ context.Context, f store.NotificationFilter) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if notificationMatches(n, f) {
			out = append(out, *cloneNotification(n))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, 0, f.Limit), nil
}

func (s *Store) MarkNotificationsRead(_ context.Context, userID bson.ObjectID, ids []bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[bson.ObjectID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, n := range s.notifications {
		if want[n.ID] && !n.IsReadBy(userID) {
			n.ReadBy = append(n.ReadBy, userID)
		}
	}
	return nil
}

func (s *Store) ClaimPendingNotification(_ context.Context, now, staleBefore time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Notification
	for _, n := range s.notifications {
		claimable := n.EmailStatus == models.EmailPending ||
			(n.EmailStatus == models.EmailSending && n.ClaimedAt != nil && n.ClaimedAt.Before(staleBefore))
		if claimable && (oldest == nil || n.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = n
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.EmailStatus = models.EmailSending
	claimed := now
	oldest.ClaimedAt = &claimed
	return cloneNotification(oldest), nil
}

func (s *Store) updateNotification(id bson.ObjectID, apply func(*models.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			apply(n)
			return nil
		}
	}
	return missing("notification", id)
}

func (s *Store) CompleteNotificationEmail(_ context.Context, id bson.ObjectID, status models.EmailStatus, sent int, errMsg string) error {
	return s.updateNotification(id, func(n *models.Notification) {
		n.EmailStatus = status
		n.EmailSentCount = sent
		n.EmailError = errMsg
	})
}

func (s *Store) MarkTelegramSent(_ context.Context, id bson.ObjectID) error {
	return s.updateNotification(id, func(n *models.Notification) { n.TelegramSent = true })
}

// Notifications returns every stored notification, oldest first.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *cloneNotification(n))
	}
	return out
}

// liquidity

func clonePool(p *models.LiquidityPool) *models.LiquidityPool {
	out := *p
	out.Distributions = append([]models.LiquidityDistribution{}, p.Distributions...)
	return &out
}

func (s *Store) GetLiquidityPool(_ context.Context, service models.Service) (*models.LiquidityPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[service]
	if !ok {
		return nil, fmt.Errorf("%w: liquidity pool %s", models.ErrNotFound, service)
	}
	return clonePool(p), nil
}

func (s *Store) SaveLiquidityPool(_ context.Context, p *models.LiquidityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	s.pools[p.Service] = clonePool(p)
	return nil
}

// reports

func cloneReport(r *models.Report) *models.Report {
	out := *r
	out.ImageURLs = append([]string{}, r.ImageURLs...)
	return &out
}

func (s *Store) CreateReport(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID.IsZero() {
		r.ID = bson.NewObjectID()
	}
	s.reports = append(s.reports, cloneReport(r))
	return nil
}

func (s *Store) GetReport(_ context.Context, id bson.ObjectID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.ID == id {
			return cloneReport(r), nil
		}
	}
	return nil, missing("report", id)
}

func publishedAt(r models.Report) time.Time {
	if r.PublishedAt == nil {
		return time.Time{}
	}
	return *r.PublishedAt
}

func (s *Store) ListReports(_ context.Context, f store.ReportFilter) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Report{}
	for _, r := range s.reports {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		out = append(out, *cloneReport(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Featured != out[j].Featured {
			return out[i].Featured
		}
		if pi, pj := publishedAt(out[i]), publishedAt(out[j]); !pi.Equal(pj) {
			return pi.After(pj)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Skip, f.Limit), nil
}

func (s *Store) SaveReport(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.reports {
		if existing.ID == r.ID {
			s.reports[i] = cloneReport(r)
			return nil
		}
	}
	return missing("report", r.ID)
}

func (s *Store) DeleteReport(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.reports {
		if r.ID == id {
			s.reports = append(s.reports[:i], s.reports[i+1:]...)
			return nil
		}
	}
	return missing("report", id)
}

func (s *Store) IncrementReportViews(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.ID == id {
			r.Views++
			return nil
		}
	}
	return missing("report", id)
}

// trainings

func cloneTraining(t *models.MonthlyTraining) *models.MonthlyTraining {
	out := *t
	out.Classes = append([]models.TrainingClass{}, t.Classes...)
	out.Enrollments = append([]models.Enrollment{}, t.Enrollments...)
	return &out
}

func (s *Store) CreateTraining(_ context.Context, t *models.MonthlyTraining) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = bson.NewObjectID()
	}
	s.trainings = append(s.trainings, cloneTraining(t))
	return nil
}

func (s *Store) GetTraining(_ context.Context, id bson.ObjectID) (*models.MonthlyTraining, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trainings {
		if t.ID == id {
			return cloneTraining(t), nil
		}
	}
	return nil, missing("training", id)
}

func (s *Store) ListTrainings(_ context.Context, f store.TrainingFilter) ([]models.MonthlyTraining, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.MonthlyTraining{}
	for _, t := range s.trainings {
		if f.Year != 0 && t.Year != f.Year {
			continue
		}
		if len(f.Statuses) > 0 {
			found := false
			for _, st := range f.Statuses {
				found = found || st == t.Status
			}
			if !found {
				continue
			}
		}
		out = append(out, *cloneTraining(t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

func (s *Store) SaveTraining(_ context.Context, t *models.MonthlyTraining) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.trainings {
		if existing.ID != t.ID {
			continue
		}
		if len(existing.Enrollments) > t.MaxStudents {
			return fmt.Errorf("%w: training %s has more enrollments than %d seats", models.ErrConflict, t.ID.Hex(), t.MaxStudents)
		}
		saved := cloneTraining(t)
		saved.Enrollments = existing.Enrollments
		s.trainings[i] = saved
		return nil
	}
	return missing("training", t.ID)
}

func (s *Store) SetTrainingStatus(_ context.Context, id bson.ObjectID, from, to models.TrainingStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trainings {
		if t.ID != id {
			continue
		}
		if t.Status != from {
			return false, nil
		}
		t.Status = to
		t.UpdatedAt = now
		return true, nil
	}
	return false, nil
}

func (s *Store) DeleteTraining(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.trainings {
		if t.ID == id {
			s.trainings = append(s.trainings[:i], s.trainings[i+1:]...)
			return nil
		}
	}
	return missing("training", id)
}

func (s *Store) AddEnrollment(_ context.Context, trainingID bson.ObjectID, e models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trainings {
		if t.ID != trainingID {
			continue
		}
		if t.IsEnrolled(e.UserID) {
			return fmt.Errorf("%w: already enrolled", models.ErrConflict)
		}
		if t.SeatsLeft() == 0 {
			return fmt.Errorf("%w: training is full", models.ErrConflict)
		}
		t.Enrollments = append(t.Enrollments, e)
		return nil
	}
	return missing("training", trainingID)
}

// stripe events

func (s *Store) RecordStripeEvent(_ context.Context, id, eventType string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.stripeEvents[id]; seen {
		return false, nil
	}
	s.stripeEvents[id] = eventType
	return true, nil
}

func (s *Store) ForgetStripeEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stripeEvents, id)
	return nil
}
