package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Service is a subscribable alerts product.
type Service string

const (
	ServiceTraderCall Service = "TraderCall"
	ServiceSmartMoney Service = "SmartMoney"
)

var Services = []Service{ServiceTraderCall, ServiceSmartMoney}

func (s Service) Valid() bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}

func ParseService(raw string) (Service, error) {
	s := Service(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown service %q", ErrInvalidInput, raw)
	}
	return s, nil
}

type SubscriptionType string

const (
	SubscriptionTrial SubscriptionType = "trial"
	SubscriptionFull  SubscriptionType = "full"
)

type Subscription struct {
	Service              Service          `bson:"service" json:"service"`
	Type                 SubscriptionType `bson:"type" json:"type"`
	StartDate            time.Time        `bson:"start_date" json:"start_date"`
	EndDate              time.Time        `bson:"end_date" json:"end_date"`
	Active               bool             `bson:"active" json:"active"`
	StripeSubscriptionID string           `bson:"stripe_subscription_id,omitempty" json:"stripe_subscription_id,omitempty"`
	ReminderSent         bool             `bson:"reminder_sent" json:"reminder_sent"`
}

// Current reports whether the subscription grants access at now.
func (s Subscription) Current(now time.Time) bool {
	return s.Active && now.Before(s.EndDate)
}

type NotificationPreferences struct {
	Email    bool `bson:"email" json:"email"`
	Telegram bool `bson:"telegram" json:"telegram"`
}

type User struct {
	ID               bson.ObjectID           `bson:"_id,omitempty" json:"id"`
	Email            string                  `bson:"email" json:"email"`
	Name             string                  `bson:"name" json:"name"`
	Role             Role                    `bson:"role" json:"role"`
	TelegramChatID   int64                   `bson:"telegram_chat_id,omitempty" json:"telegram_chat_id,omitempty"`
	Preferences      NotificationPreferences `bson:"preferences" json:"preferences"`
	StripeCustomerID string                  `bson:"stripe_customer_id,omitempty" json:"-"`
	Subscriptions    []Subscription          `bson:"subscriptions" json:"subscriptions"`
	CreatedAt        time.Time               `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time               `bson:"updated_at" json:"updated_at"`
	LastLogin        time.Time               `bson:"last_login" json:"last_login"`
	// Version increments on every SaveUser.
	Version int64 `bson:"version" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasActiveSubscription reports whether any subscription to service is current.
func (u *User) HasActiveSubscription(service Service, now time.Time) bool {
	for _, s := range u.Subscriptions {
		if s.Service == service && s.Current(now) {
			return true
		}
	}
	return false
}

// CanAccess is true for admins and current subscribers of service.
func (u *User) CanAccess(service Service, now time.Time) bool {
	return u.IsAdmin() || u.HasActiveSubscription(service, now)
}

func (u *User) HasUsedTrial(service Service) bool {
	for _, s := range u.Subscriptions {
		if s.Service == service && s.Type == SubscriptionTrial {
			return true
		}
	}
	return false
}

// ActiveServices returns the services the user currently has access to.
func (u *User) ActiveServices(now time.Time) []Service {
	var out []Service
	for _, svc := range Services {
		if u.HasActiveSubscription(svc, now) {
			out = append(out, svc)
		}
	}
	return out
}

// StartTrial appends a trial subscription. Each service allows one trial ever.
func (u *User) StartTrial(service Service, days int, now time.Time) (*Subscription, error) {
	if u.HasUsedTrial(service) {
		return nil, fmt.Errorf("%w: trial for %s already used", ErrConflict, service)
	}
	if u.HasActiveSubscription(service, now) {
		return nil, fmt.Errorf("%w: subscription to %s already active", ErrConflict, service)
	}
	u.Subscriptions = append(u.Subscriptions, Subscription{
		Service:   service,
		Type:      SubscriptionTrial,
		StartDate: now,
		EndDate:   now.AddDate(0, 0, days),
		Active:    true,
	})
	return &u.Subscriptions[len(u.Subscriptions)-1], nil
}

// ExtendFull activates or extends the full subscription to service by days.
// Extension starts at the later of now and the current end date, so paying
// early never loses time.
func (u *User) ExtendFull(service Service, days int, stripeSubscriptionID string, now time.Time) *Subscription {
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.Service != service || s.Type != SubscriptionFull {
			continue
		}
		from := now
		if s.Active && s.EndDate.After(now) {
			from = s.EndDate
		} else {
			s.StartDate = now
		}
		s.EndDate = from.AddDate(0, 0, days)
		s.Active = true
		if stripeSubscriptionID != "" {
			s.StripeSubscriptionID = stripeSubscriptionID
		}
		u.endTrials(service, now)
		return s
	}
	u.Subscriptions = append(u.Subscriptions, Subscription{
		Service:              service,
		Type:                 SubscriptionFull,
		StartDate:            now,
		EndDate:              now.AddDate(0, 0, days),
		Active:               true,
		StripeSubscriptionID: stripeSubscriptionID,
	})
	u.endTrials(service, now)
	return &u.Subscriptions[len(u.Subscriptions)-1]
}

func (u *User) endTrials(service Service, now time.Time) {
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.Service == service && s.Type == SubscriptionTrial && s.Active {
			s.Active = false
			if s.EndDate.After(now) {
				s.EndDate = now
			}
		}
	}
}

// Revoke deactivates every subscription to service. It returns false when
// nothing was active.
func (u *User) Revoke(service Service, now time.Time) bool {
	changed := false
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.Service == service && s.Active {
			s.Active = false
			if s.EndDate.After(now) {
				s.EndDate = now
			}
			changed = true
		}
	}
	return changed
}

// RevokeStripe deactivates the subscription billed under stripeSubscriptionID.
func (u *User) RevokeStripe(stripeSubscriptionID string, now time.Time) (Service, bool) {
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.StripeSubscriptionID == stripeSubscriptionID && s.Active {
			s.Active = false
			if s.EndDate.After(now) {
				s.EndDate = now
			}
			return s.Service, true
		}
	}
	return "", false
}

// ExpireSubscriptions deactivates subscriptions whose end date has passed
// and returns copies of the ones it changed.
func (u *User) ExpireSubscriptions(now time.Time) []Subscription {
	var expired []Subscription
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.Active && !now.Before(s.EndDate) {
			s.Active = false
			expired = append(expired, *s)
		}
	}
	return expired
}
