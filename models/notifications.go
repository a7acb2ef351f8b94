package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type NotificationType string

const (
	NotificationAlert        NotificationType = "alert"
	NotificationReport       NotificationType = "report"
	NotificationTraining     NotificationType = "training"
	NotificationSystem       NotificationType = "system"
	NotificationSubscription NotificationType = "subscription"
)

type NotificationTarget string

const (
	TargetAll         NotificationTarget = "all"
	TargetSubscribers NotificationTarget = "subscribers"
	TargetAdmins      NotificationTarget = "admins"
	TargetUser        NotificationTarget = "user"
)

type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSending EmailStatus = "sending"
	EmailSent    EmailStatus = "sent"
	EmailSkipped EmailStatus = "skipped"
	EmailFailed  EmailStatus = "failed"
)

type Notification struct {
	ID             bson.ObjectID      `bson:"_id,omitempty" json:"id"`
	Title          string             `bson:"title" json:"title"`
	Message        string             `bson:"message" json:"message"`
	Type           NotificationType   `bson:"type" json:"type"`
	Target         NotificationTarget `bson:"target" json:"target"`
	Service        Service            `bson:"service,omitempty" json:"service,omitempty"`
	TargetUserID   *bson.ObjectID     `bson:"target_user_id,omitempty" json:"-"`
	AlertID        *bson.ObjectID     `bson:"alert_id,omitempty" json:"alert_id,omitempty"`
	Priority       string             `bson:"priority" json:"priority"`
	ActionURL      string             `bson:"action_url,omitempty" json:"action_url,omitempty"`
	EmailStatus    EmailStatus        `bson:"email_status" json:"-"`
	ClaimedAt      *time.Time         `bson:"claimed_at,omitempty" json:"-"`
	EmailSentCount int                `bson:"email_sent_count" json:"-"`
	EmailError     string             `bson:"email_error,omitempty" json:"-"`
	TelegramSent   bool               `bson:"telegram_sent" json:"-"`
	ReadBy         []bson.ObjectID    `bson:"read_by" json:"-"`
	Read           bool               `bson:"-" json:"read"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	ExpiresAt      *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// NewNotification returns a notification queued for the email batch job.
func NewNotification(typ NotificationType, target NotificationTarget, service Service, title, message string, now time.Time) (*Notification, error) {
	n := &Notification{
		Title:       title,
		Message:     message,
		Type:        typ,
		Target:      target,
		Service:     service,
		Priority:    "medium",
		EmailStatus: EmailPending,
		ReadBy:      []bson.ObjectID{},
		CreatedAt:   now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// NewUserNotification returns a notification addressed to a single user.
func NewUserNotification(userID bson.ObjectID, typ NotificationType, service Service, title, message string, now time.Time) (*Notification, error) {
	n := &Notification{
		Title:        title,
		Message:      message,
		Type:         typ,
		Target:       TargetUser,
		Service:      service,
		TargetUserID: &userID,
		Priority:     "high",
		EmailStatus:  EmailPending,
		ReadBy:       []bson.ObjectID{},
		CreatedAt:    now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Notification) Validate() error {
	if n.Title == "" || n.Message == "" {
		return fmt.Errorf("%w: title and message are required", ErrInvalidInput)
	}
	switch n.Target {
	case TargetAll, TargetAdmins:
	case TargetSubscribers:
		if !n.Service.Valid() {
			return fmt.Errorf("%w: subscriber notifications need a service", ErrInvalidInput)
		}
	case TargetUser:
		if n.TargetUserID == nil {
			return fmt.Errorf("%w: user notifications need a target user", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown target %q", ErrInvalidInput, n.Target)
	}
	return nil
}

// VisibleTo reports whether u should see n in their feed at now.
func (n *Notification) VisibleTo(u *User, now time.Time) bool {
	if n.ExpiresAt != nil && !now.Before(*n.ExpiresAt) {
		return false
	}
	switch n.Target {
	case TargetAll:
		return true
	case TargetAdmins:
		return u.IsAdmin()
	case TargetSubscribers:
		return u.CanAccess(n.Service, now)
	case TargetUser:
		return n.TargetUserID != nil && *n.TargetUserID == u.ID
	}
	return false
}

// WantsEmail reports whether u is a recipient of n's email fan-out.
func (n *Notification) WantsEmail(u *User, now time.Time) bool {
	if !u.Preferences.Email || u.Email == "" {
		return false
	}
	if n.Target == TargetSubscribers {
		// admins read the feed, only paying or trial users get mail
		return u.HasActiveSubscription(n.Service, now)
	}
	return n.VisibleTo(u, now)
}

func (n *Notification) IsReadBy(id bson.ObjectID) bool {
	for _, r := range n.ReadBy {
		if r == id {
			return true
		}
	}
	return false
}
