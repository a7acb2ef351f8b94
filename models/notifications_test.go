package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestNewNotification_Validation(t *testing.T) {
	_, err := NewNotification(NotificationAlert, TargetSubscribers, "", "t", "m", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewNotification(NotificationSystem, TargetUser, "", "t", "m", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewNotification(NotificationSystem, TargetAll, "", "", "m", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := NewNotification(NotificationSystem, TargetAll, "", "Maintenance", "Sunday 10:00", now)
	require.NoError(t, err)
	assert.Equal(t, EmailPending, n.EmailStatus)
}

func TestNotification_VisibleTo(t *testing.T) {
	subscriber := &User{ID: bson.NewObjectID(), Preferences: NotificationPreferences{Email: true}, Email: "s@example.com"}
	subscriber.ExtendFull(ServiceTraderCall, 30, "", now)
	admin := &User{ID: bson.NewObjectID(), Role: RoleAdmin, Preferences: NotificationPreferences{Email: true}, Email: "a@example.com"}
	other := &User{ID: bson.NewObjectID(), Preferences: NotificationPreferences{Email: true}, Email: "o@example.com"}

	alert, err := NewNotification(NotificationAlert, TargetSubscribers, ServiceTraderCall, "BUY AAPL", "entry 100", now)
	require.NoError(t, err)
	assert.True(t, alert.VisibleTo(subscriber, now))
	assert.True(t, alert.VisibleTo(admin, now))
	assert.False(t, alert.VisibleTo(other, now))

	assert.True(t, alert.WantsEmail(subscriber, now))
	assert.False(t, alert.WantsEmail(admin, now))

	subscriber.Preferences.Email = false
	assert.False(t, alert.WantsEmail(subscriber, now))

	admins, err := NewNotification(NotificationSystem, TargetAdmins, "", "t", "m", now)
	require.NoError(t, err)
	assert.True(t, admins.VisibleTo(admin, now))
	assert.False(t, admins.VisibleTo(other, now))

	direct := &Notification{Title: "t", Message: "m", Target: TargetUser, TargetUserID: &other.ID}
	assert.True(t, direct.VisibleTo(other, now))
	assert.False(t, direct.VisibleTo(admin, now))

	expires := now.Add(time.Minute)
	all := &Notification{Title: "t", Message: "m", Target: TargetAll, ExpiresAt: &expires}
	assert.True(t, all.VisibleTo(other, now))
	assert.False(t, all.VisibleTo(other, expires))
}
