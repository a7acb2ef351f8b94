package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = bson.NewObjectID()
	}
	if n.ReadBy == nil {
		n.ReadBy = []bson.ObjectID{}
	}
	if _, err := s.collection(NotificationCollection).InsertOne(ctx, n); err != nil {
		return fmt.Errorf("error creating notification: %w", err)
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id bson.ObjectID) (*models.Notification, error) {
	var n models.Notification
	if err := s.collection(NotificationCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, notFound(err, "notification "+id.Hex())
	}
	return &n, nil
}

// notificationQuery mirrors models.Notification.VisibleTo.
func notificationQuery(f store.NotificationFilter) bson.M {
	audience := bson.A{
		bson.M{"target": models.TargetAll},
		bson.M{"target": models.TargetUser, "target_user_id": f.UserID},
	}
	if f.IsAdmin {
		audience = append(audience,
			bson.M{"target": models.TargetAdmins},
			bson.M{"target": models.TargetSubscribers})
	} else if len(f.Services) > 0 {
		audience = append(audience, bson.M{
			"target":  models.TargetSubscribers,
			"service": bson.M{"$in": f.Services},
		})
	}
	return bson.M{"$and": bson.A{
		bson.M{"$or": audience},
		bson.M{"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": f.Now}},
		}},
	}}
}

func (s *Store) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]models.Notification, error) {
	opts := findOptions(0, f.Limit, bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.collection(NotificationCollection).Find(ctx, notificationQuery(f), opts)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications: %w", err)
	}
	items := []models.Notification{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("error decoding notifications: %w", err)
	}
	return items, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID bson.ObjectID, ids []bson.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.collection(NotificationCollection).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return fmt.Errorf("error marking notifications read: %w", err)
	}
	return nil
}

func (s *Store) ClaimPendingNotification(ctx context.Context, now, staleBefore time.Time) (*models.Notification, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"email_status": models.EmailPending},
		bson.M{"email_status": models.EmailSending, "claimed_at": bson.M{"$lt": staleBefore}},
	}}
	update := bson.M{"$set": bson.M{"email_status": models.EmailSending, "claimed_at": now}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var n models.Notification
	err := s.collection(NotificationCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error claiming notification: %w", err)
	}
	return &n, nil
}

func (s *Store) CompleteNotificationEmail(ctx context.Context, id bson.ObjectID, status models.EmailStatus, sent int, errMsg string) error {
	update := bson.M{"$set": bson.M{
		"email_status":     status,
		"email_sent_count": sent,
		"email_error":      errMsg,
	}}
	if _, err := s.collection(NotificationCollection).UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("error completing notification email: %w", err)
	}
	return nil
}

func (s *Store) MarkTelegramSent(ctx context.Context, id bson.ObjectID) error {
	_, err := s.collection(NotificationCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"telegram_sent": true}})
	if err != nil {
		return fmt.Errorf("error marking telegram sent: %w", err)
	}
	return nil
}
