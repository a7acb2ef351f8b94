package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// RecordStripeEvent keys processed webhook events by their Stripe id so a
// redelivered event is acknowledged without being applied twice.
func (s *Store) RecordStripeEvent(ctx context.Context, id, eventType string, now time.Time) (bool, error) {
	doc := bson.M{"_id": id, "type": eventType, "processed_at": now}
	_, err := s.collection(StripeEventCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error recording stripe event: %w", err)
	}
	return true, nil
}

func (s *Store) ForgetStripeEvent(ctx context.Context, id string) error {
	if _, err := s.collection(StripeEventCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("error forgetting stripe event: %w", err)
	}
	return nil
}
