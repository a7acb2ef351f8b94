package mongodb

import (
	"context"
	"fmt"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	if _, err := s.collection(AlertCollection).InsertOne(ctx, a); err != nil {
		return fmt.Errorf("error creating alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id bson.ObjectID) (*models.Alert, error) {
	var alert models.Alert
	if err := s.collection(AlertCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&alert); err != nil {
		return nil, notFound(err, "alert "+id.Hex())
	}
	return &alert, nil
}

func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]models.Alert, error) {
	filter := bson.M{}
	if len(f.Services) > 0 {
		filter["service"] = bson.M{"$in": f.Services}
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := findOptions(f.Skip, f.Limit, bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection(AlertCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	alerts := []models.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("error decoding alerts: %w", err)
	}
	return alerts, nil
}

func (s *Store) SaveAlert(ctx context.Context, a *models.Alert) error {
	res, err := s.collection(AlertCollection).ReplaceOne(ctx, bson.M{"_id": a.ID}, a)
	if err != nil {
		return fmt.Errorf("error saving alert: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, a.ID.Hex())
	}
	return nil
}

func (s *Store) DeleteAlert(ctx context.Context, id bson.ObjectID) error {
	res, err := s.collection(AlertCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting alert: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, id.Hex())
	}
	return nil
}
