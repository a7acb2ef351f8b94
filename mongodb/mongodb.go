package mongodb

import (
	"context"
	"errors"
	"fmt"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

var (
	UserCollection         string = "users"
	AlertCollection        string = "alerts"
	NotificationCollection string = "notifications"
	LiquidityCollection    string = "liquidity"
	ReportCollection       string = "reports"
	TrainingCollection     string = "monthly_trainings"
	StripeEventCollection  string = "stripe_events"
)

// Store implements store.Repository on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Repository = (*Store)(nil)

func Connect(ctx context.Context, mongoURI, database string) (*Store, error) {
	if mongoURI == "" {
		return nil, errors.New("MONGO_URI environment variable not set")
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(mongoURI).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		logger.Get().Error("failed to connect to MongoDB", zap.Error(err))
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	logger.Get().Info("successfully connected to MongoDB", zap.String("database", database))
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) {
	if s.client == nil {
		return
	}
	if err := s.client.Disconnect(ctx); err != nil {
		logger.Get().Error("failed to disconnect from MongoDB", zap.Error(err))
		return
	}
	logger.Get().Info("successfully disconnected from MongoDB")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the indexes the queries in this package rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		UserCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "stripe_customer_id", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "subscriptions.stripe_subscription_id", Value: 1}}},
			{Keys: bson.D{{Key: "subscriptions.end_date", Value: 1}, {Key: "subscriptions.active", Value: 1}}},
		},
		AlertCollection: {
			{Keys: bson.D{{Key: "service", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		NotificationCollection: {
			{Keys: bson.D{{Key: "email_status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "target", Value: 1}, {Key: "service", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		LiquidityCollection: {
			{Keys: bson.D{{Key: "service", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ReportCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "published_at", Value: -1}}},
		},
		TrainingCollection: {
			{Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := s.collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("error creating indexes on %s: %w", name, err)
		}
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	return err
}

func findOptions(skip, limit int64, sort bson.D) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(sort)
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return opts
}
