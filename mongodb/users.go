package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UpsertUserOnLogin creates the user on first login and refreshes last_login
// afterwards. Role, preferences and subscriptions are only set on insert.
func (s *Store) UpsertUserOnLogin(ctx context.Context, email, name string, now time.Time) (*models.User, error) {
	collection := s.collection(UserCollection)

	email = strings.ToLower(strings.TrimSpace(email))
	filter := bson.M{"email": email}
	update := bson.M{
		"$set": bson.M{"last_login": now, "updated_at": now},
		"$setOnInsert": bson.M{
			"name":          name,
			"role":          models.RoleUser,
			"preferences":   models.NotificationPreferences{Email: true},
			"subscriptions": []models.Subscription{},
			"created_at":    now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var user models.User
	if err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, fmt.Errorf("error upserting user: %w", err)
	}
	return &user, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, what string) (*models.User, error) {
	var user models.User
	err := s.collection(UserCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		return nil, notFound(err, what)
	}
	return &user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, "user "+id.Hex())
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.findUser(ctx, bson.M{"email": email}, "user "+email)
}

func (s *Store) GetUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"stripe_customer_id": customerID}, "stripe customer "+customerID)
}

func (s *Store) GetUserByStripeSubscription(ctx context.Context, subscriptionID string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"subscriptions.stripe_subscription_id": subscriptionID}, "stripe subscription "+subscriptionID)
}

func userQuery(f store.UserFilter) bson.M {
	var and bson.A
	if f.Role != "" {
		and = append(and, bson.M{"role": f.Role})
	}
	if f.EmailEnabled {
		and = append(and, bson.M{"preferences.email": true})
	}
	if f.ActiveService != "" {
		and = append(and, bson.M{"subscriptions": bson.M{"$elemMatch": bson.M{
			"service":  f.ActiveService,
			"active":   true,
			"end_date": bson.M{"$gt": f.Now},
		}}})
	}
	if f.ExpiredBy != nil {
		and = append(and, bson.M{"subscriptions": bson.M{"$elemMatch": bson.M{
			"active":   true,
			"end_date": bson.M{"$lte": *f.ExpiredBy},
		}}})
	}
	if f.TrialEndingBy != nil {
		and = append(and, bson.M{"subscriptions": bson.M{"$elemMatch": bson.M{
			"type":          models.SubscriptionTrial,
			"active":        true,
			"reminder_sent": false,
			"end_date":      bson.M{"$gt": f.Now, "$lte": *f.TrialEndingBy},
		}}})
	}
	if len(and) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": and}
}

func (s *Store) ListUsers(ctx context.Context, f store.UserFilter) ([]models.User, error) {
	collection := s.collection(UserCollection)
	opts := findOptions(f.Skip, f.Limit, bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, userQuery(f), opts)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return users, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	collection := s.collection(UserCollection)

	filter := bson.M{"_id": u.ID, "version": u.Version}
	if u.Version == 0 {
		// documents written before versioning have no field
		filter["version"] = bson.M{"$in": bson.A{0, nil}}
	}
	next := *u
	next.Version = u.Version + 1

	res, err := collection.ReplaceOne(ctx, filter, &next)
	if err != nil {
		return fmt.Errorf("error saving user: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetUserByID(ctx, u.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: user %s", models.ErrStaleWrite, u.ID.Hex())
	}
	u.Version = next.Version
	return nil
}
