package mongodb

import (
	"context"
	"fmt"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) CreateTraining(ctx context.Context, t *models.MonthlyTraining) error {
	if t.ID.IsZero() {
		t.ID = bson.NewObjectID()
	}
	if t.Enrollments == nil {
		t.Enrollments = []models.Enrollment{}
	}
	if _, err := s.collection(TrainingCollection).InsertOne(ctx, t); err != nil {
		return fmt.Errorf("error creating training: %w", err)
	}
	return nil
}

func (s *Store) GetTraining(ctx context.Context, id bson.ObjectID) (*models.MonthlyTraining, error) {
	var t models.MonthlyTraining
	if err := s.collection(TrainingCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, notFound(err, "training "+id.Hex())
	}
	return &t, nil
}

func (s *Store) ListTrainings(ctx context.Context, f store.TrainingFilter) ([]models.MonthlyTraining, error) {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.Year != 0 {
		filter["year"] = f.Year
	}
	sort := bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}

	cursor, err := s.collection(TrainingCollection).Find(ctx, filter, findOptions(0, 0, sort))
	if err != nil {
		return nil, fmt.Errorf("error listing trainings: %w", err)
	}
	trainings := []models.MonthlyTraining{}
	if err := cursor.All(ctx, &trainings); err != nil {
		return nil, fmt.Errorf("error decoding trainings: %w", err)
	}
	return trainings, nil
}

func (s *Store) SaveTraining(ctx context.Context, t *models.MonthlyTraining) error {
	raw, err := bson.Marshal(t)
	if err != nil {
		return fmt.Errorf("error encoding training: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("error encoding training: %w", err)
	}
	delete(fields, "_id")
	delete(fields, "enrollments")

	filter := bson.M{
		"_id": t.ID,
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$enrollments", bson.A{}}}},
			t.MaxStudents,
		}},
	}
	res, err := s.collection(TrainingCollection).UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("error saving training: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetTraining(ctx, t.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: training %s has more enrollments than %d seats", models.ErrConflict, t.ID.Hex(), t.MaxStudents)
	}
	return nil
}

func (s *Store) SetTrainingStatus(ctx context.Context, id bson.ObjectID, from, to models.TrainingStatus, now time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": now}}
	res, err := s.collection(TrainingCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("error updating training status: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) DeleteTraining(ctx context.Context, id bson.ObjectID) error {
	res, err := s.collection(TrainingCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting training: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: training %s", models.ErrNotFound, id.Hex())
	}
	return nil
}

// AddEnrollment pushes e only while the user is not enrolled and seats
// remain, so concurrent webhooks cannot overbook a training.
func (s *Store) AddEnrollment(ctx context.Context, trainingID bson.ObjectID, e models.Enrollment) error {
	filter := bson.M{
		"_id":                 trainingID,
		"enrollments.user_id": bson.M{"$ne": e.UserID},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$enrollments", bson.A{}}}},
			"$max_students",
		}},
	}
	update := bson.M{"$push": bson.M{"enrollments": e}}

	res, err := s.collection(TrainingCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error adding enrollment: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	t, err := s.GetTraining(ctx, trainingID)
	if err != nil {
		return err
	}
	if t.IsEnrolled(e.UserID) {
		return fmt.Errorf("%w: already enrolled", models.ErrConflict)
	}
	return fmt.Errorf("%w: training is full", models.ErrConflict)
}
