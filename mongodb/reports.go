package mongodb

import (
	"context"
	"fmt"

	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) CreateReport(ctx context.Context, r *models.Report) error {
	if r.ID.IsZero() {
		r.ID = bson.NewObjectID()
	}
	if _, err := s.collection(ReportCollection).InsertOne(ctx, r); err != nil {
		return fmt.Errorf("error creating report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id bson.ObjectID) (*models.Report, error) {
	var r models.Report
	if err := s.collection(ReportCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err, "report "+id.Hex())
	}
	return &r, nil
}

func (s *Store) ListReports(ctx context.Context, f store.ReportFilter) ([]models.Report, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	sort := bson.D{{Key: "featured", Value: -1}, {Key: "published_at", Value: -1}, {Key: "created_at", Value: -1}}

	cursor, err := s.collection(ReportCollection).Find(ctx, filter, findOptions(f.Skip, f.Limit, sort))
	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	reports := []models.Report{}
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("error decoding reports: %w", err)
	}
	return reports, nil
}

func (s *Store) SaveReport(ctx context.Context, r *models.Report) error {
	res, err := s.collection(ReportCollection).ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err != nil {
		return fmt.Errorf("error saving report: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: report %s", models.ErrNotFound, r.ID.Hex())
	}
	return nil
}

func (s *Store) DeleteReport(ctx context.Context, id bson.ObjectID) error {
	res, err := s.collection(ReportCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting report: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: report %s", models.ErrNotFound, id.Hex())
	}
	return nil
}

func (s *Store) IncrementReportViews(ctx context.Context, id bson.ObjectID) error {
	_, err := s.collection(ReportCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"views": 1}})
	if err != nil {
		return fmt.Errorf("error incrementing report views: %w", err)
	}
	return nil
}
