package mongodb

import (
	"context"
	"fmt"

	"trading-alerts/api/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) GetLiquidityPool(ctx context.Context, service models.Service) (*models.LiquidityPool, error) {
	var pool models.LiquidityPool
	err := s.collection(LiquidityCollection).FindOne(ctx, bson.M{"service": service}).Decode(&pool)
	if err != nil {
		return nil, notFound(err, "liquidity pool "+string(service))
	}
	return &pool, nil
}

// SaveLiquidityPool upserts the single pool kept per service.
func (s *Store) SaveLiquidityPool(ctx context.Context, p *models.LiquidityPool) error {
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection(LiquidityCollection).ReplaceOne(ctx, bson.M{"service": p.Service}, p, opts); err != nil {
		return fmt.Errorf("error saving liquidity pool: %w", err)
	}
	return nil
}
