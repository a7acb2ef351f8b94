package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LiquidityDistribution allocates a percentage of a pool to one alert.
type LiquidityDistribution struct {
	AlertID         bson.ObjectID `bson:"alert_id" json:"alert_id"`
	Symbol          string        `bson:"symbol" json:"symbol"`
	Action          AlertAction   `bson:"action" json:"action"`
	Percentage      float64       `bson:"percentage" json:"percentage"`
	AllocatedAmount float64       `bson:"allocated_amount" json:"allocated_amount"`
	EntryPrice      float64       `bson:"entry_price" json:"entry_price"`
	Shares          float64       `bson:"shares" json:"shares"`
	SoldShares      float64       `bson:"sold_shares" json:"sold_shares"`
	RealizedProfit  float64       `bson:"realized_profit" json:"realized_profit"`
	IsActive        bool          `bson:"is_active" json:"is_active"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	ClosedAt        *time.Time    `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
}

type LiquidityPool struct {
	ID             bson.ObjectID           `bson:"_id,omitempty" json:"id"`
	Service        Service                 `bson:"service" json:"service"`
	TotalLiquidity float64                 `bson:"total_liquidity" json:"total_liquidity"`
	Distributions  []LiquidityDistribution `bson:"distributions" json:"distributions"`
	UpdatedBy      string                  `bson:"updated_by" json:"updated_by"`
	CreatedAt      time.Time               `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time               `bson:"updated_at" json:"updated_at"`
}

// Distribution returns the distribution for alertID, active or not.
func (p *LiquidityPool) Distribution(alertID bson.ObjectID) *LiquidityDistribution {
	for i := range p.Distributions {
		if p.Distributions[i].AlertID == alertID {
			return &p.Distributions[i]
		}
	}
	return nil
}
