// Package liquidity keeps the per-service capital pool: which share of it
// is allocated to each alert, and what partial sales gave back.
package liquidity

import (
	"fmt"
	"time"

	"trading-alerts/api/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var hundred = decimal.NewFromInt(100)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }

func qty(d decimal.Decimal) float64 { return d.Round(6).InexactFloat64() }

func NewPool(service models.Service, total float64, by string, now time.Time) (*models.LiquidityPool, error) {
	if !service.Valid() {
		return nil, fmt.Errorf("%w: unknown service %q", models.ErrInvalidInput, service)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total liquidity must be positive", models.ErrInvalidInput)
	}
	return &models.LiquidityPool{
		Service:        service,
		TotalLiquidity: total,
		Distributions:  []models.LiquidityDistribution{},
		UpdatedBy:      by,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func remainingShares(d *models.LiquidityDistribution) decimal.Decimal {
	return dec(d.Shares).Sub(dec(d.SoldShares))
}

// remainingPercentage is the share of the pool still tied up in d.
func remainingPercentage(d *models.LiquidityDistribution) decimal.Decimal {
	if !d.IsActive || d.Shares <= 0 {
		return decimal.Zero
	}
	return dec(d.Percentage).Mul(remainingShares(d)).Div(dec(d.Shares))
}

func costBasis(d *models.LiquidityDistribution) decimal.Decimal {
	if !d.IsActive {
		return decimal.Zero
	}
	return remainingShares(d).Mul(dec(d.EntryPrice))
}

// AllocatedPercentage sums what active distributions still hold.
func AllocatedPercentage(p *models.LiquidityPool) float64 {
	sum := decimal.Zero
	for i := range p.Distributions {
		sum = sum.Add(remainingPercentage(&p.Distributions[i]))
	}
	return sum.Round(4).InexactFloat64()
}

func allocatedAmount(p *models.LiquidityPool) decimal.Decimal {
	sum := decimal.Zero
	for i := range p.Distributions {
		sum = sum.Add(costBasis(&p.Distributions[i]))
	}
	return sum
}

// SetTotal changes the pool size. It cannot drop below what is allocated.
func SetTotal(p *models.LiquidityPool, total float64, by string, now time.Time) error {
	if total <= 0 {
		return fmt.Errorf("%w: total liquidity must be positive", models.ErrInvalidInput)
	}
	if allocated := allocatedAmount(p); dec(total).LessThan(allocated) {
		return fmt.Errorf("%w: total %.2f is below the allocated %s", models.ErrInvalidInput, total, allocated.StringFixed(2))
	}
	p.TotalLiquidity = total
	p.UpdatedBy = by
	p.UpdatedAt = now
	return nil
}

// Allocate assigns pct percent of the pool to an active alert.
func Allocate(p *models.LiquidityPool, alert *models.Alert, pct float64, now time.Time) (*models.LiquidityDistribution, error) {
	if alert.Service != p.Service {
		return nil, fmt.Errorf("%w: alert belongs to %s, pool is %s", models.ErrInvalidInput, alert.Service, p.Service)
	}
	if !alert.IsActive() {
		return nil, fmt.Errorf("%w: alert is %s", models.ErrConflict, alert.Status)
	}
	// partial sales are percentages of the original position
	if len(alert.PartialSales) > 0 || alert.Participation < 100 {
		return nil, fmt.Errorf("%w: alert %s already sold part of its position", models.ErrConflict, alert.Symbol)
	}
	if d := p.Distribution(alert.ID); d != nil && d.IsActive {
		return nil, fmt.Errorf("%w: alert %s already has an allocation", models.ErrConflict, alert.Symbol)
	}
	share := dec(pct)
	if !share.IsPositive() || share.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: percentage must be in (0, 100]", models.ErrInvalidInput)
	}
	used := dec(AllocatedPercentage(p))
	if used.Add(share).GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: only %s%% of the pool is free", models.ErrInvalidInput, hundred.Sub(used).StringFixed(2))
	}

	amount := dec(p.TotalLiquidity).Mul(share).Div(hundred)
	price := dec(alert.CurrentPrice)
	if !price.IsPositive() {
		price = dec(alert.EntryPrice)
	}
	dist := models.LiquidityDistribution{
		AlertID:         alert.ID,
		Symbol:          alert.Symbol,
		Action:          alert.Action,
		Percentage:      pct,
		AllocatedAmount: money(amount),
		EntryPrice:      price.InexactFloat64(),
		Shares:          qty(amount.Div(price)),
		IsActive:        true,
		CreatedAt:       now,
	}

	// a closed allocation for the same alert is replaced
	replaced := false
	for i := range p.Distributions {
		if p.Distributions[i].AlertID == alert.ID {
			p.Distributions[i] = dist
			replaced = true
			break
		}
	}
	if !replaced {
		p.Distributions = append(p.Distributions, dist)
	}
	p.UpdatedAt = now
	return p.Distribution(alert.ID), nil
}

func realized(d *models.LiquidityDistribution, shares decimal.Decimal, price float64) decimal.Decimal {
	diff := dec(price).Sub(dec(d.EntryPrice))
	if d.Action == models.ActionSell {
		diff = diff.Neg()
	}
	return shares.Mul(diff)
}

// PartialSale sells pctOfPosition percent of the originally allocated shares.
// It is a no-op returning nil when the alert has no active allocation.
func PartialSale(p *models.LiquidityPool, alertID bson.ObjectID, pctOfPosition, price float64, now time.Time) (*models.LiquidityDistribution, error) {
	d := p.Distribution(alertID)
	if d == nil || !d.IsActive {
		return nil, nil
	}
	if pctOfPosition <= 0 || pctOfPosition > 100 || price <= 0 {
		return nil, fmt.Errorf("%w: percentage must be in (0, 100] and price positive", models.ErrInvalidInput)
	}
	sold := dec(d.Shares).Mul(dec(pctOfPosition)).Div(hundred)
	left := remainingShares(d)
	if sold.GreaterThan(left) {
		sold = left
	}
	d.SoldShares = qty(dec(d.SoldShares).Add(sold))
	d.RealizedProfit = money(dec(d.RealizedProfit).Add(realized(d, sold, price)))
	if !remainingShares(d).IsPositive() {
		d.IsActive = false
		d.ClosedAt = &now
	}
	p.UpdatedAt = now
	return d, nil
}

// Close sells whatever is left of the allocation at price.
func Close(p *models.LiquidityPool, alertID bson.ObjectID, price float64, now time.Time) (*models.LiquidityDistribution, error) {
	d := p.Distribution(alertID)
	if d == nil || !d.IsActive {
		return nil, nil
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", models.ErrInvalidInput)
	}
	left := remainingShares(d)
	d.SoldShares = d.Shares
	d.RealizedProfit = money(dec(d.RealizedProfit).Add(realized(d, left, price)))
	d.IsActive = false
	d.ClosedAt = &now
	p.UpdatedAt = now
	return d, nil
}

// Release frees an allocation whose alert was discarded; nothing was realized.
func Release(p *models.LiquidityPool, alertID bson.ObjectID, now time.Time) bool {
	d := p.Distribution(alertID)
	if d == nil || !d.IsActive {
		return false
	}
	d.IsActive = false
	d.ClosedAt = &now
	p.UpdatedAt = now
	return true
}

// Remove deletes an allocation that never sold anything.
func Remove(p *models.LiquidityPool, alertID bson.ObjectID, now time.Time) error {
	for i := range p.Distributions {
		d := &p.Distributions[i]
		if d.AlertID != alertID {
			continue
		}
		if d.SoldShares > 0 {
			return fmt.Errorf("%w: allocation for %s already has sales", models.ErrConflict, d.Symbol)
		}
		p.Distributions = append(p.Distributions[:i], p.Distributions[i+1:]...)
		p.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: no allocation for alert %s", models.ErrNotFound, alertID.Hex())
}

type Row struct {
	AlertID          bson.ObjectID `json:"alert_id"`
	Symbol           string        `json:"symbol"`
	Percentage       float64       `json:"percentage"`
	RemainingPercent float64       `json:"remaining_percentage"`
	AllocatedAmount  float64       `json:"allocated_amount"`
	RemainingShares  float64       `json:"remaining_shares"`
	EntryPrice       float64       `json:"entry_price"`
	CurrentPrice     float64       `json:"current_price"`
	RealizedProfit   float64       `json:"realized_profit"`
	UnrealizedProfit float64       `json:"unrealized_profit"`
	IsActive         bool          `json:"is_active"`
}

type Summary struct {
	Service             models.Service `json:"service"`
	TotalLiquidity      float64        `json:"total_liquidity"`
	Allocated           float64        `json:"allocated"`
	Available           float64        `json:"available"`
	AllocatedPercentage float64        `json:"allocated_percentage"`
	RealizedProfit      float64        `json:"realized_profit"`
	UnrealizedProfit    float64        `json:"unrealized_profit"`
	Rows                []Row          `json:"distributions"`
}

// Summarize values the pool at prices (alert id -> current price); missing
// prices fall back to the entry price.
func Summarize(p *models.LiquidityPool, prices map[bson.ObjectID]float64) Summary {
	var realizedSum, unrealizedSum decimal.Decimal
	rows := make([]Row, 0, len(p.Distributions))
	for i := range p.Distributions {
		d := &p.Distributions[i]
		current, ok := prices[d.AlertID]
		if !ok || current <= 0 {
			current = d.EntryPrice
		}
		var unrealized decimal.Decimal
		if d.IsActive {
			unrealized = realized(d, remainingShares(d), current)
		}
		realizedSum = realizedSum.Add(dec(d.RealizedProfit))
		unrealizedSum = unrealizedSum.Add(unrealized)
		rows = append(rows, Row{
			AlertID:          d.AlertID,
			Symbol:           d.Symbol,
			Percentage:       d.Percentage,
			RemainingPercent: remainingPercentage(d).Round(4).InexactFloat64(),
			AllocatedAmount:  d.AllocatedAmount,
			RemainingShares:  qty(remainingShares(d)),
			EntryPrice:       d.EntryPrice,
			CurrentPrice:     current,
			RealizedProfit:   d.RealizedProfit,
			UnrealizedProfit: money(unrealized),
			IsActive:         d.IsActive,
		})
	}
	allocated := allocatedAmount(p)
	return Summary{
		Service:             p.Service,
		TotalLiquidity:      p.TotalLiquidity,
		Allocated:           money(allocated),
		Available:           money(dec(p.TotalLiquidity).Add(realizedSum).Sub(allocated)),
		AllocatedPercentage: AllocatedPercentage(p),
		RealizedProfit:      money(realizedSum),
		UnrealizedProfit:    money(unrealizedSum),
		Rows:                rows,
	}
}
