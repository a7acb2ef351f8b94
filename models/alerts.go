package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type AlertAction string

const (
	ActionBuy  AlertAction = "BUY"
	ActionSell AlertAction = "SELL"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertClosed    AlertStatus = "CLOSED"
	AlertDiscarded AlertStatus = "DESCARTADA"
)

type PartialSale struct {
	Date       time.Time `bson:"date" json:"date"`
	Price      float64   `bson:"price" json:"price"`
	Percentage float64   `bson:"percentage" json:"percentage"`
	Profit     float64   `bson:"profit" json:"profit"`
	Notes      string    `bson:"notes,omitempty" json:"notes,omitempty"`
}

type Alert struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Symbol        string        `bson:"symbol" json:"symbol"`
	Action        AlertAction   `bson:"action" json:"action"`
	Service       Service       `bson:"service" json:"service"`
	EntryPrice    float64       `bson:"entry_price" json:"entry_price"`
	CurrentPrice  float64       `bson:"current_price" json:"current_price"`
	StopLoss      float64       `bson:"stop_loss" json:"stop_loss"`
	TakeProfit    float64       `bson:"take_profit" json:"take_profit"`
	Status        AlertStatus   `bson:"status" json:"status"`
	Analysis      string        `bson:"analysis" json:"analysis"`
	ExitPrice     float64       `bson:"exit_price,omitempty" json:"exit_price,omitempty"`
	ExitDate      *time.Time    `bson:"exit_date,omitempty" json:"exit_date,omitempty"`
	ExitReason    string        `bson:"exit_reason,omitempty" json:"exit_reason,omitempty"`
	Profit        float64       `bson:"profit" json:"profit"`
	Participation float64       `bson:"participation" json:"participation"`
	PartialSales  []PartialSale `bson:"partial_sales" json:"partial_sales"`
	CreatedBy     string        `bson:"created_by" json:"created_by"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updated_at"`
}

// NewAlert validates the input and returns an ACTIVE alert holding the full position.
func NewAlert(symbol string, action AlertAction, service Service, entry, stopLoss, takeProfit float64, analysis, createdBy string, now time.Time) (*Alert, error) {
	a := &Alert{
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		Action:        action,
		Service:       service,
		EntryPrice:    entry,
		CurrentPrice:  entry,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		Status:        AlertActive,
		Analysis:      analysis,
		Participation: 100,
		PartialSales:  []PartialSale{},
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Alert) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	if a.Action != ActionBuy && a.Action != ActionSell {
		return fmt.Errorf("%w: action must be BUY or SELL", ErrInvalidInput)
	}
	if !a.Service.Valid() {
		return fmt.Errorf("%w: unknown service %q", ErrInvalidInput, a.Service)
	}
	if a.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidInput)
	}
	return a.validateLevels(a.StopLoss, a.TakeProfit)
}

func (a *Alert) validateLevels(stopLoss, takeProfit float64) error {
	if stopLoss <= 0 || takeProfit <= 0 {
		return fmt.Errorf("%w: stop loss and take profit must be positive", ErrInvalidInput)
	}
	switch a.Action {
	case ActionBuy:
		if stopLoss >= a.EntryPrice || takeProfit <= a.EntryPrice {
			return fmt.Errorf("%w: BUY alerts need stop loss below and take profit above entry", ErrInvalidInput)
		}
	case ActionSell:
		if stopLoss <= a.EntryPrice || takeProfit >= a.EntryPrice {
			return fmt.Errorf("%w: SELL alerts need stop loss above and take profit below entry", ErrInvalidInput)
		}
	}
	return nil
}

func (a *Alert) IsActive() bool {
	return a.Status == AlertActive
}

func (a *Alert) requireActive(op string) error {
	if !a.IsActive() {
		return fmt.Errorf("%w: cannot %s alert in status %s", ErrConflict, op, a.Status)
	}
	return nil
}

// ProfitAt returns the percent result of exiting at price, rounded to 2dp.
func (a *Alert) ProfitAt(price float64) float64 {
	return a.profitAt(price).InexactFloat64()
}

func (a *Alert) profitAt(price float64) decimal.Decimal {
	entry := decimal.NewFromFloat(a.EntryPrice)
	if entry.IsZero() {
		return decimal.Zero
	}
	diff := decimal.NewFromFloat(price).Sub(entry)
	if a.Action == ActionSell {
		diff = diff.Neg()
	}
	return diff.Div(entry).Mul(decimal.NewFromInt(100)).Round(2)
}

// AlertUpdate carries the fields an admin may edit while the alert is ACTIVE.
type AlertUpdate struct {
	StopLoss     *float64
	TakeProfit   *float64
	Analysis     *string
	CurrentPrice *float64
}

func (a *Alert) ApplyUpdate(u AlertUpdate, now time.Time) error {
	if err := a.requireActive("edit"); err != nil {
		return err
	}
	stop, take := a.StopLoss, a.TakeProfit
	if u.StopLoss != nil {
		stop = *u.StopLoss
	}
	if u.TakeProfit != nil {
		take = *u.TakeProfit
	}
	if err := a.validateLevels(stop, take); err != nil {
		return err
	}
	if u.CurrentPrice != nil && *u.CurrentPrice <= 0 {
		return fmt.Errorf("%w: current price must be positive", ErrInvalidInput)
	}
	a.StopLoss, a.TakeProfit = stop, take
	if u.Analysis != nil {
		a.Analysis = *u.Analysis
	}
	if u.CurrentPrice != nil {
		a.CurrentPrice = *u.CurrentPrice
	}
	a.UpdatedAt = now
	return nil
}

func (a *Alert) UpdatePrice(price float64, now time.Time) error {
	if err := a.requireActive("update price of"); err != nil {
		return err
	}
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	a.CurrentPrice = price
	a.UpdatedAt = now
	return nil
}

// ApplyPartialSale sells pct percent of the original position at price.
// When nothing is left the alert closes at the position-weighted exit.
func (a *Alert) ApplyPartialSale(pct, price float64, notes string, now time.Time) (*PartialSale, error) {
	if err := a.requireActive("sell part of"); err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	p := decimal.NewFromFloat(pct)
	remaining := decimal.NewFromFloat(a.Participation)
	if !p.IsPositive() || p.GreaterThan(remaining) {
		return nil, fmt.Errorf("%w: percentage must be in (0, %s]", ErrInvalidInput, remaining.String())
	}

	sale := PartialSale{
		Date:       now,
		Price:      price,
		Percentage: pct,
		Profit:     a.ProfitAt(price),
		Notes:      notes,
	}
	a.PartialSales = append(a.PartialSales, sale)
	a.Participation = remaining.Sub(p).Round(4).InexactFloat64()
	a.CurrentPrice = price
	a.UpdatedAt = now

	if a.Participation <= 0 {
		a.Participation = 0
		a.finish(a.weightedExit(decimal.Zero, 0), "partial sales completed", now)
	}
	return &a.PartialSales[len(a.PartialSales)-1], nil
}

// Close exits the remaining position at exitPrice.
func (a *Alert) Close(exitPrice float64, reason string, now time.Time) error {
	if err := a.requireActive("close"); err != nil {
		return err
	}
	if exitPrice <= 0 {
		return fmt.Errorf("%w: exit price must be positive", ErrInvalidInput)
	}
	exit := a.weightedExit(decimal.NewFromFloat(a.Participation), exitPrice)
	a.Participation = 0
	a.finish(exit, reason, now)
	return nil
}

// Discard abandons an alert that never traded. Alerts with partial sales
// must be closed instead.
func (a *Alert) Discard(reason string, now time.Time) error {
	if err := a.requireActive("discard"); err != nil {
		return err
	}
	if len(a.PartialSales) > 0 {
		return fmt.Errorf("%w: alert has partial sales, close it instead", ErrConflict)
	}
	a.Status = AlertDiscarded
	a.ExitReason = reason
	a.Profit = 0
	a.ExitDate = &now
	a.UpdatedAt = now
	return nil
}

// weightedExit averages every partial sale price plus the remaining
// position (remainingPct at lastPrice) by position share.
func (a *Alert) weightedExit(remainingPct decimal.Decimal, lastPrice float64) decimal.Decimal {
	total := remainingPct
	sum := remainingPct.Mul(decimal.NewFromFloat(lastPrice))
	for _, s := range a.PartialSales {
		w := decimal.NewFromFloat(s.Percentage)
		total = total.Add(w)
		sum = sum.Add(w.Mul(decimal.NewFromFloat(s.Price)))
	}
	if total.IsZero() {
		return decimal.NewFromFloat(lastPrice)
	}
	return sum.Div(total)
}

func (a *Alert) finish(exit decimal.Decimal, reason string, now time.Time) {
	exitPrice := exit.Round(4).InexactFloat64()
	a.Status = AlertClosed
	a.ExitPrice = exitPrice
	a.CurrentPrice = exitPrice
	a.ExitReason = reason
	a.Profit = a.ProfitAt(exitPrice)
	a.ExitDate = &now
	a.UpdatedAt = now
}

// AlertEvent names a lifecycle change pushed to subscribers.
type AlertEvent string

const (
	AlertEventCreated     AlertEvent = "created"
	AlertEventUpdated     AlertEvent = "updated"
	AlertEventPartialSale AlertEvent = "partial_sale"
	AlertEventClosed      AlertEvent = "closed"
	AlertEventDiscarded   AlertEvent = "discarded"
)
