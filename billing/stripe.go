package billing

import (
	"context"
	"fmt"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.uber.org/zap"
)

// Checkout session metadata keys, read back by the webhook handler.
const (
	MetaKind       = "kind"
	MetaUserID     = "user_id"
	MetaService    = "service"
	MetaTrainingID = "training_id"

	KindSubscription = "subscription"
	KindTraining     = "training"
)

type CheckoutRequest struct {
	Kind       string
	UserID     string
	Email      string
	CustomerID string

	// subscription checkouts
	Service models.Service
	PriceID string

	// training checkouts; PriceID wins over Title/Amount when set
	TrainingID string
	Title      string
	Amount     float64
	Currency   string

	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// StripeCheckout creates hosted Checkout sessions.
type StripeCheckout struct{}

func NewStripeCheckout(secretKey string) *StripeCheckout {
	stripe.Key = secretKey
	return &StripeCheckout{}
}

func cents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

func sessionParams(req CheckoutRequest) (*stripe.CheckoutSessionParams, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(MetaKind, req.Kind)
	params.AddMetadata(MetaUserID, req.UserID)

	switch req.Kind {
	case KindSubscription:
		if req.PriceID == "" {
			return nil, fmt.Errorf("%w: no price configured for %s", models.ErrInvalidInput, req.Service)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		}
		params.AddMetadata(MetaService, string(req.Service))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetaUserID: req.UserID, MetaService: string(req.Service)},
		}

	case KindTraining:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
		if req.PriceID != "" {
			item.Price = stripe.String(req.PriceID)
		} else {
			if req.Amount <= 0 {
				return nil, fmt.Errorf("%w: training has no price", models.ErrInvalidInput)
			}
			currency := req.Currency
			if currency == "" {
				currency = string(stripe.CurrencyUSD)
			}
			item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(cents(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
			}
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{item}
		params.AddMetadata(MetaTrainingID, req.TrainingID)

	default:
		return nil, fmt.Errorf("%w: unknown checkout kind %q", models.ErrInvalidInput, req.Kind)
	}
	return params, nil
}

func (StripeCheckout) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params, err := sessionParams(req)
	if err != nil {
		return nil, err
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	s, err := session.New(params)
	if err != nil {
		logger.Get().Error("failed to create checkout session",
			zap.String("kind", req.Kind),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, fmt.Errorf("error creating checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}
