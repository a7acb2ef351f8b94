package billing

import (
	"testing"

	"trading-alerts/api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestSessionParams_Subscription(t *testing.T) {
	params, err := sessionParams(CheckoutRequest{
		Kind:       KindSubscription,
		UserID:     "u1",
		Email:      "ana@example.com",
		Service:    models.ServiceSmartMoney,
		PriceID:    "price_sm",
		SuccessURL: "https://app/ok",
		CancelURL:  "https://app/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *params.Mode)
	assert.Equal(t, "price_sm", *params.LineItems[0].Price)
	assert.Equal(t, "ana@example.com", *params.CustomerEmail)
	assert.Nil(t, params.Customer)
	assert.Equal(t, "SmartMoney", params.Metadata[MetaService])
	assert.Equal(t, KindSubscription, params.Metadata[MetaKind])
	assert.Equal(t, "u1", params.SubscriptionData.Metadata[MetaUserID])
}

func TestSessionParams_SubscriptionWithoutPrice(t *testing.T) {
	_, err := sessionParams(CheckoutRequest{Kind: KindSubscription, Service: models.ServiceTraderCall})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSessionParams_TrainingPriceData(t *testing.T) {
	params, err := sessionParams(CheckoutRequest{
		Kind:       KindTraining,
		UserID:     "u1",
		CustomerID: "cus_1",
		TrainingID: "t1",
		Title:      "Entrenamiento marzo",
		Amount:     149.99,
	})
	require.NoError(t, err)

	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "cus_1", *params.Customer)
	require.NotNil(t, params.LineItems[0].PriceData)
	assert.Equal(t, int64(14999), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, "t1", params.Metadata[MetaTrainingID])
}

func TestSessionParams_UnknownKind(t *testing.T) {
	_, err := sessionParams(CheckoutRequest{Kind: "gift"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
