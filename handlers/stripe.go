package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"trading-alerts/api/billing"
	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"
	"trading-alerts/api/middleware"
	"trading-alerts/api/models"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// errIgnoredEvent marks events that can never succeed (unknown user, bad
// metadata). They are acknowledged so Stripe stops redelivering them.
var errIgnoredEvent = errors.New("event ignored")

// HandleStripeWebhook applies a verified Stripe event once. Redeliveries of
// an already processed event id are acknowledged without side effects.
func HandleStripeWebhook(c *gin.Context) {
	event, ok := c.MustGet(middleware.StripeEventKey).(stripe.Event)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event"})
		return
	}
	ctx := c.Request.Context()
	log := logger.Get().With(zap.String("event_id", event.ID), zap.String("type", string(event.Type)))

	first, err := Repo.RecordStripeEvent(ctx, event.ID, string(event.Type), Now())
	if err != nil {
		respondError(c, err, "Failed to record event")
		return
	}
	if !first {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		log.Info("duplicate webhook event acknowledged")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	err = processStripeEvent(c, event)
	switch {
	case err == nil:
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	case errors.Is(err, errIgnoredEvent):
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		log.Warn("webhook event ignored", zap.Error(err))
	default:
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		if ferr := Repo.ForgetStripeEvent(ctx, event.ID); ferr != nil {
			log.Error("failed to forget webhook event", zap.Error(ferr))
		}
		respondError(c, err, "Failed to process event")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func processStripeEvent(c *gin.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("%w: decoding checkout session: %v", errIgnoredEvent, err)
		}
		return handleCheckoutCompleted(c, &cs)
	case stripe.EventTypeInvoicePaid:
		return handleInvoice(c, event, true)
	case stripe.EventTypeInvoicePaymentFailed:
		return handleInvoice(c, event, false)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decoding subscription: %v", errIgnoredEvent, err)
		}
		return handleSubscriptionDeleted(c, &sub)
	default:
		logger.Get().Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func userFromMetadata(c *gin.Context, cs *stripe.CheckoutSession) (*models.User, error) {
	raw := cs.Metadata[billing.MetaUserID]
	if raw == "" {
		raw = cs.ClientReferenceID
	}
	id, err := bson.ObjectIDFromHex(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: checkout %s has no valid user id", errIgnoredEvent, cs.ID)
	}
	user, err := Repo.GetUserByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", errIgnoredEvent, err)
	}
	return user, err
}

func handleCheckoutCompleted(c *gin.Context, cs *stripe.CheckoutSession) error {
	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// async payment methods settle later with async_payment_succeeded
		return nil
	}
	switch cs.Metadata[billing.MetaKind] {
	case billing.KindSubscription:
		return activateSubscription(c, cs)
	case billing.KindTraining:
		return enrollFromCheckout(c, cs)
	default:
		return fmt.Errorf("%w: checkout %s has unknown kind %q", errIgnoredEvent, cs.ID, cs.Metadata[billing.MetaKind])
	}
}

func activateSubscription(c *gin.Context, cs *stripe.CheckoutSession) error {
	svc, err := models.ParseService(cs.Metadata[billing.MetaService])
	if err != nil {
		return fmt.Errorf("%w: %v", errIgnoredEvent, err)
	}
	user, err := userFromMetadata(c, cs)
	if err != nil {
		return err
	}

	now := Now()
	if cs.Customer != nil && cs.Customer.ID != "" {
		user.StripeCustomerID = cs.Customer.ID
	}
	subID := ""
	if cs.Subscription != nil {
		subID = cs.Subscription.ID
	}
	sub := *user.ExtendFull(svc, Cfg.SubscriptionDays, subID, now)
	user.UpdatedAt = now
	if err := Repo.SaveUser(c.Request.Context(), user); err != nil {
		return err
	}

	logger.Get().Info("subscription activated from checkout",
		zap.String("user_id", user.ID.Hex()),
		zap.String("service", string(svc)),
		zap.String("stripe_subscription_id", subID))
	queueUserNotice(c, user, models.NotificationSubscription, svc,
		fmt.Sprintf("Suscripción a %s activada", svc),
		fmt.Sprintf("Gracias por suscribirte. Tu acceso a %s está activo hasta el %s.", svc, sub.EndDate.Format("02/01/2006")))
	return nil
}

func enrollFromCheckout(c *gin.Context, cs *stripe.CheckoutSession) error {
	trainingID, err := bson.ObjectIDFromHex(cs.Metadata[billing.MetaTrainingID])
	if err != nil {
		return fmt.Errorf("%w: checkout %s has no valid training id", errIgnoredEvent, cs.ID)
	}
	user, err := userFromMetadata(c, cs)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()

	paymentID := cs.ID
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		paymentID = cs.PaymentIntent.ID
	}
	err = Repo.AddEnrollment(ctx, trainingID, models.Enrollment{
		UserID:     user.ID,
		Email:      user.Email,
		PaymentID:  paymentID,
		EnrolledAt: Now(),
	})
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: %v", errIgnoredEvent, err)
	}
	if errors.Is(err, models.ErrConflict) {
		training, gerr := Repo.GetTraining(ctx, trainingID)
		if gerr == nil && training.IsEnrolled(user.ID) {
			return nil
		}
		// paid for a seat that no longer exists; an admin has to refund
		logger.Get().Error("training full after payment",
			zap.String("training_id", trainingID.Hex()),
			zap.String("user_id", user.ID.Hex()),
			zap.String("payment_id", paymentID))
		n, nerr := models.NewNotification(models.NotificationSystem, models.TargetAdmins, "",
			"Inscripción pagada sin cupo",
			fmt.Sprintf("%s pagó (%s) un entrenamiento sin cupos disponibles. Revisar reembolso.", user.Email, paymentID),
			Now())
		if nerr == nil {
			n.Priority = "high"
			nerr = Repo.CreateNotification(ctx, n)
		}
		if nerr != nil {
			logger.Get().Error("failed to notify admins", zap.Error(nerr))
		}
		return nil
	}
	if err != nil {
		return err
	}

	logger.Get().Info("training enrollment confirmed",
		zap.String("training_id", trainingID.Hex()),
		zap.String("user_id", user.ID.Hex()))
	training, err := Repo.GetTraining(ctx, trainingID)
	if err != nil {
		logger.Get().Error("failed to load training for confirmation", zap.String("training_id", trainingID.Hex()), zap.Error(err))
		return nil
	}
	confirmEnrollment(c, user, training)
	return nil
}

// invoiceRef reads the subscription an invoice bills. Older API versions
// carry it at the top level, newer ones under parent.subscription_details.
type invoiceRef struct {
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (r invoiceRef) subscriptionID() string {
	if r.Parent.SubscriptionDetails.Subscription != "" {
		return r.Parent.SubscriptionDetails.Subscription
	}
	return r.Subscription
}

// invoiceService resolves which service an invoice pays for.
func invoiceService(user *models.User, ref invoiceRef) (models.Service, bool) {
	if svc, err := models.ParseService(ref.Parent.SubscriptionDetails.Metadata[billing.MetaService]); err == nil {
		return svc, true
	}
	subID := ref.subscriptionID()
	for _, s := range user.Subscriptions {
		if subID != "" && s.StripeSubscriptionID == subID {
			return s.Service, true
		}
	}
	return "", false
}

func handleInvoice(c *gin.Context, event stripe.Event, paid bool) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("%w: decoding invoice: %v", errIgnoredEvent, err)
	}
	var ref invoiceRef
	if err := json.Unmarshal(event.Data.Raw, &ref); err != nil {
		return fmt.Errorf("%w: decoding invoice: %v", errIgnoredEvent, err)
	}
	if paid && inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		// the first period is granted by checkout.session.completed
		return nil
	}

	ctx := c.Request.Context()
	var user *models.User
	var err error
	if inv.Customer != nil && inv.Customer.ID != "" {
		user, err = Repo.GetUserByStripeCustomer(ctx, inv.Customer.ID)
	} else {
		err = models.ErrNotFound
	}
	if errors.Is(err, models.ErrNotFound) && ref.subscriptionID() != "" {
		user, err = Repo.GetUserByStripeSubscription(ctx, ref.subscriptionID())
	}
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: no user for invoice %s", errIgnoredEvent, inv.ID)
	}
	if err != nil {
		return err
	}

	svc, ok := invoiceService(user, ref)
	if !paid {
		title := "Pago de suscripción fallido"
		if ok {
			title = fmt.Sprintf("Pago de %s fallido", svc)
		}
		logger.Get().Warn("invoice payment failed", zap.String("user_id", user.ID.Hex()), zap.String("invoice_id", inv.ID))
		queueUserNotice(c, user, models.NotificationSubscription, svc, title,
			"No pudimos procesar tu pago. Actualiza tu método de pago para mantener el acceso.")
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: cannot resolve service for invoice %s", errIgnoredEvent, inv.ID)
	}

	now := Now()
	sub := *user.ExtendFull(svc, Cfg.SubscriptionDays, ref.subscriptionID(), now)
	user.UpdatedAt = now
	if err := Repo.SaveUser(ctx, user); err != nil {
		return err
	}
	logger.Get().Info("subscription renewed",
		zap.String("user_id", user.ID.Hex()),
		zap.String("service", string(svc)),
		zap.Time("end_date", sub.EndDate))
	return nil
}

func handleSubscriptionDeleted(c *gin.Context, sub *stripe.Subscription) error {
	ctx := c.Request.Context()
	user, err := Repo.GetUserByStripeSubscription(ctx, sub.ID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: no user for subscription %s", errIgnoredEvent, sub.ID)
	}
	if err != nil {
		return err
	}
	now := Now()
	svc, changed := user.RevokeStripe(sub.ID, now)
	if !changed {
		return nil
	}
	user.UpdatedAt = now
	if err := Repo.SaveUser(ctx, user); err != nil {
		return err
	}
	logger.Get().Info("subscription cancelled",
		zap.String("user_id", user.ID.Hex()),
		zap.String("service", string(svc)))
	queueUserNotice(c, user, models.NotificationSubscription, svc,
		fmt.Sprintf("Suscripción a %s cancelada", svc),
		"Tu suscripción fue cancelada. Puedes volver a suscribirte cuando quieras.")
	return nil
}
