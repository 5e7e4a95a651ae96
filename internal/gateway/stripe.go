package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
)

const StripeName = "stripe"

// StripeAdapter settles through Checkout Sessions. The token travels as the
// session's client reference and in metadata next to its keyed digest.
type StripeAdapter struct {
	cfg config.StripeConfig
	api *client.API
}

func NewStripeAdapter(cfg config.StripeConfig, api *client.API) *StripeAdapter {
	if api == nil {
		api = client.New(cfg.SecretKey, nil)
	}
	return &StripeAdapter{cfg: cfg, api: api}
}

func (a *StripeAdapter) Name() string { return StripeName }

func (a *StripeAdapter) digest(token string, amount int64, months int, currency string) string {
	return SignFields(a.cfg.WebhookSecret, token, strconv.FormatInt(amount, 10), strconv.Itoa(months), strings.ToUpper(currency))
}

func (a *StripeAdapter) BuildSettlementRequest(ctx context.Context, req SettlementRequest) (*RedirectDescriptor, error) {
	units := MinorUnits(req.Amount, req.Currency)
	digest := a.digest(req.Token, units, req.DurationMonths, req.Currency)

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(units),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(req.Description),
		},
	}
	mode := stripe.CheckoutSessionModePayment
	if req.Recurring() {
		mode = stripe.CheckoutSessionModeSubscription
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			IntervalCount: stripe.Int64(int64(req.DurationMonths)),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(mode)),
		ClientReferenceID: stripe.String(req.Token),
		SuccessURL:        stripe.String(a.cfg.SuccessURL),
		CancelURL:         stripe.String(a.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("token", req.Token)
	params.AddMetadata("months", strconv.Itoa(req.DurationMonths))
	params.AddMetadata("digest", digest)

	sess, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &GatewayError{Gateway: StripeName, Op: "create checkout session", Err: err}
	}

	return &RedirectDescriptor{
		Gateway:   StripeName,
		URL:       sess.URL,
		Method:    "GET",
		Reference: sess.ID,
		Digest:    digest,
	}, nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentIntent     string            `json:"payment_intent"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
	Subscription  string `json:"subscription"`
}

type stripeSubscription struct {
	ID                string `json:"id"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

func (a *StripeAdapter) HandleNotification(ctx context.Context, raw RawNotification) (*Notification, error) {
	event, err := webhook.ConstructEvent(raw.Body, raw.Headers.Get("Stripe-Signature"), a.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe signature: %v", ErrIntegrityViolation, err)
	}

	eventType := string(event.Type)
	n := &Notification{Gateway: StripeName, EventType: eventType, Class: ClassUnknown, Verified: true}

	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var sess stripeCheckoutSession
		if err := a.decode(event, &sess); err != nil {
			return nil, err
		}
		months, _ := strconv.Atoi(sess.Metadata["months"])
		if !digestEqual(a.digest(sess.ClientReferenceID, sess.AmountTotal, months, sess.Currency), sess.Metadata["digest"]) {
			return nil, fmt.Errorf("%w: checkout session %s digest mismatch", ErrIntegrityViolation, sess.ID)
		}
		if eventType == "checkout.session.completed" && sess.PaymentStatus == "unpaid" {
			// Delayed payment methods report the outcome in a later async event.
			n.Class = ClassUnknown
			return n, nil
		}
		n.Token = sess.ClientReferenceID
		n.SubscriptionID = sess.Subscription
		n.ExternalReference = sess.PaymentIntent
		if n.ExternalReference == "" {
			n.ExternalReference = sess.ID
		}
		n.Amount = FromMinorUnits(sess.AmountTotal, sess.Currency)
		n.Currency = strings.ToUpper(sess.Currency)
		n.Approved = eventType != "checkout.session.async_payment_failed"
		if n.Approved {
			n.Class = ClassNewSaleSuccess
		} else {
			n.Class = ClassNewSaleFailure
			n.Reason = "payment failed"
		}

	case "invoice.paid":
		var inv stripeInvoice
		if err := a.decode(event, &inv); err != nil {
			return nil, err
		}
		if inv.BillingReason != "subscription_cycle" {
			return n, nil
		}
		n.Class = ClassRenewalSuccess
		n.Approved = true
		n.SubscriptionID = inv.Subscription
		n.ExternalReference = inv.PaymentIntent
		if n.ExternalReference == "" {
			n.ExternalReference = inv.ID
		}
		n.Amount = FromMinorUnits(inv.AmountPaid, inv.Currency)
		n.Currency = strings.ToUpper(inv.Currency)

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := a.decode(event, &inv); err != nil {
			return nil, err
		}
		n.Class = ClassRenewalFailure
		n.SubscriptionID = inv.Subscription
		n.Reason = "renewal payment failed"

	case "customer.subscription.updated":
		var sub stripeSubscription
		if err := a.decode(event, &sub); err != nil {
			return nil, err
		}
		if sub.CancelAtPeriodEnd {
			n.Class = ClassCancellation
			n.SubscriptionID = sub.ID
		}

	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := a.decode(event, &sub); err != nil {
			return nil, err
		}
		n.Class = ClassExpiration
		n.SubscriptionID = sub.ID

	case "charge.refunded":
		var ch stripeCharge
		if err := a.decode(event, &ch); err != nil {
			return nil, err
		}
		n.Class = ClassRefund
		n.ExternalReference = ch.PaymentIntent
		n.Amount = FromMinorUnits(ch.AmountRefunded, ch.Currency)
		n.Currency = strings.ToUpper(ch.Currency)
		n.Reason = "refunded at gateway"
	}

	return n, nil
}

func (a *StripeAdapter) decode(event stripe.Event, v interface{}) error {
	if event.Data == nil {
		return &GatewayError{Gateway: StripeName, Op: "parse notification", Err: fmt.Errorf("event %s has no data", event.ID)}
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return &GatewayError{Gateway: StripeName, Op: "parse notification", Err: err}
	}
	return nil
}

// Refund refunds the payment intent recorded as the gateway reference.
// Subscription checkouts without a payment intent cannot be refunded here.
func (a *StripeAdapter) Refund(ctx context.Context, txn *models.Transaction) error {
	if txn.GatewayReference == nil || !strings.HasPrefix(*txn.GatewayReference, "pi_") {
		return &GatewayError{Gateway: StripeName, Op: "refund", Err: fmt.Errorf("transaction %s has no refundable payment intent", txn.ID)}
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(*txn.GatewayReference),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if _, err := a.api.Refunds.New(params); err != nil {
		return &GatewayError{Gateway: StripeName, Op: "refund", Err: err}
	}
	return nil
}

func (a *StripeAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.api.Subscriptions.Cancel(externalID, params); err != nil {
		return &GatewayError{Gateway: StripeName, Op: "cancel subscription", Err: err}
	}
	return nil
}
