package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
)

const TestAdapterName = "test"

// TestAdapter simulates a provider deterministically. Every settlement it
// builds resolves to the configured outcome, and its notifications flow
// through the same orchestrator path as real providers.
type TestAdapter struct {
	secret      string
	completeURL string
	approve     bool
}

func NewTestAdapter(cfg config.TestGatewayConfig, approve bool) *TestAdapter {
	return &TestAdapter{secret: cfg.Secret, completeURL: cfg.CompleteURL, approve: approve}
}

func (a *TestAdapter) Name() string { return TestAdapterName }

// SaleDigest signs the fields of a simulated sale outcome.
func (a *TestAdapter) SaleDigest(token string, amount decimal.Decimal, months int, currency string, approved bool) string {
	return SignFields(a.secret, token, FormatPrice(amount), strconv.Itoa(months), currency, strconv.FormatBool(approved))
}

// EventDigest signs a simulated lifecycle or refund event.
func (a *TestAdapter) EventDigest(eventType, reference, subscriptionID string, amount decimal.Decimal) string {
	return SignFields(a.secret, eventType, reference, subscriptionID, FormatPrice(amount))
}

func (a *TestAdapter) BuildSettlementRequest(ctx context.Context, req SettlementRequest) (*RedirectDescriptor, error) {
	digest := a.SaleDigest(req.Token, req.Amount, req.DurationMonths, req.Currency, a.approve)

	q := url.Values{}
	q.Set("token", req.Token)
	q.Set("amount", FormatPrice(req.Amount))
	q.Set("currency", req.Currency)
	q.Set("months", strconv.Itoa(req.DurationMonths))
	q.Set("approved", strconv.FormatBool(a.approve))
	q.Set("digest", digest)

	return &RedirectDescriptor{
		Gateway: TestAdapterName,
		URL:     a.completeURL + "?" + q.Encode(),
		Method:  http.MethodGet,
		Digest:  digest,
	}, nil
}

// TestEvent is the body of a simulated notification.
type TestEvent struct {
	Token          string `json:"token,omitempty"`
	Reference      string `json:"reference,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Amount         string `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	Months         int    `json:"months,omitempty"`
	Approved       bool   `json:"approved"`
	Reason         string `json:"reason,omitempty"`
	Digest         string `json:"digest"`
}

var testEventClasses = map[string]NotificationClass{
	"sale":            ClassNewSaleSuccess,
	"refund":          ClassRefund,
	"renewal-success": ClassRenewalSuccess,
	"renewal-failure": ClassRenewalFailure,
	"cancellation":    ClassCancellation,
	"expiration":      ClassExpiration,
}

func (a *TestAdapter) HandleNotification(ctx context.Context, raw RawNotification) (*Notification, error) {
	eventType := raw.EventType
	if eventType == "" {
		eventType = "sale"
	}
	n := &Notification{Gateway: TestAdapterName, EventType: eventType, Class: ClassUnknown}

	class, ok := testEventClasses[eventType]
	if !ok {
		return n, nil
	}

	var ev TestEvent
	if len(raw.Body) > 0 {
		if err := json.Unmarshal(raw.Body, &ev); err != nil {
			return nil, &GatewayError{Gateway: TestAdapterName, Op: "parse notification", Err: err}
		}
	} else {
		ev = testEventFromQuery(raw.Query)
	}

	amount := decimal.Zero
	if ev.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(ev.Amount); err != nil {
			return nil, &GatewayError{Gateway: TestAdapterName, Op: "parse notification", Err: err}
		}
	}

	var expected string
	if class == ClassNewSaleSuccess {
		expected = a.SaleDigest(ev.Token, amount, ev.Months, ev.Currency, ev.Approved)
	} else {
		expected = a.EventDigest(eventType, ev.Reference, ev.SubscriptionID, amount)
	}
	if !digestEqual(expected, ev.Digest) {
		return nil, fmt.Errorf("%w: test %s digest mismatch", ErrIntegrityViolation, eventType)
	}

	n.Class = class
	n.Verified = true
	n.Token = ev.Token
	n.SubscriptionID = ev.SubscriptionID
	n.ExternalReference = ev.Reference
	n.Amount = amount
	n.Currency = ev.Currency
	n.Reason = ev.Reason
	n.Approved = ev.Approved

	if class == ClassNewSaleSuccess {
		if !ev.Approved {
			n.Class = ClassNewSaleFailure
			if n.Reason == "" {
				n.Reason = "declined by test adapter"
			}
		}
		if n.ExternalReference == "" {
			n.ExternalReference = "test-" + ev.Token
		}
	}
	if class == ClassRenewalSuccess {
		n.Approved = true
	}
	return n, nil
}

func testEventFromQuery(q url.Values) TestEvent {
	months, _ := strconv.Atoi(q.Get("months"))
	approved, _ := strconv.ParseBool(q.Get("approved"))
	return TestEvent{
		Token:          q.Get("token"),
		Reference:      q.Get("reference"),
		SubscriptionID: q.Get("subscription_id"),
		Amount:         q.Get("amount"),
		Currency:       q.Get("currency"),
		Months:         months,
		Approved:       approved,
		Reason:         q.Get("reason"),
		Digest:         q.Get("digest"),
	}
}

func (a *TestAdapter) Refund(ctx context.Context, txn *models.Transaction) error {
	return nil
}

func (a *TestAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	return nil
}
