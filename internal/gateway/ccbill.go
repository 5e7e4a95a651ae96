package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
)

const (
	CCBillName = "ccbill"

	oneTimePeriodDays = "2"
	daysPerMonth      = 30
	maxRebills        = "99"

	// webhookKeyParam is the query parameter carrying CCBillConfig.WebhookSecret.
	webhookKeyParam = "key"
)

// CCBill webhook event types.
const (
	ccbillNewSaleSuccess = "NewSaleSuccess"
	ccbillNewSaleFailure = "NewSaleFailure"
	ccbillRenewalSuccess = "RenewalSuccess"
	ccbillRenewalFailure = "RenewalFailure"
	ccbillCancellation   = "Cancellation"
	ccbillExpiration     = "Expiration"
	ccbillRefund         = "Refund"
	ccbillChargeback     = "Chargeback"
	ccbillVoid           = "Void"
)

// CCBillAdapter settles through FlexForms and manages subscriptions over DataLink.
type CCBillAdapter struct {
	cfg    config.CCBillConfig
	client HTTPDoer
}

func NewCCBillAdapter(cfg config.CCBillConfig, client HTTPDoer) *CCBillAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CCBillAdapter{cfg: cfg, client: client}
}

func (a *CCBillAdapter) Name() string { return CCBillName }

func (a *CCBillAdapter) BuildSettlementRequest(ctx context.Context, req SettlementRequest) (*RedirectDescriptor, error) {
	currencyCode, err := NumericCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	initialPrice := FormatPrice(req.Amount)
	q := url.Values{}
	q.Set("clientAccnum", a.cfg.ClientAccnum)
	q.Set("clientSubacc", a.cfg.ClientSubacc)
	q.Set("initialPrice", initialPrice)
	q.Set("currencyCode", currencyCode)
	q.Set("X-token", req.Token)

	var digest string
	if req.Recurring() {
		period := strconv.Itoa(daysPerMonth * req.DurationMonths)
		q.Set("initialPeriod", period)
		q.Set("recurringPrice", initialPrice)
		q.Set("recurringPeriod", period)
		q.Set("numRebills", maxRebills)
		digest = md5Hex(initialPrice, period, initialPrice, period, maxRebills, currencyCode, a.cfg.Salt)
	} else {
		q.Set("initialPeriod", oneTimePeriodDays)
		digest = md5Hex(initialPrice, oneTimePeriodDays, currencyCode, a.cfg.Salt)
	}
	q.Set("formDigest", digest)

	return &RedirectDescriptor{
		Gateway: CCBillName,
		URL:     fmt.Sprintf("%s/wap-frontflex/flexforms/%s?%s", strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.FlexFormID, q.Encode()),
		Method:  http.MethodGet,
		Digest:  digest,
	}, nil
}

// ccbillField accepts both JSON strings and numbers.
type ccbillField string

func (f *ccbillField) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = ccbillField(s)
		return nil
	}
	*f = ccbillField(b)
	return nil
}

type ccbillEvent struct {
	TransactionID      ccbillField `json:"transactionId"`
	SubscriptionID     ccbillField `json:"subscriptionId"`
	DenialID           ccbillField `json:"denialId"`
	Token              ccbillField `json:"X-token"`
	BilledInitialPrice ccbillField `json:"billedInitialPrice"`
	BilledAmount       ccbillField `json:"billedAmount"`
	Amount             ccbillField `json:"amount"`
	BilledCurrencyCode ccbillField `json:"billedCurrencyCode"`
	CurrencyCode       ccbillField `json:"currencyCode"`
	Digest             ccbillField `json:"dynamicPricingValidationDigest"`
	FailureReason      ccbillField `json:"failureReason"`
	Reason             ccbillField `json:"reason"`
}

func (a *CCBillAdapter) HandleNotification(ctx context.Context, raw RawNotification) (*Notification, error) {
	eventType := raw.EventType
	if eventType == "" {
		eventType = raw.Query.Get("eventType")
	}

	n := &Notification{Gateway: CCBillName, EventType: eventType, Class: ClassUnknown}
	if len(raw.Body) == 0 {
		return n, nil
	}

	var ev ccbillEvent
	if err := json.Unmarshal(raw.Body, &ev); err != nil {
		return nil, &GatewayError{Gateway: CCBillName, Op: "parse notification", Err: err}
	}
	n.Token = string(ev.Token)
	n.SubscriptionID = string(ev.SubscriptionID)

	// Only sale events are covered by a digest. Everything else is
	// trusted when the request carries the webhook secret.
	keyed := a.keyed(raw)

	switch eventType {
	case ccbillNewSaleSuccess:
		n.Class = ClassNewSaleSuccess
		n.Approved = true
		n.ExternalReference = string(ev.SubscriptionID)
		if !digestEqual(md5Hex(string(ev.SubscriptionID), "1", a.cfg.Salt), string(ev.Digest)) {
			return nil, fmt.Errorf("%w: %s digest mismatch for subscription %s", ErrIntegrityViolation, eventType, ev.SubscriptionID)
		}
		n.Verified = true
		if err := a.billed(n, ev.BilledInitialPrice, ev.BilledCurrencyCode); err != nil {
			return nil, err
		}

	case ccbillNewSaleFailure:
		n.Class = ClassNewSaleFailure
		denial := string(ev.DenialID)
		if denial == "" {
			denial = string(ev.TransactionID)
		}
		if !digestEqual(md5Hex(denial, "0", a.cfg.Salt), string(ev.Digest)) {
			return nil, fmt.Errorf("%w: %s digest mismatch for denial %s", ErrIntegrityViolation, eventType, denial)
		}
		n.Verified = true
		n.ExternalReference = denial
		n.Reason = string(ev.FailureReason)

	case ccbillRenewalSuccess:
		n.Class = ClassRenewalSuccess
		n.Approved = true
		n.ExternalReference = string(ev.TransactionID)
		n.Verified = keyed
		if err := a.billed(n, ev.BilledAmount, ev.BilledCurrencyCode); err != nil {
			return nil, err
		}

	case ccbillRenewalFailure:
		n.Class = ClassRenewalFailure
		n.Reason = string(ev.FailureReason)
		n.Verified = keyed

	case ccbillCancellation:
		n.Class = ClassCancellation
		n.Reason = string(ev.Reason)
		n.Verified = keyed

	case ccbillExpiration:
		n.Class = ClassExpiration
		n.Verified = keyed

	case ccbillRefund, ccbillChargeback, ccbillVoid:
		n.Class = ClassRefund
		n.ExternalReference = string(ev.TransactionID)
		n.Verified = keyed
		n.Reason = string(ev.Reason)
		if n.Reason == "" {
			n.Reason = eventType
		}
		currency := ev.CurrencyCode
		if currency == "" {
			currency = ev.BilledCurrencyCode
		}
		if err := a.billed(n, ev.Amount, currency); err != nil {
			return nil, err
		}

	default:
		logrus.WithField("event_type", eventType).Info("Ignoring unrecognized CCBill event")
	}

	return n, nil
}

func (a *CCBillAdapter) keyed(raw RawNotification) bool {
	if a.cfg.WebhookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.cfg.WebhookSecret), []byte(raw.Query.Get(webhookKeyParam))) == 1
}

func (a *CCBillAdapter) billed(n *Notification, price, currency ccbillField) error {
	if price != "" {
		amount, err := decimal.NewFromString(string(price))
		if err != nil {
			return &GatewayError{Gateway: CCBillName, Op: "parse billed amount", Err: err}
		}
		n.Amount = amount
	}
	if currency != "" {
		alpha, ok := AlphaCurrency(string(currency))
		if !ok {
			return &GatewayError{Gateway: CCBillName, Op: "parse billed currency", Err: fmt.Errorf("unknown currency code %q", currency)}
		}
		n.Currency = alpha
	}
	return nil
}

func (a *CCBillAdapter) Refund(ctx context.Context, txn *models.Transaction) error {
	if txn.GatewayReference == nil {
		return &GatewayError{Gateway: CCBillName, Op: "refund", Err: fmt.Errorf("transaction %s has no gateway reference", txn.ID)}
	}
	params := url.Values{}
	params.Set("action", "refundTransaction")
	params.Set("subscriptionId", *txn.GatewayReference)
	params.Set("amount", FormatPrice(txn.Amount))
	return a.dataLink(ctx, "refund", params)
}

func (a *CCBillAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	params := url.Values{}
	params.Set("action", "cancelSubscription")
	params.Set("subscriptionId", externalID)
	return a.dataLink(ctx, "cancel subscription", params)
}

var dataLinkResult = regexp.MustCompile(`<results>\s*(-?\d+)\s*</results>`)

func (a *CCBillAdapter) dataLink(ctx context.Context, op string, params url.Values) error {
	params.Set("clientAccnum", a.cfg.ClientAccnum)
	params.Set("clientSubacc", a.cfg.ClientSubacc)
	params.Set("username", a.cfg.DataLinkUsername)
	params.Set("password", a.cfg.DataLinkPassword)
	params.Set("returnXML", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.DataLinkURL+"?"+params.Encode(), nil)
	if err != nil {
		return &GatewayError{Gateway: CCBillName, Op: op, Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return &GatewayError{Gateway: CCBillName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &GatewayError{Gateway: CCBillName, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &GatewayError{Gateway: CCBillName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response %q", strings.TrimSpace(string(body)))}
	}

	result := strings.TrimSpace(string(body))
	if m := dataLinkResult.FindStringSubmatch(result); m != nil {
		result = m[1]
	}
	if result != "1" {
		return &GatewayError{Gateway: CCBillName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("datalink returned %q", result)}
	}
	return nil
}
