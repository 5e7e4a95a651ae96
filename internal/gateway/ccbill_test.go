package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
)

type stubDoer struct {
	status int
	body   string
	err    error
	last   *http.Request
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.last = req
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{StatusCode: d.status, Body: io.NopCloser(strings.NewReader(d.body))}, nil
}

func testCCBillConfig() config.CCBillConfig {
	return config.CCBillConfig{
		BaseURL:      "https://api.ccbill.com",
		DataLinkURL:  "https://datalink.ccbill.com/utils/subscriptionManagement.cgi",
		ClientAccnum: "900100",
		ClientSubacc: "0000",
		FlexFormID:   "form-123",
		Salt:         "salty",
	}
}

func TestCCBillBuildOneTimeRequest(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})

	desc, err := a.BuildSettlementRequest(context.Background(), SettlementRequest{
		Token:    "tok123",
		Amount:   decimal.RequireFromString("40"),
		Currency: "USD",
		Kind:     models.TransactionKindTip,
	})
	require.NoError(t, err)

	u, err := url.Parse(desc.URL)
	require.NoError(t, err)
	assert.Equal(t, "/wap-frontflex/flexforms/form-123", u.Path)

	q := u.Query()
	assert.Equal(t, "900100", q.Get("clientAccnum"))
	assert.Equal(t, "0000", q.Get("clientSubacc"))
	assert.Equal(t, "40.00", q.Get("initialPrice"))
	assert.Equal(t, "2", q.Get("initialPeriod"))
	assert.Equal(t, "840", q.Get("currencyCode"))
	assert.Equal(t, "tok123", q.Get("X-token"))
	assert.Empty(t, q.Get("numRebills"))
	assert.Equal(t, md5Hex("40.00", "2", "840", "salty"), q.Get("formDigest"))
	assert.Equal(t, desc.Digest, q.Get("formDigest"))
}

func TestCCBillBuildRecurringRequest(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})

	desc, err := a.BuildSettlementRequest(context.Background(), SettlementRequest{
		Token:          "tok456",
		Amount:         decimal.RequireFromString("9.99"),
		Currency:       "EUR",
		Kind:           models.TransactionKindSubscription3Month,
		DurationMonths: 3,
	})
	require.NoError(t, err)

	u, _ := url.Parse(desc.URL)
	q := u.Query()
	assert.Equal(t, "90", q.Get("initialPeriod"))
	assert.Equal(t, "9.99", q.Get("recurringPrice"))
	assert.Equal(t, "90", q.Get("recurringPeriod"))
	assert.Equal(t, "99", q.Get("numRebills"))
	assert.Equal(t, "978", q.Get("currencyCode"))
	assert.Equal(t, md5Hex("9.99", "90", "9.99", "90", "99", "978", "salty"), q.Get("formDigest"))
}

func TestCCBillRejectsUnsupportedCurrency(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})
	_, err := a.BuildSettlementRequest(context.Background(), SettlementRequest{
		Token: "t", Amount: decimal.NewFromInt(1), Currency: "CHF",
	})
	assert.Error(t, err)
}

func TestCCBillNewSaleSuccess(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})
	body := `{"subscriptionId":"0912345678","transactionId":"0912345679","X-token":"tok123",` +
		`"billedInitialPrice":"9.99","billedCurrencyCode":840,` +
		`"dynamicPricingValidationDigest":"` + md5Hex("0912345678", "1", "salty") + `"}`

	n, err := a.HandleNotification(context.Background(), RawNotification{
		Query: url.Values{"eventType": {"NewSaleSuccess"}},
		Body:  []byte(body),
	})
	require.NoError(t, err)
	assert.Equal(t, ClassNewSaleSuccess, n.Class)
	assert.True(t, n.Approved)
	assert.True(t, n.Verified)
	assert.Equal(t, "tok123", n.Token)
	assert.Equal(t, "0912345678", n.ExternalReference)
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "USD", n.Currency)
}

func TestCCBillNewSaleDigestMismatch(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})
	body := `{"subscriptionId":"0912345678","X-token":"tok123","dynamicPricingValidationDigest":"deadbeef"}`

	_, err := a.HandleNotification(context.Background(), RawNotification{EventType: "NewSaleSuccess", Body: []byte(body)})
	assert.True(t, errors.Is(err, ErrIntegrityViolation))
}

func TestCCBillNewSaleFailure(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})
	body := `{"denialId":"5551","X-token":"tok9","failureReason":"Card declined",` +
		`"dynamicPricingValidationDigest":"` + md5Hex("5551", "0", "salty") + `"}`

	n, err := a.HandleNotification(context.Background(), RawNotification{EventType: "NewSaleFailure", Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, ClassNewSaleFailure, n.Class)
	assert.False(t, n.Approved)
	assert.Equal(t, "Card declined", n.Reason)
}

func TestCCBillLifecycleEvents(t *testing.T) {
	a := NewCCBillAdapter(testCCBillConfig(), &stubDoer{})

	cases := map[string]NotificationClass{
		"RenewalSuccess": ClassRenewalSuccess,
		"RenewalFailure": ClassRenewalFailure,
		"Cancellation":   ClassCancellation,
		"Expiration":     ClassExpiration,
		"Refund":         ClassRefund,
		"Chargeback":     ClassRefund,
		"UpgradeSuccess": ClassUnknown,
	}
	for eventType, class := range cases {
		n, err := a.HandleNotification(context.Background(), RawNotification{
			EventType: eventType,
			Body:      []byte(`{"subscriptionId":"0912345678","transactionId":"0912399999","billedAmount":"9.99","amount":"9.99","billedCurrencyCode":"840"}`),
		})
		require.NoError(t, err, eventType)
		assert.Equal(t, class, n.Class, eventType)
		assert.False(t, n.Verified, eventType)
		if class != ClassUnknown {
			assert.Equal(t, "0912345678", n.SubscriptionID, eventType)
		}
	}
}

func TestCCBillLifecycleEventsRequireWebhookKey(t *testing.T) {
	cfg := testCCBillConfig()
	cfg.WebhookSecret = "hook-key"
	a := NewCCBillAdapter(cfg, &stubDoer{})
	body := []byte(`{"subscriptionId":"0912345678","transactionId":"0912399999","amount":"9.99","currencyCode":"840"}`)

	n, err := a.HandleNotification(context.Background(), RawNotification{EventType: "Refund", Body: body, Query: url.Values{"key": {"hook-key"}}})
	require.NoError(t, err)
	assert.True(t, n.Verified)
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("9.99")))

	for _, key := range []string{"", "hook-ke", "HOOK-KEY"} {
		n, err = a.HandleNotification(context.Background(), RawNotification{EventType: "Refund", Body: body, Query: url.Values{"key": {key}}})
		require.NoError(t, err)
		assert.False(t, n.Verified, key)
	}

	n, err = a.HandleNotification(context.Background(), RawNotification{EventType: "RenewalSuccess", Body: body})
	require.NoError(t, err)
	assert.False(t, n.Verified)
}

func TestCCBillRefundUsesDataLink(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: "<results>1</results>"}
	a := NewCCBillAdapter(testCCBillConfig(), doer)
	ref := "0912345678"

	err := a.Refund(context.Background(), &models.Transaction{GatewayReference: &ref, Amount: decimal.RequireFromString("20")})
	require.NoError(t, err)

	q := doer.last.URL.Query()
	assert.Equal(t, "refundTransaction", q.Get("action"))
	assert.Equal(t, "0912345678", q.Get("subscriptionId"))
	assert.Equal(t, "20.00", q.Get("amount"))
}

func TestCCBillDataLinkFailures(t *testing.T) {
	ref := "0912345678"
	txn := &models.Transaction{GatewayReference: &ref, Amount: decimal.NewFromInt(5)}

	var gwErr *GatewayError
	err := NewCCBillAdapter(testCCBillConfig(), &stubDoer{status: http.StatusOK, body: "0"}).Refund(context.Background(), txn)
	assert.True(t, errors.As(err, &gwErr))

	err = NewCCBillAdapter(testCCBillConfig(), &stubDoer{status: http.StatusBadGateway, body: "oops"}).CancelSubscription(context.Background(), ref)
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)

	err = NewCCBillAdapter(testCCBillConfig(), &stubDoer{err: errors.New("dial tcp: timeout")}).CancelSubscription(context.Background(), ref)
	assert.True(t, errors.As(err, &gwErr))

	err = NewCCBillAdapter(testCCBillConfig(), &stubDoer{}).Refund(context.Background(), &models.Transaction{})
	assert.True(t, errors.As(err, &gwErr))
}
