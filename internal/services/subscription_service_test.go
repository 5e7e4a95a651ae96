package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/models"
)

type SubscriptionTestSuite struct {
	suite.Suite
	f *fixture
}

func (suite *SubscriptionTestSuite) SetupTest() {
	suite.f = newFixture(suite.T())
}

// subscribe settles a one month subscription through the test gateway.
func (suite *SubscriptionTestSuite) subscribe(externalID string) (*models.Transaction, *models.Subscription) {
	f, t := suite.f, suite.T()
	out, err := f.payments.InitiatePurchase(f.ctx, &PurchaseRequest{
		PayerID:          f.fan,
		TierID:           &f.tier.ID,
		Amount:           dec("9.99"),
		Kind:             models.TransactionKindSubscription1Month,
		SettlementMethod: models.SettlementMethodExternalGateway,
	})
	require.NoError(t, err)

	_, err = f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{
		EventType: "sale",
		Body:      f.saleBody(t, out.Transaction, 1, true, externalID),
	})
	require.NoError(t, err)

	txn := f.transaction(t, out.Transaction.ID)
	require.NotNil(t, txn.SubscriptionID)
	sub, err := f.store.GetSubscription(f.ctx, *txn.SubscriptionID)
	require.NoError(t, err)
	return txn, sub
}

func (suite *SubscriptionTestSuite) lifecycle(eventType, externalID string) *WebhookResult {
	f, t := suite.f, suite.T()
	result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{
		EventType: eventType,
		Body:      f.eventBody(t, eventType, "", externalID, decimal.Zero),
	})
	require.NoError(t, err)
	return result
}

func (suite *SubscriptionTestSuite) TestRenewalExtendsFromCurrentEndDate() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-1")

	body := f.eventBody(t, "renewal-success", "renewal-0001", "sub-1", dec("9.99"))
	result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "renewal-success", Body: body})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)
	require.NotNil(t, result.TransactionID)

	renewal := f.transaction(t, *result.TransactionID)
	assert.Equal(t, models.TransactionKindSubscriptionRenewal, renewal.Kind)
	assert.Equal(t, models.TransactionStatusApproved, renewal.Status)
	assert.Equal(t, sub.ID, *renewal.SubscriptionID)

	renewed, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 2, 0), renewed.EndDate)
	assert.Equal(t, renewal.ID, renewed.LatestTransactionID)
	assert.True(t, f.wallet(t, f.creator).Payout.Equal(dec("16.98")))

	// The same renewal delivered twice is applied once.
	again, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "renewal-success", Body: body})
	require.NoError(t, err)
	assert.Equal(t, renewal.ID, *again.TransactionID)
	renewed, err = f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 2, 0), renewed.EndDate)
	assert.True(t, f.wallet(t, f.creator).Payout.Equal(dec("16.98")))
	f.assertConserved(t)
}

func (suite *SubscriptionTestSuite) TestRenewalForUnknownSubscriptionIsIgnored() {
	f, t := suite.f, suite.T()
	body := f.eventBody(t, "renewal-success", "renewal-0002", "sub-missing", decimal.Zero)
	result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "renewal-success", Body: body})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, result.Status)
	assert.Empty(t, f.store.WalletEntries())
}

func (suite *SubscriptionTestSuite) TestLifecycleNotifications() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-2")

	suite.lifecycle("renewal-failure", "sub-2")
	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, got.Status)

	suite.lifecycle("cancellation", "sub-2")
	got, err = f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, got.Status)
	assert.False(t, got.AutoRenew)

	suite.lifecycle("expiration", "sub-2")
	got, err = f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, got.Status)
}

func (suite *SubscriptionTestSuite) TestCancellationKeepsPaidThroughAccess() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-3")

	result := suite.lifecycle("cancellation", "sub-3")
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)

	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, got.Status)
	assert.Equal(t, testNow, *got.CanceledAt)
	assert.Equal(t, sub.EndDate, got.EndDate)

	access, err := f.subs.HasAccess(f.ctx, f.fan, f.creator)
	require.NoError(t, err)
	assert.True(t, access)
}

func (suite *SubscriptionTestSuite) TestGatewayRefundSuspendsSubscription() {
	f, t := suite.f, suite.T()
	txn, sub := suite.subscribe("sub-4")

	body := f.eventBody(t, "refund", *txn.GatewayReference, "", txn.Amount)
	result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "refund", Body: body})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)
	assert.Equal(t, txn.ID, *result.TransactionID)

	assert.Equal(t, models.TransactionStatusRefunded, f.transaction(t, txn.ID).Status)
	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, got.Status)
	assert.True(t, f.wallet(t, f.creator).Payout.IsZero())
	assert.True(t, f.wallet(t, models.GatewayClearingAccountID).SystemBalance.IsZero())

	replay, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "refund", Body: body})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, replay.Status)
	f.assertConserved(t)
}

func (suite *SubscriptionTestSuite) TestRefundLargerThanTransactionIsRejected() {
	f, t := suite.f, suite.T()
	txn, _ := suite.subscribe("sub-5")

	body := f.eventBody(t, "refund", *txn.GatewayReference, "", dec("50.00"))
	result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "refund", Body: body})
	assert.ErrorIs(t, err, gateway.ErrIntegrityViolation)
	assert.Equal(t, models.WebhookStatusRejected, result.Status)
	assert.Equal(t, models.TransactionStatusApproved, f.transaction(t, txn.ID).Status)
}

func (suite *SubscriptionTestSuite) TestPartialRefundIsHeld() {
	f, t := suite.f, suite.T()
	txn, sub := suite.subscribe("sub-7")
	payout := f.wallet(t, f.creator).Payout

	held := map[uuid.UUID]bool{}
	for _, amount := range []decimal.Decimal{dec("1.00"), decimal.Zero} {
		body := f.eventBody(t, "refund", *txn.GatewayReference, "", amount)
		result, err := f.webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "refund", Body: body})
		require.NoError(t, err, amount.String())
		assert.Equal(t, models.WebhookStatusHeld, result.Status, amount.String())
		held[result.EventID] = true
	}

	assert.Equal(t, models.TransactionStatusApproved, f.transaction(t, txn.ID).Status)
	assert.True(t, f.wallet(t, f.creator).Payout.Equal(payout))
	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)

	for _, event := range f.store.WebhookEvents() {
		if held[event.ID] {
			assert.Equal(t, models.WebhookStatusHeld, event.Status)
			assert.Contains(t, event.Error, ErrPartialRefund.Error())
		}
	}
	f.assertConserved(t)
}

func (suite *SubscriptionTestSuite) TestCancelSelfService() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-6")

	_, err := f.subs.CancelSelfService(f.ctx, f.creator, sub.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	canceled, err := f.subs.CancelSelfService(f.ctx, f.fan, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, canceled.Status)
	assert.False(t, canceled.AutoRenew)
	assert.Equal(t, sub.EndDate, canceled.EndDate)

	_, err = f.subs.CancelSelfService(f.ctx, f.fan, sub.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func (suite *SubscriptionTestSuite) TestCancelImmediatelyEndsAccess() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-7")

	canceled, err := f.subs.CancelImmediately(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, canceled.Status)
	assert.Equal(t, testNow, canceled.EndDate)

	access, err := f.subs.HasAccess(f.ctx, f.fan, f.creator)
	require.NoError(t, err)
	assert.False(t, access)
}

func (suite *SubscriptionTestSuite) TestExpireDue() {
	f, t := suite.f, suite.T()
	_, sub := suite.subscribe("sub-8")

	n, err := f.subs.ExpireDue(f.ctx, testNow.AddDate(0, 0, 10), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.subs.ExpireDue(f.ctx, testNow.AddDate(0, 1, 1), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, got.Status)
	assert.False(t, got.AutoRenew)

	n, err = f.subs.ExpireDue(f.ctx, testNow.AddDate(0, 1, 1), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func (suite *SubscriptionTestSuite) TestLapsedSubscriptionRestartsAtRenewal() {
	f, t := suite.f, suite.T()
	f.store.Fund(f.fan, dec("50.00"))
	_, sub := suite.subscribe("sub-9")

	expired, err := f.subs.CancelImmediately(f.ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, testNow, expired.EndDate)

	out, err := f.payments.InitiatePurchase(f.ctx, &PurchaseRequest{
		PayerID: f.fan,
		TierID:  &f.tier.ID,
		Amount:  dec("27.00"),
		Kind:    models.TransactionKindSubscription3Month,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApproved, out.Status)

	got, err := f.store.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.Equal(t, testNow.AddDate(0, 3, 0), got.EndDate)
	assert.Equal(t, 3, got.DurationMonths)
}

func TestSubscriptionSuite(t *testing.T) {
	suite.Run(t, new(SubscriptionTestSuite))
}

func TestCancelAtProviderFailureKeepsSubscription(t *testing.T) {
	f := newFixture(t, func(c *config.PaymentConfig) { c.TestMode = false })

	f.external.On("BuildSettlementRequest", mock.Anything, mock.Anything).
		Return(&gateway.RedirectDescriptor{Gateway: gateway.CCBillName, URL: "https://ccbill.example/form", Method: "GET"}, nil)

	out, err := f.payments.InitiatePurchase(f.ctx, &PurchaseRequest{
		PayerID:          f.fan,
		TierID:           &f.tier.ID,
		Amount:           dec("9.99"),
		Kind:             models.TransactionKindSubscription1Month,
		SettlementMethod: models.SettlementMethodExternalGateway,
		Gateway:          gateway.CCBillName,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirectRequired, out.Status)
	assert.Equal(t, gateway.CCBillName, out.Transaction.Gateway)

	f.external.On("HandleNotification", mock.Anything, mock.Anything).Return(&gateway.Notification{
		Gateway:           gateway.CCBillName,
		EventType:         "NewSaleSuccess",
		Class:             gateway.ClassNewSaleSuccess,
		Verified:          true,
		Token:             out.Transaction.Token,
		ExternalReference: "0115000001",
		SubscriptionID:    "0115000001",
		Amount:            dec("9.99"),
		Currency:          "USD",
		Approved:          true,
	}, nil).Once()

	_, err = f.webhooks.HandleWebhook(f.ctx, gateway.CCBillName, gateway.RawNotification{EventType: "NewSaleSuccess"})
	require.NoError(t, err)

	subs := f.store.Subscriptions()
	require.Len(t, subs, 1)
	require.True(t, subs[0].AutoRenew)

	providerDown := &gateway.GatewayError{Gateway: gateway.CCBillName, Op: "cancel subscription", Err: errors.New("connection refused")}
	f.external.On("CancelSubscription", mock.Anything, "0115000001").Return(providerDown).Once()
	f.external.On("CancelSubscription", mock.Anything, "0115000001").Return(nil).Once()

	_, err = f.subs.CancelSelfService(f.ctx, f.fan, subs[0].ID)
	assert.Error(t, err)
	got, err := f.store.GetSubscription(f.ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.True(t, got.AutoRenew)

	canceled, err := f.subs.CancelSelfService(f.ctx, f.fan, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, canceled.Status)
	f.external.AssertExpectations(t)
}

func TestHasAccessWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	access, err := f.subs.HasAccess(f.ctx, f.fan, uuid.New())
	require.NoError(t, err)
	assert.False(t, access)
}
