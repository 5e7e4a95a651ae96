package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/utils"
	"github.com/javajoker/fanvault-backend/pkg/rabbitmq"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultPage() utils.PaginationParams {
	return utils.PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Type)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []rabbitmq.TransactionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) PublishTransactionEvent(ctx context.Context, routingKey string, event rabbitmq.TransactionEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return p.Publish(ctx, routingKey, event)
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// mockAdapter is a gateway whose outbound calls are scripted per test.
type mockAdapter struct {
	mock.Mock
	name string
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) BuildSettlementRequest(ctx context.Context, req gateway.SettlementRequest) (*gateway.RedirectDescriptor, error) {
	args := m.Called(ctx, req)
	desc, _ := args.Get(0).(*gateway.RedirectDescriptor)
	return desc, args.Error(1)
}

func (m *mockAdapter) HandleNotification(ctx context.Context, raw gateway.RawNotification) (*gateway.Notification, error) {
	args := m.Called(ctx, raw)
	n, _ := args.Get(0).(*gateway.Notification)
	return n, args.Error(1)
}

func (m *mockAdapter) Refund(ctx context.Context, txn *models.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

func (m *mockAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

type fixture struct {
	ctx      context.Context
	store    *repository.MemoryStore
	cfg      config.PaymentConfig
	test     *gateway.TestAdapter
	external *mockAdapter
	registry *gateway.Registry
	notifier *recordingNotifier
	events   *recordingPublisher
	subs     *SubscriptionService
	payments *PaymentService
	webhooks *WebhookService

	fan     uuid.UUID
	creator uuid.UUID
	tier    models.SubscriptionTier
}

func newFixture(t *testing.T, opts ...func(*config.PaymentConfig)) *fixture {
	t.Helper()

	cfg := config.PaymentConfig{
		PlatformFeePercent: decimal.NewFromInt(15),
		RefundFlatFee:      decimal.Zero,
		Currency:           "USD",
		DefaultGateway:     gateway.TestAdapterName,
		TestMode:           true,
		TestAdapterApprove: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		ctx:      context.Background(),
		store:    repository.NewMemoryStore(),
		cfg:      cfg,
		test:     gateway.NewTestAdapter(config.TestGatewayConfig{Secret: "test-secret", CompleteURL: "http://localhost/complete"}, true),
		external: &mockAdapter{name: gateway.CCBillName},
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
		fan:      uuid.New(),
		creator:  uuid.New(),
	}
	f.rewire(f.test, f.external)

	f.store.AddUser(models.User{BaseModel: models.BaseModel{ID: f.fan}, Username: "fan", Email: "fan@example.com", Role: models.UserRoleFan, Status: models.UserStatusActive})
	f.store.AddUser(models.User{BaseModel: models.BaseModel{ID: f.creator}, Username: "creator", Email: "creator@example.com", Role: models.UserRoleCreator, Status: models.UserStatusActive})

	tierID := uuid.New()
	f.tier = models.SubscriptionTier{
		BaseModel: models.BaseModel{ID: tierID},
		CreatorID: f.creator,
		Name:      "Gold",
		Currency:  "USD",
		IsActive:  true,
		Prices: []models.TierPrice{
			{TierID: tierID, DurationMonths: 1, Amount: dec("9.99")},
			{TierID: tierID, DurationMonths: 3, Amount: dec("27.00")},
		},
	}
	f.store.AddTier(f.tier)
	return f
}

// rewire rebuilds the services over the given adapters.
func (f *fixture) rewire(adapters ...gateway.Adapter) {
	f.registry = gateway.NewRegistry(f.cfg.DefaultGateway, adapters...)
	f.subs = NewSubscriptionService(f.store, f.registry)
	f.payments = NewPaymentService(PaymentDeps{
		Store:         f.store,
		Gateways:      f.registry,
		Subscriptions: f.subs,
		Tracking:      NewTrackingService(f.store),
		Notifier:      f.notifier,
		Events:        f.events,
		Retry:         RetryPolicy{MaxAttempts: 3},
		Payment:       f.cfg,
		Clock:         func() time.Time { return testNow },
	})
	f.webhooks = NewWebhookService(f.store, f.registry, f.payments, f.subs, nil)
}

func (f *fixture) wallet(t *testing.T, holder uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(f.ctx, holder)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Wallet{HolderID: holder}
	}
	require.NoError(t, err)
	return w
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	txn, err := f.store.GetTransaction(f.ctx, id)
	require.NoError(t, err)
	return txn
}

func (f *fixture) platformBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetPlatformBalance(f.ctx)
	require.NoError(t, err)
	return b.Balance
}

// assertConserved checks that every movement nets to zero and that no holder
// counter is negative.
func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	imbalances, err := f.store.ReferenceImbalances(f.ctx)
	require.NoError(t, err)
	require.Empty(t, imbalances)

	for _, w := range f.store.Wallets() {
		require.False(t, w.Spendable.IsNegative(), "spendable of %s", w.HolderID)
		require.False(t, w.Pending.IsNegative(), "pending of %s", w.HolderID)
		require.False(t, w.Payout.IsNegative(), "payout of %s", w.HolderID)
	}
}

// tipFromWallet creates an approved internal-wallet tip.
func (f *fixture) tipFromWallet(t *testing.T, amount string) *models.Transaction {
	t.Helper()
	recipient := f.creator
	out, err := f.payments.InitiatePurchase(f.ctx, &PurchaseRequest{
		PayerID:     f.fan,
		RecipientID: &recipient,
		Amount:      dec(amount),
		Kind:        models.TransactionKindTip,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApproved, out.Status)
	return out.Transaction
}

// saleBody builds a signed test-adapter sale notification.
func (f *fixture) saleBody(t *testing.T, txn *models.Transaction, months int, approved bool, subscriptionID string) []byte {
	t.Helper()
	body, err := json.Marshal(gateway.TestEvent{
		Token:          txn.Token,
		SubscriptionID: subscriptionID,
		Amount:         gateway.FormatPrice(txn.Amount),
		Currency:       txn.Currency,
		Months:         months,
		Approved:       approved,
		Digest:         f.test.SaleDigest(txn.Token, txn.Amount, months, txn.Currency, approved),
	})
	require.NoError(t, err)
	return body
}

// eventBody builds a signed test-adapter lifecycle or refund notification.
func (f *fixture) eventBody(t *testing.T, eventType, reference, subscriptionID string, amount decimal.Decimal) []byte {
	t.Helper()
	ev := gateway.TestEvent{
		Reference:      reference,
		SubscriptionID: subscriptionID,
		Digest:         f.test.EventDigest(eventType, reference, subscriptionID, amount),
	}
	if !amount.IsZero() {
		ev.Amount = gateway.FormatPrice(amount)
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}
