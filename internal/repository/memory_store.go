// internal/repository/memory_store.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

// MemoryStore is an in-memory Store used by unit tests and local runs
// without a database. RunInTx serializes units of work and applies their
// writes only on success, which gives the same all-or-nothing and
// exclusive-row semantics the SQL store gets from row locks.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	err   error
}

type memState struct {
	transactions    map[uuid.UUID]models.Transaction
	wallets         map[uuid.UUID]models.Wallet
	walletEntries   []models.WalletLedgerEntry
	platform        models.PlatformBalance
	platformEntries []models.PlatformLedgerEntry
	subscriptions   map[uuid.UUID]models.Subscription
	referrals       map[uuid.UUID]models.Referral
	earnings        []models.ReferralEarning
	users           map[uuid.UUID]models.User
	tiers           map[uuid.UUID]models.SubscriptionTier
	posts           map[uuid.UUID]models.Post
	messages        map[uuid.UUID]models.Message
	attributions    []models.TrackingAttribution
	notifications   []models.UserNotification
	webhooks        map[uuid.UUID]models.WebhookEvent
	auditLogs       []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		transactions:  make(map[uuid.UUID]models.Transaction),
		wallets:       make(map[uuid.UUID]models.Wallet),
		platform:      models.PlatformBalance{ID: platformBalanceRowID},
		subscriptions: make(map[uuid.UUID]models.Subscription),
		referrals:     make(map[uuid.UUID]models.Referral),
		users:         make(map[uuid.UUID]models.User),
		tiers:         make(map[uuid.UUID]models.SubscriptionTier),
		posts:         make(map[uuid.UUID]models.Post),
		messages:      make(map[uuid.UUID]models.Message),
		webhooks:      make(map[uuid.UUID]models.WebhookEvent),
	}}
}

// WithError makes every subsequent RunInTx fail with err before running.
func (m *MemoryStore) WithError(err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// view runs fn against the committed state under the store lock.
func (m *MemoryStore) view(fn func(tx *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{s: m.state})
}

func (s *memState) clone() *memState {
	c := &memState{
		transactions:    make(map[uuid.UUID]models.Transaction, len(s.transactions)),
		wallets:         make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		walletEntries:   append([]models.WalletLedgerEntry(nil), s.walletEntries...),
		platform:        s.platform,
		platformEntries: append([]models.PlatformLedgerEntry(nil), s.platformEntries...),
		subscriptions:   make(map[uuid.UUID]models.Subscription, len(s.subscriptions)),
		referrals:       s.referrals,
		earnings:        append([]models.ReferralEarning(nil), s.earnings...),
		users:           s.users,
		tiers:           s.tiers,
		posts:           s.posts,
		messages:        s.messages,
		attributions:    s.attributions,
		notifications:   s.notifications,
		webhooks:        s.webhooks,
		auditLogs:       s.auditLogs,
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	return c
}

// Seeding helpers for tests and local runs.

func (m *MemoryStore) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.state.users[u.ID] = u
}

func (m *MemoryStore) AddTier(t models.SubscriptionTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.tiers[t.ID] = t
}

func (m *MemoryStore) AddPost(p models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.posts[p.ID] = p
}

func (m *MemoryStore) AddMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.messages[msg.ID] = msg
}

func (m *MemoryStore) AddReferral(r models.Referral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.state.referrals[r.ID] = r
}

// Fund sets a holder's spendable counter directly, bypassing the ledger.
func (m *MemoryStore) Fund(holderID uuid.UUID, spendable decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.wallets[holderID]
	if !ok {
		w = models.Wallet{HolderID: holderID}
		w.ID = uuid.New()
	}
	w.Spendable = spendable
	m.state.wallets[holderID] = w
}

// WalletEntries returns a copy of every wallet ledger entry.
func (m *MemoryStore) WalletEntries() []models.WalletLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WalletLedgerEntry(nil), m.state.walletEntries...)
}

// PlatformEntries returns a copy of every platform ledger entry.
func (m *MemoryStore) PlatformEntries() []models.PlatformLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PlatformLedgerEntry(nil), m.state.platformEntries...)
}

// Wallets returns a copy of every wallet.
func (m *MemoryStore) Wallets() []models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Wallet, 0, len(m.state.wallets))
	for _, w := range m.state.wallets {
		out = append(out, w)
	}
	return out
}

// Subscriptions returns a copy of every subscription.
func (m *MemoryStore) Subscriptions() []models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Subscription, 0, len(m.state.subscriptions))
	for _, s := range m.state.subscriptions {
		out = append(out, s)
	}
	return out
}

// Earnings returns a copy of every referral earning.
func (m *MemoryStore) Earnings() []models.ReferralEarning {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReferralEarning(nil), m.state.earnings...)
}

// Attributions returns a copy of every tracking attribution.
func (m *MemoryStore) Attributions() []models.TrackingAttribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TrackingAttribution(nil), m.state.attributions...)
}

// Notifications returns a copy of every stored user notification.
func (m *MemoryStore) Notifications() []models.UserNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UserNotification(nil), m.state.notifications...)
}

// AuditLogs returns a copy of every audit log row.
func (m *MemoryStore) AuditLogs() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.state.auditLogs...)
}

// WebhookEvents returns a copy of every journaled notification.
func (m *MemoryStore) WebhookEvents() []models.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WebhookEvent, 0, len(m.state.webhooks))
	for _, e := range m.state.webhooks {
		out = append(out, e)
	}
	return out
}

// Tx methods on the committed state, each under the store lock.

func (m *MemoryStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	return m.view(func(tx *memTx) error { return tx.CreateTransaction(ctx, t) })
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id uuid.UUID) (t *models.Transaction, err error) {
	err = m.view(func(tx *memTx) error { t, err = tx.GetTransaction(ctx, id); return err })
	return t, err
}

func (m *MemoryStore) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *MemoryStore) GetTransactionByToken(ctx context.Context, token string) (t *models.Transaction, err error) {
	err = m.view(func(tx *memTx) error { t, err = tx.GetTransactionByToken(ctx, token); return err })
	return t, err
}

func (m *MemoryStore) GetTransactionByGatewayReference(ctx context.Context, gateway, reference string) (t *models.Transaction, err error) {
	err = m.view(func(tx *memTx) error { t, err = tx.GetTransactionByGatewayReference(ctx, gateway, reference); return err })
	return t, err
}

func (m *MemoryStore) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return m.view(func(tx *memTx) error { return tx.SaveTransaction(ctx, t) })
}

func (m *MemoryStore) LockWallets(ctx context.Context, holderIDs ...uuid.UUID) (w map[uuid.UUID]*models.Wallet, err error) {
	err = m.view(func(tx *memTx) error { w, err = tx.LockWallets(ctx, holderIDs...); return err })
	return w, err
}

func (m *MemoryStore) SaveWallet(ctx context.Context, w *models.Wallet) error {
	return m.view(func(tx *memTx) error { return tx.SaveWallet(ctx, w) })
}

func (m *MemoryStore) AppendWalletEntry(ctx context.Context, e *models.WalletLedgerEntry) error {
	return m.view(func(tx *memTx) error { return tx.AppendWalletEntry(ctx, e) })
}

func (m *MemoryStore) UpdateEntryStatus(ctx context.Context, transactionID uuid.UUID, status models.EntryStatus) error {
	return m.view(func(tx *memTx) error { return tx.UpdateEntryStatus(ctx, transactionID, status) })
}

func (m *MemoryStore) LockPlatformBalance(ctx context.Context) (b *models.PlatformBalance, err error) {
	err = m.view(func(tx *memTx) error { b, err = tx.LockPlatformBalance(ctx); return err })
	return b, err
}

func (m *MemoryStore) SavePlatformBalance(ctx context.Context, b *models.PlatformBalance) error {
	return m.view(func(tx *memTx) error { return tx.SavePlatformBalance(ctx, b) })
}

func (m *MemoryStore) AppendPlatformEntry(ctx context.Context, e *models.PlatformLedgerEntry) error {
	return m.view(func(tx *memTx) error { return tx.AppendPlatformEntry(ctx, e) })
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (s *models.Subscription, err error) {
	err = m.view(func(tx *memTx) error { s, err = tx.GetSubscription(ctx, id); return err })
	return s, err
}

func (m *MemoryStore) LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return m.GetSubscription(ctx, id)
}

func (m *MemoryStore) FindSubscription(ctx context.Context, subscriberID, creatorID uuid.UUID) (s *models.Subscription, err error) {
	err = m.view(func(tx *memTx) error { s, err = tx.FindSubscription(ctx, subscriberID, creatorID); return err })
	return s, err
}

func (m *MemoryStore) FindSubscriptionByExternalID(ctx context.Context, externalID string) (s *models.Subscription, err error) {
	err = m.view(func(tx *memTx) error { s, err = tx.FindSubscriptionByExternalID(ctx, externalID); return err })
	return s, err
}

func (m *MemoryStore) SaveSubscription(ctx context.Context, s *models.Subscription) error {
	return m.view(func(tx *memTx) error { return tx.SaveSubscription(ctx, s) })
}

func (m *MemoryStore) FindActiveReferral(ctx context.Context, referredID uuid.UUID) (r *models.Referral, err error) {
	err = m.view(func(tx *memTx) error { r, err = tx.FindActiveReferral(ctx, referredID); return err })
	return r, err
}

func (m *MemoryStore) CreateReferralEarning(ctx context.Context, e *models.ReferralEarning) error {
	return m.view(func(tx *memTx) error { return tx.CreateReferralEarning(ctx, e) })
}

// Directories and reads

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetTier(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state.tiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Prices = append([]models.TierPrice(nil), t.Prices...)
	return &t, nil
}

func (m *MemoryStore) GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.state.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (m *MemoryStore) GetWallet(ctx context.Context, holderID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.wallets[holderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m *MemoryStore) ListWalletEntries(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.WalletLedgerEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.WalletLedgerEntry
	for i := len(m.state.walletEntries) - 1; i >= 0; i-- {
		if e := m.state.walletEntries[i]; e.HolderID == holderID && statusMatches(string(e.Status), params) {
			matched = append(matched, e)
		}
	}
	return paginate(matched, params), int64(len(matched)), nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.Transaction
	for _, t := range m.state.transactions {
		party := t.PayerID == holderID || (t.RecipientID != nil && *t.RecipientID == holderID)
		if party && statusMatches(string(t.Status), params) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, params), int64(len(matched)), nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, subscriberID uuid.UUID) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.state.subscriptions {
		if s.SubscriberID == subscriberID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListReferralEarnings(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralEarning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReferralEarning
	for _, e := range m.state.earnings {
		if e.ReferrerID == referrerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetPlatformBalance(ctx context.Context) (*models.PlatformBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.state.platform
	return &b, nil
}

func (m *MemoryStore) ReferenceImbalances(ctx context.Context) ([]Imbalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[uuid.UUID]decimal.Decimal)
	for _, e := range m.state.walletEntries {
		sums[e.ReferenceID] = sums[e.ReferenceID].Add(e.Amount)
	}
	var out []Imbalance
	for ref, sum := range sums {
		if !sum.IsZero() {
			out = append(out, Imbalance{ReferenceID: ref, Sum: sum})
		}
	}
	return out, nil
}

func (m *MemoryStore) HasApprovedPurchase(ctx context.Context, payerID, purchasableID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.state.transactions {
		if t.PayerID == payerID && t.PurchasableID != nil && *t.PurchasableID == purchasableID &&
			t.Status == models.TransactionStatusApproved {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListSubscriptionsEndingBefore(ctx context.Context, t time.Time, limit int) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.state.subscriptions {
		if (s.Status == models.SubscriptionStatusActive || s.Status == models.SubscriptionStatusCanceled) && !s.EndDate.After(t) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return limitSlice(out, limit), nil
}

func (m *MemoryStore) ListTransactionsDueForClearance(ctx context.Context, t time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.state.transactions {
		if txn.Status == models.TransactionStatusApproved && txn.ClearanceDueAt != nil &&
			!txn.ClearanceDueAt.After(t) && txn.ClearedAt == nil {
			out = append(out, txn)
		}
	}
	return limitSlice(out, limit), nil
}

func (m *MemoryStore) ListTransactionsPendingReferrals(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.state.transactions {
		if txn.Status == models.TransactionStatusApproved && !txn.ReferralsProcessed &&
			txn.SubscriptionID != nil && txn.ProcessedAt != nil && !txn.ProcessedAt.After(before) {
			out = append(out, txn)
		}
	}
	return limitSlice(out, limit), nil
}

func (m *MemoryStore) CreateTrackingAttribution(ctx context.Context, a *models.TrackingAttribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&a.BaseModel)
	m.state.attributions = append(m.state.attributions, *a)
	return nil
}

func (m *MemoryStore) CreateUserNotification(ctx context.Context, n *models.UserNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&n.BaseModel)
	m.state.notifications = append(m.state.notifications, *n)
	return nil
}

func (m *MemoryStore) CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&e.BaseModel)
	m.state.webhooks[e.ID] = *e
	return nil
}

func (m *MemoryStore) SaveWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&e.BaseModel)
	m.state.webhooks[e.ID] = *e
	return nil
}

func (m *MemoryStore) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&l.BaseModel)
	m.state.auditLogs = append(m.state.auditLogs, *l)
	return nil
}

var _ Store = (*MemoryStore)(nil)

// memTx operates on one working copy of the state without locking; the
// owning MemoryStore holds the lock for its whole lifetime.
type memTx struct {
	s *memState
}

func stamp(b *models.BaseModel) {
	now := time.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func (tx *memTx) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	for _, existing := range tx.s.transactions {
		if existing.Token == t.Token {
			return ErrDuplicate
		}
		if t.GatewayReference != nil && existing.GatewayReference != nil &&
			existing.Gateway == t.Gateway && *existing.GatewayReference == *t.GatewayReference {
			return ErrDuplicate
		}
	}
	stamp(&t.BaseModel)
	tx.s.transactions[t.ID] = *t
	return nil
}

func (tx *memTx) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, ok := tx.s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (tx *memTx) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return tx.GetTransaction(ctx, id)
}

func (tx *memTx) GetTransactionByToken(ctx context.Context, token string) (*models.Transaction, error) {
	for _, t := range tx.s.transactions {
		if t.Token == token {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) GetTransactionByGatewayReference(ctx context.Context, gateway, reference string) (*models.Transaction, error) {
	for _, t := range tx.s.transactions {
		if t.Gateway == gateway && t.GatewayReference != nil && *t.GatewayReference == reference {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	if t.GatewayReference != nil {
		for id, existing := range tx.s.transactions {
			if id != t.ID && existing.GatewayReference != nil &&
				existing.Gateway == t.Gateway && *existing.GatewayReference == *t.GatewayReference {
				return ErrDuplicate
			}
		}
	}
	stamp(&t.BaseModel)
	tx.s.transactions[t.ID] = *t
	return nil
}

func (tx *memTx) LockWallets(ctx context.Context, holderIDs ...uuid.UUID) (map[uuid.UUID]*models.Wallet, error) {
	out := make(map[uuid.UUID]*models.Wallet, len(holderIDs))
	for _, id := range sortedUnique(holderIDs) {
		w, ok := tx.s.wallets[id]
		if !ok {
			w = models.Wallet{HolderID: id}
			stamp(&w.BaseModel)
			tx.s.wallets[id] = w
		}
		out[id] = &w
	}
	return out, nil
}

func (tx *memTx) SaveWallet(ctx context.Context, w *models.Wallet) error {
	stamp(&w.BaseModel)
	tx.s.wallets[w.HolderID] = *w
	return nil
}

func (tx *memTx) AppendWalletEntry(ctx context.Context, e *models.WalletLedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tx.s.walletEntries = append(tx.s.walletEntries, *e)
	return nil
}

func (tx *memTx) UpdateEntryStatus(ctx context.Context, transactionID uuid.UUID, status models.EntryStatus) error {
	for i := range tx.s.walletEntries {
		if id := tx.s.walletEntries[i].TransactionID; id != nil && *id == transactionID {
			tx.s.walletEntries[i].Status = status
		}
	}
	return nil
}

func (tx *memTx) LockPlatformBalance(ctx context.Context) (*models.PlatformBalance, error) {
	b := tx.s.platform
	return &b, nil
}

func (tx *memTx) SavePlatformBalance(ctx context.Context, b *models.PlatformBalance) error {
	b.UpdatedAt = time.Now()
	tx.s.platform = *b
	return nil
}

func (tx *memTx) AppendPlatformEntry(ctx context.Context, e *models.PlatformLedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tx.s.platformEntries = append(tx.s.platformEntries, *e)
	return nil
}

func (tx *memTx) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s, ok := tx.s.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (tx *memTx) LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return tx.GetSubscription(ctx, id)
}

func (tx *memTx) FindSubscription(ctx context.Context, subscriberID, creatorID uuid.UUID) (*models.Subscription, error) {
	for _, s := range tx.s.subscriptions {
		if s.SubscriberID == subscriberID && s.CreatorID == creatorID {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	for _, s := range tx.s.subscriptions {
		if s.ExternalID != nil && *s.ExternalID == externalID {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) SaveSubscription(ctx context.Context, s *models.Subscription) error {
	for id, existing := range tx.s.subscriptions {
		if id != s.ID && existing.SubscriberID == s.SubscriberID && existing.CreatorID == s.CreatorID {
			return ErrDuplicate
		}
	}
	stamp(&s.BaseModel)
	tx.s.subscriptions[s.ID] = *s
	return nil
}

func (tx *memTx) FindActiveReferral(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	for _, r := range tx.s.referrals {
		if r.ReferredID == referredID && r.Status == models.ReferralStatusActive {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) CreateReferralEarning(ctx context.Context, e *models.ReferralEarning) error {
	for _, existing := range tx.s.earnings {
		if existing.TransactionID == e.TransactionID && existing.Role == e.Role {
			return ErrDuplicate
		}
	}
	stamp(&e.BaseModel)
	tx.s.earnings = append(tx.s.earnings, *e)
	return nil
}

func statusMatches(status string, params utils.PaginationParams) bool {
	return params.Status == "" || params.Status == status
}

func paginate[T any](items []T, params utils.PaginationParams) []T {
	if params.Limit <= 0 {
		return items
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	params.Page = page
	start := params.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + params.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
