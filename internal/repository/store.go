// internal/repository/store.go
package repository

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the set of reads and writes allowed inside one atomic unit of work.
// Lock* methods take row-level exclusive locks held until the unit ends.
type Tx interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByToken(ctx context.Context, token string) (*models.Transaction, error)
	GetTransactionByGatewayReference(ctx context.Context, gateway, reference string) (*models.Transaction, error)
	SaveTransaction(ctx context.Context, t *models.Transaction) error

	// LockWallets locks the holders' wallets in ascending id order, creating
	// empty wallets for holders that have none yet.
	LockWallets(ctx context.Context, holderIDs ...uuid.UUID) (map[uuid.UUID]*models.Wallet, error)
	SaveWallet(ctx context.Context, w *models.Wallet) error
	AppendWalletEntry(ctx context.Context, e *models.WalletLedgerEntry) error
	UpdateEntryStatus(ctx context.Context, transactionID uuid.UUID, status models.EntryStatus) error

	LockPlatformBalance(ctx context.Context) (*models.PlatformBalance, error)
	SavePlatformBalance(ctx context.Context, b *models.PlatformBalance) error
	AppendPlatformEntry(ctx context.Context, e *models.PlatformLedgerEntry) error

	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindSubscription(ctx context.Context, subscriberID, creatorID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, s *models.Subscription) error

	FindActiveReferral(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	CreateReferralEarning(ctx context.Context, e *models.ReferralEarning) error
}

// Store is the persistence boundary of the ledger engine.
type Store interface {
	Tx

	// RunInTx executes fn as one atomic unit; a returned error rolls back
	// every write made through the Tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetTier(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error)
	GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)

	GetWallet(ctx context.Context, holderID uuid.UUID) (*models.Wallet, error)
	ListWalletEntries(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.WalletLedgerEntry, int64, error)
	ListTransactions(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.Transaction, int64, error)
	ListSubscriptions(ctx context.Context, subscriberID uuid.UUID) ([]models.Subscription, error)
	ListReferralEarnings(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralEarning, error)
	GetPlatformBalance(ctx context.Context) (*models.PlatformBalance, error)
	ReferenceImbalances(ctx context.Context) ([]Imbalance, error)
	HasApprovedPurchase(ctx context.Context, payerID, purchasableID uuid.UUID) (bool, error)

	ListSubscriptionsEndingBefore(ctx context.Context, t time.Time, limit int) ([]models.Subscription, error)
	ListTransactionsDueForClearance(ctx context.Context, t time.Time, limit int) ([]models.Transaction, error)
	ListTransactionsPendingReferrals(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)

	CreateTrackingAttribution(ctx context.Context, a *models.TrackingAttribution) error
	CreateUserNotification(ctx context.Context, n *models.UserNotification) error
	CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
	SaveWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
}

// Imbalance is a reference id whose entries do not sum to zero.
type Imbalance struct {
	ReferenceID uuid.UUID       `json:"reference_id"`
	Sum         decimal.Decimal `json:"sum"`
}

// sortedUnique orders holder ids ascending so every caller locks wallets in
// the same sequence.
func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
