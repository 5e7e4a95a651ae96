// internal/repository/gorm_store.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/fanvault-backend/internal/database"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

const platformBalanceRowID = 1

// GormStore implements Store on top of gorm. Inside RunInTx the same type
// wraps the transaction handle.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) forUpdate(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// Transactions

func (s *GormStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	return translate(s.conn(ctx).Create(t).Error)
}

func (s *GormStore) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.conn(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.forUpdate(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) GetTransactionByToken(ctx context.Context, token string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.conn(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) GetTransactionByGatewayReference(ctx context.Context, gateway, reference string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.conn(ctx).Where("gateway = ? AND gateway_reference = ?", gateway, reference).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return translate(s.conn(ctx).Save(t).Error)
}

// Wallets

func (s *GormStore) LockWallets(ctx context.Context, holderIDs ...uuid.UUID) (map[uuid.UUID]*models.Wallet, error) {
	wallets := make(map[uuid.UUID]*models.Wallet, len(holderIDs))
	for _, id := range sortedUnique(holderIDs) {
		w, err := s.lockWallet(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock wallet %s: %w", id, err)
		}
		wallets[id] = w
	}
	return wallets, nil
}

func (s *GormStore) lockWallet(ctx context.Context, holderID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := s.forUpdate(ctx).Where("holder_id = ?", holderID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fresh := models.Wallet{HolderID: holderID}
		if err := s.conn(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}},
			DoNothing: true,
		}).Create(&fresh).Error; err != nil {
			return nil, err
		}
		err = s.forUpdate(ctx).Where("holder_id = ?", holderID).First(&w).Error
	}
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (s *GormStore) SaveWallet(ctx context.Context, w *models.Wallet) error {
	return s.conn(ctx).Model(w).Updates(map[string]interface{}{
		"spendable":      w.Spendable,
		"pending":        w.Pending,
		"payout":         w.Payout,
		"system_balance": w.SystemBalance,
	}).Error
}

func (s *GormStore) AppendWalletEntry(ctx context.Context, e *models.WalletLedgerEntry) error {
	return s.conn(ctx).Create(e).Error
}

func (s *GormStore) UpdateEntryStatus(ctx context.Context, transactionID uuid.UUID, status models.EntryStatus) error {
	return s.conn(ctx).Model(&models.WalletLedgerEntry{}).
		Where("transaction_id = ?", transactionID).
		Update("status", status).Error
}

// Platform ledger

func (s *GormStore) LockPlatformBalance(ctx context.Context) (*models.PlatformBalance, error) {
	var b models.PlatformBalance
	err := s.forUpdate(ctx).First(&b, platformBalanceRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.PlatformBalance{ID: platformBalanceRowID}).Error; err != nil {
			return nil, err
		}
		err = s.forUpdate(ctx).First(&b, platformBalanceRowID).Error
	}
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (s *GormStore) SavePlatformBalance(ctx context.Context, b *models.PlatformBalance) error {
	return s.conn(ctx).Model(b).Update("balance", b.Balance).Error
}

func (s *GormStore) AppendPlatformEntry(ctx context.Context, e *models.PlatformLedgerEntry) error {
	return s.conn(ctx).Create(e).Error
}

// Subscriptions

func (s *GormStore) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.conn(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.forUpdate(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) FindSubscription(ctx context.Context, subscriberID, creatorID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.forUpdate(ctx).
		Where("subscriber_id = ? AND creator_id = ?", subscriberID, creatorID).
		First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.conn(ctx).Where("external_id = ?", externalID).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return translate(s.conn(ctx).Save(sub).Error)
}

// Referrals

func (s *GormStore) FindActiveReferral(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	var r models.Referral
	if err := s.conn(ctx).
		Where("referred_id = ? AND status = ?", referredID, models.ReferralStatusActive).
		First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) CreateReferralEarning(ctx context.Context, e *models.ReferralEarning) error {
	return translate(s.conn(ctx).Create(e).Error)
}

// Directories

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) GetTier(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error) {
	var t models.SubscriptionTier
	if err := s.conn(ctx).Preload("Prices").First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var p models.Post
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var m models.Message
	if err := s.conn(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// Reads

func (s *GormStore) GetWallet(ctx context.Context, holderID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.conn(ctx).Where("holder_id = ?", holderID).First(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (s *GormStore) ListWalletEntries(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.WalletLedgerEntry, int64, error) {
	query := utils.FilterStatus(s.conn(ctx).Model(&models.WalletLedgerEntry{}).Where("holder_id = ?", holderID), params)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count wallet entries: %w", err)
	}

	query = utils.ApplyPage(query, params, utils.LedgerEntrySortFields)

	var entries []models.WalletLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch wallet entries: %w", err)
	}
	return entries, total, nil
}

func (s *GormStore) ListTransactions(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) ([]models.Transaction, int64, error) {
	query := utils.FilterStatus(s.conn(ctx).Model(&models.Transaction{}).
		Where("payer_id = ? OR recipient_id = ?", holderID, holderID), params)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query = utils.ApplyPage(query, params, utils.TransactionSortFields)

	var transactions []models.Transaction
	if err := query.Find(&transactions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return transactions, total, nil
}

func (s *GormStore) ListSubscriptions(ctx context.Context, subscriberID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.conn(ctx).Where("subscriber_id = ?", subscriberID).Order("created_at desc").Find(&subs).Error
	return subs, err
}

func (s *GormStore) ListReferralEarnings(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralEarning, error) {
	var earnings []models.ReferralEarning
	err := s.conn(ctx).Where("referrer_id = ?", referrerID).Order("created_at desc").Find(&earnings).Error
	return earnings, err
}

func (s *GormStore) GetPlatformBalance(ctx context.Context) (*models.PlatformBalance, error) {
	var b models.PlatformBalance
	err := s.conn(ctx).First(&b, platformBalanceRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PlatformBalance{ID: platformBalanceRowID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *GormStore) ReferenceImbalances(ctx context.Context) ([]Imbalance, error) {
	var rows []Imbalance
	err := s.conn(ctx).Model(&models.WalletLedgerEntry{}).
		Select("reference_id, SUM(amount) AS sum").
		Group("reference_id").
		Having("SUM(amount) <> 0").
		Scan(&rows).Error
	return rows, err
}

func (s *GormStore) HasApprovedPurchase(ctx context.Context, payerID, purchasableID uuid.UUID) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&models.Transaction{}).
		Where("payer_id = ? AND purchasable_id = ? AND status = ?", payerID, purchasableID, models.TransactionStatusApproved).
		Count(&count).Error
	return count > 0, err
}

// Jobs

func (s *GormStore) ListSubscriptionsEndingBefore(ctx context.Context, t time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.conn(ctx).
		Where("status IN ? AND end_date <= ?", []models.SubscriptionStatus{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusCanceled,
		}, t).
		Order("end_date asc").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (s *GormStore) ListTransactionsDueForClearance(ctx context.Context, t time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.conn(ctx).
		Where("status = ? AND clearance_due_at <= ? AND cleared_at IS NULL", models.TransactionStatusApproved, t).
		Order("clearance_due_at asc").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (s *GormStore) ListTransactionsPendingReferrals(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.conn(ctx).
		Where("status = ? AND referrals_processed = ? AND subscription_id IS NOT NULL AND processed_at <= ?",
			models.TransactionStatusApproved, false, before).
		Order("processed_at asc").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// Side records

func (s *GormStore) CreateTrackingAttribution(ctx context.Context, a *models.TrackingAttribution) error {
	return s.conn(ctx).Create(a).Error
}

func (s *GormStore) CreateUserNotification(ctx context.Context, n *models.UserNotification) error {
	return s.conn(ctx).Create(n).Error
}

func (s *GormStore) CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	return s.conn(ctx).Create(e).Error
}

func (s *GormStore) SaveWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	return s.conn(ctx).Save(e).Error
}

func (s *GormStore) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	return s.conn(ctx).Create(l).Error
}

var _ Store = (*GormStore)(nil)
