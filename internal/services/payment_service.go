// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/ledger"
	"github.com/javajoker/fanvault-backend/internal/lock"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/utils"
	"github.com/javajoker/fanvault-backend/pkg/rabbitmq"
)

const defaultLeaseTTL = 30 * time.Second

// PaymentService is the settlement orchestrator. It owns the transaction
// state machine and every balance movement that follows from it.
type PaymentService struct {
	store     repository.Store
	wallets   *ledger.WalletLedger
	platform  *ledger.PlatformLedger
	gateways  *gateway.Registry
	subs      *SubscriptionService
	referrals *ReferralService
	tracking  AttributionRecorder
	notifier  Notifier
	events    rabbitmq.Publisher
	locker    lock.Locker
	retry     RetryPolicy
	cfg       config.PaymentConfig
	leaseTTL  time.Duration
	now       func() time.Time
}

// PaymentDeps groups the collaborators of the orchestrator.
type PaymentDeps struct {
	Store         repository.Store
	Gateways      *gateway.Registry
	Subscriptions *SubscriptionService
	Referrals     *ReferralService
	Tracking      AttributionRecorder
	Notifier      Notifier
	Events        rabbitmq.Publisher
	Locker        lock.Locker
	Retry         RetryPolicy
	Payment       config.PaymentConfig
	LeaseTTL      time.Duration
	Clock         func() time.Time
}

func NewPaymentService(deps PaymentDeps) *PaymentService {
	s := &PaymentService{
		store:     deps.Store,
		wallets:   ledger.NewWalletLedger(),
		platform:  ledger.NewPlatformLedger(),
		gateways:  deps.Gateways,
		subs:      deps.Subscriptions,
		referrals: deps.Referrals,
		tracking:  deps.Tracking,
		notifier:  deps.Notifier,
		events:    deps.Events,
		locker:    deps.Locker,
		retry:     deps.Retry,
		cfg:       deps.Payment,
		leaseTTL:  deps.LeaseTTL,
		now:       deps.Clock,
	}
	if s.subs == nil {
		s.subs = NewSubscriptionService(deps.Store, deps.Gateways)
	}
	if s.referrals == nil {
		s.referrals = NewReferralService(deps.Store)
	}
	if s.events == nil {
		s.events = rabbitmq.EventProducerFallback{}
	}
	if s.locker == nil {
		s.locker = lock.NoopLocker{}
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = defaultLeaseTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.Currency == "" {
		s.cfg.Currency = "USD"
	}
	s.subs.now = s.now
	return s
}

type PurchaseRequest struct {
	PayerID          uuid.UUID               `json:"-"`
	RecipientID      *uuid.UUID              `json:"recipient_id,omitempty"`
	Amount           decimal.Decimal         `json:"amount" validate:"positive_amount"`
	Currency         string                  `json:"currency,omitempty" validate:"omitempty,currency"`
	Kind             models.TransactionKind  `json:"kind" validate:"required,transaction_kind"`
	SettlementMethod models.SettlementMethod `json:"settlement_method,omitempty" validate:"omitempty,oneof=internal-wallet external-gateway test-adapter"`
	Gateway          string                  `json:"gateway,omitempty"`
	TierID           *uuid.UUID              `json:"tier_id,omitempty"`
	TrackingLinkID   *uuid.UUID              `json:"tracking_link_id,omitempty"`
	Purchasable      *models.PurchasableRef  `json:"purchasable,omitempty"`
	Metadata         map[string]interface{}  `json:"metadata,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeApproved         OutcomeStatus = "approved"
	OutcomeDeclined         OutcomeStatus = "declined"
	OutcomeRedirectRequired OutcomeStatus = "redirect-required"
)

// SettlementOutcome is what a purchase initiation resolves to.
type SettlementOutcome struct {
	Status      OutcomeStatus               `json:"status"`
	Transaction *models.Transaction         `json:"transaction"`
	Redirect    *gateway.RedirectDescriptor `json:"redirect,omitempty"`
	Reason      string                      `json:"reason,omitempty"`
}

// SettlementResult is a final answer about a pending transaction.
type SettlementResult struct {
	Approved               bool
	GatewayReference       string
	ExternalSubscriptionID string
	Reason                 string
}

type RefundOptions struct {
	Reason string
	// FromGateway marks a refund the provider already performed, so no
	// outbound refund call is made.
	FromGateway bool
}

// InitiatePurchase validates a purchase intent, persists it as pending and
// either settles it against the payer's wallet or hands back a redirect to
// the external gateway.
func (s *PaymentService) InitiatePurchase(ctx context.Context, req *PurchaseRequest) (*SettlementOutcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	txn, months, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"payer_id":       txn.PayerID,
		"kind":           txn.Kind,
		"amount":         txn.Amount.StringFixed(2),
		"settlement":     txn.SettlementMethod,
	})
	logger.Info("Purchase initiated")

	if txn.UsesInternalWallet() {
		return s.settleInternal(ctx, txn)
	}

	adapter, err := s.gateways.Get(txn.Gateway)
	if err != nil {
		return nil, err
	}
	redirect, err := adapter.BuildSettlementRequest(ctx, gateway.SettlementRequest{
		Token:          txn.Token,
		PayerID:        txn.PayerID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Kind:           txn.Kind,
		DurationMonths: months,
		Description:    describe(txn),
	})
	if err != nil {
		logger.WithError(err).Error("Failed to build gateway settlement request")
		return nil, err
	}

	txn.Digest = redirect.Digest
	if redirect.Reference != "" {
		if txn.Metadata == nil {
			txn.Metadata = models.JSONB{}
		}
		txn.Metadata["gateway_session"] = redirect.Reference
	}
	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	return &SettlementOutcome{
		Status:      OutcomeRedirectRequired,
		Transaction: txn,
		Redirect:    redirect,
	}, nil
}

// prepare resolves the request against tiers, content and configuration and
// returns the unsaved pending transaction plus the paid duration in months.
func (s *PaymentService) prepare(ctx context.Context, req *PurchaseRequest) (*models.Transaction, int, error) {
	payer, err := s.store.GetUser(ctx, req.PayerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, invalidf("payer %s does not exist", req.PayerID)
		}
		return nil, 0, err
	}
	if !payer.IsActive() {
		return nil, 0, invalidf("payer account is %s", payer.Status)
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	txn := &models.Transaction{
		PayerID:        req.PayerID,
		RecipientID:    req.RecipientID,
		Amount:         req.Amount,
		Currency:       currency,
		Kind:           req.Kind,
		Status:         models.TransactionStatusPending,
		TrackingLinkID: req.TrackingLinkID,
		FeePercent:     s.cfg.PlatformFeePercent,
		Metadata:       models.JSONB(req.Metadata),
	}

	months := 0
	switch {
	case req.Kind.IsSubscription():
		if months, err = s.prepareSubscription(ctx, req, txn); err != nil {
			return nil, 0, err
		}
	case req.Purchasable != nil:
		if err := s.preparePurchasable(ctx, req, txn); err != nil {
			return nil, 0, err
		}
	case req.Kind == models.TransactionKindTip && req.RecipientID == nil:
		return nil, 0, invalidf("a tip needs a recipient")
	}

	if txn.RecipientID != nil {
		if *txn.RecipientID == txn.PayerID {
			return nil, 0, invalidf("payer and recipient must differ")
		}
		recipient, err := s.store.GetUser(ctx, *txn.RecipientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, 0, invalidf("recipient %s does not exist", *txn.RecipientID)
			}
			return nil, 0, err
		}
		if !recipient.IsActive() {
			return nil, 0, invalidf("recipient account is %s", recipient.Status)
		}
	} else {
		// Platform-only charge: the whole amount is revenue.
		txn.FeePercent = decimal.NewFromInt(100)
	}

	if err := s.resolveSettlement(req, txn); err != nil {
		return nil, 0, err
	}

	token, err := utils.GenerateTransactionToken()
	if err != nil {
		return nil, 0, fmt.Errorf("generate transaction token: %w", err)
	}
	txn.Token = token
	return txn, months, nil
}

func (s *PaymentService) prepareSubscription(ctx context.Context, req *PurchaseRequest, txn *models.Transaction) (int, error) {
	if req.TierID == nil {
		return 0, invalidf("tier_id is required for %s", req.Kind)
	}
	tier, err := s.store.GetTier(ctx, *req.TierID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, invalidf("tier %s does not exist", *req.TierID)
		}
		return 0, err
	}
	if !tier.IsActive {
		return 0, invalidf("tier %s is not active", tier.ID)
	}
	if req.RecipientID != nil && *req.RecipientID != tier.CreatorID {
		return 0, invalidf("recipient does not own tier %s", tier.ID)
	}

	months := req.Kind.Months()
	if req.Kind == models.TransactionKindSubscriptionRenewal {
		sub, err := s.store.FindSubscription(ctx, req.PayerID, tier.CreatorID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, invalidf("no subscription to renew")
			}
			return 0, err
		}
		months = sub.DurationMonths
	}

	price, ok := tier.PriceFor(months)
	if !ok {
		return 0, invalidf("tier %s has no %d-month price", tier.ID, months)
	}
	if !price.Equal(req.Amount) {
		return 0, invalidf("amount %s does not match tier price %s", req.Amount.StringFixed(2), price.StringFixed(2))
	}
	if req.Currency != "" && tier.Currency != "" && req.Currency != tier.Currency {
		return 0, invalidf("currency %s does not match tier currency %s", req.Currency, tier.Currency)
	}
	if tier.Currency != "" {
		txn.Currency = tier.Currency
	}

	creator := tier.CreatorID
	txn.RecipientID = &creator
	txn.TierID = &tier.ID
	return months, nil
}

func (s *PaymentService) preparePurchasable(ctx context.Context, req *PurchaseRequest, txn *models.Transaction) error {
	if req.Kind != models.TransactionKindOneTimePurchase {
		return invalidf("content can only be bought with %s", models.TransactionKindOneTimePurchase)
	}
	item, err := loadPurchasable(ctx, s.store, *req.Purchasable)
	if err != nil {
		return err
	}

	var price decimal.Decimal
	forSale := false
	for _, set := range item.PermissionSets() {
		if set.Kind == models.PermissionPurchase {
			price, forSale = set.Price, true
		}
	}
	if !forSale {
		return invalidf("%s %s is not for sale", req.Purchasable.Kind, req.Purchasable.ID)
	}
	if !price.Equal(req.Amount) {
		return invalidf("amount %s does not match price %s", req.Amount.StringFixed(2), price.StringFixed(2))
	}
	owner := item.OwnerID()
	if req.RecipientID != nil && *req.RecipientID != owner {
		return invalidf("recipient does not own %s %s", req.Purchasable.Kind, req.Purchasable.ID)
	}

	owned, err := s.store.HasApprovedPurchase(ctx, req.PayerID, req.Purchasable.ID)
	if err != nil {
		return err
	}
	if owned {
		return invalidf("%s %s is already unlocked", req.Purchasable.Kind, req.Purchasable.ID)
	}

	txn.RecipientID = &owner
	txn.PurchasableKind = req.Purchasable.Kind
	id := req.Purchasable.ID
	txn.PurchasableID = &id
	return nil
}

// resolveSettlement picks the settlement method and gateway. In test mode
// every external settlement goes to the deterministic test adapter.
func (s *PaymentService) resolveSettlement(req *PurchaseRequest, txn *models.Transaction) error {
	method := req.SettlementMethod
	if method == "" {
		method = models.SettlementMethodInternalWallet
	}

	switch method {
	case models.SettlementMethodInternalWallet:
		txn.SettlementMethod = method
		return nil
	case models.SettlementMethodTestAdapter:
		if !s.cfg.TestMode {
			return invalidf("test settlement is disabled")
		}
	case models.SettlementMethodExternalGateway:
		if s.cfg.TestMode {
			method = models.SettlementMethodTestAdapter
		}
	}

	txn.SettlementMethod = method
	if method == models.SettlementMethodTestAdapter {
		txn.Gateway = gateway.TestAdapterName
		return nil
	}

	name := req.Gateway
	if name == "" {
		adapter, err := s.gateways.Default()
		if err != nil {
			return invalidf("no default gateway configured")
		}
		name = adapter.Name()
	}
	if _, err := s.gateways.Get(name); err != nil {
		return invalidf("%v", err)
	}
	txn.Gateway = name
	return nil
}

// settleInternal approves or declines an internal-wallet transaction in one
// unit. The unit runs detached from the caller's context; a client that
// goes away never leaves a half-settled transaction. Infrastructure
// failures roll back and then mark the transaction declined separately.
func (s *PaymentService) settleInternal(ctx context.Context, txn *models.Transaction) (*SettlementOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	settled, err := s.ApplySettlementOutcome(ctx, txn.ID, SettlementResult{Approved: true})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"payer_id":       txn.PayerID,
			"amount":         txn.Amount.StringFixed(2),
		}).WithError(err).Error("Internal settlement failed, declining transaction")

		settled, err = s.declineAfterFailure(ctx, txn.ID, "settlement failed")
		if err != nil {
			return nil, fmt.Errorf("decline after settlement failure: %w", err)
		}
	}
	return outcomeFor(settled), nil
}

func (s *PaymentService) declineAfterFailure(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	var result *models.Transaction
	changed := false
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		result = txn
		if txn.Status != models.TransactionStatusPending {
			return nil
		}
		s.markDeclined(txn, reason)
		changed = true
		return tx.SaveTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterSettlement(ctx, result)
	}
	return result, nil
}

// ApplySettlementOutcome moves a pending transaction to approved or
// declined exactly once. Replays against a settled transaction are no-ops
// that return it unchanged.
func (s *PaymentService) ApplySettlementOutcome(ctx context.Context, id uuid.UUID, result SettlementResult) (*models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)

	var settled *models.Transaction
	changed := false
	err := s.retry.Do(ctx, "apply settlement outcome", func() error {
		release, err := s.locker.Acquire(ctx, "txn:"+id.String(), s.leaseTTL)
		if err != nil {
			return err
		}
		defer release()

		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			changed = false
			txn, err := tx.LockTransaction(ctx, id)
			if err != nil {
				return err
			}
			settled = txn
			if txn.Status != models.TransactionStatusPending {
				return nil
			}

			changed = true
			if !result.Approved {
				if result.GatewayReference != "" {
					ref := result.GatewayReference
					txn.GatewayReference = &ref
				}
				s.markDeclined(txn, result.Reason)
				return tx.SaveTransaction(ctx, txn)
			}

			return s.approve(ctx, tx, txn, result)
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterSettlement(ctx, settled)
	}
	return settled, nil
}

func (s *PaymentService) markDeclined(txn *models.Transaction, reason string) {
	now := s.now()
	txn.Status = models.TransactionStatusDeclined
	txn.DeclineReason = reason
	txn.ProcessedAt = &now
}

// approve performs the balance movements of one approval inside tx. Funds
// come from the payer's spendable counter or, for gateway sales, the
// clearing account. The fee goes to the platform and the net to the
// recipient's payout counter, or its pending counter while a clearance
// window is configured. A payer short of funds declines the transaction in
// the same unit instead.
func (s *PaymentService) approve(ctx context.Context, tx repository.Tx, txn *models.Transaction, result SettlementResult) error {
	now := s.now()
	source := fundingPosting(txn)

	// Every wallet of the unit is locked here, in one sorted call.
	parties := []uuid.UUID{source.HolderID, models.PlatformAccountID}
	if txn.RecipientID != nil {
		parties = append(parties, *txn.RecipientID)
	}
	wallets, err := tx.LockWallets(ctx, parties...)
	if err != nil {
		return fmt.Errorf("lock wallets: %w", err)
	}
	if txn.UsesInternalWallet() {
		if payer, ok := wallets[txn.PayerID]; !ok || payer.Spendable.LessThan(txn.Amount) {
			s.markDeclined(txn, ledger.ErrInsufficientFunds.Error())
			return tx.SaveTransaction(ctx, txn)
		}
	}

	platform := ledger.Posting{HolderID: models.PlatformAccountID, Counter: models.CounterSystem}
	fee, net := txn.Amount, decimal.Zero
	category := models.FeeCategoryOther
	if txn.RecipientID != nil {
		fee, net = ledger.SplitFee(txn.Amount, txn.FeePercent)
		category = models.FeeCategoryFor(txn.Kind)
	}

	if net.IsPositive() {
		counter := models.CounterPayout
		if s.cfg.EarningsClearanceDays > 0 {
			counter = models.CounterPending
			due := now.AddDate(0, 0, s.cfg.EarningsClearanceDays)
			txn.ClearanceDueAt = &due
		}
		dest := ledger.Posting{HolderID: *txn.RecipientID, Counter: counter}
		if _, err := s.wallets.Transfer(ctx, tx, source, dest, net, describe(txn), &txn.ID); err != nil {
			return err
		}
	}
	if fee.IsPositive() {
		if _, err := s.wallets.Transfer(ctx, tx, source, platform, fee, "platform fee: "+describe(txn), &txn.ID); err != nil {
			return err
		}
	}
	if _, err := s.platform.RecordFee(ctx, tx, ledger.FeeRecord{
		TransactionID:  &txn.ID,
		FeeAmount:      fee,
		OriginalAmount: txn.Amount,
		FeePercent:     txn.FeePercent,
		Category:       category,
		SenderID:       &txn.PayerID,
		ReceiverID:     txn.RecipientID,
		Description:    describe(txn),
	}); err != nil {
		return err
	}

	if txn.Kind.IsSubscription() {
		if _, err := s.subs.activateOrRenew(ctx, tx, txn, result.ExternalSubscriptionID, now); err != nil {
			return err
		}
	}

	if result.GatewayReference != "" {
		ref := result.GatewayReference
		txn.GatewayReference = &ref
	}
	txn.Status = models.TransactionStatusApproved
	txn.PlatformFee = fee
	txn.NetAmount = net
	txn.ProcessedAt = &now
	if err := tx.SaveTransaction(ctx, txn); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// Refund reverses an approved transaction as one unit: the recipient gives
// back the net plus the flat refund fee, the platform gives back its fee,
// the payer's source is made whole, a linked subscription is suspended and
// the outbound gateway refund runs last.
func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, opts RefundOptions) (*models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)

	var refunded *models.Transaction
	err := s.retry.Do(ctx, "refund", func() error {
		release, err := s.locker.Acquire(ctx, "txn:"+id.String(), s.leaseTTL)
		if err != nil {
			return err
		}
		defer release()

		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			txn, err := tx.LockTransaction(ctx, id)
			if err != nil {
				return err
			}
			if !txn.Status.CanTransitionTo(models.TransactionStatusRefunded) {
				return fmt.Errorf("%w: transaction %s is %s", ErrInvalidStateTransition, txn.ID, txn.Status)
			}
			if err := s.reverse(ctx, tx, txn, opts); err != nil {
				return err
			}

			if !opts.FromGateway && !txn.UsesInternalWallet() {
				adapter, err := s.gateways.Get(txn.Gateway)
				if err != nil {
					return err
				}
				if err := adapter.Refund(ctx, txn); err != nil {
					return err
				}
			}
			refunded = txn
			return nil
		})
	})
	if err != nil {
		logrus.WithField("transaction_id", id).WithError(err).Warn("Refund failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": refunded.ID,
		"amount":         refunded.Amount.StringFixed(2),
		"from_gateway":   opts.FromGateway,
	}).Info("Transaction refunded")
	s.afterSettlement(ctx, refunded)
	return refunded, nil
}

func (s *PaymentService) reverse(ctx context.Context, tx repository.Tx, txn *models.Transaction, opts RefundOptions) error {
	now := s.now()
	dest := fundingPosting(txn)
	platform := ledger.Posting{HolderID: models.PlatformAccountID, Counter: models.CounterSystem}

	parties := []uuid.UUID{dest.HolderID, models.PlatformAccountID}
	if txn.RecipientID != nil {
		parties = append(parties, *txn.RecipientID)
	}
	if _, err := tx.LockWallets(ctx, parties...); err != nil {
		return fmt.Errorf("lock wallets: %w", err)
	}

	description := "refund: " + describe(txn)
	if txn.RecipientID != nil {
		counter := models.CounterPayout
		if txn.HoldsPendingEarnings() {
			counter = models.CounterPending
		}
		recipient := ledger.Posting{HolderID: *txn.RecipientID, Counter: counter}

		if txn.NetAmount.IsPositive() {
			if _, err := s.wallets.Transfer(ctx, tx, recipient, dest, txn.NetAmount, description, &txn.ID); err != nil {
				return err
			}
		}
		if s.cfg.RefundFlatFee.IsPositive() {
			if _, err := s.wallets.Transfer(ctx, tx, recipient, platform, s.cfg.RefundFlatFee, "refund fee: "+describe(txn), &txn.ID); err != nil {
				return err
			}
			if _, err := s.platform.RecordFee(ctx, tx, ledger.FeeRecord{
				TransactionID:  &txn.ID,
				FeeAmount:      s.cfg.RefundFlatFee,
				OriginalAmount: txn.Amount,
				FeePercent:     decimal.Zero,
				Category:       models.FeeCategoryOther,
				SenderID:       txn.RecipientID,
				Description:    "refund fee",
			}); err != nil {
				return err
			}
		}
	}

	if txn.PlatformFee.IsPositive() {
		if _, err := s.wallets.Transfer(ctx, tx, platform, dest, txn.PlatformFee, description, &txn.ID); err != nil {
			return err
		}
	}
	if _, err := s.platform.RecordFee(ctx, tx, ledger.FeeRecord{
		TransactionID:  &txn.ID,
		FeeAmount:      txn.PlatformFee.Neg(),
		OriginalAmount: txn.Amount,
		FeePercent:     txn.FeePercent,
		Category:       models.FeeCategoryRefundReversal,
		SenderID:       txn.RecipientID,
		ReceiverID:     &txn.PayerID,
		Description:    description,
	}); err != nil {
		return err
	}

	if txn.SubscriptionID != nil {
		if _, err := s.subs.suspend(ctx, tx, *txn.SubscriptionID, now); err != nil {
			return err
		}
	}

	txn.Status = models.TransactionStatusRefunded
	txn.RefundedAt = &now
	txn.RefundReason = opts.Reason
	if err := tx.SaveTransaction(ctx, txn); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return tx.UpdateEntryStatus(ctx, txn.ID, models.EntryStatusRefunded)
}

// RecordRenewal books a gateway-initiated rebill as a new transaction and
// settles it. A renewal already recorded under the same gateway reference
// is returned as is.
func (s *PaymentService) RecordRenewal(ctx context.Context, n *gateway.Notification) (*models.Transaction, error) {
	if n.ExternalReference == "" {
		return nil, invalidf("renewal notification has no reference")
	}
	existing, err := s.store.GetTransactionByGatewayReference(ctx, n.Gateway, n.ExternalReference)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	sub, err := s.store.FindSubscriptionByExternalID(ctx, n.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("find subscription %q: %w", n.SubscriptionID, err)
	}

	// The subscription's own price is booked; a differing billed amount
	// means the ledger would drift from the provider.
	amount := sub.Amount
	if n.Amount.IsPositive() && !n.Amount.Equal(amount) {
		return nil, fmt.Errorf("%w: renewal billed %s but subscription %s costs %s",
			gateway.ErrIntegrityViolation, n.Amount.StringFixed(2), sub.ID, amount.StringFixed(2))
	}
	currency := n.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	token, err := utils.GenerateTransactionToken()
	if err != nil {
		return nil, fmt.Errorf("generate transaction token: %w", err)
	}

	recipient := sub.CreatorID
	subID := sub.ID
	ref := n.ExternalReference
	txn := &models.Transaction{
		Token:            token,
		PayerID:          sub.SubscriberID,
		RecipientID:      &recipient,
		Amount:           amount,
		Currency:         currency,
		Kind:             models.TransactionKindSubscriptionRenewal,
		Status:           models.TransactionStatusPending,
		SettlementMethod: models.SettlementMethodExternalGateway,
		Gateway:          n.Gateway,
		GatewayReference: &ref,
		TierID:           sub.TierID,
		SubscriptionID:   &subID,
		FeePercent:       s.cfg.PlatformFeePercent,
	}
	if n.Gateway == gateway.TestAdapterName {
		txn.SettlementMethod = models.SettlementMethodTestAdapter
	}

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.store.GetTransactionByGatewayReference(ctx, n.Gateway, n.ExternalReference)
		}
		return nil, fmt.Errorf("create renewal transaction: %w", err)
	}

	return s.ApplySettlementOutcome(ctx, txn.ID, SettlementResult{
		Approved:               true,
		GatewayReference:       n.ExternalReference,
		ExternalSubscriptionID: n.SubscriptionID,
	})
}

// GetTransaction returns a transaction visible to viewer: its payer, its
// recipient or an administrator.
func (s *PaymentService) GetTransaction(ctx context.Context, id, viewerID uuid.UUID, isAdmin bool) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if isAdmin || txn.PayerID == viewerID || (txn.RecipientID != nil && *txn.RecipientID == viewerID) {
		return txn, nil
	}
	return nil, ErrForbidden
}

func (s *PaymentService) GetPaymentHistory(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) (utils.PaginationResult, error) {
	txns, total, err := s.store.ListTransactions(ctx, holderID, params)
	if err != nil {
		return utils.PaginationResult{}, err
	}
	return utils.CreatePaginationResult(txns, total, params), nil
}

// ReleaseClearedEarnings moves the net of every transaction whose clearance
// window has passed from the recipient's pending counter to payout.
func (s *PaymentService) ReleaseClearedEarnings(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListTransactionsDueForClearance(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list transactions due for clearance: %w", err)
	}

	released := 0
	for _, candidate := range due {
		changed := false
		err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
			changed = false
			txn, err := tx.LockTransaction(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if txn.Status != models.TransactionStatusApproved || !txn.HoldsPendingEarnings() || txn.ClearanceDueAt.After(now) {
				return nil
			}
			if txn.RecipientID != nil && txn.NetAmount.IsPositive() {
				if _, err := s.wallets.MovePendingToAvailable(ctx, tx, *txn.RecipientID, txn.NetAmount, &txn.ID); err != nil {
					return err
				}
			}
			cleared := now
			txn.ClearedAt = &cleared
			changed = true
			return tx.SaveTransaction(ctx, txn)
		})
		if err != nil {
			logrus.WithField("transaction_id", candidate.ID).WithError(err).Error("Failed to release cleared earnings")
			continue
		}
		if changed {
			released++
		}
	}
	return released, nil
}

func (s *PaymentService) RetryPendingReferrals(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.referrals.RetryPending(ctx, before, limit)
}

// afterSettlement runs the effects that follow a committed outcome. None of
// them can undo the ledger; failures are only logged.
func (s *PaymentService) afterSettlement(ctx context.Context, txn *models.Transaction) {
	logger := logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"status":         txn.Status,
	})

	var routingKey string
	switch txn.Status {
	case models.TransactionStatusApproved:
		routingKey = rabbitmq.RoutingKeyTransactionApproved
		if txn.SubscriptionID != nil {
			if _, err := s.referrals.CalculateEarnings(ctx, txn.ID); err != nil {
				logger.WithError(err).Error("Referral earnings failed, left for retry")
			}
		}
		// Attribution is best effort and never retried; Record logs failures.
		if txn.TrackingLinkID != nil && s.tracking != nil {
			_ = s.tracking.Record(ctx, *txn.TrackingLinkID, txn.ID, trackingActionFor(txn.Kind))
		}
		s.notify(ctx, Notice{
			UserID:  txn.PayerID,
			Type:    NoticePaymentApproved,
			Title:   "Payment confirmed",
			Message: fmt.Sprintf("Your payment of %s %s was approved.", txn.Amount.StringFixed(2), txn.Currency),
		}, txn)
		if txn.RecipientID != nil {
			s.notify(ctx, Notice{
				UserID:  *txn.RecipientID,
				Type:    NoticePaymentReceived,
				Title:   "New earnings",
				Message: fmt.Sprintf("You earned %s %s from a %s.", txn.NetAmount.StringFixed(2), txn.Currency, txn.Kind),
			}, txn)
		}
	case models.TransactionStatusDeclined:
		routingKey = rabbitmq.RoutingKeyTransactionDeclined
		s.notify(ctx, Notice{
			UserID:  txn.PayerID,
			Type:    NoticePaymentDeclined,
			Title:   "Payment declined",
			Message: fmt.Sprintf("Your payment of %s %s was declined.", txn.Amount.StringFixed(2), txn.Currency),
		}, txn)
	case models.TransactionStatusRefunded:
		routingKey = rabbitmq.RoutingKeyTransactionRefunded
		s.notify(ctx, Notice{
			UserID:  txn.PayerID,
			Type:    NoticePaymentRefunded,
			Title:   "Payment refunded",
			Message: fmt.Sprintf("Your payment of %s %s was refunded.", txn.Amount.StringFixed(2), txn.Currency),
		}, txn)
		if txn.RecipientID != nil {
			s.notify(ctx, Notice{
				UserID:  *txn.RecipientID,
				Type:    NoticeRefundDeducted,
				Title:   "Payment refunded",
				Message: fmt.Sprintf("A %s of %s %s was refunded and deducted from your earnings.", txn.Kind, txn.Amount.StringFixed(2), txn.Currency),
			}, txn)
		}
	default:
		return
	}

	if err := s.events.PublishTransactionEvent(ctx, routingKey, transactionEvent(txn, s.now())); err != nil {
		logger.WithError(err).Error("Failed to publish transaction event")
	}
}

func (s *PaymentService) notify(ctx context.Context, n Notice, txn *models.Transaction) {
	if s.notifier == nil {
		return
	}
	n.ResourceType = "transaction"
	id := txn.ID
	n.ResourceID = &id
	s.notifier.Notify(ctx, n)
}

func transactionEvent(txn *models.Transaction, at time.Time) rabbitmq.TransactionEvent {
	reason := txn.DeclineReason
	if txn.Status == models.TransactionStatusRefunded {
		reason = txn.RefundReason
	}
	return rabbitmq.TransactionEvent{
		TransactionID:  txn.ID,
		Token:          txn.Token,
		Kind:           string(txn.Kind),
		Status:         string(txn.Status),
		PayerID:        txn.PayerID,
		RecipientID:    txn.RecipientID,
		Amount:         txn.Amount.StringFixed(2),
		Currency:       txn.Currency,
		PlatformFee:    txn.PlatformFee.StringFixed(2),
		NetAmount:      txn.NetAmount.StringFixed(2),
		SubscriptionID: txn.SubscriptionID,
		PurchasableID:  txn.PurchasableID,
		Reason:         reason,
		OccurredAt:     at,
	}
}

func outcomeFor(txn *models.Transaction) *SettlementOutcome {
	out := &SettlementOutcome{Transaction: txn}
	switch txn.Status {
	case models.TransactionStatusApproved, models.TransactionStatusRefunded:
		out.Status = OutcomeApproved
	default:
		out.Status = OutcomeDeclined
		out.Reason = txn.DeclineReason
	}
	return out
}

// fundingPosting is where the payer's money comes from and returns to.
func fundingPosting(txn *models.Transaction) ledger.Posting {
	if txn.UsesInternalWallet() {
		return ledger.Posting{HolderID: txn.PayerID, Counter: models.CounterSpendable}
	}
	return ledger.Posting{HolderID: models.GatewayClearingAccountID, Counter: models.CounterSystem}
}

func describe(txn *models.Transaction) string {
	if txn.PurchasableKind != "" {
		return fmt.Sprintf("%s of %s", txn.Kind, txn.PurchasableKind)
	}
	return string(txn.Kind)
}
