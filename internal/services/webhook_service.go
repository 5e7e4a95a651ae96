// internal/services/webhook_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

// WebhookService journals inbound gateway notifications and routes them to
// the orchestrator.
type WebhookService struct {
	store    repository.Store
	gateways *gateway.Registry
	payments *PaymentService
	subs     *SubscriptionService
	archive  Archiver
}

type WebhookResult struct {
	EventID       uuid.UUID                 `json:"event_id"`
	Status        models.WebhookStatus      `json:"status"`
	Class         gateway.NotificationClass `json:"class,omitempty"`
	TransactionID *uuid.UUID                `json:"transaction_id,omitempty"`
}

func NewWebhookService(store repository.Store, gateways *gateway.Registry, payments *PaymentService, subs *SubscriptionService, archive Archiver) *WebhookService {
	return &WebhookService{
		store:    store,
		gateways: gateways,
		payments: payments,
		subs:     subs,
		archive:  archive,
	}
}

// HandleWebhook verifies, journals and applies one notification. Integrity
// failures are recorded as rejected and returned as gateway.ErrIntegrityViolation
// without touching any transaction.
func (s *WebhookService) HandleWebhook(ctx context.Context, gatewayName string, raw gateway.RawNotification) (*WebhookResult, error) {
	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	}

	event := &models.WebhookEvent{
		Gateway:   adapter.Name(),
		EventType: raw.EventType,
		Status:    models.WebhookStatusReceived,
		Payload:   string(raw.Body),
	}
	if event.EventType == "" {
		event.EventType = "unknown"
	}
	if err := s.store.CreateWebhookEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("journal webhook: %w", err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"gateway":    event.Gateway,
		"event_id":   event.ID,
		"event_type": event.EventType,
	})

	if s.archive != nil {
		key, err := s.archive.ArchiveWebhook(ctx, event.Gateway, event.ID, raw.Body)
		if err != nil {
			logger.WithError(err).Error("Failed to archive webhook payload")
		}
		event.ArchiveKey = key
	}

	result := &WebhookResult{EventID: event.ID}
	n, err := adapter.HandleNotification(ctx, raw)
	if err != nil {
		if errors.Is(err, gateway.ErrIntegrityViolation) {
			logger.WithError(err).Warn("Rejected webhook with invalid digest")
			s.finish(ctx, event, models.WebhookStatusRejected, nil, err)
		} else {
			logger.WithError(err).Error("Failed to parse webhook")
			s.finish(ctx, event, models.WebhookStatusFailed, nil, err)
		}
		result.Status = event.Status
		return result, err
	}

	event.EventType = n.EventType
	result.Class = n.Class
	txnID, status, err := s.dispatch(ctx, n)
	s.finish(ctx, event, status, txnID, err)
	result.Status = status
	result.TransactionID = txnID

	entry := logger.WithFields(logrus.Fields{"class": n.Class, "status": status})
	switch status {
	case models.WebhookStatusRejected:
		entry.WithError(err).Warn("Rejected webhook")
		return result, err
	case models.WebhookStatusFailed:
		entry.WithError(err).Error("Webhook processing failed")
		return result, err
	case models.WebhookStatusHeld:
		entry.WithError(err).Warn("Webhook held for manual handling")
	case models.WebhookStatusIgnored:
		if err != nil {
			entry = entry.WithField("reason", err.Error())
		}
		entry.Info("Webhook ignored")
	default:
		entry.Info("Webhook processed")
	}
	return result, nil
}

func (s *WebhookService) finish(ctx context.Context, event *models.WebhookEvent, status models.WebhookStatus, txnID *uuid.UUID, cause error) {
	now := time.Now()
	event.Status = status
	event.TransactionID = txnID
	event.ProcessedAt = &now
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := s.store.SaveWebhookEvent(ctx, event); err != nil {
		logrus.WithField("event_id", event.ID).WithError(err).Error("Failed to update webhook journal")
	}
}

func (s *WebhookService) dispatch(ctx context.Context, n *gateway.Notification) (*uuid.UUID, models.WebhookStatus, error) {
	if n.Class != gateway.ClassUnknown && !n.Verified {
		return nil, models.WebhookStatusRejected, fmt.Errorf("%w: unauthenticated %s notification", gateway.ErrIntegrityViolation, n.EventType)
	}

	switch n.Class {
	case gateway.ClassNewSaleSuccess, gateway.ClassNewSaleFailure:
		return s.applySale(ctx, n)
	case gateway.ClassRefund:
		return s.applyRefund(ctx, n)
	case gateway.ClassRenewalSuccess:
		txn, err := s.payments.RecordRenewal(ctx, n)
		if err != nil {
			return nil, statusFor(err), err
		}
		return &txn.ID, models.WebhookStatusProcessed, nil
	case gateway.ClassRenewalFailure, gateway.ClassCancellation, gateway.ClassExpiration:
		if _, err := s.subs.ApplyLifecycle(ctx, n); err != nil {
			return nil, statusFor(err), err
		}
		return nil, models.WebhookStatusProcessed, nil
	default:
		return nil, models.WebhookStatusIgnored, nil
	}
}

func (s *WebhookService) applySale(ctx context.Context, n *gateway.Notification) (*uuid.UUID, models.WebhookStatus, error) {
	txn, err := s.store.GetTransactionByToken(ctx, n.Token)
	if errors.Is(err, repository.ErrNotFound) && n.ExternalReference != "" {
		txn, err = s.store.GetTransactionByGatewayReference(ctx, n.Gateway, n.ExternalReference)
	}
	if err != nil {
		return nil, statusFor(err), err
	}
	if txn.Gateway != n.Gateway {
		return &txn.ID, models.WebhookStatusRejected, fmt.Errorf("%w: transaction belongs to %s", gateway.ErrIntegrityViolation, txn.Gateway)
	}
	if err := matchAmount(txn, n); err != nil {
		return &txn.ID, models.WebhookStatusRejected, err
	}
	if txn.Status != models.TransactionStatusPending {
		return &txn.ID, models.WebhookStatusIgnored, fmt.Errorf("%w: transaction already %s", ErrInvalidStateTransition, txn.Status)
	}

	settled, err := s.payments.ApplySettlementOutcome(ctx, txn.ID, SettlementResult{
		Approved:               n.Class == gateway.ClassNewSaleSuccess,
		GatewayReference:       n.ExternalReference,
		ExternalSubscriptionID: n.SubscriptionID,
		Reason:                 n.Reason,
	})
	if err != nil {
		return &txn.ID, models.WebhookStatusFailed, err
	}
	return &settled.ID, models.WebhookStatusProcessed, nil
}

// applyRefund books a provider refund as a full reversal. The reported
// amount must equal the transaction; smaller amounts are held for an operator.
func (s *WebhookService) applyRefund(ctx context.Context, n *gateway.Notification) (*uuid.UUID, models.WebhookStatus, error) {
	txn, err := s.findSettled(ctx, n)
	if err != nil {
		return nil, statusFor(err), err
	}
	if n.Amount.GreaterThan(txn.Amount) {
		return &txn.ID, models.WebhookStatusRejected, fmt.Errorf("%w: refund %s exceeds transaction amount %s",
			gateway.ErrIntegrityViolation, n.Amount.StringFixed(2), txn.Amount.StringFixed(2))
	}
	if n.Currency != "" && n.Currency != txn.Currency {
		return &txn.ID, models.WebhookStatusRejected, fmt.Errorf("%w: refund currency %s does not match %s",
			gateway.ErrIntegrityViolation, n.Currency, txn.Currency)
	}
	if txn.Status == models.TransactionStatusRefunded {
		return &txn.ID, models.WebhookStatusIgnored, nil
	}
	if !n.Amount.Equal(txn.Amount) {
		return &txn.ID, models.WebhookStatusHeld, fmt.Errorf("%w: provider refunded %s of %s",
			ErrPartialRefund, n.Amount.StringFixed(2), txn.Amount.StringFixed(2))
	}

	reason := n.Reason
	if reason == "" {
		reason = n.EventType
	}
	if _, err := s.payments.Refund(ctx, txn.ID, RefundOptions{Reason: reason, FromGateway: true}); err != nil {
		return &txn.ID, statusFor(err), err
	}
	return &txn.ID, models.WebhookStatusProcessed, nil
}

func (s *WebhookService) findSettled(ctx context.Context, n *gateway.Notification) (*models.Transaction, error) {
	for _, ref := range []string{n.ExternalReference, n.SubscriptionID} {
		if ref == "" {
			continue
		}
		txn, err := s.store.GetTransactionByGatewayReference(ctx, n.Gateway, ref)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no %s transaction for reference %q: %w", n.Gateway, n.ExternalReference, repository.ErrNotFound)
}

// matchAmount cross-checks the amount and currency the gateway reports
// against what was requested.
func matchAmount(txn *models.Transaction, n *gateway.Notification) error {
	if n.Amount.IsPositive() && !n.Amount.Equal(txn.Amount) {
		return fmt.Errorf("%w: amount %s does not match %s", gateway.ErrIntegrityViolation, n.Amount.StringFixed(2), txn.Amount.StringFixed(2))
	}
	if n.Currency != "" && n.Currency != txn.Currency {
		return fmt.Errorf("%w: currency %s does not match %s", gateway.ErrIntegrityViolation, n.Currency, txn.Currency)
	}
	return nil
}

func statusFor(err error) models.WebhookStatus {
	switch {
	case errors.Is(err, gateway.ErrIntegrityViolation):
		return models.WebhookStatusRejected
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrInvalidStateTransition):
		return models.WebhookStatusIgnored
	default:
		return models.WebhookStatusFailed
	}
}
