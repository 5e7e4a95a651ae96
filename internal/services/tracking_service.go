// internal/services/tracking_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

// Tracking actions
const (
	TrackingActionPurchase     = "purchase"
	TrackingActionSubscription = "subscription"
	TrackingActionTip          = "tip"
)

// AttributionRecorder credits a tracking link with a settled transaction.
type AttributionRecorder interface {
	Record(ctx context.Context, trackingLinkID, transactionID uuid.UUID, action string) error
}

type TrackingService struct {
	store repository.Store
}

func NewTrackingService(store repository.Store) *TrackingService {
	return &TrackingService{store: store}
}

func (s *TrackingService) Record(ctx context.Context, trackingLinkID, transactionID uuid.UUID, action string) error {
	err := s.store.CreateTrackingAttribution(ctx, &models.TrackingAttribution{
		TrackingLinkID: trackingLinkID,
		TransactionID:  transactionID,
		Action:         action,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"tracking_link_id": trackingLinkID,
			"transaction_id":   transactionID,
		}).WithError(err).Error("Failed to record tracking attribution")
	}
	return err
}

func trackingActionFor(kind models.TransactionKind) string {
	switch {
	case kind.IsSubscription():
		return TrackingActionSubscription
	case kind == models.TransactionKindTip:
		return TrackingActionTip
	default:
		return TrackingActionPurchase
	}
}
