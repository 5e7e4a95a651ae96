// internal/services/content_access_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

type ContentAccessService struct {
	store repository.Store
	subs  *SubscriptionService
}

func NewContentAccessService(store repository.Store, subs *SubscriptionService) *ContentAccessService {
	return &ContentAccessService{store: store, subs: subs}
}

// AccessDecision explains which permission set, if any, unlocked an item.
type AccessDecision struct {
	Allowed bool                  `json:"allowed"`
	Via     models.PermissionKind `json:"via,omitempty"`
	Owner   bool                  `json:"owner,omitempty"`
	// Price is set when the item can still be unlocked by purchase.
	Price string `json:"price,omitempty"`
}

// CheckAccess evaluates the item's permission sets for viewer. Owners and
// items without media are always visible; otherwise any satisfied set wins.
func (s *ContentAccessService) CheckAccess(ctx context.Context, viewerID uuid.UUID, ref models.PurchasableRef) (*AccessDecision, error) {
	item, err := loadPurchasable(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	if item.OwnerID() == viewerID {
		return &AccessDecision{Allowed: true, Owner: true}, nil
	}
	if !item.HasMedia() {
		return &AccessDecision{Allowed: true, Via: models.PermissionFree}, nil
	}

	decision := &AccessDecision{}
	for _, set := range item.PermissionSets() {
		switch set.Kind {
		case models.PermissionFree:
			return &AccessDecision{Allowed: true, Via: set.Kind}, nil
		case models.PermissionSubscription:
			ok, err := s.subs.HasAccess(ctx, viewerID, item.OwnerID())
			if err != nil {
				return nil, err
			}
			if ok {
				return &AccessDecision{Allowed: true, Via: set.Kind}, nil
			}
		case models.PermissionPurchase:
			ok, err := s.store.HasApprovedPurchase(ctx, viewerID, ref.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				return &AccessDecision{Allowed: true, Via: set.Kind}, nil
			}
			decision.Price = set.Price.StringFixed(2)
		}
	}
	return decision, nil
}

func loadPurchasable(ctx context.Context, store repository.Store, ref models.PurchasableRef) (models.Purchasable, error) {
	var (
		item models.Purchasable
		err  error
	)
	switch ref.Kind {
	case models.PurchasableKindPost:
		item, err = store.GetPost(ctx, ref.ID)
	case models.PurchasableKindMessage:
		item, err = store.GetMessage(ctx, ref.ID)
	default:
		return nil, invalidf("unknown content kind %q", ref.Kind)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}
