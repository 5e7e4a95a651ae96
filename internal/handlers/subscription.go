// internal/handlers/subscription.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type SubscriptionHandler struct {
	subscriptionService *services.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// GET /subscriptions
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	subs, err := h.subscriptionService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "subscription")
		return
	}

	utils.SuccessResponse(c, subs)
}

// POST /subscriptions/:id/cancel
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	sub, err := h.subscriptionService.CancelSelfService(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err, "subscription")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":      i18n.T(lang, i18n.KeySubscriptionCanceled),
		"subscription": sub,
	})
}

// POST /admin/subscriptions/:id/cancel
func (h *SubscriptionHandler) CancelImmediately(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	sub, err := h.subscriptionService.CancelImmediately(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "subscription")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":      i18n.T(lang, i18n.KeySubscriptionCanceled),
		"subscription": sub,
	})
}
