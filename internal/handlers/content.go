// internal/handlers/content.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type ContentHandler struct {
	accessService   *services.ContentAccessService
	referralService *services.ReferralService
}

func NewContentHandler(accessService *services.ContentAccessService, referralService *services.ReferralService) *ContentHandler {
	return &ContentHandler{
		accessService:   accessService,
		referralService: referralService,
	}
}

// GET /content/:kind/:id/access
func (h *ContentHandler) CheckAccess(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ref := models.PurchasableRef{Kind: c.Param("kind"), ID: id}
	decision, err := h.accessService.CheckAccess(c.Request.Context(), userID, ref)
	if err != nil {
		respondError(c, err, "content")
		return
	}

	utils.SuccessResponse(c, decision)
}

// GET /referrals/earnings
func (h *ContentHandler) ListReferralEarnings(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	earnings, err := h.referralService.ListEarnings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "user")
		return
	}

	utils.SuccessResponse(c, gin.H{"earnings": earnings})
}
