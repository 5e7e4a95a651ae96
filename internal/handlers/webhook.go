// internal/handlers/webhook.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

// maxWebhookBody caps provider payloads.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhookService *services.WebhookService
}

func NewWebhookHandler(webhookService *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// POST /webhooks/:gateway
func (h *WebhookHandler) Receive(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "body"), nil)
		return
	}

	raw := gateway.RawNotification{
		EventType: c.Query("eventType"),
		Body:      body,
		Query:     c.Request.URL.Query(),
		Headers:   c.Request.Header,
	}
	if raw.EventType == "" {
		raw.EventType = c.Query("event")
	}

	result, err := h.webhookService.HandleWebhook(c.Request.Context(), c.Param("gateway"), raw)
	if err != nil {
		respondError(c, err, "webhook")
		return
	}

	utils.SuccessResponse(c, result)
}
