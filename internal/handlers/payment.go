// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	webhookService *services.WebhookService
}

func NewPaymentHandler(paymentService *services.PaymentService, webhookService *services.WebhookService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		webhookService: webhookService,
	}
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// POST /payments
func (h *PaymentHandler) InitiatePurchase(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	var req services.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	req.PayerID = userID

	outcome, err := h.paymentService.InitiatePurchase(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	switch outcome.Status {
	case services.OutcomeDeclined:
		utils.PaymentRequiredResponse(c, outcome, i18n.T(lang, i18n.KeyPaymentDeclined))
	case services.OutcomeRedirectRequired:
		utils.AcceptedResponse(c, outcome)
	default:
		utils.CreatedResponse(c, outcome)
	}
}

// GET /payments/:id
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	txn, err := h.paymentService.GetTransaction(c.Request.Context(), id, userID, isAdmin(c))
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.SuccessResponse(c, txn)
}

// GET /payments/history
func (h *PaymentHandler) GetPaymentHistory(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c, utils.TransactionSortFields)
	result, err := h.paymentService.GetPaymentHistory(c.Request.Context(), userID, params)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.PaginatedResponse(c, result)
}

// POST /admin/payments/:id/refund
func (h *PaymentHandler) RefundTransaction(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "administrative refund"
	}

	txn, err := h.paymentService.Refund(c.Request.Context(), id, services.RefundOptions{Reason: req.Reason})
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyPaymentRefunded),
		"transaction": txn,
	})
}

// GET /payments/test-adapter/complete
//
// Landing endpoint for the test adapter's redirect. The signed query is fed
// through the same webhook path a real provider callback takes.
func (h *PaymentHandler) CompleteTestPayment(c *gin.Context) {
	raw := gateway.RawNotification{
		EventType: "sale",
		Query:     c.Request.URL.Query(),
		Headers:   c.Request.Header,
	}

	result, err := h.webhookService.HandleWebhook(c.Request.Context(), gateway.TestAdapterName, raw)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.SuccessResponse(c, result)
}
