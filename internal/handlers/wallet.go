// internal/handlers/wallet.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type WalletHandler struct {
	walletService *services.WalletService
}

func NewWalletHandler(walletService *services.WalletService) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

// GET /wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.SuccessResponse(c, wallet)
}

// GET /wallet/entries
func (h *WalletHandler) ListEntries(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	result, err := h.walletService.ListEntries(c.Request.Context(), userID, utils.GetPaginationParams(c, utils.LedgerEntrySortFields))
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.PaginatedResponse(c, result)
}

// POST /admin/wallets/:holder_id/adjust
func (h *WalletHandler) AdjustBalance(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actorID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	holderID, ok := pathUUID(c, "holder_id")
	if !ok {
		return
	}

	var req services.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	wallet, err := h.walletService.AdjustBalance(c.Request.Context(), actorID, holderID, &req)
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyWalletAdjusted),
		"wallet":  wallet,
	})
}

// GET /admin/platform/balance
func (h *WalletHandler) GetPlatformBalance(c *gin.Context) {
	balance, err := h.walletService.GetPlatformBalance(c.Request.Context())
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.SuccessResponse(c, balance)
}

// POST /admin/platform/withdrawals
func (h *WalletHandler) WithdrawPlatform(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actorID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	var req services.WithdrawPlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	entry, err := h.walletService.WithdrawPlatform(c.Request.Context(), actorID, &req)
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPlatformWithdrawn),
		"entry":   entry,
	})
}

// GET /admin/ledger/verify
func (h *WalletHandler) VerifyConservation(c *gin.Context) {
	report, err := h.walletService.VerifyConservation(c.Request.Context())
	if err != nil {
		respondError(c, err, "wallet")
		return
	}

	utils.SuccessResponse(c, report)
}
