// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/ledger"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

// respondError maps a service error onto the API envelope. resource names
// the i18n prefix used for not-found messages.
func respondError(c *gin.Context, err error, resource string) {
	lang := utils.GetLangFromContext(c)

	var validationErr *services.ValidationError
	var gatewayErr *gateway.GatewayError
	switch {
	case errors.As(err, &validationErr):
		utils.ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, validationErr.Fields)
	case errors.Is(err, ledger.ErrInvalidAmount):
		utils.BadRequestResponse(c, err.Error(), nil)
	case errors.Is(err, services.ErrForbidden):
		utils.ForbiddenResponse(c, i18n.T(lang, i18n.KeyAccessForbidden))
	case errors.Is(err, repository.ErrNotFound):
		utils.NotFoundResponse(c, resource)
	case errors.Is(err, services.ErrInvalidStateTransition):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyPaymentInvalidState))
	case errors.Is(err, ledger.ErrInsufficientFunds):
		utils.UnprocessableResponse(c, "INSUFFICIENT_FUNDS", i18n.T(lang, i18n.KeyPaymentInsufficientFund))
	case errors.Is(err, ledger.ErrInsufficientBalance):
		utils.UnprocessableResponse(c, "INSUFFICIENT_BALANCE", i18n.T(lang, i18n.KeyPlatformInsufficientBal))
	case errors.Is(err, gateway.ErrIntegrityViolation):
		utils.ErrorResponse(c, http.StatusUnauthorized, "INTEGRITY_VIOLATION", i18n.T(lang, i18n.KeyWebhookRejected), nil)
	case errors.As(err, &gatewayErr):
		logrus.WithError(err).WithField("gateway", gatewayErr.Gateway).Warn("Gateway call failed")
		utils.BadGatewayResponse(c, i18n.T(lang, i18n.KeyPaymentGatewayError))
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled service error")
		utils.InternalErrorResponse(c, "")
	}
}

// authenticatedUser writes a 401 and returns false when the caller is anonymous.
func authenticatedUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := utils.GetUserUUIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	return userID, true
}

func isAdmin(c *gin.Context) bool {
	role, _ := utils.GetUserRoleFromContext(c)
	return role == string(models.UserRoleAdmin)
}

// pathUUID parses the named path parameter, writing a 400 on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}
