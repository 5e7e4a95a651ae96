// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAuthTokenExpired  = "auth.token_expired"
	KeyAdminAccessDenied = "admin.access_denied"
	KeyAccessForbidden   = "auth.forbidden"

	// Payments
	KeyPaymentApproved         = "payment.approved"
	KeyPaymentDeclined         = "payment.declined"
	KeyPaymentRedirect         = "payment.redirect_required"
	KeyPaymentRefunded         = "payment.refunded"
	KeyPaymentInvalidState     = "payment.invalid_state"
	KeyPaymentInsufficientFund = "payment.insufficient_funds"
	KeyPaymentGatewayError     = "payment.gateway_error"
	KeyTransactionNotFound     = "transaction.not_found"

	// Subscriptions
	KeySubscriptionCanceled = "subscription.canceled"
	KeySubscriptionNotFound = "subscription.not_found"

	// Wallets
	KeyWalletAdjusted          = "wallet.adjusted"
	KeyPlatformWithdrawn       = "wallet.platform_withdrawn"
	KeyPlatformInsufficientBal = "wallet.platform_insufficient"

	// Webhooks
	KeyWebhookRejected = "webhook.rejected"
	KeyWebhookUnknown  = "webhook.unknown_gateway"

	// Content
	KeyContentNotFound = "content.not_found"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Rate limiting
	KeyRateLimitExceeded = "rate_limit.exceeded"
)
