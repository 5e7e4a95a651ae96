package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/router"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
}

type APITestSuite struct {
	suite.Suite
	store  *repository.MemoryStore
	router *gin.Engine

	fan     models.User
	creator models.User
	admin   models.User
}

func (suite *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	require.NoError(suite.T(), i18n.Initialize())
}

func (suite *APITestSuite) SetupTest() {
	cfg := &config.Config{
		JWT: config.JWTConfig{SecretKey: "api-test-secret", AccessTokenTTL: 1},
		Payment: config.PaymentConfig{
			PlatformFeePercent: decimal.NewFromInt(15),
			Currency:           "USD",
			DefaultGateway:     gateway.TestAdapterName,
			TestMode:           true,
			TestAdapterApprove: true,
		},
		Gateway: config.GatewayConfig{
			Test: config.TestGatewayConfig{Secret: "api-test-gateway", CompleteURL: "http://localhost/v1/payments/test-adapter/complete"},
		},
		Retry: config.RetryConfig{MaxAttempts: 1},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}

	suite.store = repository.NewMemoryStore()
	deps := router.Dependencies{
		Store:    suite.store,
		Gateways: gateway.NewRegistry(gateway.TestAdapterName, gateway.NewTestAdapter(cfg.Gateway.Test, true)),
	}
	suite.router = router.Initialize(cfg, deps, router.NewServices(cfg, deps))

	suite.fan = suite.addUser("fan", models.UserRoleFan)
	suite.creator = suite.addUser("creator", models.UserRoleCreator)
	suite.admin = suite.addUser("admin", models.UserRoleAdmin)
}

func (suite *APITestSuite) addUser(name string, role models.UserRole) models.User {
	u := models.User{
		BaseModel: models.BaseModel{ID: uuid.New()},
		Username:  name,
		Email:     name + "@example.com",
		Role:      role,
		Status:    models.UserStatusActive,
	}
	suite.store.AddUser(u)
	return u
}

func (suite *APITestSuite) token(u models.User) string {
	token, err := utils.GenerateJWT(u.ID, u.Username, string(u.Role), 1)
	require.NoError(suite.T(), err)
	return token
}

func (suite *APITestSuite) request(method, path string, as *models.User, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+suite.token(*as))
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (suite *APITestSuite) tip(amount string, status int) services.SettlementOutcome {
	w, env := suite.request(http.MethodPost, "/v1/payments", &suite.fan, gin.H{
		"recipient_id": suite.creator.ID,
		"amount":       amount,
		"kind":         "tip",
	})
	require.Equal(suite.T(), status, w.Code, w.Body.String())

	var out services.SettlementOutcome
	require.NoError(suite.T(), json.Unmarshal(env.Data, &out))
	return out
}

func (suite *APITestSuite) wallet(u models.User) models.Wallet {
	w, env := suite.request(http.MethodGet, "/v1/wallet", &u, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	var wallet models.Wallet
	require.NoError(suite.T(), json.Unmarshal(env.Data, &wallet))
	return wallet
}

func (suite *APITestSuite) TestHealth() {
	w, _ := suite.request(http.MethodGet, "/health", nil, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *APITestSuite) TestAuthenticationRequired() {
	w, _ := suite.request(http.MethodGet, "/v1/wallet", nil, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	req, _ := http.NewRequest(http.MethodGet, "/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
}

func (suite *APITestSuite) TestAdminRoutesRequireAdmin() {
	w, _ := suite.request(http.MethodGet, "/v1/admin/platform/balance", &suite.fan, nil)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w, _ = suite.request(http.MethodGet, "/v1/admin/platform/balance", &suite.admin, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *APITestSuite) TestWalletTipAndRefund() {
	t := suite.T()
	suite.store.Fund(suite.fan.ID, decimal.RequireFromString("50.00"))

	out := suite.tip("20.00", http.StatusCreated)
	assert.Equal(t, services.OutcomeApproved, out.Status)
	assert.True(t, suite.wallet(suite.creator).Payout.Equal(decimal.RequireFromString("17.00")))
	assert.True(t, suite.wallet(suite.fan).Spendable.Equal(decimal.RequireFromString("30.00")))

	path := "/v1/admin/payments/" + out.Transaction.ID.String() + "/refund"
	w, _ := suite.request(http.MethodPost, path, &suite.admin, gin.H{"reason": "chargeback risk"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, suite.wallet(suite.fan).Spendable.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, suite.wallet(suite.creator).Payout.IsZero())

	w, env := suite.request(http.MethodPost, path, &suite.admin, gin.H{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	w, env = suite.request(http.MethodGet, "/v1/admin/ledger/verify", &suite.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report services.ConservationReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Balanced)
}

func (suite *APITestSuite) TestInsufficientFundsDeclines() {
	out := suite.tip("5.00", http.StatusPaymentRequired)
	assert.Equal(suite.T(), services.OutcomeDeclined, out.Status)
	assert.Equal(suite.T(), models.TransactionStatusDeclined, out.Transaction.Status)
}

func (suite *APITestSuite) TestInvalidPurchaseIsRejected() {
	w, env := suite.request(http.MethodPost, "/v1/payments", &suite.fan, gin.H{
		"recipient_id": suite.creator.ID,
		"amount":       "-1",
		"kind":         "tip",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	assert.False(suite.T(), env.Success)
}

func (suite *APITestSuite) TestTestAdapterRoundTrip() {
	t := suite.T()

	w, env := suite.request(http.MethodPost, "/v1/payments", &suite.fan, gin.H{
		"recipient_id":      suite.creator.ID,
		"amount":            "10.00",
		"kind":              "tip",
		"settlement_method": "test-adapter",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var out services.SettlementOutcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, services.OutcomeRedirectRequired, out.Status)
	require.NotNil(t, out.Redirect)

	redirect, err := url.Parse(out.Redirect.URL)
	require.NoError(t, err)
	w, env = suite.request(http.MethodGet, redirect.Path+"?"+redirect.RawQuery, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result services.WebhookResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)

	assert.True(t, suite.wallet(suite.creator).Payout.Equal(decimal.RequireFromString("8.50")))

	w, env = suite.request(http.MethodGet, "/v1/payments/"+out.Transaction.ID.String(), &suite.fan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txn models.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, models.TransactionStatusApproved, txn.Status)

	stranger := suite.addUser("stranger", models.UserRoleFan)
	w, _ = suite.request(http.MethodGet, "/v1/payments/"+out.Transaction.ID.String(), &stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func (suite *APITestSuite) TestWebhookRejections() {
	w, _ := suite.request(http.MethodPost, "/v1/webhooks/nowhere", nil, gin.H{})
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	w, env := suite.request(http.MethodPost, "/v1/webhooks/test?event=sale", nil, gateway.TestEvent{
		Token:    "unknown",
		Amount:   "10.00",
		Currency: "USD",
		Approved: true,
		Digest:   "forged",
	})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.Equal(suite.T(), "INTEGRITY_VIOLATION", env.Error.Code)
}

func (suite *APITestSuite) TestPlatformWithdrawal() {
	t := suite.T()
	suite.store.Fund(suite.fan.ID, decimal.RequireFromString("100.00"))
	suite.tip("40.00", http.StatusCreated)

	w, env := suite.request(http.MethodPost, "/v1/admin/platform/withdrawals", &suite.admin, gin.H{
		"amount":      "10.00",
		"description": "monthly sweep",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error.Code)

	w, _ = suite.request(http.MethodPost, "/v1/admin/platform/withdrawals", &suite.admin, gin.H{
		"amount":      "6.00",
		"description": "monthly sweep",
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env = suite.request(http.MethodGet, "/v1/admin/platform/balance", &suite.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance models.PlatformBalance
	require.NoError(t, json.Unmarshal(env.Data, &balance))
	assert.True(t, balance.Balance.IsZero())
}

func (suite *APITestSuite) TestAdminAdjustment() {
	t := suite.T()
	path := "/v1/admin/wallets/" + suite.creator.ID.String() + "/adjust"

	w, _ := suite.request(http.MethodPost, path, &suite.admin, gin.H{
		"amount":  "12.50",
		"counter": "payout",
		"reason":  "migration correction",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, suite.wallet(suite.creator).Payout.Equal(decimal.RequireFromString("12.50")))

	w, env := suite.request(http.MethodPost, path, &suite.admin, gin.H{
		"amount":  "-20.00",
		"counter": "payout",
		"reason":  "overdraw",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Error.Code)

	w, env = suite.request(http.MethodGet, "/v1/wallet/entries", &suite.creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.WalletLedgerEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Len(t, entries, 1)
}

func (suite *APITestSuite) TestSubscriptionCancelForbiddenForOthers() {
	w, _ := suite.request(http.MethodPost, "/v1/subscriptions/"+uuid.New().String()+"/cancel", &suite.fan, nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	w, _ = suite.request(http.MethodPost, "/v1/subscriptions/not-a-uuid/cancel", &suite.fan, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w, env := suite.request(http.MethodGet, "/v1/subscriptions", &suite.fan, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.True(suite.T(), env.Success)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
