package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/fanvault-backend/internal/ledger"
	"github.com/javajoker/fanvault-backend/internal/models"
)

type WalletServiceTestSuite struct {
	suite.Suite
	f       *fixture
	wallets *WalletService
	admin   uuid.UUID
}

func (suite *WalletServiceTestSuite) SetupTest() {
	suite.f = newFixture(suite.T())
	suite.wallets = NewWalletService(suite.f.store, RetryPolicy{MaxAttempts: 3})
	suite.admin = uuid.New()
}

func (suite *WalletServiceTestSuite) TestUnknownHolderReadsAsEmptyWallet() {
	holder := uuid.New()
	w, err := suite.wallets.GetWallet(suite.f.ctx, holder)
	suite.Require().NoError(err)
	suite.Equal(holder, w.HolderID)
	suite.True(w.Spendable.IsZero())
}

func (suite *WalletServiceTestSuite) TestAdjustBalanceCreditsAndDebits() {
	f, t := suite.f, suite.T()

	w, err := suite.wallets.AdjustBalance(f.ctx, suite.admin, f.fan, &AdjustBalanceRequest{
		Amount:  dec("25.00"),
		Counter: models.CounterSpendable,
		Reason:  "goodwill credit",
	})
	require.NoError(t, err)
	assert.True(t, w.Spendable.Equal(dec("25.00")))
	assert.True(t, f.wallet(t, models.GatewayClearingAccountID).SystemBalance.Equal(dec("-25.00")))

	w, err = suite.wallets.AdjustBalance(f.ctx, suite.admin, f.fan, &AdjustBalanceRequest{
		Amount:  dec("-5.00"),
		Counter: models.CounterSpendable,
		Reason:  "correction",
	})
	require.NoError(t, err)
	assert.True(t, w.Spendable.Equal(dec("20.00")))

	_, err = suite.wallets.AdjustBalance(f.ctx, suite.admin, f.fan, &AdjustBalanceRequest{
		Amount:  dec("-30.00"),
		Counter: models.CounterSpendable,
		Reason:  "overdraw",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, f.wallet(t, f.fan).Spendable.Equal(dec("20.00")))

	logs := f.store.AuditLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "wallet_adjusted", logs[0].Action)
	assert.Equal(t, suite.admin, *logs[0].UserID)
	f.assertConserved(t)
}

func (suite *WalletServiceTestSuite) TestAdjustBalanceValidation() {
	f := suite.f
	tests := []struct {
		name   string
		holder uuid.UUID
		req    AdjustBalanceRequest
	}{
		{"zero amount", f.fan, AdjustBalanceRequest{Amount: dec("0"), Counter: models.CounterSpendable, Reason: "noop"}},
		{"system counter", f.fan, AdjustBalanceRequest{Amount: dec("1.00"), Counter: models.CounterSystem, Reason: "bad"}},
		{"missing reason", f.fan, AdjustBalanceRequest{Amount: dec("1.00"), Counter: models.CounterPayout}},
		{"platform account", models.PlatformAccountID, AdjustBalanceRequest{Amount: dec("1.00"), Counter: models.CounterSpendable, Reason: "bad"}},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.wallets.AdjustBalance(f.ctx, suite.admin, tt.holder, &tt.req)
			var verr *ValidationError
			suite.True(errors.As(err, &verr))
		})
	}
	suite.Empty(f.store.WalletEntries())
}

func (suite *WalletServiceTestSuite) TestWithdrawPlatform() {
	f, t := suite.f, suite.T()
	f.store.Fund(f.fan, dec("100.00"))
	f.tipFromWallet(t, "20.00")
	f.tipFromWallet(t, "40.00")

	_, err := suite.wallets.WithdrawPlatform(f.ctx, suite.admin, &WithdrawPlatformRequest{Amount: dec("10.00"), Description: "too much"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	entry, err := suite.wallets.WithdrawPlatform(f.ctx, suite.admin, &WithdrawPlatformRequest{Amount: dec("5.00"), Description: "payout to bank"})
	require.NoError(t, err)
	assert.Equal(t, models.FeeCategoryWithdrawal, entry.Category)
	assert.True(t, entry.BalanceAfter.Equal(dec("4.00")))

	balance, err := suite.wallets.GetPlatformBalance(f.ctx)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(dec("4.00")))

	report, err := suite.wallets.VerifyConservation(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
	assert.Empty(t, report.Imbalances)
	assert.True(t, report.PlatformSystemBalance.Equal(dec("4.00")))

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "platform_withdrawal", logs[0].Action)
}

func (suite *WalletServiceTestSuite) TestListEntriesPaginates() {
	f, t := suite.f, suite.T()
	f.store.Fund(f.fan, dec("100.00"))
	for i := 0; i < 3; i++ {
		f.tipFromWallet(t, "1.00")
	}

	params := defaultPage()
	params.Limit = 2

	// Each tip debits the payer twice: once for the net, once for the fee.
	page, err := suite.wallets.ListEntries(f.ctx, f.fan, params)
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	entries, ok := page.Data.([]models.WalletLedgerEntry)
	require.True(t, ok)
	assert.Len(t, entries, 2)

	page, err = suite.wallets.ListEntries(f.ctx, f.creator, params)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
}

func TestWalletServiceSuite(t *testing.T) {
	suite.Run(t, new(WalletServiceTestSuite))
}
