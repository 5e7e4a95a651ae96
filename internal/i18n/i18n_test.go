package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, Initialize())

	assert.Equal(t, "Transaction not found", T("en", KeyTransactionNotFound))
	assert.Equal(t, "找不到交易", T("zh_TW", KeyTransactionNotFound))
	assert.Equal(t, "Transaction not found", T("fr", KeyTransactionNotFound))
	assert.Equal(t, "Invalid amount", T("en", KeyValidationInvalid, "amount"))
	assert.Equal(t, "no.such.key", T("en", "no.such.key"))
	assert.ElementsMatch(t, []string{"en", "zh_TW"}, GetSupportedLanguages())
}
