package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericCurrencies maps ISO 4217 alphabetic codes to the numeric codes
// FlexForms expects.
var numericCurrencies = map[string]string{
	"USD": "840",
	"EUR": "978",
	"AUD": "036",
	"CAD": "124",
	"GBP": "826",
	"JPY": "392",
}

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{"JPY": true}

func NumericCurrency(code string) (string, error) {
	n, ok := numericCurrencies[strings.ToUpper(code)]
	if !ok {
		return "", fmt.Errorf("unsupported currency %q", code)
	}
	return n, nil
}

func AlphaCurrency(numeric string) (string, bool) {
	for alpha, n := range numericCurrencies {
		if n == numeric {
			return alpha, true
		}
	}
	return "", false
}

// FormatPrice renders an amount the way providers hash it.
func FormatPrice(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// MinorUnits converts an amount to the provider's integer unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(units)
	}
	return decimal.New(units, -2)
}

func md5Hex(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// SignFields is the keyed digest used by the Stripe metadata and the test
// adapter: hex HMAC-SHA256 over the pipe-joined fields.
func SignFields(secret string, fields ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

func digestEqual(expected, actual string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(expected)), []byte(strings.ToLower(actual))) == 1
}
