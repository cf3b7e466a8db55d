package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a wallet is created without an explicit currency.
const DefaultCurrency = "NGN"

// minorUnits maps supported currencies to the number of fractional digits they allow.
var minorUnits = map[string]int32{
	"NGN": 2,
	"USD": 2,
	"EUR": 2,
	"XAF": 0,
}

// Amounts outside these bounds are rejected before any arithmetic. Decimal
// comparisons rescale both operands to a common exponent, so an amount such as
// 1e-20000000 would otherwise cost a huge big.Int.
const (
	maxAmountExponent        = 18
	maxAmountCoefficientBits = 128
)

// Limits bounds the amount of a single operation. A zero bound is not enforced.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// NormalizeCurrency upper-cases a currency code and reports whether it is supported.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	_, ok := minorUnits[code]
	return code, ok
}

// MinorUnits returns the number of fractional digits the currency allows.
func MinorUnits(currency string) (int32, bool) {
	places, ok := minorUnits[currency]
	return places, ok
}

// ValidateAmount checks an amount against the currency's minor unit and the limits.
func (l Limits) ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return invalidAmount("amount must be greater than zero")
	}
	if exp := amount.Exponent(); exp < -maxAmountExponent || exp > maxAmountExponent {
		return invalidAmount("amount is out of range")
	}
	if amount.Coefficient().BitLen() > maxAmountCoefficientBits {
		return invalidAmount("amount has too many digits")
	}
	if places, ok := minorUnits[currency]; ok && !amount.Equal(amount.Truncate(places)) {
		return invalidAmount("amount has more than %d decimal places for %s", places, currency)
	}
	if l.Min.IsPositive() && amount.LessThan(l.Min) {
		return invalidAmount("amount must be at least %s", l.Min.String())
	}
	if l.Max.IsPositive() && amount.GreaterThan(l.Max) {
		return invalidAmount("amount cannot exceed %s per transaction", l.Max.String())
	}
	return nil
}

// ParseAmount parses a decimal string, mapping syntax errors to InvalidAmount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, newError(KindInvalidAmount, "amount is not a valid decimal", err)
	}
	return d, nil
}
