// Package core provides amount parsing for the engine.
//
// Amounts are currency-agnostic decimals stored in the account's base unit.
// Parsing accepts either a dot or a comma as decimal separator and rejects
// signs, so a template amount is always strictly positive.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// maxAmountScale is the number of fractional digits kept after parsing.
const maxAmountScale = 4

// ParseAmount converts a user supplied decimal string into a positive amount.
//
// Examples:
//
//	ParseAmount("1200")    -> 1200
//	ParseAmount("12,34")   -> 12.34
//	ParseAmount("0.00005") -> error (rounds to zero)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalidAmount()
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, invalidAmount()
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, invalidAmount()
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidAmount()
	}
	d = d.Round(maxAmountScale)
	if !d.IsPositive() {
		return decimal.Zero, invalidAmount()
	}
	return d, nil
}

func invalidAmount() error {
	return &ValidationError{Field: "amount", Reason: ErrInvalidAmount.Error(), Err: ErrInvalidAmount}
}
