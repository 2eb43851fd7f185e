package chain

import (
	"math/big"
	"strings"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Denominations understood by ParseAmount.
const (
	DecimalsEther = 18
	DecimalsGwei  = 9
	DecimalsWei   = 0
)

// ParseAmount parses a non-negative decimal string into base units with the
// given number of decimal places. "1.5" with 9 decimals is 1500000000.
// Digits beyond the precision are truncated.
func ParseAmount(amount string, decimalPlaces int) (*big.Int, error) {
	invalid := noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"amount": amount})

	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return nil, invalid
	}

	intPart, decPart, _ := strings.Cut(amount, ".")
	if strings.Contains(decPart, ".") || !allDigits(intPart) || !allDigits(decPart) {
		return nil, invalid
	}
	if intPart == "" && decPart == "" {
		return nil, invalid
	}

	if len(decPart) > decimalPlaces {
		decPart = decPart[:decimalPlaces]
	}
	decPart += strings.Repeat("0", decimalPlaces-len(decPart))

	digits := strings.TrimLeft(intPart+decPart, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, invalid
	}
	return v, nil
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(amount *big.Int, decimalPlaces int) string {
	if amount == nil {
		return "0"
	}
	s := amount.String()
	if decimalPlaces == 0 {
		return s
	}
	if len(s) <= decimalPlaces {
		s = strings.Repeat("0", decimalPlaces-len(s)+1) + s
	}
	pos := len(s) - decimalPlaces
	frac := strings.TrimRight(s[pos:], "0")
	if frac == "" {
		return s[:pos]
	}
	return s[:pos] + "." + frac
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
