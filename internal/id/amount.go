package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/hopwise/traderoute/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseBaseUnits parses a non-negative integer base-unit amount.
func ParseBaseUnits(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok || n.Sign() < 0 {
		return nil, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount %q must be a non-negative integer in base units", v))
	}
	return n, nil
}

// NormalizeAmount accepts either a base-unit integer string or a decimal
// string and returns both forms.
func NormalizeAmount(baseUnits, decimal string, decimals int) (*big.Int, string, error) {
	if baseUnits != "" && decimal != "" {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, err := ParseBaseUnits(baseUnits)
		if err != nil {
			return nil, "", err
		}
		return n, FormatDecimal(n, decimals), nil
	}

	if !decimalPattern.MatchString(decimal) {
		return nil, "", clierr.New(clierr.CodeInvalidAmount, "amount must be in decimal form like 1.23")
	}
	n, err := decimalToBaseUnits(decimal, decimals)
	if err != nil {
		return nil, "", err
	}
	return n, FormatDecimal(n, decimals), nil
}

// FormatDecimal renders a base-unit amount as a human decimal string.
func FormatDecimal(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	s := baseUnits.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount has more than %d decimal places", decimals))
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("invalid amount %q", decimal))
	}
	return n, nil
}
