package utils

import (
	"fmt"
	"regexp"
)

var (
	currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	controlCharRegex  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateCurrencyCode validates an ISO 4217 style currency code
func ValidateCurrencyCode(code string) error {
	if !currencyCodeRegex.MatchString(code) {
		return fmt.Errorf("currency must be a three-letter uppercase code: %s", code)
	}
	return nil
}

// ValidateAmount validates a monetary amount on a submitted document
func ValidateAmount(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("amount must not be negative: %.2f", amount)
	}
	return nil
}

// SanitizeString removes control characters from free-text input
func SanitizeString(s string) string {
	return controlCharRegex.ReplaceAllString(s, "")
}
