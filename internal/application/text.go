package application

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText trims and NFC-normalises free text so visually equal names compare equal.
func normalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

func normalizeOptionalID(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
