package mpesa

import (
	"strings"

	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

const countryCode = "254"

// NormalizePhone converts the accepted local and international spellings of a
// Kenyan mobile number into the canonical 12-digit 254XXXXXXXXX form.
//
//	0712345678     -> 254712345678
//	712345678      -> 254712345678
//	+254712345678  -> 254712345678
//	254712345678   -> 254712345678
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" || !allDigits(cleaned) {
		return "", invalidPhone(raw)
	}

	var canonical string
	switch {
	case len(cleaned) == 10 && cleaned[0] == '0':
		canonical = countryCode + cleaned[1:]
	case len(cleaned) == 9 && cleaned[0] != '0':
		canonical = countryCode + cleaned
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, countryCode):
		canonical = cleaned
	default:
		return "", invalidPhone(raw)
	}
	return canonical, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func invalidPhone(raw string) error {
	return pkgerrors.Kind(pkgerrors.CodeValidation, ErrInvalidPhoneFormat,
		"phone number must look like 0712345678, 712345678, +254712345678 or 254712345678").
		WithDetails(map[string]any{"phone_number": raw})
}
