package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
)

var currencySymbols = map[rune]string{
	'$': "USD",
	'£': "GBP",
	'€': "EUR",
}

// parsePriceMinorUnits converts an extracted price string into integer minor
// currency units: "$350" → 35000, "350.00" → 35000, "USD 350" → 35000,
// "£1,200.50" → 120050. The currency hint wins over anything inferred from
// the string; USD is the fallback.
func parsePriceMinorUnits(raw, currencyHint string) (int64, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", fmt.Errorf("%w: empty price", apperrors.ErrValidation)
	}

	currency := strings.ToUpper(strings.TrimSpace(currencyHint))

	// Leading ISO code, e.g. "USD 350".
	fields := strings.Fields(s)
	if len(fields) == 2 && len(fields[0]) == 3 && isAlpha(fields[0]) {
		if currency == "" {
			currency = strings.ToUpper(fields[0])
		}
		s = fields[1]
	}

	// Currency symbol prefix.
	for symbol, code := range currencySymbols {
		if strings.HasPrefix(s, string(symbol)) {
			if currency == "" {
				currency = code
			}
			s = strings.TrimPrefix(s, string(symbol))
			break
		}
	}
	if currency == "" {
		currency = "USD"
	}

	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, "", fmt.Errorf("%w: no numeric value in price %q", apperrors.ErrValidation, raw)
	}

	// Split integer and fractional parts so no float rounding sneaks in.
	intPart := s
	fracPart := ""
	if i := strings.Index(s, "."); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	switch {
	case len(fracPart) == 0:
		fracPart = "00"
	case len(fracPart) == 1:
		fracPart += "0"
	case len(fracPart) > 2:
		// Truncate sub-cent precision.
		fracPart = fracPart[:2]
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: unparseable price %q", apperrors.ErrValidation, raw)
	}
	cents, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: unparseable price %q", apperrors.ErrValidation, raw)
	}
	if whole < 0 {
		return 0, "", fmt.Errorf("%w: negative price %q", apperrors.ErrValidation, raw)
	}

	return whole*100 + cents, currency, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
