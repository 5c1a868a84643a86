package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
)

func TestParsePriceMinorUnits(t *testing.T) {
	cases := []struct {
		raw      string
		hint     string
		want     int64
		currency string
	}{
		{raw: "$350", want: 35000, currency: "USD"},
		{raw: "350.00", want: 35000, currency: "USD"},
		{raw: "USD 350", want: 35000, currency: "USD"},
		{raw: "$350.50", want: 35050, currency: "USD"},
		{raw: "£1,200.50", want: 120050, currency: "GBP"},
		{raw: "€99", want: 9900, currency: "EUR"},
		{raw: "1,000", want: 100000, currency: "USD"},
		{raw: "49.9", want: 4990, currency: "USD"},
		{raw: "10.999", want: 1099, currency: "USD"},
		{raw: "$350", hint: "eur", want: 35000, currency: "EUR"},
		{raw: "GBP 75", want: 7500, currency: "GBP"},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, currency, err := parsePriceMinorUnits(tc.raw, tc.hint)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.currency, currency)
		})
	}
}

func TestParsePriceMinorUnits_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "$", "free", "contact us", "-50"} {
		_, _, err := parsePriceMinorUnits(raw, "")
		assert.ErrorIs(t, err, apperrors.ErrValidation, "raw=%q", raw)
	}
}
