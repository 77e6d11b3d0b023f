package money

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"dollars", "25.50", "USD", 2550},
		{"float trap", "19.99", "usd", 1999},
		{"rounds half up", "10.005", "USD", 1001},
		{"yen has no minor unit", "1500", "JPY", 1500},
		{"yen rounds", "1500.6", "JPY", 1501},
		{"zero", "0", "USD", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMinorRejectsNegative(t *testing.T) {
	_, err := ToMinor(decimal.NewFromInt(-1), "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParse(t *testing.T) {
	d, err := Parse(" 12.34 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.34")))

	_, err = Parse("twelve")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.RequireFromString("120.00"), decimal.RequireFromString("12.5"))
	assert.True(t, got.Equal(decimal.RequireFromString("15.00")), got.String())

	got = Percent(decimal.RequireFromString("33.33"), decimal.RequireFromString("10"))
	assert.True(t, got.Equal(decimal.RequireFromString("3.33")), got.String())
}

func TestMinorRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FromMinor then ToMinor is identity", prop.ForAll(
		func(minor int64) bool {
			for _, currency := range []string{"USD", "JPY"} {
				got, err := ToMinor(FromMinor(minor, currency), currency)
				if err != nil || got != minor {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1_000_000_000),
	))

	properties.TestingRun(t)
}
