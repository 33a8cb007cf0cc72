package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	cents, err := ToMinorUnits(decimal.RequireFromString("29.99"), "usd")
	require.NoError(t, err)
	assert.EqualValues(t, 2999, cents)

	yen, err := ToMinorUnits(decimal.RequireFromString("500"), "JPY")
	require.NoError(t, err)
	assert.EqualValues(t, 500, yen)

	_, err = ToMinorUnits(decimal.RequireFromString("1.005"), "usd")
	assert.Error(t, err)

	_, err = ToMinorUnits(decimal.RequireFromString("500.50"), "jpy")
	assert.Error(t, err)

	_, err = ToMinorUnits(decimal.RequireFromString("-1"), "usd")
	assert.Error(t, err)
}

func TestMinorUnitExponent(t *testing.T) {
	assert.EqualValues(t, 2, MinorUnitExponent("USD"))
	assert.EqualValues(t, 2, MinorUnitExponent(""))
	assert.EqualValues(t, 0, MinorUnitExponent(" krw "))
}
