package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNegative(t *testing.T) {
	_, err := New(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewFromString("-0.01")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewFromFloatRejectsNonFinite(t *testing.T) {
	_, err := NewFromFloat(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewFromFloat(math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewFromStringRejectsGarbage(t *testing.T) {
	_, err := NewFromString("not money")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestArithmeticIsExact(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3, no float drift
	a := MustFromString("0.1")
	b := MustFromString("0.2")
	assert.True(t, a.Add(b).Equal(MustFromString("0.3")))

	// Repeated small additions stay exact
	sum := Zero()
	cent := MustFromString("0.01")
	for i := 0; i < 1000; i++ {
		sum = sum.Add(cent)
	}
	assert.True(t, sum.Equal(MustFromString("10")), "got %s", sum)
}

func TestPercent(t *testing.T) {
	principal := MustFromString("10000")
	interest := principal.Percent(decimal.NewFromInt(10))
	assert.True(t, interest.Equal(MustFromString("1000")))

	fractional := MustFromString("999.99").Percent(decimal.NewFromFloat(2.5))
	assert.True(t, fractional.Equal(MustFromString("24.999750")), "got %s", fractional.Amount())
}

func TestSubAndFloorZero(t *testing.T) {
	small := MustFromString("3")
	big := MustFromString("5")

	diff := small.Sub(big)
	assert.True(t, diff.IsNegative())
	assert.True(t, diff.FloorZero().IsZero())

	assert.True(t, big.Sub(small).Equal(MustFromString("2")))
}

func TestComparisons(t *testing.T) {
	a := MustFromString("1.50")
	b := MustFromString("1.5")
	c := MustFromString("2")

	assert.True(t, a.Equal(b))
	assert.Equal(t, 0, a.Cmp(b))
	assert.True(t, a.LessThan(c))
	assert.True(t, c.GreaterThan(a))
	assert.True(t, Zero().IsZero())
	assert.True(t, c.IsPositive())
}

func TestStringFormatsTwoDecimals(t *testing.T) {
	assert.Equal(t, "1000.00", MustFromString("1000").String())
	assert.Equal(t, "0.50", MustFromString("0.5").String())
}

func TestJSONRoundTrip(t *testing.T) {
	m := MustFromString("11000.50")
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var got Money
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Equal(m))
}

func TestUnmarshalJSONRejectsNegative(t *testing.T) {
	var m Money
	err := json.Unmarshal([]byte(`"-100"`), &m)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = json.Unmarshal([]byte(`"nope"`), &m)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSQLRoundTrip(t *testing.T) {
	m := MustFromString("123.456")

	v, err := m.Value()
	require.NoError(t, err)

	var got Money
	require.NoError(t, got.Scan(v))
	assert.True(t, got.Equal(m))

	var fromBytes Money
	require.NoError(t, fromBytes.Scan([]byte("99.9")))
	assert.True(t, fromBytes.Equal(MustFromString("99.9")))

	var bad Money
	assert.Error(t, bad.Scan(42))
}
