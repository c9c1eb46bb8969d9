package history

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableKeyFormat(t *testing.T) {
	assert.Equal(t, "bitcoin_usd", Key("Bitcoin", USD))
	assert.Equal(t, "thyao.is_tl", Key(" THYAO.IS ", Native))
	assert.Equal(t, "fx.usd_tl", Key(FXSymbol("USD"), Native))
}

func TestTableFiltersInvalidValues(t *testing.T) {
	table := NewTable(map[string]float64{
		"bitcoin_usd": 64000,
		"bad_usd":     math.NaN(),
		"neg_tl":      -3,
		"inf_tl":      math.Inf(1),
		"zero_tl":     0,
	})
	assert.Equal(t, 2, table.Len())

	v, ok := table.Lookup("zero", Native)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = table.Lookup("bad", USD)
	assert.False(t, ok)
}

func TestTableSetOverwritesAndClones(t *testing.T) {
	table := NewTable(nil)
	table.Set("aapl", USD, 190)
	clone := table.Clone()
	table.Set("aapl", USD, 0)

	v, _ := table.Lookup("AAPL", USD)
	assert.Equal(t, 0.0, v, "zero is written unconditionally")

	v, _ = clone.Lookup("aapl", USD)
	assert.Equal(t, 190.0, v, "clone is independent")
	assert.Equal(t, []string{"aapl_usd"}, clone.Keys())
}

func TestNilTableLookup(t *testing.T) {
	var table *Table
	_, ok := table.Lookup("x", USD)
	assert.False(t, ok)
}

func TestDecodeDropsMalformedEntries(t *testing.T) {
	table, dropped, err := Decode([]byte(`{"bitcoin_usd": 64000, "bad_tl": NaN, "text_tl": "12", "neg_usd": -1, "fx.usd_tl": 32.5}`))
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []string{"bitcoin_usd", "fx.usd_tl"}, table.Keys())
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	table, dropped, err := Decode(nil)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Zero(t, table.Len())

	_, _, err = Decode([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	table := NewTable(map[string]float64{"aapl_usd": 190.25, "aapl_tl": 6100})
	data, err := Encode(table)
	require.NoError(t, err)

	back, dropped, err := Decode(data)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, table.Map(), back.Map())
}
