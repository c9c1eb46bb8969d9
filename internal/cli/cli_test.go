package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"bitcoin=65000", " THYAO.IS = 312.5 ", "bitcoin=66000"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bitcoin": 66000, "THYAO.IS": 312.5}, got)

	none, err := parseOverrides(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"bitcoin", "=5", "bitcoin=abc", "bitcoin=-1", "bitcoin=Inf", "bitcoin=+inf", "bitcoin=NaN", "bitcoin=1e400"} {
		_, err := parseOverrides([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseBound(t *testing.T) {
	loc := time.FixedZone("TRT", 3*60*60)

	got, err := parseBound("--from", "2024-06-01", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, loc)))

	got, err = parseBound("--from", "2024-06-01T10:00:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))

	got, err = parseBound("--to", "", loc)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseBound("--to", "yesterday", loc)
	assert.Error(t, err)
}
