package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 1, 1, 9, 47, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 13, 5, 0, 0, time.UTC)
	f, tt := AlignFromTo(from, to, 4*time.Hour)
	assert.Equal(t, 8, f.Hour())
	assert.Equal(t, 12, tt.Hour())
}

func TestStringHelpers(t *testing.T) {
	assert.Equal(t, 7, ParseIntDefault("x", 7))
	assert.Equal(t, 12, ParseIntDefault("12", 7))
	assert.Equal(t, 1.5, ParseFloatDefault("1.5", 0))
	assert.Equal(t, "EURUSD", NormalizeSymbol(" eur/usd "))
}
