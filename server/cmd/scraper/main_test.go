package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallyuwire/corehub/server/internal/models"
)

func TestParseRangeBound_BareDateExpandsToDayBoundary(t *testing.T) {
	start, err := parseRangeBound("2026-03-05", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), start)

	end, err := parseRangeBound("2026-03-05", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 23, 59, 59, 0, time.UTC), end)
}

func TestParseRangeBound_DateTimeIsUsedVerbatim(t *testing.T) {
	got, err := parseRangeBound("2026-03-05T14:30:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC), got)
}

func TestParseRangeBound_InvalidInputErrors(t *testing.T) {
	_, err := parseRangeBound("not-a-date", false)
	assert.Error(t, err)
}

func TestLanguageCode_PassesRawStringThrough(t *testing.T) {
	assert.Equal(t, models.LanguageKorean, languageCode("kr"))
	assert.Equal(t, models.LanguageEnglish, languageCode("en"))
}
