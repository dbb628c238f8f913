package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hallyuwire/corehub/server/internal/config"
	"github.com/hallyuwire/corehub/server/internal/models"
)

func TestFeedURLFor_KoreanAndEnglishResolveConfiguredURLs(t *testing.T) {
	cfg := config.Config{FeedURLKo: "https://example.com/ko.xml", FeedURLEn: "https://example.com/en.xml"}

	got, err := feedURLFor(cfg, models.LanguageKorean)
	assert.NoError(t, err)
	assert.Equal(t, cfg.FeedURLKo, got)

	got, err = feedURLFor(cfg, models.LanguageEnglish)
	assert.NoError(t, err)
	assert.Equal(t, cfg.FeedURLEn, got)
}

func TestFeedURLFor_UnconfiguredLanguageErrors(t *testing.T) {
	cfg := config.Config{}

	_, err := feedURLFor(cfg, models.LanguageKorean)
	assert.Error(t, err)

	_, err = feedURLFor(cfg, models.LanguageJapanese)
	assert.Error(t, err)
}
