package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRunMode(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: " Polling "}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)

	cfg = &Config{
		Telegram: TelegramConfig{Token: "t", RunMode: "WEBHOOK"},
		Webhook:  WebhookConfig{URL: "https://appeals.example.org/hook", Listen: "0.0.0.0", Port: 8443},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeWebhook, cfg.Telegram.RunMode)
	assert.Equal(t, "0.0.0.0:8443", cfg.Webhook.Address())
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]*Config{
		"nil":             nil,
		"no token":        {},
		"unknown mode":    {Telegram: TelegramConfig{Token: "t", RunMode: "pull"}},
		"webhook no url":  {Telegram: TelegramConfig{Token: "t", RunMode: RunModeWebhook}, Webhook: WebhookConfig{Listen: ":", Port: 1}},
		"negative poll":   {Telegram: TelegramConfig{Token: "t", LongPollTimeoutSeconds: -1}},
		"inline excluded": {Telegram: TelegramConfig{Token: "t"}, RateLimit: RateLimitConfig{ExcludeUpdates: []string{"inline_query"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Normalize(cfg))
		})
	}
}

func TestNormalizeExcludedUpdates(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		RateLimit: RateLimitConfig{IntervalMS: 700, ExcludeUpdates: []string{" Callback", "", "message"}},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{UpdateCallback, UpdateMessage}, cfg.RateLimit.ExcludeUpdates)
	assert.Contains(t, cfg.RateLimit.Excluded(), UpdateCallback)
}
