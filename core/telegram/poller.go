package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/appealbot/core/config"

	tele "gopkg.in/telebot.v4"
)

const defaultPollTimeout = 10 * time.Second

// ConversationUpdates are the update kinds a private-chat bot with inline
// buttons consumes.
var ConversationUpdates = []string{"message", "callback_query"}

// BuildPoller returns the webhook or long poller selected by cfg. A nil
// allowed list keeps Telegram's default update kinds.
func BuildPoller(cfg *coreconfig.Config, allowed []string) tele.Poller {
	if cfg.Telegram.RunMode == coreconfig.RunModeWebhook {
		return &tele.Webhook{
			Listen:         cfg.Webhook.Address(),
			AllowedUpdates: allowed,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	return &tele.LongPoller{
		Timeout:        PollTimeout(cfg.Telegram),
		AllowedUpdates: allowed,
	}
}

// PollTimeout is the configured long poll timeout or the default.
func PollTimeout(t coreconfig.TelegramConfig) time.Duration {
	if t.LongPollTimeoutSeconds <= 0 {
		return defaultPollTimeout
	}
	return time.Duration(t.LongPollTimeoutSeconds) * time.Second
}
