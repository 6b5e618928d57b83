package logger

import "strings"

// Level names as they appear in the "level" field.
const (
	levelDebug = "DEBUG"
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
)

// outcomeValues is the closed vocabulary of handler outcomes; anything else
// is dropped from the line.
var outcomeValues = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"cancelled":    {},
	"rate_limited": {},
	"denied":       {},
}

func levelName(level string) string {
	switch strings.ToLower(level) {
	case "", "info":
		return levelInfo
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	}
	return strings.ToUpper(level)
}

// defaultKeyOrder puts correlation first, then the appeal being processed,
// then transport and failure detail. Other keys follow alphabetically.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"step",
	"appeal_id",
	"destination_id",
	"tier",
	"target",
	"reason",
	"approved",
	"score",
	"band",
	"violations",
	"attachments",
	"cb_key",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"payload",
	"lang",
	"action",
	"endpoint",
	"attempt",
	"attempts",
	"mode",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
}
