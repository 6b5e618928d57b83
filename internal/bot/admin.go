package bot

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/appealbot/core/telegram/helpers"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/rating"

	tele "gopkg.in/telebot.v4"
)

const blockedLayout = "02.01.2006 15:04 MST"

// parseStatusPayload decodes "<appeal id>|<status>" from a status button.
func parseStatusPayload(parts []string) (int64, appeal.Status, bool) {
	if len(parts) != 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	st, ok := appeal.ParseStatus(parts[1])
	if !ok || st == appeal.StatusPending {
		return 0, "", false
	}
	return id, st, true
}

// onStatus handles the completed/rejected buttons under a channel post.
func (b *Bot) onStatus(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	lang := b.chanLang

	parts, err := callbacks.PayloadParts(c, "|")
	if err != nil {
		return callbacks.Answer(c, b.tr.T(lang, "admin.bad_request"), false)
	}
	id, status, ok := parseStatusPayload(parts)
	if !ok {
		return callbacks.Answer(c, b.tr.T(lang, "admin.bad_request"), false)
	}
	actor := c.Sender()
	if actor == nil || !b.mayModerate(c, actor.ID) {
		return callbacks.Answer(c, b.tr.T(lang, "admin.not_allowed"), true)
	}

	rec, err := b.records.UpdateStatus(ctx, id, status, actor.ID)
	if errors.Is(err, appeal.ErrNotFound) {
		return callbacks.Answer(c, b.tr.T(lang, "admin.bad_request"), false)
	}
	if err != nil {
		_ = callbacks.Answer(c, b.tr.T(lang, "failure"), false)
		return err
	}
	logger.Info(ctx, component, "appeal.status_changed",
		slog.Int64("appeal_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.Int64("actor_id", actor.ID),
	)

	if msg := c.Message(); msg != nil {
		note := b.tr.T(lang, "channel.status_updated", b.tr.T(lang, "status."+string(status)), displayName(actor))
		if err := c.Edit(msg.Text + "\n\n" + note); err != nil {
			logger.Warn(ctx, component, "channel.edit_failed", slog.String("err", err.Error()))
		}
	}

	citizenLang := b.tr.Match(rec.Language)
	text := b.tr.T(citizenLang, "status.changed", rec.Number(), b.tr.T(citizenLang, "status."+string(rec.Status)))
	if err := b.out.Notify(ctx, rec.ChatID, text); err != nil {
		logger.Warn(ctx, component, "citizen.notify_failed",
			slog.Int64("appeal_id", rec.ID),
			slog.String("err", err.Error()),
		)
	}
	return callbacks.Answer(c, b.tr.T(lang, "admin.status_saved"), false)
}

// mayModerate allows the configured admin and administrators of the chat the
// post lives in.
func (b *Bot) mayModerate(c tele.Context, userID int64) bool {
	if b.adminID != 0 && userID == b.adminID {
		return true
	}
	if c.Chat() == nil || b.admins == nil {
		return false
	}
	members, err := b.admins(c)
	if err != nil {
		logger.Warn(tghelpers.BuildContext(c), component, "admins.lookup_failed", slog.String("err", err.Error()))
		return false
	}
	for _, m := range members {
		if m.User != nil && m.User.ID == userID {
			return true
		}
	}
	return false
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}

func (b *Bot) onStats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	lang := b.langOf(c)
	counts, err := b.records.CountByStatus(ctx)
	if err != nil {
		_ = tghelpers.SendText(c, b.tr.T(lang, "failure"))
		return err
	}
	return tghelpers.SendText(c, b.tr.T(lang, "stats.summary",
		counts.Total(), counts.Pending, counts.Completed, counts.Rejected))
}

func (b *Bot) onRating(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	lang := b.langOf(c)
	args := c.Args()
	if len(args) != 1 {
		return tghelpers.SendText(c, b.tr.T(lang, "rating.usage"))
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return tghelpers.SendText(c, b.tr.T(lang, "rating.usage"))
	}
	score, err := b.ratings.Rating(ctx, userID)
	if err != nil {
		_ = tghelpers.SendText(c, b.tr.T(lang, "failure"))
		return err
	}
	text := b.tr.T(lang, "rating.summary", userID, score, rating.Band(score))
	until, blocked, err := b.ratings.BlockedUntil(ctx, userID)
	if err != nil {
		return err
	}
	if blocked {
		text += "\n" + b.tr.T(lang, "rating.blocked", until.In(b.loc).Format(blockedLayout))
	}
	return tghelpers.SendText(c, text)
}
