package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/moderation"
)

const untilLayout = "02.01.2006 15:04 MST"

// commit runs admission, moderation and routing in that order, then persists
// the appeal and notifies the citizen and the destination channel. Terminal
// refusals clear the session; infrastructure failures keep it so the user can
// confirm again.
func (e *Engine) commit(ctx context.Context, u User, lang string, data state.Data) error {
	target, ok := TargetOf(data)
	if !ok {
		return e.fail(ctx, u, lang, "commit_target", errors.New("incomplete location in session"))
	}
	body := Body(data)

	if err := e.admission.Check(ctx, u.ID, body); err != nil {
		var denied *appeal.AdmissionDenied
		if errors.As(err, &denied) {
			return e.finish(ctx, u, lang, e.denial(lang, denied))
		}
		return e.fail(ctx, u, lang, "admission_check", err)
	}

	verdict := e.moderator.Moderate(ctx, body, u.ID)
	_, blocked, err := e.admission.RecordModeration(ctx, u.ID, !verdict.Approved)
	if err != nil {
		logger.Warn(ctx, component, "flow.rating_update_failed", slog.Int64("user_id", u.ID), slog.Any("err", err))
	}
	if !verdict.Approved {
		return e.moderationRejected(ctx, u, lang, data, verdict, blocked)
	}

	dest, err := e.router.Resolve(ctx, target)
	if errors.Is(err, appeal.ErrRoutingUnresolved) {
		return e.finish(ctx, u, lang, e.tr.T(lang, "routing.unresolved"))
	}
	if err != nil {
		return e.fail(ctx, u, lang, "routing", err)
	}

	files := Attachments(data)
	rec := &appeal.Appeal{
		UserID:         u.ID,
		ChatID:         u.ChatID,
		Language:       lang,
		RegionID:       target.RegionID,
		DistrictID:     target.DistrictID,
		NeighborhoodID: target.NeighborhoodID,
		OrganizationID: target.OrganizationID,
		DestinationID:  dest.ID,
		FullName:       data.Get(KeyFullName),
		Phone:          data.Get(KeyPhone),
		Body:           body,
		Status:         appeal.StatusPending,
	}
	if err := e.records.CreateAppeal(ctx, rec, files); err != nil {
		return e.fail(ctx, u, lang, "create_appeal", err)
	}

	if err := e.admission.RecordSubmission(ctx, u.ID, body); err != nil {
		logger.Warn(ctx, component, "flow.submission_record_failed", slog.Int64("user_id", u.ID), slog.Any("err", err))
	}
	if err := e.store.Clear(ctx, u.ID); err != nil {
		logger.Warn(ctx, component, "flow.state_clear_failed", slog.Int64("user_id", u.ID), slog.Any("err", err))
	}

	logger.Info(ctx, component, "appeal.created",
		slog.Int64("appeal_id", rec.ID),
		slog.Int64("user_id", u.ID),
		slog.Int64("destination_id", dest.ID),
		slog.String("target", target.String()),
		slog.Int("attachments", len(files)),
	)
	e.notify(ctx, u, lang, rec, dest, data, files)
	return nil
}

func (e *Engine) denial(lang string, d *appeal.AdmissionDenied) string {
	switch d.Reason {
	case appeal.DenyBlocked:
		return e.tr.T(lang, "deny.blocked", e.stamp(d.Until))
	case appeal.DenyRateLimited:
		return e.tr.T(lang, "deny.rate_limited", e.stamp(d.Until))
	default:
		return e.tr.T(lang, "deny.duplicate")
	}
}

// stamp renders t in the configured zone with the zone name attached.
func (e *Engine) stamp(t time.Time) string {
	return t.In(e.loc).Format(untilLayout)
}

// moderationRejected shows the classifier's reason. Unless the rejection
// escalated to a block, the user is sent back to rewrite the appeal text with
// the rest of the form kept.
func (e *Engine) moderationRejected(ctx context.Context, u User, lang string, data state.Data, v moderation.Verdict, blocked bool) error {
	text := e.tr.T(lang, "moderation.rejected", v.Reason)
	if v.Suggestion != "" {
		text = joinText(text, e.tr.T(lang, "moderation.suggestion", v.Suggestion))
	}
	if blocked {
		return e.finish(ctx, u, lang, joinText(text, e.tr.T(lang, "moderation.blocked")))
	}
	out := data.Clone()
	for _, k := range []string{KeyBody, KeyFormatted, KeyAIFormat} {
		delete(out, k)
	}
	return e.enter(ctx, u, lang, StepBody, out, text)
}

// notify informs the citizen and the destination channel concurrently.
// Delivery failures are logged only.
func (e *Engine) notify(ctx context.Context, u User, lang string, rec *appeal.Appeal, dest *appeal.Destination, data state.Data, files []appeal.Attachment) {
	var g errgroup.Group
	g.Go(func() error {
		text := e.tr.T(lang, "submitted", rec.Number(), dest.Title)
		if err := e.out.Send(ctx, u.ChatID, Prompt{Language: lang, Text: text, Menu: true}); err != nil {
			logger.Warn(ctx, component, "flow.notify_citizen_failed", slog.Int64("appeal_id", rec.ID), slog.Any("err", err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		post := ChannelPost{
			ChatID:      dest.ChatID,
			AppealID:    rec.ID,
			Language:    e.channelLang,
			Text:        e.channelText(e.channelLang, rec, data),
			Attachments: files,
		}
		if err := e.out.Post(ctx, post); err != nil {
			logger.Warn(ctx, component, "flow.notify_channel_failed",
				slog.Int64("appeal_id", rec.ID),
				slog.Int64("chat_id", dest.ChatID),
				slog.Any("err", err),
			)
			return err
		}
		return nil
	})
	_ = g.Wait()
}

// channelText renders the destination channel announcement of rec.
func (e *Engine) channelText(lang string, rec *appeal.Appeal, data state.Data) string {
	var b strings.Builder
	b.WriteString(e.tr.T(lang, "channel.header", rec.Number()))
	b.WriteString("\n\n")
	b.WriteString(e.describe(lang, data))
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	fmt.Fprintf(&b, "\n\n%s: %s", e.tr.T(lang, "field.status"), e.tr.T(lang, "status."+string(rec.Status)))
	fmt.Fprintf(&b, "\n%s: %s", e.tr.T(lang, "field.created"), e.stamp(created))
	return b.String()
}
