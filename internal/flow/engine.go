package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/moderation"
)

const component = "service.flow"

// Admission is the subset of admission control the commit pipeline uses.
type Admission interface {
	Check(ctx context.Context, userID int64, body string) error
	RecordSubmission(ctx context.Context, userID int64, body string) error
	RecordModeration(ctx context.Context, userID int64, rejected bool) (int, bool, error)
	RecordInvalidInput(ctx context.Context, userID int64) (bool, error)
}

// Moderator judges the final appeal text.
type Moderator interface {
	Moderate(ctx context.Context, text string, userID int64) moderation.Verdict
}

// Router resolves the destination channel.
type Router interface {
	Resolve(ctx context.Context, t appeal.Target) (*appeal.Destination, error)
}

// Recorder persists a committed appeal together with its attachments.
type Recorder interface {
	CreateAppeal(ctx context.Context, a *appeal.Appeal, files []appeal.Attachment) error
}

// Formatter rewrites appeal text politely.
type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Deps wires an Engine. Formatter is optional; without it the AI wording step
// is skipped.
type Deps struct {
	Store     state.Store
	Locks     *state.Locker
	Localizer Localizer
	Reference Reference
	Messenger Messenger
	Admission Admission
	Moderator Moderator
	Router    Router
	Records   Recorder
	Formatter Formatter
	// ChannelLanguage renders destination channel posts; defaults to the localizer fallback.
	ChannelLanguage string
	// Location renders user-facing times; defaults to UTC.
	Location *time.Location
}

// Engine executes the intake flow for all users. Events of one user are
// processed one at a time; different users proceed concurrently.
type Engine struct {
	store       state.Store
	locks       *state.Locker
	tr          Localizer
	ref         Reference
	out         Messenger
	admission   Admission
	moderator   Moderator
	router      Router
	records     Recorder
	formatter   Formatter
	channelLang string
	loc         *time.Location
}

// NewEngine builds an Engine from d.
func NewEngine(d Deps) *Engine {
	if d.Locks == nil {
		d.Locks = state.NewLocker()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.ChannelLanguage == "" && d.Localizer != nil {
		d.ChannelLanguage = d.Localizer.Fallback()
	}
	return &Engine{
		store:       d.Store,
		locks:       d.Locks,
		tr:          d.Localizer,
		ref:         d.Reference,
		out:         d.Messenger,
		admission:   d.Admission,
		moderator:   d.Moderator,
		router:      d.Router,
		records:     d.Records,
		formatter:   d.Formatter,
		channelLang: d.ChannelLanguage,
		loc:         d.Location,
	}
}

// InProgress reports whether the user has a live session.
func (e *Engine) InProgress(ctx context.Context, userID int64) bool {
	s, ok, err := e.store.Get(ctx, userID)
	return err == nil && ok && s.Step != state.StateIdle
}

// Reset drops the user's session without replying.
func (e *Engine) Reset(ctx context.Context, userID int64) error {
	unlock := e.locks.Lock(userID)
	defer unlock()
	return e.store.Clear(ctx, userID)
}

// Handle processes one event. Validation problems are answered with a
// re-prompt and leave the session untouched. Infrastructure failures are
// answered with a generic message, leave the session untouched and are
// returned to the caller.
func (e *Engine) Handle(ctx context.Context, u User, ev Event) error {
	unlock := e.locks.Lock(u.ID)
	defer unlock()

	lang := e.tr.Match(u.Language)
	if ev.Kind == KindBegin {
		return e.start(ctx, u, lang)
	}

	sess, ok, err := e.store.Get(ctx, u.ID)
	if err != nil {
		return e.fail(ctx, u, lang, "state_get", err)
	}
	if ok && sess.Data.Has(KeyLang) {
		lang = sess.Data.Get(KeyLang)
	}
	if e.isNav(lang, ev, TokenCancel, "btn.cancel") {
		return e.finish(ctx, u, lang, e.tr.T(lang, "cancelled"))
	}
	if !ok || sess.Step == state.StateIdle {
		return e.start(ctx, u, lang)
	}
	if e.isNav(lang, ev, TokenBack, "btn.back") {
		return e.back(ctx, u, lang, sess)
	}

	spec, known := steps[sess.Step]
	if !known {
		logger.Warn(ctx, component, "flow.unknown_step", slog.String("step", string(sess.Step)))
		return e.start(ctx, u, lang)
	}

	in, err := e.decode(ctx, lang, sess, spec, ev)
	if err != nil {
		return e.reject(ctx, u, lang, sess, err)
	}
	next, data, err := Next(sess.Step, sess.Data, in)
	if err != nil {
		return e.reject(ctx, u, lang, sess, err)
	}

	logger.Debug(ctx, component, "flow.transition",
		slog.String("from", string(sess.Step)),
		slog.String("to", string(next)),
		slog.String("input", ev.Kind.String()),
	)

	switch next {
	case stepCommit:
		return e.commit(ctx, u, lang, data)
	case state.StateIdle:
		return e.finish(ctx, u, lang, e.tr.T(lang, "cancelled"))
	}
	return e.advance(ctx, u, lang, next, data, "")
}

// start resets the user's session to the entry step.
func (e *Engine) start(ctx context.Context, u User, lang string) error {
	logger.Info(ctx, component, "flow.started", slog.Int64("user_id", u.ID), slog.String("lang", lang))
	return e.advance(ctx, u, lang, EntryStep, state.Data{KeyLang: lang}, "")
}

func (e *Engine) back(ctx context.Context, u User, lang string, sess *state.Session) error {
	prev, ok := Back(sess.Step, sess.Data)
	if !ok {
		return nil
	}
	if prev == StepAIFormat && e.formatter == nil {
		prev, _ = Back(StepAIFormat, sess.Data)
	}
	return e.enter(ctx, u, lang, prev, sess.Data, "")
}

// advance runs entry side effects for next and stores the new session.
func (e *Engine) advance(ctx context.Context, u User, lang string, next state.State, data state.Data, notice string) error {
	if next == StepAIFormat && e.formatter == nil {
		data = data.Clone()
		data[KeyAIFormat] = "false"
		next = StepConfirm
	}
	if next == StepConfirm {
		var formatNotice string
		data, formatNotice = e.format(ctx, u, lang, data)
		notice = joinText(notice, formatNotice)
	}
	return e.enter(ctx, u, lang, next, data, notice)
}

// enter builds the prompt before persisting so a failure leaves the previous
// session in place.
func (e *Engine) enter(ctx context.Context, u User, lang string, step state.State, data state.Data, notice string) error {
	p, err := e.prompt(ctx, lang, step, data)
	if err != nil {
		return e.fail(ctx, u, lang, "prompt", err)
	}
	p.Text = joinText(notice, p.Text)
	sess := &state.Session{Step: step, Data: data}
	if err := e.store.Put(ctx, u.ID, sess); err != nil {
		return e.fail(ctx, u, lang, "state_put", err)
	}
	e.send(ctx, u, lang, p)
	return nil
}

func (e *Engine) format(ctx context.Context, u User, lang string, data state.Data) (state.Data, string) {
	if e.formatter == nil || data.Get(KeyAIFormat) != "true" || data.Has(KeyFormatted) {
		return data, ""
	}
	out, err := e.formatter.Format(ctx, data.Get(KeyBody))
	data = data.Clone()
	if err != nil || strings.TrimSpace(out) == "" {
		logger.Warn(ctx, component, "flow.format_failed",
			slog.Int64("user_id", u.ID),
			slog.String("err_code", "FORMATTER_UNAVAILABLE"),
			slog.Any("err", err),
		)
		data[KeyAIFormat] = "false"
		return data, e.tr.T(lang, "format_failed")
	}
	data[KeyFormatted] = out
	return data, ""
}

func (e *Engine) reject(ctx context.Context, u User, lang string, sess *state.Session, err error) error {
	var verr *appeal.ValidationError
	if !errors.As(err, &verr) {
		return e.fail(ctx, u, lang, "step_"+string(sess.Step), err)
	}
	logger.Debug(ctx, component, "flow.validation_failed",
		slog.String("step", verr.Step),
		slog.String("key", verr.Key),
	)
	if sess.Step == StepPhone && verr.Key == "err.phone_invalid" {
		blocked, aerr := e.admission.RecordInvalidInput(ctx, u.ID)
		if aerr != nil {
			logger.Warn(ctx, component, "flow.invalid_input_record_failed", slog.Any("err", aerr))
		}
		if blocked {
			return e.finish(ctx, u, lang, e.tr.T(lang, "deny.invalid_input"))
		}
	}
	p, perr := e.prompt(ctx, lang, sess.Step, sess.Data)
	if perr != nil {
		return e.fail(ctx, u, lang, "prompt", perr)
	}
	p.Text = joinText(e.tr.T(lang, verr.Key, verr.Args...), p.Text)
	e.send(ctx, u, lang, p)
	return nil
}

// finish clears the session and shows text with the main menu.
func (e *Engine) finish(ctx context.Context, u User, lang, text string) error {
	if err := e.store.Clear(ctx, u.ID); err != nil {
		logger.Warn(ctx, component, "flow.state_clear_failed", slog.Int64("user_id", u.ID), slog.Any("err", err))
	}
	e.send(ctx, u, lang, Prompt{Text: text, Menu: true})
	return nil
}

func (e *Engine) fail(ctx context.Context, u User, lang, op string, err error) error {
	e.send(ctx, u, lang, Prompt{Text: e.tr.T(lang, "failure")})
	return fmt.Errorf("flow %s: %w", op, err)
}

func (e *Engine) send(ctx context.Context, u User, lang string, p Prompt) {
	p.Language = lang
	if err := e.out.Send(ctx, u.ChatID, p); err != nil {
		logger.Warn(ctx, component, "flow.send_failed",
			slog.Int64("chat_id", u.ChatID),
			slog.Any("err", err),
		)
	}
}

func (e *Engine) isNav(lang string, ev Event, token, key string) bool {
	switch ev.Kind {
	case KindSelection:
		return ev.Token == token
	case KindText:
		return strings.TrimSpace(ev.Text) == e.tr.T(lang, key)
	}
	return false
}

// decode validates ev against the step's capabilities.
func (e *Engine) decode(ctx context.Context, lang string, sess *state.Session, spec stepSpec, ev Event) (Input, error) {
	step := sess.Step
	switch ev.Kind {
	case KindText, KindSelection:
		if spec.accepts.has(acceptSelection) {
			opts, err := spec.options(ctx, e.ref, e.tr, lang, sess.Data)
			if err != nil {
				return Input{}, err
			}
			text := strings.TrimSpace(ev.Text)
			for _, o := range opts {
				if (ev.Kind == KindSelection && ev.Token == o.Token) || (ev.Kind == KindText && text == o.Label) {
					return Input{Token: o.Token, Label: o.Label}, nil
				}
			}
			if !spec.accepts.has(acceptText) {
				return Input{}, invalid(step, expectation(spec))
			}
		}
		if ev.Kind != KindText || !spec.accepts.has(acceptText) {
			return Input{}, invalid(step, expectation(spec))
		}
		text := strings.TrimSpace(ev.Text)
		n := utf8.RuneCountInString(text)
		switch {
		case n == 0:
			return Input{}, invalid(step, "err.text_required")
		case spec.minLen > 0 && n < spec.minLen:
			return Input{}, invalid(step, "err.too_short", spec.minLen)
		case spec.maxLen > 0 && n > spec.maxLen:
			return Input{}, invalid(step, "err.too_long", spec.maxLen)
		}
		return Input{Text: text}, nil
	case KindFile:
		if !spec.accepts.has(acceptFile) {
			return Input{}, invalid(step, expectation(spec))
		}
		f := ev.File
		return Input{File: &f}, nil
	case KindContact:
		if !spec.accepts.has(acceptContact) {
			return Input{}, invalid(step, expectation(spec))
		}
		return Input{Text: ev.Phone}, nil
	}
	return Input{}, invalid(step, "err.unexpected_input")
}

func expectation(spec stepSpec) string {
	switch {
	case spec.accepts.has(acceptFile):
		return "err.file_required"
	case spec.accepts.has(acceptSelection):
		return "err.unknown_option"
	default:
		return "err.text_required"
	}
}

func (e *Engine) prompt(ctx context.Context, lang string, step state.State, d state.Data) (Prompt, error) {
	spec := steps[step]
	p := Prompt{Text: e.tr.T(lang, spec.prompt)}
	if spec.options != nil {
		opts, err := spec.options(ctx, e.ref, e.tr, lang, d)
		if err != nil {
			return Prompt{}, err
		}
		if len(opts) == 0 {
			p.Text = e.tr.T(lang, "err.no_options")
		}
		p.Options = opts
	}
	switch step {
	case StepPhone:
		p.RequestContact = e.tr.T(lang, "btn.share_phone")
	case StepAttachments:
		if n := len(Attachments(d)); n > 0 {
			p.Text = e.tr.T(lang, "prompt.attachments_more", n, MaxAttachments)
		}
	case StepConfirm:
		p.Text = joinText(e.tr.T(lang, "summary.title")+"\n\n"+e.describe(lang, d), p.Text)
	}
	if _, ok := backTable[step]; ok {
		p.Nav = append(p.Nav, e.tr.T(lang, "btn.back"))
	}
	p.Nav = append(p.Nav, e.tr.T(lang, "btn.cancel"))
	return p, nil
}

var summaryFields = []struct{ label, key string }{
	{"field.org_type", labelKey(KeyOrgType)},
	{"field.region", labelKey(KeyRegion)},
	{"field.district", labelKey(KeyDistrict)},
	{"field.neighborhood", labelKey(KeyNeighborhood)},
	{"field.organization", labelKey(KeyOrganization)},
	{"field.full_name", KeyFullName},
	{"field.phone", KeyPhone},
}

// describe renders the collected appeal fields.
func (e *Engine) describe(lang string, d state.Data) string {
	var b strings.Builder
	for _, f := range summaryFields {
		if v := d.Get(f.key); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", e.tr.T(lang, f.label), v)
		}
	}
	if n := len(Attachments(d)); n > 0 {
		fmt.Fprintf(&b, "%s: %d\n", e.tr.T(lang, "field.attachments"), n)
	}
	fmt.Fprintf(&b, "\n%s:\n%s", e.tr.T(lang, "field.appeal_text"), Body(d))
	return b.String()
}

func joinText(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
