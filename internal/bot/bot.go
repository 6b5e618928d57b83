// Package bot adapts the appeal flow to Telegram: commands, the conversation
// handler, the channel status buttons and outbound delivery.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/appealbot/core/logger"
	tg "github.com/m3rciful/appealbot/core/telegram"
	"github.com/m3rciful/appealbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/appealbot/core/telegram/helpers"
	"github.com/m3rciful/appealbot/core/telegram/router"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/flow"
	"github.com/m3rciful/appealbot/internal/storage"

	tele "gopkg.in/telebot.v4"
)

const component = "bot"

// myAppealsLimit caps the /my listing.
const myAppealsLimit = 10

// Conversation is the flow engine as seen by the transport.
type Conversation interface {
	Handle(ctx context.Context, u flow.User, ev flow.Event) error
	InProgress(ctx context.Context, userID int64) bool
	Reset(ctx context.Context, userID int64) error
}

// Records reads and updates persisted appeals.
type Records interface {
	AppealsByUser(ctx context.Context, userID int64, limit int) ([]appeal.Appeal, error)
	UpdateStatus(ctx context.Context, id int64, status appeal.Status, actorID int64) (*appeal.Appeal, error)
	CountByStatus(ctx context.Context) (storage.StatusCounts, error)
}

// Ratings exposes behavior ratings to administrators.
type Ratings interface {
	Rating(ctx context.Context, userID int64) (int, error)
	BlockedUntil(ctx context.Context, userID int64) (time.Time, bool, error)
}

// Translator is the localizer plus label matching across languages.
type Translator interface {
	flow.Localizer
	Languages() []string
	Is(lang, key, input string) bool
}

// Deps wires the Bot.
type Deps struct {
	Flow       Conversation
	Records    Records
	Ratings    Ratings
	Translator Translator
	Messenger  *Messenger
	// AdminID may change any appeal status and run admin commands.
	AdminID int64
	// ChannelLanguage renders channel-side edits.
	ChannelLanguage string
	// Location renders dates; defaults to UTC.
	Location *time.Location
}

// Bot implements the Telegram surface of the appeal service.
type Bot struct {
	flow     Conversation
	records  Records
	ratings  Ratings
	tr       Translator
	out      *Messenger
	adminID  int64
	chanLang string
	loc      *time.Location
	admins   func(c tele.Context) ([]tele.ChatMember, error)
}

// New builds the Bot.
func New(d Deps) *Bot {
	lang := d.ChannelLanguage
	if lang == "" {
		lang = d.Translator.Fallback()
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		flow:     d.Flow,
		records:  d.Records,
		ratings:  d.Ratings,
		tr:       d.Translator,
		out:      d.Messenger,
		adminID:  d.AdminID,
		chanLang: lang,
		loc:      loc,
		admins: func(c tele.Context) ([]tele.ChatMember, error) {
			return c.Bot().AdminsOf(c.Chat())
		},
	}
}

// Register adds the bot's commands, callbacks and text fallback to reg.
func (b *Bot) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     b.onStart,
		Description: "Start the bot",
	})
	reg.RegisterCommand("/new", commands.Command{
		Handler:     b.onNew,
		Description: "Write a new appeal",
		Aliases:     b.labels("btn.new_appeal"),
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     b.onCancel,
		Description: "Cancel the current appeal",
	})
	reg.RegisterCommand("/my", commands.Command{
		Handler:     b.onMy,
		Description: "Show my appeals",
		Aliases:     b.labels("btn.my_appeals"),
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     b.onHelp,
		Description: "How to use the bot",
		Aliases:     b.labels("btn.help"),
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     b.onStats,
		Description: "Appeal counters",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/rating", commands.Command{
		Handler:     b.onRating,
		Description: "Behavior rating of a user",
		AdminOnly:   true,
	})
	// Anything else restarts the flow: the engine treats a missing session as
	// a fresh start.
	reg.SetTextFallback(b.ManagerHandler)
	return reg.RegisterCallback(StatusCallback, b.onStatus)
}

// Routes builds the command, callback, text and media routes.
func (b *Bot) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: b.adminID})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(b, reg, router.TextOptions{UnknownMedia: b.ManagerHandler})...)
	return routes
}

// OnStart attaches the running client and dispatcher to the messenger.
func (b *Bot) OnStart(_ context.Context, rt tg.Runtime) error {
	if rt.Bot == nil {
		return errNotReady
	}
	b.out.Attach(rt.Bot, rt.Dispatcher)
	return nil
}

// InProgress implements router.FSM.
func (b *Bot) InProgress(ctx context.Context, userID int64) bool {
	return b.flow.InProgress(ctx, userID)
}

// ManagerHandler implements router.FSM: forwards text and media to the flow.
func (b *Bot) ManagerHandler(c tele.Context) error {
	u, ok := userOf(c)
	if !ok {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	if b.isLabel("btn.new_appeal", c.Text()) {
		return b.flow.Handle(ctx, u, flow.Begin())
	}
	ev, ok := eventFrom(c.Message())
	if !ok {
		return nil
	}
	return b.flow.Handle(ctx, u, ev)
}

func (b *Bot) onStart(c tele.Context) error {
	u, ok := userOf(c)
	if !ok {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	if err := b.flow.Reset(ctx, u.ID); err != nil {
		logger.Warn(ctx, component, "session.reset_failed", slog.String("err", err.Error()))
	}
	lang := b.tr.Match(u.Language)
	return b.reply(c, lang, b.tr.T(lang, "welcome"))
}

func (b *Bot) onNew(c tele.Context) error {
	return b.forward(c, flow.Begin())
}

func (b *Bot) onCancel(c tele.Context) error {
	return b.forward(c, flow.Selection(flow.TokenCancel))
}

func (b *Bot) onHelp(c tele.Context) error {
	lang := b.langOf(c)
	return b.reply(c, lang, b.tr.T(lang, "help"))
}

func (b *Bot) onMy(c tele.Context) error {
	u, ok := userOf(c)
	if !ok {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	lang := b.tr.Match(u.Language)
	list, err := b.records.AppealsByUser(ctx, u.ID, myAppealsLimit)
	if err != nil {
		_ = b.reply(c, lang, b.tr.T(lang, "failure"))
		return err
	}
	return b.reply(c, lang, b.myAppeals(lang, list))
}

func (b *Bot) myAppeals(lang string, list []appeal.Appeal) string {
	if len(list) == 0 {
		return b.tr.T(lang, "my.empty")
	}
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, b.tr.T(lang, "my.header"))
	for i := range list {
		a := &list[i]
		lines = append(lines, b.tr.T(lang, "my.item",
			a.Number(),
			a.CreatedAt.In(b.loc).Format("02.01.2006"),
			b.tr.T(lang, "status."+string(a.Status)),
		))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) forward(c tele.Context, ev flow.Event) error {
	u, ok := userOf(c)
	if !ok {
		return nil
	}
	return b.flow.Handle(tghelpers.BuildContext(c), u, ev)
}

func (b *Bot) reply(c tele.Context, lang, text string) error {
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: menuMarkup(b.tr, lang)})
}

func (b *Bot) langOf(c tele.Context) string {
	if s := c.Sender(); s != nil {
		return b.tr.Match(s.LanguageCode)
	}
	return b.tr.Fallback()
}

// labels returns the rendered label of key in every language.
func (b *Bot) labels(key string) []string {
	langs := b.tr.Languages()
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		out = append(out, b.tr.T(lang, key))
	}
	return out
}

func (b *Bot) isLabel(key, text string) bool {
	for _, lang := range b.tr.Languages() {
		if b.tr.Is(lang, key, text) {
			return true
		}
	}
	return false
}

// userOf extracts the private-chat user; other chats are ignored.
func userOf(c tele.Context) (flow.User, bool) {
	s, chat := c.Sender(), c.Chat()
	if s == nil || chat == nil || chat.Type != tele.ChatPrivate {
		return flow.User{}, false
	}
	return flow.User{ID: s.ID, ChatID: chat.ID, Language: s.LanguageCode}, true
}
