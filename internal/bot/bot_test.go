package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/m3rciful/appealbot/core/telegram"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/flow"
	"github.com/m3rciful/appealbot/internal/i18n"
	"github.com/m3rciful/appealbot/internal/rating"
	"github.com/m3rciful/appealbot/internal/storage"

	tele "gopkg.in/telebot.v4"
)

type sentMsg struct {
	to   string
	what any
	opts []any
}

type fakeAPI struct {
	mu     sync.Mutex
	sent   []sentMsg
	albums []tele.Album
	fail   error
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, sentMsg{to: to.Recipient(), what: what, opts: opts})
	return &tele.Message{}, nil
}

func (f *fakeAPI) SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albums = append(f.albums, a)
	return make([]tele.Message, len(a)), nil
}

type fakeFlow struct {
	events []flow.Event
	users  []flow.User
	resets []int64
	active bool
}

func (f *fakeFlow) Handle(_ context.Context, u flow.User, ev flow.Event) error {
	f.users = append(f.users, u)
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeFlow) InProgress(context.Context, int64) bool { return f.active }

func (f *fakeFlow) Reset(_ context.Context, userID int64) error {
	f.resets = append(f.resets, userID)
	return nil
}

type fakeRecords struct {
	list    []appeal.Appeal
	updated *appeal.Appeal
	err     error
	counts  storage.StatusCounts
}

func (f *fakeRecords) AppealsByUser(context.Context, int64, int) ([]appeal.Appeal, error) {
	return f.list, f.err
}

func (f *fakeRecords) UpdateStatus(_ context.Context, id int64, st appeal.Status, _ int64) (*appeal.Appeal, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := *f.updated
	a.ID = id
	a.Status = st
	return &a, nil
}

func (f *fakeRecords) CountByStatus(context.Context) (storage.StatusCounts, error) {
	return f.counts, f.err
}

type fakeRatings struct {
	until time.Time
}

func (fakeRatings) Rating(context.Context, int64) (int, error) { return 80, nil }

func (f fakeRatings) BlockedUntil(context.Context, int64) (time.Time, bool, error) {
	return f.until, !f.until.IsZero(), nil
}

// fakeContext implements the parts of tele.Context the handlers touch.
type fakeContext struct {
	tele.Context
	msg      *tele.Message
	cb       *tele.Callback
	store    map[string]any
	edits    []any
	answers  []*tele.CallbackResponse
	sendings []any
}

func newContext(msg *tele.Message) *fakeContext {
	return &fakeContext{msg: msg, store: map[string]any{}}
}

func (c *fakeContext) Update() tele.Update   { return tele.Update{ID: 1, Message: c.msg, Callback: c.cb} }
func (c *fakeContext) Message() *tele.Message { return c.msg }
func (c *fakeContext) Callback() *tele.Callback {
	return c.cb
}
func (c *fakeContext) Sender() *tele.User {
	if c.cb != nil {
		return c.cb.Sender
	}
	return c.msg.Sender
}
func (c *fakeContext) Chat() *tele.Chat { return c.msg.Chat }
func (c *fakeContext) Text() string     { return c.msg.Text }
func (c *fakeContext) Args() []string   { return strings.Fields(c.msg.Payload) }
func (c *fakeContext) Get(k string) any { return c.store[k] }
func (c *fakeContext) Set(k string, v any) {
	c.store[k] = v
}
func (c *fakeContext) Send(what interface{}, _ ...interface{}) error {
	c.sendings = append(c.sendings, what)
	return nil
}
func (c *fakeContext) Edit(what interface{}, _ ...interface{}) error {
	c.edits = append(c.edits, what)
	return nil
}
func (c *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	c.answers = append(c.answers, resp...)
	return nil
}

type harness struct {
	bot     *Bot
	flow    *fakeFlow
	records *fakeRecords
	api     *fakeAPI
	tr      *i18n.Translator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr, err := i18n.Load("uz")
	require.NoError(t, err)
	h := &harness{
		flow:    &fakeFlow{},
		records: &fakeRecords{updated: &appeal.Appeal{ChatID: 4242, Language: "ru"}},
		api:     &fakeAPI{},
		tr:      tr,
	}
	out := NewMessenger(tr)
	out.Attach(h.api, nil)
	h.bot = New(Deps{
		Flow:       h.flow,
		Records:    h.records,
		Ratings:    fakeRatings{until: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)},
		Translator: tr,
		Messenger:  out,
		AdminID:    1,
		Location:   time.FixedZone("UZT", 5*60*60),
	})
	return h
}

func privateMessage(text string) *tele.Message {
	return &tele.Message{
		Text:   text,
		Sender: &tele.User{ID: 42, LanguageCode: "en"},
		Chat:   &tele.Chat{ID: 4242, Type: tele.ChatPrivate},
	}
}

func TestEventFrom(t *testing.T) {
	cases := []struct {
		name string
		msg  *tele.Message
		want flow.Event
		ok   bool
	}{
		{"text", &tele.Message{Text: "hello"}, flow.Text("hello"), true},
		{"contact", &tele.Message{Contact: &tele.Contact{PhoneNumber: "+998901234567"}}, flow.Contact("+998901234567"), true},
		{"photo", &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "p1"}}},
			flow.File(appeal.Attachment{FileID: "p1", FileType: appeal.FilePhoto}), true},
		{"document", &tele.Message{Document: &tele.Document{File: tele.File{FileID: "d1"}, FileName: "act.pdf"}},
			flow.File(appeal.Attachment{FileID: "d1", FileType: appeal.FileDocument, FileName: "act.pdf"}), true},
		{"video", &tele.Message{Video: &tele.Video{File: tele.File{FileID: "v1"}}},
			flow.File(appeal.Attachment{FileID: "v1", FileType: appeal.FileVideo}), true},
		{"sticker", &tele.Message{Sticker: &tele.Sticker{}}, flow.Event{}, false},
		{"nil", nil, flow.Event{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := eventFrom(tc.msg)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestManagerHandlerForwardsEvents(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.bot.ManagerHandler(newContext(privateMessage("Pothole on the street"))))
	require.NoError(t, h.bot.ManagerHandler(newContext(privateMessage(h.tr.T("ru", "btn.new_appeal")))))

	require.Len(t, h.flow.events, 2)
	assert.Equal(t, flow.Text("Pothole on the street"), h.flow.events[0])
	assert.Equal(t, flow.Begin(), h.flow.events[1], "menu label restarts in any language")
	assert.Equal(t, flow.User{ID: 42, ChatID: 4242, Language: "en"}, h.flow.users[0])
}

func TestManagerHandlerIgnoresGroupChats(t *testing.T) {
	h := newHarness(t)
	msg := privateMessage("hi")
	msg.Chat.Type = tele.ChatGroup

	require.NoError(t, h.bot.ManagerHandler(newContext(msg)))
	assert.Empty(t, h.flow.events)
}

func TestRegisterAddsMenuAliases(t *testing.T) {
	h := newHarness(t)
	reg := tg.NewRegistry()
	require.NoError(t, h.bot.Register(reg))

	for _, lang := range h.tr.Languages() {
		key, _, ok := reg.LookupCommand(h.tr.T(lang, "btn.my_appeals"))
		require.True(t, ok, lang)
		assert.Equal(t, "/my", key)
	}
	visible := reg.ListCommands(true)
	for _, cmd := range visible {
		assert.NotEqual(t, "stats", cmd.Text, "admin commands stay out of the public menu")
	}
	_, ok := reg.GetCallback(StatusCallback)
	assert.True(t, ok)
}

func TestStartResetsSession(t *testing.T) {
	h := newHarness(t)
	c := newContext(privateMessage("/start"))

	require.NoError(t, h.bot.onStart(c))
	assert.Equal(t, []int64{42}, h.flow.resets)
	require.Len(t, c.sendings, 1)
	assert.Equal(t, h.tr.T("en", "welcome"), c.sendings[0])
}

func TestMyAppealsListing(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, h.tr.T("en", "my.empty"), h.bot.myAppeals("en", nil))

	created := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	got := h.bot.myAppeals("en", []appeal.Appeal{{ID: 12, Status: appeal.StatusCompleted, CreatedAt: created}})
	assert.Equal(t, h.tr.T("en", "my.header")+"\n"+h.tr.T("en", "my.item", "#000012", "09.03.2024", h.tr.T("en", "status.completed")), got)
}

func TestParseStatusPayload(t *testing.T) {
	id, st, ok := parseStatusPayload([]string{"15", "completed"})
	require.True(t, ok)
	assert.Equal(t, int64(15), id)
	assert.Equal(t, appeal.StatusCompleted, st)

	for _, parts := range [][]string{{"15"}, {"x", "completed"}, {"15", "pending"}, {"15", "lost"}, {"-1", "rejected"}} {
		_, _, ok := parseStatusPayload(parts)
		assert.False(t, ok, parts)
	}
}

func statusContext(userID int64, data string) *fakeContext {
	c := newContext(&tele.Message{
		Text: "New appeal #000015",
		Chat: &tele.Chat{ID: -1001, Type: tele.ChatChannel},
	})
	c.cb = &tele.Callback{Sender: &tele.User{ID: userID, Username: "moder"}, Data: "\f" + StatusCallback + "|" + data}
	return c
}

func TestStatusCallbackByChannelAdmin(t *testing.T) {
	h := newHarness(t)
	h.bot.admins = func(tele.Context) ([]tele.ChatMember, error) {
		return []tele.ChatMember{{User: &tele.User{ID: 77}}}, nil
	}
	c := statusContext(77, "15|rejected")

	require.NoError(t, h.bot.onStatus(c))

	lang := h.tr.Fallback()
	require.Len(t, c.edits, 1)
	assert.Equal(t, "New appeal #000015\n\n"+h.tr.T(lang, "channel.status_updated", h.tr.T(lang, "status.rejected"), "@moder"), c.edits[0])

	require.Len(t, h.api.sent, 1)
	assert.Equal(t, "4242", h.api.sent[0].to)
	assert.Equal(t, h.tr.T("ru", "status.changed", "#000015", h.tr.T("ru", "status.rejected")), h.api.sent[0].what)

	require.Len(t, c.answers, 1)
	assert.Equal(t, h.tr.T(lang, "admin.status_saved"), c.answers[0].Text)
}

func TestStatusCallbackRejectsOutsiders(t *testing.T) {
	h := newHarness(t)
	h.bot.admins = func(tele.Context) ([]tele.ChatMember, error) {
		return nil, errors.New("forbidden")
	}
	c := statusContext(99, "15|completed")

	require.NoError(t, h.bot.onStatus(c))
	assert.Empty(t, c.edits)
	assert.Empty(t, h.api.sent)
	require.Len(t, c.answers, 1)
	assert.True(t, c.answers[0].ShowAlert)
}

func TestStatusCallbackConfiguredAdmin(t *testing.T) {
	h := newHarness(t)
	h.bot.admins = nil
	c := statusContext(1, "15|completed")

	require.NoError(t, h.bot.onStatus(c))
	assert.Len(t, c.edits, 1)
}

func TestStatusCallbackUnknownAppeal(t *testing.T) {
	h := newHarness(t)
	h.records.err = appeal.ErrNotFound
	c := statusContext(1, "404|completed")

	require.NoError(t, h.bot.onStatus(c))
	assert.Empty(t, c.edits)
	require.Len(t, c.answers, 1)
	assert.Equal(t, h.tr.T(h.tr.Fallback(), "admin.bad_request"), c.answers[0].Text)
}

func TestStatsSummary(t *testing.T) {
	h := newHarness(t)
	h.records.counts = storage.StatusCounts{Pending: 2, Completed: 3, Rejected: 1}
	c := newContext(privateMessage("/stats"))

	require.NoError(t, h.bot.onStats(c))
	require.Len(t, c.sendings, 1)
	assert.Equal(t, h.tr.T("en", "stats.summary", 6, 2, 3, 1), c.sendings[0])
}

func TestRatingShowsBlockInConfiguredZone(t *testing.T) {
	h := newHarness(t)
	msg := privateMessage("/rating 42")
	msg.Payload = "42"
	c := newContext(msg)

	require.NoError(t, h.bot.onRating(c))
	require.Len(t, c.sendings, 1)
	want := h.tr.T("en", "rating.summary", int64(42), 80, rating.Band(80)) + "\n" +
		h.tr.T("en", "rating.blocked", "02.03.2025 14:00 UZT")
	assert.Equal(t, want, c.sendings[0])
}
