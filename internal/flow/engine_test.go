package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/admission"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/i18n"
	"github.com/m3rciful/appealbot/internal/moderation"
	"github.com/m3rciful/appealbot/internal/routing"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type sent struct {
	chatID int64
	prompt Prompt
}

type fakeMessenger struct {
	mu    sync.Mutex
	sends []sent
	posts []ChannelPost
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, p Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sent{chatID: chatID, prompt: p})
	return nil
}

func (m *fakeMessenger) Post(_ context.Context, post ChannelPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, post)
	return nil
}

func (m *fakeMessenger) last() Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		return Prompt{}
	}
	return m.sends[len(m.sends)-1].prompt
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sends))
	for _, s := range m.sends {
		out = append(out, s.prompt.Text)
	}
	return out
}

type fakeReference struct{}

func names(en string) appeal.Names { return appeal.Names{Uz: en + " (uz)", En: en} }

func (fakeReference) OrganizationTypes(context.Context) ([]appeal.OrganizationType, error) {
	return []appeal.OrganizationType{
		{Tag: "gov.khokimiyat", Names: names("Khokimiyat")},
		{Tag: "edu.school", Names: names("School")},
	}, nil
}

func (fakeReference) Regions(context.Context) ([]appeal.Region, error) {
	return []appeal.Region{{ID: 10, Names: names("Region A")}}, nil
}

func (fakeReference) Districts(_ context.Context, regionID int64) ([]appeal.District, error) {
	if regionID != 10 {
		return nil, nil
	}
	return []appeal.District{{ID: 20, RegionID: 10, Names: names("District B")}}, nil
}

func (fakeReference) Neighborhoods(_ context.Context, districtID int64) ([]appeal.Neighborhood, error) {
	return []appeal.Neighborhood{{ID: 30, DistrictID: districtID, Names: names("Mahalla C")}}, nil
}

func (fakeReference) Organizations(_ context.Context, typeTag string) ([]appeal.Organization, error) {
	return []appeal.Organization{{ID: 7, Type: typeTag, Names: names("Org O")}}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	appeals []*appeal.Appeal
	files   [][]appeal.Attachment
	err     error
}

func (r *fakeRecorder) CreateAppeal(_ context.Context, a *appeal.Appeal, files []appeal.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	a.ID = int64(len(r.appeals) + 1)
	a.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r.appeals = append(r.appeals, a)
	r.files = append(r.files, files)
	return nil
}

type finder map[string]*appeal.Destination

func (f finder) FindDestination(_ context.Context, t appeal.Target) (*appeal.Destination, error) {
	if d, ok := f[t.String()]; ok {
		return d, nil
	}
	return nil, appeal.ErrNotFound
}

func destination(id int64, chat int64, title string) *appeal.Destination {
	return &appeal.Destination{ID: id, ChatID: chat, Title: title, IsActive: true, SubscriptionStatus: appeal.SubscriptionActive}
}

type stubModerator struct{ verdict moderation.Verdict }

func (s *stubModerator) Moderate(context.Context, string, int64) moderation.Verdict { return s.verdict }

type stubFormatter struct {
	out string
	err error
}

func (f stubFormatter) Format(context.Context, string) (string, error) { return f.out, f.err }

type harness struct {
	t         *testing.T
	engine    *Engine
	store     *state.MemoryStore
	clock     *clock
	out       *fakeMessenger
	records   *fakeRecorder
	moderator *stubModerator
	admission *admission.Controller
	tr        *i18n.Translator
	user      User
}

var tashkent = time.FixedZone("UZT", 5*60*60)

func newHarness(t *testing.T, dests finder, formatter Formatter) *harness {
	t.Helper()
	tr, err := i18n.Load(i18n.DefaultLanguage)
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		t:         t,
		store:     state.NewMemoryStore(state.DefaultTTL, c.Now),
		clock:     c,
		out:       &fakeMessenger{},
		records:   &fakeRecorder{},
		moderator: &stubModerator{verdict: moderation.Verdict{Approved: true, Score: 90}},
		admission: admission.NewController(admission.NewMemoryStore(), admission.DefaultConfig(), c.Now),
		tr:        tr,
		user:      User{ID: 42, ChatID: 4242, Language: "en-US"},
	}
	h.engine = NewEngine(Deps{
		Store:     h.store,
		Localizer: tr,
		Reference: fakeReference{},
		Messenger: h.out,
		Admission: h.admission,
		Moderator: h.moderator,
		Router:    routing.NewResolver(dests),
		Records:   h.records,
		Formatter: formatter,
		Location:  tashkent,
	})
	return h
}

func (h *harness) send(ev Event) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Handle(context.Background(), h.user, ev))
}

func (h *harness) session() *state.Session {
	h.t.Helper()
	s, ok, err := h.store.Get(context.Background(), h.user.ID)
	require.NoError(h.t, err)
	if !ok {
		return nil
	}
	return s
}

func (h *harness) step() state.State {
	if s := h.session(); s != nil {
		return s.Step
	}
	return ""
}

func (h *harness) en(key string, args ...any) string { return h.tr.T("en", key, args...) }

const appealText = "The street light near school 12 has been broken for weeks."

// fillToConfirm walks a government appeal from the start to the confirm step.
func (h *harness) fillToConfirm(body string) {
	h.t.Helper()
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	h.send(Text("Org O"))
	h.send(Text("Ali Valiyev"))
	h.send(Contact("+998901234567"))
	h.submitBody(body)
}

func (h *harness) submitBody(body string) {
	h.t.Helper()
	h.send(Text(body))
	require.Equal(h.t, StepAttachments, h.step())
	h.send(Selection(TokenDone))
	require.Equal(h.t, StepConfirm, h.step())
}

func twoTierDestinations() finder {
	return finder{
		"10/20/-/7": destination(3, -1003, "District B / Org O"),
		"10/-/-/7":  destination(4, -1004, "Region A / Org O"),
	}
}

func TestHappyPathRoutesToDistrictDestination(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)

	h.send(Begin())
	assert.Equal(t, StepOrgType, h.step())
	assert.Equal(t, h.en("prompt.org_type"), h.out.last().Text)
	assert.Equal(t, []string{h.en("btn.cancel")}, h.out.last().Nav)

	h.fillToConfirm(appealText)
	confirm := h.out.last()
	assert.Contains(t, confirm.Text, "Ali Valiyev")
	assert.Contains(t, confirm.Text, "+998901234567")
	assert.Contains(t, confirm.Text, appealText)
	assert.False(t, h.session().Data.Has(KeyFormatted))

	h.send(Selection(TokenYes))

	assert.Nil(t, h.session(), "session is cleared after commit")
	require.Len(t, h.records.appeals, 1)
	rec := h.records.appeals[0]
	assert.Equal(t, appeal.StatusPending, rec.Status)
	assert.Equal(t, int64(3), rec.DestinationID)
	assert.Equal(t, int64(10), rec.RegionID)
	require.NotNil(t, rec.DistrictID)
	assert.Equal(t, int64(20), *rec.DistrictID)
	assert.Nil(t, rec.NeighborhoodID)
	assert.Equal(t, "en", rec.Language)
	assert.Equal(t, appealText, rec.Body)

	require.Len(t, h.out.posts, 1)
	post := h.out.posts[0]
	assert.Equal(t, int64(-1003), post.ChatID)
	assert.Equal(t, rec.ID, post.AppealID)
	assert.Contains(t, post.Text, appeal.FormatNumber(rec.ID))
	assert.Contains(t, h.out.texts(), h.en("submitted", rec.Number(), "District B / Org O"))
}

func TestHappyPathFallsBackToRegionDestination(t *testing.T) {
	h := newHarness(t, finder{"10/-/-/7": destination(4, -1004, "Region A / Org O")}, nil)

	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))

	require.Len(t, h.records.appeals, 1)
	assert.Equal(t, int64(4), h.records.appeals[0].DestinationID)
	require.Len(t, h.out.posts, 1)
	assert.Equal(t, int64(-1004), h.out.posts[0].ChatID)
}

func TestUnresolvedRoutingCreatesNothing(t *testing.T) {
	h := newHarness(t, finder{}, nil)

	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))

	assert.Empty(t, h.records.appeals)
	assert.Empty(t, h.out.posts)
	assert.Equal(t, h.en("routing.unresolved"), h.out.last().Text)
	assert.True(t, h.out.last().Menu)
	assert.Nil(t, h.session())
}

func TestValidationLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	h.send(Text("Org O"))
	require.Equal(t, StepFullName, h.step())
	before := h.session().Data.Clone()

	h.send(Text("Al"))
	assert.Equal(t, StepFullName, h.step())
	assert.Equal(t, before, h.session().Data)
	assert.True(t, strings.HasPrefix(h.out.last().Text, h.en("err.too_short", MinFullName)))

	h.send(File(appeal.Attachment{FileID: "p", FileType: appeal.FilePhoto}))
	assert.Equal(t, StepFullName, h.step())
	assert.True(t, strings.HasPrefix(h.out.last().Text, h.en("err.text_required")))

	h.send(Text("Ali Valiyev"))
	assert.Equal(t, StepPhone, h.step())
	assert.Equal(t, h.en("btn.share_phone"), h.out.last().RequestContact)
}

func TestUnknownOptionReprompts(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.send(Begin())
	h.send(Text("Bank"))

	assert.Equal(t, StepOrgType, h.step())
	assert.True(t, strings.HasPrefix(h.out.last().Text, h.en("err.unknown_option")))
	assert.Len(t, h.out.last().Options, 2)
}

func TestExpiredSessionRestarts(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	require.Equal(t, StepRegion, h.step())

	h.clock.Advance(state.DefaultTTL + time.Minute)
	h.send(Text("Region A"))

	assert.Equal(t, StepOrgType, h.step())
	assert.Equal(t, h.en("prompt.org_type"), h.out.last().Text)
}

func TestCancelAndBack(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	require.Equal(t, StepDistrict, h.step())

	h.send(Text(h.en("btn.back")))
	assert.Equal(t, StepRegion, h.step())
	assert.Equal(t, "10", h.session().Data.Get(KeyRegion))

	h.send(Selection(TokenCancel))
	assert.Nil(t, h.session())
	assert.Equal(t, h.en("cancelled"), h.out.last().Text)
	assert.True(t, h.out.last().Menu)
}

func TestDeclineAtConfirmCancels(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.fillToConfirm(appealText)
	h.send(Selection(TokenNo))

	assert.Nil(t, h.session())
	assert.Empty(t, h.records.appeals)
	assert.Equal(t, h.en("cancelled"), h.out.last().Text)
}

func TestDuplicateSubmissionDenied(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))
	require.Len(t, h.records.appeals, 1)

	h.clock.Advance(time.Minute)
	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))

	assert.Len(t, h.records.appeals, 1)
	assert.Equal(t, h.en("deny.duplicate"), h.out.last().Text)
	assert.Nil(t, h.session())
}

func TestModerationRejectionReturnsToText(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.moderator.verdict = moderation.Verdict{Approved: false, Reason: "insults", Score: 10, Suggestion: "stay polite"}

	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))

	assert.Equal(t, StepBody, h.step())
	d := h.session().Data
	assert.False(t, d.Has(KeyBody))
	assert.Equal(t, "Ali Valiyev", d.Get(KeyFullName))
	assert.Contains(t, h.out.last().Text, h.en("moderation.rejected", "insults"))
	assert.Contains(t, h.out.last().Text, h.en("moderation.suggestion", "stay polite"))
	assert.Empty(t, h.records.appeals)
}

func TestRepeatedRejectionsEscalateToBlock(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.moderator.verdict = moderation.Verdict{Approved: false, Reason: "spam", Score: 5}

	h.fillToConfirm(appealText)
	h.send(Selection(TokenYes))
	rejections := 1
	for h.step() == StepBody {
		require.Less(t, rejections, 10, "rejections never escalated")
		h.submitBody(appealText)
		h.send(Selection(TokenYes))
		rejections++
	}

	assert.Equal(t, 6, rejections)
	assert.Nil(t, h.session())
	assert.Contains(t, h.out.last().Text, h.en("moderation.blocked"))

	_, blocked, err := h.admission.BlockedUntil(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	h.moderator.verdict = moderation.Verdict{Approved: true}
	h.fillToConfirm("A completely different appeal about road repairs in the district.")
	h.send(Selection(TokenYes))
	assert.Empty(t, h.records.appeals)
	assert.Equal(t, h.en("deny.blocked", "02.03.2025 14:00 UZT"), h.out.last().Text)
}

func TestInvalidPhoneBlocksAtLimit(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	h.send(Text("Org O"))
	h.send(Text("Ali Valiyev"))
	require.Equal(t, StepPhone, h.step())

	limit := admission.DefaultConfig().InvalidLimit
	for i := 1; i < limit; i++ {
		h.send(Text("12345"))
		require.Equal(t, StepPhone, h.step())
	}
	h.send(Text("12345"))
	assert.Nil(t, h.session())
	assert.Equal(t, h.en("deny.invalid_input"), h.out.last().Text)
}

func TestFormatterRewritesBody(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), stubFormatter{out: "A polite version of the appeal text."})
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	h.send(Text("Org O"))
	h.send(Text("Ali Valiyev"))
	h.send(Contact("+998901234567"))
	h.send(Text(appealText))
	h.send(Selection(TokenDone))
	require.Equal(t, StepAIFormat, h.step())

	h.send(Selection(TokenYes))
	require.Equal(t, StepConfirm, h.step())
	assert.Contains(t, h.out.last().Text, "A polite version of the appeal text.")

	h.send(Selection(TokenYes))
	require.Len(t, h.records.appeals, 1)
	assert.Equal(t, "A polite version of the appeal text.", h.records.appeals[0].Body)
}

func TestFormatterFailureKeepsOriginal(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), stubFormatter{err: errors.New("upstream down")})
	h.send(Begin())
	h.send(Selection("gov.khokimiyat"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	h.send(Text("Org O"))
	h.send(Text("Ali Valiyev"))
	h.send(Contact("+998901234567"))
	h.send(Text(appealText))
	h.send(Selection(TokenDone))
	h.send(Selection(TokenYes))

	require.Equal(t, StepConfirm, h.step())
	assert.True(t, strings.HasPrefix(h.out.last().Text, h.en("format_failed")))
	assert.Equal(t, "false", h.session().Data.Get(KeyAIFormat))
	assert.Equal(t, appealText, Body(h.session().Data))
}

func TestRecorderFailureKeepsSession(t *testing.T) {
	h := newHarness(t, twoTierDestinations(), nil)
	h.records.err = errors.New("db down")

	h.fillToConfirm(appealText)
	err := h.engine.Handle(context.Background(), h.user, Selection(TokenYes))
	require.Error(t, err)
	assert.Equal(t, StepConfirm, h.step())
	assert.Equal(t, h.en("failure"), h.out.last().Text)
}

func TestEducationAppealCarriesNeighborhood(t *testing.T) {
	dests := finder{"10/20/30/7": destination(9, -1009, "Mahalla C / Org O")}
	h := newHarness(t, dests, nil)
	h.send(Begin())
	h.send(Selection("edu.school"))
	h.send(Text("Region A"))
	h.send(Text("District B"))
	require.Equal(t, StepNeighborhood, h.step())
	assert.Equal(t, TokenSkip, h.out.last().Options[len(h.out.last().Options)-1].Token)
	h.send(Text("Mahalla C"))
	h.send(Text("Org O"))
	h.send(Text("Ali Valiyev"))
	h.send(Contact("+998901234567"))
	h.submitBody(appealText)
	h.send(Selection(TokenYes))

	require.Len(t, h.records.appeals, 1)
	rec := h.records.appeals[0]
	require.NotNil(t, rec.NeighborhoodID)
	assert.Equal(t, int64(30), *rec.NeighborhoodID)
	assert.Equal(t, int64(9), rec.DestinationID)
}
