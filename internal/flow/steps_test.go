package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/appeal"
)

func pick(token string) Input { return Input{Token: token, Label: "label-" + token} }

func TestFamilyOf(t *testing.T) {
	cases := map[string]Family{
		"gov.khokimiyat": FamilyGovernment,
		"EDU.school":     FamilyEducation,
		"health.clinic":  FamilyHealth,
		"reg":            FamilyRegistry,
		"bank.branch":    FamilyOther,
		"":               FamilyOther,
	}
	for tag, want := range cases {
		assert.Equal(t, want, FamilyOf(tag), tag)
	}
}

func TestLocationBranching(t *testing.T) {
	cases := []struct {
		tag  string
		path []state.State
	}{
		{"gov.khokimiyat", []state.State{StepRegion, StepDistrict, StepOrganization}},
		{"edu.school", []state.State{StepRegion, StepDistrict, StepNeighborhood, StepOrganization}},
		{"health.clinic", []state.State{StepRegion, StepDistrict, StepNeighborhood, StepOrganization}},
		{"reg.registry", []state.State{StepRegion, StepOrganization}},
		{"unknown.kind", []state.State{StepRegion, StepDistrict, StepOrganization}},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			step, d, err := Next(StepOrgType, state.Data{}, pick(tc.tag))
			require.NoError(t, err)
			got := []state.State{step}
			for step != StepOrganization {
				step, d, err = Next(step, d, pick("1"))
				require.NoError(t, err)
				got = append(got, step)
			}
			assert.Equal(t, tc.path, got)
		})
	}
}

func TestSelectionClearsDependentKeys(t *testing.T) {
	d := state.Data{
		KeyOrgType: "edu.school", KeyRegion: "1", KeyDistrict: "2", KeyNeighborhood: "3", KeyOrganization: "4",
		labelKey(KeyDistrict): "Old district",
	}
	next, out, err := Next(StepRegion, d, pick("9"))
	require.NoError(t, err)
	assert.Equal(t, StepDistrict, next)
	assert.Equal(t, "9", out.Get(KeyRegion))
	for _, k := range []string{KeyDistrict, KeyNeighborhood, KeyOrganization, labelKey(KeyDistrict)} {
		assert.False(t, out.Has(k), k)
	}
	assert.Equal(t, "2", d.Get(KeyDistrict), "input data must not be mutated")
}

func TestNeighborhoodSkip(t *testing.T) {
	d := state.Data{KeyOrgType: "edu.school", KeyRegion: "1", KeyDistrict: "2", KeyNeighborhood: "3"}
	next, out, err := Next(StepNeighborhood, d, Input{Token: TokenSkip})
	require.NoError(t, err)
	assert.Equal(t, StepOrganization, next)
	assert.False(t, out.Has(KeyNeighborhood))
}

func TestBackInvariance(t *testing.T) {
	d := state.Data{KeyOrgType: "gov.khokimiyat"}
	step, d, err := Next(StepOrgType, d, pick("gov.khokimiyat"))
	require.NoError(t, err)
	for step != StepFullName {
		prev := step
		var nextData state.Data
		step, nextData, err = Next(step, d, pick("5"))
		require.NoError(t, err)
		back, ok := Back(step, nextData)
		require.True(t, ok)
		assert.Equal(t, prev, back, "back from %s", step)
		d = nextData
	}

	for _, tag := range []string{"edu.school", "reg.registry"} {
		back, ok := Back(StepOrganization, state.Data{KeyOrgType: tag})
		require.True(t, ok)
		if tag == "edu.school" {
			assert.Equal(t, StepNeighborhood, back)
		} else {
			assert.Equal(t, StepRegion, back)
		}
	}

	_, ok := Back(StepOrgType, state.Data{})
	assert.False(t, ok)
}

func TestFullNameValidation(t *testing.T) {
	_, out, err := Next(StepFullName, state.Data{}, Input{Text: "  Ali   Valiyev "})
	require.NoError(t, err)
	assert.Equal(t, "Ali Valiyev", out.Get(KeyFullName))

	for _, bad := range []string{"Al", "R2D2 Droid"} {
		_, _, err := Next(StepFullName, state.Data{}, Input{Text: bad})
		var verr *appeal.ValidationError
		require.ErrorAs(t, err, &verr, bad)
		assert.Equal(t, "err.name_invalid", verr.Key)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+998901234567", "+998901234567", true},
		{"998 90 123-45-67", "+998901234567", true},
		{"(90) 123 45 67", "+998901234567", true},
		{"+7 900 123 45 67", "", false},
		{"call me", "", false},
		{"+99890123456", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestAttachmentsCap(t *testing.T) {
	d := state.Data{}
	var err error
	for i := 0; i < MaxAttachments; i++ {
		f := appeal.Attachment{FileID: "f", FileType: appeal.FilePhoto}
		var next state.State
		next, d, err = Next(StepAttachments, d, Input{File: &f})
		require.NoError(t, err)
		assert.Equal(t, StepAttachments, next)
	}
	assert.Len(t, Attachments(d), MaxAttachments)

	f := appeal.Attachment{FileID: "extra", FileType: appeal.FileDocument}
	_, _, err = Next(StepAttachments, d, Input{File: &f})
	var verr *appeal.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "err.too_many_files", verr.Key)

	next, _, err := Next(StepAttachments, d, Input{Token: TokenDone})
	require.NoError(t, err)
	assert.Equal(t, StepAIFormat, next)
}

func TestConfirmDecline(t *testing.T) {
	next, out, err := Next(StepConfirm, state.Data{KeyBody: "x"}, Input{Token: TokenNo})
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, next)
	assert.Empty(t, out)
}

func TestTargetOfFollowsRoute(t *testing.T) {
	gov := state.Data{KeyOrgType: "gov.x", KeyRegion: "10", KeyDistrict: "20", KeyNeighborhood: "30", KeyOrganization: "7"}
	tg, ok := TargetOf(gov)
	require.True(t, ok)
	assert.Equal(t, "10/20/-/7", tg.String())

	edu := gov.Clone()
	edu[KeyOrgType] = "edu.school"
	tg, ok = TargetOf(edu)
	require.True(t, ok)
	assert.Equal(t, "10/20/30/7", tg.String())

	reg := gov.Clone()
	reg[KeyOrgType] = "reg.office"
	tg, ok = TargetOf(reg)
	require.True(t, ok)
	assert.Equal(t, "10/-/-/7", tg.String())

	_, ok = TargetOf(state.Data{KeyRegion: "10"})
	assert.False(t, ok)
}

func TestBodyPrefersAcceptedFormatting(t *testing.T) {
	d := state.Data{KeyBody: "raw", KeyFormatted: "polished", KeyAIFormat: "true"}
	assert.Equal(t, "polished", Body(d))
	d[KeyAIFormat] = "false"
	assert.Equal(t, "raw", Body(d))
}
