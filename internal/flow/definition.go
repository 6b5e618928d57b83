package flow

import (
	"context"
	"strconv"

	"github.com/m3rciful/appealbot/core/telegram/state"
)

// capability is the set of input kinds a step accepts.
type capability uint8

const (
	acceptText capability = 1 << iota
	acceptFile
	acceptContact
	acceptSelection
)

func (c capability) has(v capability) bool { return c&v != 0 }

type optionsFunc func(ctx context.Context, ref Reference, tr Localizer, lang string, d state.Data) ([]Option, error)

type stepSpec struct {
	prompt  string
	accepts capability
	minLen  int
	maxLen  int
	options optionsFunc
}

var steps = map[state.State]stepSpec{
	StepOrgType:      {prompt: "prompt.org_type", accepts: acceptSelection, options: orgTypeOptions},
	StepRegion:       {prompt: "prompt.region", accepts: acceptSelection, options: regionOptions},
	StepDistrict:     {prompt: "prompt.district", accepts: acceptSelection, options: districtOptions},
	StepNeighborhood: {prompt: "prompt.neighborhood", accepts: acceptSelection, options: neighborhoodOptions},
	StepOrganization: {prompt: "prompt.organization", accepts: acceptSelection, options: organizationOptions},
	StepFullName:     {prompt: "prompt.full_name", accepts: acceptText, minLen: MinFullName, maxLen: MaxFullName},
	StepPhone:        {prompt: "prompt.phone", accepts: acceptText | acceptContact},
	StepBody:         {prompt: "prompt.appeal_text", accepts: acceptText, minLen: MinBody, maxLen: MaxBody},
	StepAttachments:  {prompt: "prompt.attachments", accepts: acceptFile | acceptSelection, options: attachmentOptions},
	StepAIFormat:     {prompt: "prompt.ai_format", accepts: acceptSelection, options: fixedOptions(TokenYes, "btn.yes", TokenNo, "btn.no")},
	StepConfirm:      {prompt: "prompt.confirm", accepts: acceptSelection, options: fixedOptions(TokenYes, "btn.send", TokenNo, "btn.discard")},
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func orgTypeOptions(ctx context.Context, ref Reference, _ Localizer, lang string, _ state.Data) ([]Option, error) {
	types, err := ref.OrganizationTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(types))
	for _, t := range types {
		out = append(out, Option{Token: t.Tag, Label: t.For(lang)})
	}
	return out, nil
}

func regionOptions(ctx context.Context, ref Reference, _ Localizer, lang string, _ state.Data) ([]Option, error) {
	regions, err := ref.Regions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(regions))
	for _, r := range regions {
		out = append(out, Option{Token: id(r.ID), Label: r.For(lang)})
	}
	return out, nil
}

func districtOptions(ctx context.Context, ref Reference, _ Localizer, lang string, d state.Data) ([]Option, error) {
	regionID, ok := parseID(d, KeyRegion)
	if !ok {
		return nil, nil
	}
	districts, err := ref.Districts(ctx, regionID)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(districts))
	for _, x := range districts {
		out = append(out, Option{Token: id(x.ID), Label: x.For(lang)})
	}
	return out, nil
}

// neighborhoodOptions always offers skip: a district-level appeal carries no neighborhood.
func neighborhoodOptions(ctx context.Context, ref Reference, tr Localizer, lang string, d state.Data) ([]Option, error) {
	districtID, ok := parseID(d, KeyDistrict)
	if !ok {
		return nil, nil
	}
	hoods, err := ref.Neighborhoods(ctx, districtID)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(hoods)+1)
	for _, n := range hoods {
		out = append(out, Option{Token: id(n.ID), Label: n.For(lang)})
	}
	return append(out, Option{Token: TokenSkip, Label: tr.T(lang, "btn.skip")}), nil
}

func organizationOptions(ctx context.Context, ref Reference, _ Localizer, lang string, d state.Data) ([]Option, error) {
	orgs, err := ref.Organizations(ctx, d.Get(KeyOrgType))
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, Option{Token: id(o.ID), Label: o.For(lang)})
	}
	return out, nil
}

func attachmentOptions(_ context.Context, _ Reference, tr Localizer, lang string, d state.Data) ([]Option, error) {
	if len(Attachments(d)) == 0 {
		return []Option{{Token: TokenDone, Label: tr.T(lang, "btn.skip")}}, nil
	}
	return []Option{{Token: TokenDone, Label: tr.T(lang, "btn.done")}}, nil
}

// fixedOptions builds an options func from token/key pairs.
func fixedOptions(pairs ...string) optionsFunc {
	return func(_ context.Context, _ Reference, tr Localizer, lang string, _ state.Data) ([]Option, error) {
		out := make([]Option, 0, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			out = append(out, Option{Token: pairs[i], Label: tr.T(lang, pairs[i+1])})
		}
		return out, nil
	}
}
