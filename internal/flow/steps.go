// Package flow drives the guided appeal intake: a table of steps with pure
// transition functions, a branching table keyed by organization family, a
// back table, and the commit pipeline that gates and routes the finished
// appeal.
package flow

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/appeal"
)

// Steps of the intake flow.
const (
	StepOrgType      state.State = "org_type"
	StepRegion       state.State = "region"
	StepDistrict     state.State = "district"
	StepNeighborhood state.State = "neighborhood"
	StepOrganization state.State = "organization"
	StepFullName     state.State = "full_name"
	StepPhone        state.State = "phone"
	StepBody         state.State = "appeal_text"
	StepAttachments  state.State = "attachments"
	StepAIFormat     state.State = "ai_format"
	StepConfirm      state.State = "confirm"

	// stepCommit is produced by an affirmative confirmation; it is never stored.
	stepCommit state.State = "commit"
)

// EntryStep is where every flow instance starts.
const EntryStep = StepOrgType

// Session data keys.
const (
	KeyLang         = "lang"
	KeyOrgType      = "org_type"
	KeyRegion       = "region"
	KeyDistrict     = "district"
	KeyNeighborhood = "neighborhood"
	KeyOrganization = "organization"
	KeyFullName     = "full_name"
	KeyPhone        = "phone"
	KeyBody         = "body"
	KeyAttachments  = "attachments"
	KeyAIFormat     = "ai_format"
	KeyFormatted    = "formatted"
)

// Option tokens of the fixed-choice steps.
const (
	TokenSkip = "skip"
	TokenDone = "done"
	TokenYes  = "yes"
	TokenNo   = "no"
)

// Input limits.
const (
	MinFullName    = 3
	MaxFullName    = 100
	MinBody        = 20
	MaxBody        = 3000
	MaxAttachments = 5
)

func labelKey(key string) string { return key + "_label" }

// Family groups organization types that share the same location steps.
type Family string

const (
	FamilyGovernment Family = "gov"
	FamilyEducation  Family = "edu"
	FamilyHealth     Family = "health"
	FamilyRegistry   Family = "reg"
	FamilyOther      Family = "other"
)

// Route names the step following each location selection.
type Route struct {
	AfterRegion       state.State
	AfterDistrict     state.State
	AfterNeighborhood state.State
}

var routes = map[Family]Route{
	FamilyGovernment: {AfterRegion: StepDistrict, AfterDistrict: StepOrganization},
	FamilyEducation:  {AfterRegion: StepDistrict, AfterDistrict: StepNeighborhood, AfterNeighborhood: StepOrganization},
	FamilyHealth:     {AfterRegion: StepDistrict, AfterDistrict: StepNeighborhood, AfterNeighborhood: StepOrganization},
	FamilyRegistry:   {AfterRegion: StepOrganization},
	FamilyOther:      {AfterRegion: StepDistrict, AfterDistrict: StepOrganization},
}

// FamilyOf normalizes an organization type tag ("edu.school") to its family.
// Unknown prefixes map to FamilyOther.
func FamilyOf(tag string) Family {
	prefix, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(tag)), ".")
	f := Family(prefix)
	if _, ok := routes[f]; ok {
		return f
	}
	return FamilyOther
}

// RouteFor returns the location route of the organization type chosen in d.
func RouteFor(d state.Data) Route {
	return routes[FamilyOf(d.Get(KeyOrgType))]
}

// transition is a pure step function. It never mutates d.
type transition func(d state.Data, in Input) (state.State, state.Data, error)

func invalid(step state.State, key string, args ...any) error {
	return &appeal.ValidationError{Step: string(step), Key: key, Args: args}
}

// selected stores a chosen option and drops the listed dependent keys.
func selected(d state.Data, key string, in Input, drop ...string) state.Data {
	out := d.Clone()
	out[key] = in.Token
	out[labelKey(key)] = in.Label
	for _, k := range drop {
		delete(out, k)
		delete(out, labelKey(k))
	}
	return out
}

func nextOrOrganization(s state.State) state.State {
	if s == "" {
		return StepOrganization
	}
	return s
}

var transitions = map[state.State]transition{
	StepOrgType: func(d state.Data, in Input) (state.State, state.Data, error) {
		return StepRegion, selected(d, KeyOrgType, in, KeyRegion, KeyDistrict, KeyNeighborhood, KeyOrganization), nil
	},
	StepRegion: func(d state.Data, in Input) (state.State, state.Data, error) {
		out := selected(d, KeyRegion, in, KeyDistrict, KeyNeighborhood, KeyOrganization)
		return nextOrOrganization(RouteFor(out).AfterRegion), out, nil
	},
	StepDistrict: func(d state.Data, in Input) (state.State, state.Data, error) {
		out := selected(d, KeyDistrict, in, KeyNeighborhood, KeyOrganization)
		return nextOrOrganization(RouteFor(out).AfterDistrict), out, nil
	},
	StepNeighborhood: func(d state.Data, in Input) (state.State, state.Data, error) {
		var out state.Data
		if in.Token == TokenSkip {
			out = d.Clone()
			for _, k := range []string{KeyNeighborhood, KeyOrganization} {
				delete(out, k)
				delete(out, labelKey(k))
			}
		} else {
			out = selected(d, KeyNeighborhood, in, KeyOrganization)
		}
		return nextOrOrganization(RouteFor(out).AfterNeighborhood), out, nil
	},
	StepOrganization: func(d state.Data, in Input) (state.State, state.Data, error) {
		return StepFullName, selected(d, KeyOrganization, in), nil
	},
	StepFullName: func(d state.Data, in Input) (state.State, state.Data, error) {
		name := strings.Join(strings.Fields(in.Text), " ")
		if !validName(name) {
			return "", nil, invalid(StepFullName, "err.name_invalid")
		}
		out := d.Clone()
		out[KeyFullName] = name
		return StepPhone, out, nil
	},
	StepPhone: func(d state.Data, in Input) (state.State, state.Data, error) {
		phone, ok := NormalizePhone(in.Text)
		if !ok {
			return "", nil, invalid(StepPhone, "err.phone_invalid")
		}
		out := d.Clone()
		out[KeyPhone] = phone
		return StepBody, out, nil
	},
	StepBody: func(d state.Data, in Input) (state.State, state.Data, error) {
		out := d.Clone()
		out[KeyBody] = in.Text
		delete(out, KeyFormatted)
		return StepAttachments, out, nil
	},
	StepAttachments: func(d state.Data, in Input) (state.State, state.Data, error) {
		if in.File == nil {
			return StepAIFormat, d.Clone(), nil
		}
		files := Attachments(d)
		if len(files) >= MaxAttachments {
			return "", nil, invalid(StepAttachments, "err.too_many_files", MaxAttachments)
		}
		raw, err := json.Marshal(append(files, *in.File))
		if err != nil {
			return "", nil, err
		}
		out := d.Clone()
		out[KeyAttachments] = string(raw)
		return StepAttachments, out, nil
	},
	StepAIFormat: func(d state.Data, in Input) (state.State, state.Data, error) {
		out := d.Clone()
		out[KeyAIFormat] = strconv.FormatBool(in.Token == TokenYes)
		delete(out, KeyFormatted)
		return StepConfirm, out, nil
	},
	StepConfirm: func(d state.Data, in Input) (state.State, state.Data, error) {
		if in.Token == TokenYes {
			return stepCommit, d.Clone(), nil
		}
		return state.StateIdle, state.Data{}, nil
	},
}

// backTable maps a step to its predecessor. Steps without an entry ignore back.
var backTable = map[state.State]func(state.Data) state.State{
	StepRegion:       fixed(StepOrgType),
	StepDistrict:     fixed(StepRegion),
	StepNeighborhood: fixed(StepDistrict),
	StepOrganization: beforeOrganization,
	StepFullName:     fixed(StepOrganization),
	StepPhone:        fixed(StepFullName),
	StepBody:         fixed(StepPhone),
	StepAttachments:  fixed(StepBody),
	StepAIFormat:     fixed(StepAttachments),
	StepConfirm:      fixed(StepAIFormat),
}

func fixed(s state.State) func(state.Data) state.State {
	return func(state.Data) state.State { return s }
}

func beforeOrganization(d state.Data) state.State {
	r := RouteFor(d)
	switch StepOrganization {
	case r.AfterNeighborhood:
		return StepNeighborhood
	case r.AfterDistrict:
		return StepDistrict
	}
	return StepRegion
}

// Back returns the step preceding step for the data accumulated so far.
func Back(step state.State, d state.Data) (state.State, bool) {
	rule, ok := backTable[step]
	if !ok {
		return "", false
	}
	return rule(d), true
}

// Next applies the transition of step to in.
func Next(step state.State, d state.Data, in Input) (state.State, state.Data, error) {
	t, ok := transitions[step]
	if !ok {
		return "", nil, invalid(step, "err.unexpected_input")
	}
	return t(d, in)
}

var phoneRe = regexp.MustCompile(`^\+998\d{9}$`)

// NormalizePhone strips formatting and returns an E.164 Uzbek mobile number.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r == '+':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')':
		default:
			return "", false
		}
	}
	phone := b.String()
	if !strings.HasPrefix(phone, "+") {
		if len(phone) == 9 {
			phone = "998" + phone
		}
		phone = "+" + phone
	}
	return phone, phoneRe.MatchString(phone)
}

func validName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < MinFullName || n > MaxFullName {
		return false
	}
	for _, r := range name {
		if r >= '0' && r <= '9' {
			return false
		}
	}
	return true
}

// Attachments decodes the files collected in d.
func Attachments(d state.Data) []appeal.Attachment {
	raw := d.Get(KeyAttachments)
	if raw == "" {
		return nil
	}
	var out []appeal.Attachment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func parseID(d state.Data, key string) (int64, bool) {
	v, err := strconv.ParseInt(d.Get(key), 10, 64)
	return v, err == nil
}

// TargetOf builds the routing target from d. District and neighborhood are
// only taken when the family's route asks for them.
func TargetOf(d state.Data) (appeal.Target, bool) {
	var t appeal.Target
	var ok bool
	if t.RegionID, ok = parseID(d, KeyRegion); !ok {
		return t, false
	}
	if t.OrganizationID, ok = parseID(d, KeyOrganization); !ok {
		return t, false
	}
	r := RouteFor(d)
	if r.AfterRegion == StepDistrict {
		if id, ok := parseID(d, KeyDistrict); ok {
			t.DistrictID = &id
		}
	}
	if t.DistrictID != nil && r.AfterDistrict == StepNeighborhood {
		if id, ok := parseID(d, KeyNeighborhood); ok {
			t.NeighborhoodID = &id
		}
	}
	return t, true
}

// Body returns the text to submit: the formatted version when one was accepted.
func Body(d state.Data) string {
	if d.Get(KeyAIFormat) == "true" && d.Has(KeyFormatted) {
		return d.Get(KeyFormatted)
	}
	return d.Get(KeyBody)
}
