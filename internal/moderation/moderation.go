// Package moderation judges finalized appeal text before it is committed.
//
// Classifier replies are decoded in three explicit stages: a structured JSON
// decode, a keyword heuristic over free text, and a default approval when the
// classifier is unavailable. The gate fails open on infrastructure errors.
package moderation

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/m3rciful/appealbot/core/logger"
)

const component = "service.moderation"

// Violation categories reported by the classifier.
const (
	ViolationSpam      = "spam"
	ViolationAbuse     = "abuse"
	ViolationThreat    = "threat"
	ViolationExtremism = "extremism"
	ViolationDuplicate = "duplicate"
)

// NeutralScore is assigned when no classifier verdict is available.
const NeutralScore = 50

// Source records which decode stage produced a verdict.
type Source string

const (
	SourceStructured Source = "structured"
	SourceHeuristic  Source = "heuristic"
	SourceDefault    Source = "default"
	SourceDisabled   Source = "disabled"
)

// Verdict is the moderation outcome for one text.
type Verdict struct {
	Approved   bool
	Reason     string
	Score      int
	Violations []string
	Suggestion string
	Source     Source
}

// Classifier returns a raw classifier reply for text.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Gate runs moderation. A nil classifier approves everything.
type Gate struct {
	classifier Classifier
}

// NewGate returns a Gate backed by classifier.
func NewGate(classifier Classifier) *Gate {
	return &Gate{classifier: classifier}
}

// Moderate classifies text and never returns an error: classifier failures
// degrade to a default approval.
func (g *Gate) Moderate(ctx context.Context, text string, userID int64) Verdict {
	if g == nil || g.classifier == nil {
		return Verdict{Approved: true, Score: NeutralScore, Source: SourceDisabled}
	}

	raw, err := g.classifier.Classify(ctx, text)
	if err != nil {
		logger.Warn(ctx, component, "moderation.classifier_failed",
			slog.Int64("user_id", userID),
			slog.String("err_code", "CLASSIFIER_UNAVAILABLE"),
			slog.Any("err", err),
		)
		return defaultApproved()
	}

	v, ok := decodeStructured(raw)
	if !ok {
		v, ok = decodeHeuristic(raw)
	}
	if !ok {
		logger.Warn(ctx, component, "moderation.undecodable_reply",
			slog.Int64("user_id", userID),
			slog.String("reply", logger.Sanitize(truncate(raw, 200))),
		)
		v = defaultApproved()
	}

	logger.Info(ctx, component, "moderation.verdict",
		slog.Int64("user_id", userID),
		slog.Bool("approved", v.Approved),
		slog.Int("score", v.Score),
		slog.String("source", string(v.Source)),
		slog.Any("violations", v.Violations),
	)
	return v
}

// decodeStructured reads a JSON verdict, tolerating code fences and prose
// around the object. The approved field must be a boolean.
func decodeStructured(raw string) (Verdict, bool) {
	body := extractObject(raw)
	if body == "" || !gjson.Valid(body) {
		return Verdict{}, false
	}
	approved := gjson.Get(body, "approved")
	if approved.Type != gjson.True && approved.Type != gjson.False {
		return Verdict{}, false
	}

	v := Verdict{
		Approved:   approved.Bool(),
		Reason:     strings.TrimSpace(gjson.Get(body, "reason").String()),
		Suggestion: strings.TrimSpace(gjson.Get(body, "suggestion").String()),
		Score:      NeutralScore,
		Source:     SourceStructured,
	}
	if s := gjson.Get(body, "score"); s.Type == gjson.Number {
		v.Score = clampScore(int(s.Int()))
	}
	gjson.Get(body, "violations").ForEach(func(_, item gjson.Result) bool {
		if name := strings.ToLower(strings.TrimSpace(item.String())); name != "" {
			v.Violations = append(v.Violations, name)
		}
		return true
	})
	return v, true
}

func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

var (
	rejectMarkers = []string{
		"not approved", "not acceptable", "not appropriate", "unacceptable",
		"disapprov", "reject", "inappropriate", "отклон", "неприемлем", "rad etil",
	}
	approveMarkers = []string{"approved", "acceptable", "appropriate", "одобр", "qabul"}

	violationMarkers = map[string][]string{
		ViolationSpam:      {"spam", "incoherent", "meaningless", "спам"},
		ViolationAbuse:     {"abuse", "abusive", "obscene", "insult", "оскорб"},
		ViolationThreat:    {"threat", "provocation", "угроз"},
		ViolationExtremism: {"extremis", "terror", "экстрем"},
		ViolationDuplicate: {"duplicate", "boilerplate", "дубл"},
	}
	violationOrder = []string{ViolationSpam, ViolationAbuse, ViolationThreat, ViolationExtremism, ViolationDuplicate}

	// negations cancel a violation marker that directly follows them.
	negations = map[string]bool{"no": true, "not": true, "without": true, "нет": true, "без": true}
)

// decodeHeuristic scans free text for verdict keywords. Markers match at word
// starts only. Rejection markers and violations win over approval markers.
func decodeHeuristic(raw string) (Verdict, bool) {
	words := splitWords(raw)
	if len(words) == 0 {
		return Verdict{}, false
	}

	var violations []string
	for _, name := range violationOrder {
		if matchAny(words, violationMarkers[name], true) {
			violations = append(violations, name)
		}
	}

	rejected := Verdict{
		Approved:   false,
		Reason:     firstLine(raw),
		Score:      20,
		Violations: violations,
		Source:     SourceHeuristic,
	}
	switch {
	case matchAny(words, rejectMarkers, false), len(violations) > 0:
		return rejected, true
	case matchAny(words, approveMarkers, false):
		return Verdict{Approved: true, Score: 80, Source: SourceHeuristic}, true
	default:
		return Verdict{}, false
	}
}

func defaultApproved() Verdict {
	return Verdict{Approved: true, Score: NeutralScore, Source: SourceDefault}
}

// splitWords lowercases s and splits it into letter and digit runs.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchAny reports whether any marker occurs at a word start. A marker may span
// several words; its last word matches as a prefix. With skipNegated, a match
// right after a negation word does not count.
func matchAny(words, markers []string, skipNegated bool) bool {
	for _, m := range markers {
		parts := strings.Fields(m)
		for i := 0; i+len(parts) <= len(words); i++ {
			if !matchAt(words[i:], parts) {
				continue
			}
			if skipNegated && i > 0 && negations[words[i-1]] {
				continue
			}
			return true
		}
	}
	return false
}

func matchAt(words, parts []string) bool {
	last := len(parts) - 1
	for j, p := range parts {
		if j == last {
			return strings.HasPrefix(words[j], p)
		}
		if words[j] != p {
			return false
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 300)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
