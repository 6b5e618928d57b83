// Package i18n renders user-facing text. Every call names its language
// explicitly; there is no process-wide current language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a user's language is unknown or unsupported.
const DefaultLanguage = "uz"

//go:embed locales/*.yaml
var embeddedLocales embed.FS

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Translator holds one printer per supported language.
type Translator struct {
	fallback string
	langs    []string
	tags     []language.Tag
	matcher  language.Matcher
	printers map[string]*message.Printer
	messages map[string]map[string]string
}

// Load reads the embedded locale catalogs.
func Load(fallback string) (*Translator, error) {
	return LoadFS(embeddedLocales, fallback)
}

// LoadFS reads locales/*.yaml from fsys. Every locale must define exactly the
// keys of the fallback locale.
func LoadFS(fsys fs.FS, fallback string) (*Translator, error) {
	if fallback == "" {
		fallback = DefaultLanguage
	}
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locales: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no locale files found")
	}
	sort.Strings(paths)

	t := &Translator{
		fallback: fallback,
		printers: make(map[string]*message.Printer),
		messages: make(map[string]map[string]string),
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", p, err)
		}
		var file localeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", p, err)
		}
		locale := strings.TrimSpace(file.Locale)
		if want := strings.TrimSuffix(path.Base(p), path.Ext(p)); locale != want {
			return nil, fmt.Errorf("locale %s: declared %q must match file name %q", p, locale, want)
		}
		if len(file.Messages) == 0 {
			return nil, fmt.Errorf("locale %s: messages are required", p)
		}
		t.messages[locale] = file.Messages
	}

	base, ok := t.messages[fallback]
	if !ok {
		return nil, fmt.Errorf("fallback locale %q is not defined", fallback)
	}
	for locale, msgs := range t.messages {
		if missing := missingKeys(base, msgs); len(missing) > 0 {
			return nil, fmt.Errorf("locale %s: missing keys %s", locale, strings.Join(missing, ", "))
		}
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", locale, err)
		}
		builder := catalog.NewBuilder(catalog.Fallback(tag))
		for key, msg := range msgs {
			if err := builder.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("locale %s key %s: %w", locale, key, err)
			}
		}
		t.printers[locale] = message.NewPrinter(tag, message.Catalog(builder))
	}

	// fallback first so the matcher prefers it on ties
	t.langs = append(t.langs, fallback)
	for locale := range t.messages {
		if locale != fallback {
			t.langs = append(t.langs, locale)
		}
	}
	sort.Strings(t.langs[1:])
	for _, l := range t.langs {
		t.tags = append(t.tags, language.MustParse(l))
	}
	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

func missingKeys(base, msgs map[string]string) []string {
	var out []string
	for k := range base {
		if _, ok := msgs[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Languages lists supported language codes, fallback first.
func (t *Translator) Languages() []string {
	out := make([]string, len(t.langs))
	copy(out, t.langs)
	return out
}

// Fallback returns the default language code.
func (t *Translator) Fallback() string { return t.fallback }

// Match maps a client language code such as "ru-RU" to a supported language.
func (t *Translator) Match(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return t.fallback
	}
	if _, ok := t.printers[code]; ok {
		return code
	}
	tag, err := language.Parse(code)
	if err != nil {
		return t.fallback
	}
	_, idx, conf := t.matcher.Match(tag)
	if conf == language.No {
		return t.fallback
	}
	return t.langs[idx]
}

// T renders key in lang with printf-style args.
func (t *Translator) T(lang, key string, args ...any) string {
	p, ok := t.printers[lang]
	if !ok {
		p = t.printers[t.fallback]
	}
	return p.Sprintf(key, args...)
}

// Has reports whether key is defined.
func (t *Translator) Has(key string) bool {
	_, ok := t.messages[t.fallback][key]
	return ok
}

// Is reports whether input equals the label stored under key in lang.
func (t *Translator) Is(lang, key, input string) bool {
	return strings.TrimSpace(input) != "" && strings.TrimSpace(input) == t.T(lang, key)
}
