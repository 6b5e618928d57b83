package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders flat records: groups become dotted keys,
// durations become *_ms integers and the update metadata from the context is
// merged in. Keys listed in keyOrder come first.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []groupedAttr
	prefix string
}

// groupedAttr remembers the group an attribute was added under.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = defaultKeyOrder
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}

	rec := make(record, 16)
	ts := r.Time.UTC()
	rec["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	rec["level"] = levelName(r.Level.String())
	if h.cfg.format == formatJSON {
		rec["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		rec.add(a.prefix, a.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.add(h.prefix, a)
		return true
	})
	rec.merge(metaFrom(ctx), h.cfg.format == formatJSON)
	rec.settle(r.Message)

	var line []byte
	if h.cfg.format == formatJSON {
		var err error
		if line, err = rec.json(h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = rec.kv(h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]groupedAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, groupedAttr{prefix: h.prefix, attr: a})
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// record is one log line before rendering.
type record map[string]any

func (rec record) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			rec.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	switch v.Kind() {
	case slog.KindString:
		rec.put(key, strings.TrimSpace(v.String()))
	case slog.KindDuration:
		rec[durationKey(key)] = RoundMS(v.Duration()).Milliseconds()
	case slog.KindTime:
		rec[key] = v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindUint64:
		rec[key] = v.Uint64()
	case slog.KindAny:
		rec.addAny(key, v.Any())
	default:
		rec[key] = v.Any()
	}
}

func (rec record) addAny(key string, v any) {
	switch x := v.(type) {
	case nil:
	case error:
		rec.put(key, x.Error())
	case time.Duration:
		rec[durationKey(key)] = RoundMS(x).Milliseconds()
	case []string:
		rec[key] = x
	case fmt.Stringer:
		rec.put(key, x.String())
	default:
		rec.put(key, fmt.Sprint(x))
	}
}

// put stores non-empty strings only.
func (rec record) put(key, s string) {
	if s == "" {
		delete(rec, key)
		return
	}
	rec[key] = s
}

// durationKey makes the unit explicit: duration -> duration_ms, x -> x_ms.
func durationKey(key string) string {
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}

// merge copies update metadata in without overriding explicit attributes.
func (rec record) merge(m updateMeta, keepFullRID bool) {
	setDefault := func(k string, v any, present bool) {
		if _, ok := rec[k]; !ok && present {
			rec[k] = v
		}
	}
	setDefault("rid", m.rid, m.rid != "")
	setDefault("update_id", m.updateID, m.updateID != 0)
	setDefault("user_id", m.userID, m.userID != 0)
	setDefault("chat_id", m.chatID, m.chatID != 0)
	setDefault("handler", m.handler, m.handler != "")

	if rid, ok := rec["rid"].(string); ok {
		if short := compactRID(rid); short != rid {
			if keepFullRID {
				setDefault("rid_full", rid, true)
			}
			rec["rid"] = short
		}
	}
}

// settle fills event and component and keeps enums within their vocabularies.
func (rec record) settle(msg string) {
	if s, _ := rec["event"].(string); s == "" {
		if msg == "" {
			msg = "unknown"
		}
		rec["event"] = msg
	}
	if s, _ := rec["component"].(string); s == "" {
		rec["component"] = "app"
	}
	if s, ok := rec["status"].(string); ok {
		rec["status"] = strings.ToLower(s)
	}
	if s, ok := rec["outcome"].(string); ok {
		s = strings.ToLower(s)
		if _, known := outcomeValues[s]; known {
			rec["outcome"] = s
		} else {
			delete(rec, "outcome")
		}
	}
}

// keys returns the keys in order first, then the rest sorted.
func (rec record) keys(order []string) []string {
	out := make([]string, 0, len(rec))
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if _, ok := rec[k]; ok && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(rec)-len(out))
	for k := range rec {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (rec record) json(order []string) ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range rec.keys(order) {
		v, err := json.Marshal(rec[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

func (rec record) kv(order []string) []byte {
	var b strings.Builder
	for i, k := range rec.keys(order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(rec[k]))
	}
	return []byte(b.String())
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []string:
		s = strings.Join(x, ",")
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
