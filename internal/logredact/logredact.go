// Package logredact wraps a slog.Handler so that credential material never
// reaches the log sink.
//
// Scrubbing applies to attribute keys at any nesting depth, to query
// parameters of URL-shaped values, and to oversized base64 payloads, which
// are collapsed to a short summary instead of being written out.
package logredact

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Placeholder replaces every scrubbed value.
const Placeholder = "*****"

// maxDepth caps recursion into nested payloads. Anything deeper is replaced
// wholesale, which also makes scrubbing safe on cyclic structures.
const maxDepth = 10

// base64Threshold is the length above which a base64-looking string is
// collapsed to a summary.
const base64Threshold = 500

var sensitiveKeys = map[string]struct{}{
	"auth":          {},
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"token":         {},
	"password":      {},
	"key":           {},
	"secret":        {},
	"code":          {},
	"authorization": {},
}

// Sensitive reports whether a field name must be scrubbed.
func Sensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// Handler is a slog.Handler that scrubs attributes before delegating.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps inner with redaction.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(scrubAttr(a, 0))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clean = append(clean, scrubAttr(a, 0))
	}
	return &Handler{inner: h.inner.WithAttrs(clean)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(a slog.Attr, depth int) slog.Attr {
	if Sensitive(a.Key) {
		return slog.String(a.Key, Placeholder)
	}
	if depth >= maxDepth {
		return slog.String(a.Key, "[depth limit]")
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		clean := make([]slog.Attr, 0, len(group))
		for _, g := range group {
			clean = append(clean, scrubAttr(g, depth+1))
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	case slog.KindString:
		return slog.String(a.Key, ScrubString(v.String()))
	case slog.KindAny:
		return slog.Any(a.Key, ScrubValue(v.Any(), depth+1))
	default:
		return a
	}
}

// ScrubValue walks an arbitrary payload and scrubs sensitive fields, URL
// query parameters and oversized base64 strings. Errors are expanded into
// their message, contexts are not serialized at all.
func ScrubValue(v any, depth int) any {
	if depth > maxDepth {
		return "[depth limit]"
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return ScrubString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if Sensitive(k) {
				out[k] = Placeholder
				continue
			}
			out[k] = ScrubValue(child, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = ScrubValue(child, depth+1)
		}
		return out
	case context.Context:
		return "[context]"
	case error:
		return map[string]any{
			"name":    fmt.Sprintf("%T", val),
			"message": ScrubString(val.Error()),
		}
	default:
		return val
	}
}

// ScrubString rewrites URL-shaped strings so scrubbed query parameters keep
// the URL intact, and collapses oversized base64 payloads.
func ScrubString(s string) string {
	if looksLikeURL(s) {
		return ScrubURL(s)
	}
	return collapseBase64(s)
}

// ScrubURL replaces the values of sensitive query parameters while leaving
// the rest of the URL untouched. Unparseable input is returned as-is.
func ScrubURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for k := range q {
		if Sensitive(k) {
			q.Set(k, Placeholder)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func collapseBase64(s string) string {
	if len(s) <= base64Threshold {
		return s
	}
	if rest, ok := strings.CutPrefix(s, "data:image/"); ok {
		if mediaType, _, found := strings.Cut(rest, ";base64,"); found {
			return fmt.Sprintf("[IMAGE BASE64 DATA type=%s, length=%d]", "image/"+mediaType, len(s))
		}
	}
	if isBase64(s) {
		return fmt.Sprintf("[BASE64 DATA length=%d]", len(s))
	}
	return s
}

func isBase64(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
