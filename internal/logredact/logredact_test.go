package logredact

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseQueryValues(raw string) (url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestScrubsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)

	log.Info("token refresh",
		"access_token", "very-secret-token",
		"refresh_token", "also-secret",
		"domain", "t.bx",
	)

	out := buf.String()
	assert.NotContains(t, out, "very-secret-token")
	assert.NotContains(t, out, "also-secret")
	assert.Contains(t, out, Placeholder)
	assert.Contains(t, out, "t.bx")
}

func TestScrubsNestedPayloads(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)

	log.Debug("install payload",
		"payload", map[string]any{
			"event": "ONAPPINSTALL",
			"auth": map[string]any{
				"access_token": "AAA",
				"domain":       "t.bx",
			},
			"items": []any{map[string]any{"client_secret": "BBB"}},
		},
	)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	payload := record["payload"].(map[string]any)

	assert.Equal(t, Placeholder, payload["auth"])
	items := payload["items"].([]any)
	assert.Equal(t, Placeholder, items[0].(map[string]any)["client_secret"])
	assert.NotContains(t, buf.String(), "AAA")
	assert.NotContains(t, buf.String(), "BBB")
}

func TestScrubURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"refresh url", "https://oauth.bitrix.info/oauth/token/?client_id=C&client_secret=S&grant_type=refresh_token&refresh_token=R"},
		{"auth param", "https://t.bx/rest/user.current.json?auth=TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScrubURL(tt.in)
			u, err := parseQueryValues(got)
			require.NoError(t, err)
			for k, vs := range u {
				if Sensitive(k) {
					assert.Equal(t, []string{Placeholder}, vs, k)
				}
			}
			assert.NotContains(t, got, "TOKEN")
			assert.NotContains(t, got, "client_secret=S")
		})
	}
}

func TestScrubURLPreservesNonSensitive(t *testing.T) {
	in := "https://t.bx/rest/crm.deal.list.json?start=50"
	assert.Equal(t, in, ScrubURL(in))
}

func TestCollapseBase64(t *testing.T) {
	blob := strings.Repeat("QUJD", 200) // 800 chars of valid base64
	got := ScrubString(blob)
	assert.Equal(t, "[BASE64 DATA length=800]", got)

	image := "data:image/png;base64," + strings.Repeat("iVBO", 200)
	got = ScrubString(image)
	assert.Contains(t, got, "[IMAGE BASE64 DATA type=image/png")

	prose := strings.Repeat("not base64, just words. ", 40)
	assert.Equal(t, prose, ScrubString(prose))
}

func TestErrorExpansion(t *testing.T) {
	got := ScrubValue(errors.New("connect failed"), 0)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connect failed", m["message"])
}

func TestDepthCap(t *testing.T) {
	deep := map[string]any{}
	cursor := deep
	for i := 0; i < 20; i++ {
		next := map[string]any{}
		cursor["next"] = next
		cursor = next
	}
	cursor["leaf"] = "value"

	// Must terminate and replace the over-deep tail.
	out := ScrubValue(deep, 0)
	s, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(s), "[depth limit]")
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	log.Info("should not appear")
	log.Warn("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}
