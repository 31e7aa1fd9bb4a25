package transport

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// parseBody decodes a response body keyed off its Content-Type.
//
// Portals occasionally mislabel JSON as text or HTML, so text-ish bodies get
// a JSON attempt first and fall back to a {content, format} wrapper. An
// empty content type (or 204) collapses to {ok: <2xx>}.
func parseBody(status int, contentType string, raw []byte) (map[string]any, error) {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		} else {
			mediaType = strings.ToLower(strings.TrimSpace(contentType))
		}
	}

	if status == http.StatusNoContent || mediaType == "" && len(raw) == 0 {
		return map[string]any{"ok": status >= 200 && status < 300}, nil
	}

	switch {
	case isJSONType(mediaType):
		body, ok := tryJSON(raw)
		if !ok {
			return nil, apierrors.Newf(apierrors.KindResponseParse,
				"malformed JSON body (content-type %q)", contentType).WithStatus(status)
		}
		return body, nil

	case mediaType == "text/plain", mediaType == "text/html":
		if body, ok := tryJSON(raw); ok {
			return body, nil
		}
		format := "text"
		if mediaType == "text/html" {
			format = "html"
		}
		return map[string]any{"content": string(raw), "format": format}, nil

	case mediaType == "":
		return map[string]any{"ok": status >= 200 && status < 300}, nil

	default:
		if body, ok := tryJSON(raw); ok {
			return body, nil
		}
		return map[string]any{"content": string(raw), "format": mediaType}, nil
	}
}

func isJSONType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// tryJSON decodes raw as JSON. Non-object documents are wrapped under
// "result" so callers always see a map.
func tryJSON(raw []byte) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"result": v}, true
}
