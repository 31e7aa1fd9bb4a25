package bitrix24

import "strconv"

// Credentials is the persisted OAuth state for one tenant portal. The
// domain is the primary key; tokens are opaque to this library.
type Credentials struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Domain           string `json:"domain"`
	ClientEndpoint   string `json:"client_endpoint"`
	ServerEndpoint   string `json:"server_endpoint,omitempty"`
	ApplicationToken string `json:"application_token,omitempty"`
	MemberID         string `json:"member_id,omitempty"`
	Status           string `json:"status,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
}

// Valid reports whether the record is usable for a method call: access
// token, domain, refresh token and client endpoint must all be present.
func (c Credentials) Valid() bool {
	return c.AccessToken != "" && c.Domain != "" && c.RefreshToken != "" && c.ClientEndpoint != ""
}

// merged overlays the fields of a refresh response onto the record. The
// server response never carries the domain, so the existing one is kept.
func (c Credentials) merged(body map[string]any) Credentials {
	out := c
	if v := asString(body["access_token"]); v != "" {
		out.AccessToken = v
	}
	if v := asString(body["refresh_token"]); v != "" {
		out.RefreshToken = v
	}
	if v := asString(body["client_endpoint"]); v != "" {
		out.ClientEndpoint = v
	}
	if v := asString(body["server_endpoint"]); v != "" {
		out.ServerEndpoint = v
	}
	if v := asString(body["member_id"]); v != "" {
		out.MemberID = v
	}
	if v := asString(body["status"]); v != "" {
		out.Status = v
	}
	if v, ok := asInt(body["expires_in"]); ok {
		out.ExpiresIn = v
	}
	out.Domain = c.Domain
	return out
}

// credentialsFromMap builds a record from a decoded auth payload, as sent
// in install callbacks and refresh responses.
func credentialsFromMap(m map[string]any) Credentials {
	creds := Credentials{
		AccessToken:      asString(m["access_token"]),
		RefreshToken:     asString(m["refresh_token"]),
		Domain:           asString(m["domain"]),
		ClientEndpoint:   asString(m["client_endpoint"]),
		ServerEndpoint:   asString(m["server_endpoint"]),
		ApplicationToken: asString(m["application_token"]),
		MemberID:         asString(m["member_id"]),
		Status:           asString(m["status"]),
	}
	if v, ok := asInt(m["expires_in"]); ok {
		creds.ExpiresIn = v
	}
	return creds
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
