package bitrix24

import (
	"regexp"
	"strings"
)

// DefaultOAuthEndpoint is where refresh exchanges go when the credential
// record carries no usable server endpoint.
const DefaultOAuthEndpoint = "https://oauth.bitrix.info/oauth/token/"

// oauthServerPattern matches the tenant-specific OAuth servers Bitrix24
// hands out in server_endpoint. The shape test is exact; anything else
// falls back to DefaultOAuthEndpoint.
var oauthServerPattern = regexp.MustCompile(`^https://oauth\.bitrix\d*\.(tech|info)/rest$`)

// oauthEndpoint derives the token endpoint from a credential record's
// server endpoint: https://oauth.bitrix24.tech/rest becomes
// https://oauth.bitrix24.tech/oauth/token/.
func oauthEndpoint(serverEndpoint string) string {
	if !oauthServerPattern.MatchString(serverEndpoint) {
		return DefaultOAuthEndpoint
	}
	return strings.TrimSuffix(serverEndpoint, "/rest") + "/oauth/token/"
}
