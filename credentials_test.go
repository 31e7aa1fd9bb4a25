package bitrix24

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsValid(t *testing.T) {
	full := Credentials{
		AccessToken:    "T",
		RefreshToken:   "R",
		Domain:         "t.bx",
		ClientEndpoint: "https://t.bx/rest/",
	}
	assert.True(t, full.Valid())

	tests := []struct {
		name   string
		mutate func(*Credentials)
	}{
		{"no access token", func(c *Credentials) { c.AccessToken = "" }},
		{"no refresh token", func(c *Credentials) { c.RefreshToken = "" }},
		{"no domain", func(c *Credentials) { c.Domain = "" }},
		{"no client endpoint", func(c *Credentials) { c.ClientEndpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := full
			tt.mutate(&c)
			assert.False(t, c.Valid())
		})
	}
}

func TestCredentialsMerged(t *testing.T) {
	base := Credentials{
		AccessToken:    "T",
		RefreshToken:   "R",
		Domain:         "t.bx",
		ClientEndpoint: "https://t.bx/rest/",
		MemberID:       "m1",
	}
	got := base.merged(map[string]any{
		"access_token":  "T2",
		"refresh_token": "R2",
		"expires_in":    float64(7200),
		// Refresh responses never echo the domain; a stray one must not win.
		"domain": "evil.example",
	})

	assert.Equal(t, "T2", got.AccessToken)
	assert.Equal(t, "R2", got.RefreshToken)
	assert.Equal(t, 7200, got.ExpiresIn)
	assert.Equal(t, "t.bx", got.Domain)
	assert.Equal(t, "https://t.bx/rest/", got.ClientEndpoint, "absent fields keep their value")
	assert.Equal(t, "m1", got.MemberID)
}

func TestCredentialsFromMap(t *testing.T) {
	got := credentialsFromMap(map[string]any{
		"access_token":  "T",
		"refresh_token": "R",
		"domain":        "t.bx",
		"expires_in":    "3600",
		"member_id":     "m1",
	})
	assert.Equal(t, "T", got.AccessToken)
	assert.Equal(t, "R", got.RefreshToken)
	assert.Equal(t, "t.bx", got.Domain)
	assert.Equal(t, 3600, got.ExpiresIn)
	assert.Equal(t, "m1", got.MemberID)
}
