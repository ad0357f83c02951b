package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserInfo_DisplayNameFallsBackThroughNameEmailSub(t *testing.T) {
	cases := []struct {
		name  string
		claim string
		info  UserInfo
		want  string
	}{
		{
			name:  "preferred_username wins when present",
			claim: "preferred_username",
			info:  UserInfo{PreferredUsername: "jdoe", Name: "Jane Doe", Email: "jane@example.com", Subject: "sub-1"},
			want:  "jdoe",
		},
		{
			name:  "falls back to name when claim is empty",
			claim: "preferred_username",
			info:  UserInfo{Name: "Jane Doe", Email: "jane@example.com", Subject: "sub-1"},
			want:  "Jane Doe",
		},
		{
			name:  "falls back to email when name is empty",
			claim: "name",
			info:  UserInfo{Email: "jane@example.com", Subject: "sub-1"},
			want:  "jane@example.com",
		},
		{
			name:  "falls back to subject as a last resort",
			claim: "email",
			info:  UserInfo{Subject: "sub-1"},
			want:  "sub-1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.info.DisplayName(tc.claim))
		})
	}
}

func TestOIDCConfig_Manual(t *testing.T) {
	assert.False(t, OIDCConfig{IssuerURL: "https://issuer.example.com"}.Manual())
	assert.True(t, OIDCConfig{AuthURL: "https://issuer.example.com/authorize"}.Manual())
}
