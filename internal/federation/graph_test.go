package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraphUser_DisplayNameOrFallback(t *testing.T) {
	cases := []struct {
		name string
		user GraphUser
		want string
	}{
		{
			name: "prefers displayName",
			user: GraphUser{DisplayName: "Jordan Example", GivenName: "Jordan", Surname: "Example", UserPrincipalName: "jordan@tenant.onmicrosoft.com"},
			want: "Jordan Example",
		},
		{
			name: "falls back to given plus surname",
			user: GraphUser{GivenName: "Jordan", Surname: "Example", UserPrincipalName: "jordan@tenant.onmicrosoft.com"},
			want: "Jordan Example",
		},
		{
			name: "falls back to given name alone",
			user: GraphUser{GivenName: "Jordan", UserPrincipalName: "jordan@tenant.onmicrosoft.com"},
			want: "Jordan",
		},
		{
			name: "falls back to the UPN when nothing else is set",
			user: GraphUser{UserPrincipalName: "jordan@tenant.onmicrosoft.com"},
			want: "jordan@tenant.onmicrosoft.com",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.DisplayNameOrFallback())
		})
	}
}

func TestGraphUser_Email(t *testing.T) {
	withMail := GraphUser{Mail: "jordan@example.com", UserPrincipalName: "jordan@tenant.onmicrosoft.com"}
	assert.Equal(t, "jordan@example.com", withMail.Email())

	withoutMail := GraphUser{UserPrincipalName: "jordan@tenant.onmicrosoft.com"}
	assert.Equal(t, "jordan@tenant.onmicrosoft.com", withoutMail.Email())
}
