package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommonName(t *testing.T) {
	tests := []struct {
		dn       string
		expected string
	}{
		{"CN=Domain Admins,CN=Users,DC=example,DC=com", "Domain Admins"},
		{`CN=Smith\, John,OU=People,DC=example,DC=com`, "Smith, John"},
		{"Domain Admins", "Domain Admins"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			assert.Equal(t, tt.expected, CommonName(tt.dn))
		})
	}
}

func TestAttributes_IsMemberOf(t *testing.T) {
	attrs := &Attributes{
		Raw: map[string][]string{},
		MemberOf: []string{
			"CN=Developers,OU=Groups,DC=example,DC=com",
			"CN=VPN Users,OU=Groups,DC=example,DC=com",
		},
	}

	assert.True(t, attrs.IsMemberOf("developers"))
	assert.True(t, attrs.IsMemberOf(" VPN Users "))
	assert.True(t, attrs.IsMemberOf("cn=developers,ou=groups,dc=example,dc=com"))
	assert.False(t, attrs.IsMemberOf("Groups"))
	assert.False(t, attrs.IsMemberOf("Engineering"), "groups containing Developers are not listed in memberOf")

	var missing *Attributes
	assert.False(t, missing.IsMemberOf("developers"))
}

func TestFilter(t *testing.T) {
	raw := map[string][]string{
		"department": {"Engineering"},
		"mail":       {"jdoe@example.com"},
	}

	filtered := Filter(raw, []string{"Department", "telephoneNumber", " "})

	assert.Equal(t, map[string][]string{
		"department":      {"Engineering"},
		"telephonenumber": nil,
	}, filtered)

	filtered["department"][0] = "changed"
	assert.Equal(t, "Engineering", raw["department"][0], "values are copied")
}

func TestAttributes_Values(t *testing.T) {
	attrs := &Attributes{Raw: map[string][]string{"mail": {"a@example.com", "b@example.com"}}}

	assert.Equal(t, "a@example.com", attrs.Value("Mail"))
	assert.Len(t, attrs.Values("MAIL"), 2)
	assert.Empty(t, attrs.Value("sn"))

	assert.False(t, Unavailable().Available())
	assert.Empty(t, Unavailable().Value("mail"))
}
