package identity

import (
	"fmt"
	"strings"
)

// Credentials carries a login identity and its secret through authentication
// and reconciliation. It is a value: every With* method returns a refined
// copy and leaves the receiver untouched.
type Credentials struct {
	Login          string
	NetbiosName    string
	SAMAccountName string
	UPNUsername    string
	UPNSuffix      string
	Password       string
	ObjectGUID     string
	LocalAccountID int64
}

// NewCredentials parses login and attaches password.
func NewCredentials(login, password string) Credentials {
	p := Parse(login)
	return Credentials{
		Login:          normalize(login),
		NetbiosName:    p.NetbiosName,
		SAMAccountName: p.SAMAccountName,
		UPNUsername:    p.UPNUsername,
		UPNSuffix:      p.UPNSuffix,
		Password:       password,
	}
}

// UserPrincipalName returns username[@suffix].
func (c Credentials) UserPrincipalName() string {
	if c.UPNSuffix == "" {
		return c.UPNUsername
	}
	return c.UPNUsername + "@" + c.UPNSuffix
}

// BindName is the name used in front of an account suffix when binding.
func (c Credentials) BindName() string {
	if c.SAMAccountName != "" {
		return c.SAMAccountName
	}
	return c.UPNUsername
}

// WithUPNSuffix replaces the suffix. A leading "@" is stripped.
func (c Credentials) WithUPNSuffix(suffix string) Credentials {
	c.UPNSuffix = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(suffix)), "@")
	return c
}

// WithSAMAccountName overrides the default sAMAccountName with the value
// reported by the directory. Empty values are ignored.
func (c Credentials) WithSAMAccountName(sam string) Credentials {
	if sam = strings.ToLower(strings.TrimSpace(sam)); sam != "" {
		c.SAMAccountName = sam
	}
	return c
}

// WithObjectGUID links the credentials to a directory object.
func (c Credentials) WithObjectGUID(guid string) Credentials {
	c.ObjectGUID = strings.ToLower(guid)
	return c
}

// WithLocalAccountID links the credentials to a reconciled local account.
func (c Credentials) WithLocalAccountID(id int64) Credentials {
	c.LocalAccountID = id
	return c
}

// WithoutPassword drops the secret.
func (c Credentials) WithoutPassword() Credentials {
	c.Password = ""
	return c
}

// String implements fmt.Stringer and never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{login=%q netbios=%q sam=%q upn=%q guid=%q account=%d}",
		c.Login, c.NetbiosName, c.SAMAccountName, c.UserPrincipalName(), c.ObjectGUID, c.LocalAccountID)
}
