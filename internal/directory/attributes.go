// Package directory holds the directory-side view of a user: the attributes
// fetched for one resolution and the decoded account state.
package directory

import (
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Attribute names referenced by the reconciliation core. The directory is
// case-insensitive about names; all maps in this package use lower case.
const (
	AttrSAMAccountName     = "samaccountname"
	AttrUserPrincipalName  = "userprincipalname"
	AttrObjectGUID         = "objectguid"
	AttrObjectSID          = "objectsid"
	AttrUserAccountControl = "useraccountcontrol"
	AttrMail               = "mail"
	AttrGivenName          = "givenname"
	AttrSurname            = "sn"
	AttrDisplayName        = "displayname"
	AttrDescription        = "description"
	AttrMemberOf           = "memberof"
	AttrDistinguishedName  = "distinguishedname"
)

// DefaultAttributes are always requested from the directory.
var DefaultAttributes = []string{
	AttrSAMAccountName,
	AttrUserPrincipalName,
	AttrObjectGUID,
	AttrObjectSID,
	AttrUserAccountControl,
	AttrMail,
	AttrGivenName,
	AttrSurname,
	AttrDisplayName,
	AttrDescription,
	AttrMemberOf,
}

// Attributes is the result of one directory lookup. A nil *Attributes, or
// one with a nil Raw map, means the lookup failed.
type Attributes struct {
	DN                string
	ObjectGUID        string
	ObjectSID         string
	DomainSID         string
	SAMAccountName    string
	UserPrincipalName string
	AccountControl    AccountControl
	MemberOf          []string

	// Raw holds every returned attribute, keyed by lower-cased name.
	Raw map[string][]string
	// Filtered holds the whitelisted subset that may be copied locally.
	Filtered map[string][]string
}

// Unavailable returns the failure sentinel.
func Unavailable() *Attributes {
	return nil
}

// Available reports whether the lookup produced usable data.
func (a *Attributes) Available() bool {
	return a != nil && a.Raw != nil
}

// Value returns the first value of name, or "".
func (a *Attributes) Value(name string) string {
	values := a.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns all values of name.
func (a *Attributes) Values(name string) []string {
	if !a.Available() {
		return nil
	}
	return a.Raw[strings.ToLower(name)]
}

// Filter returns a copy of raw limited to the whitelist. Names are matched
// case-insensitively; attributes absent from raw are present in the result
// with no values so that callers can clear stale local copies.
func Filter(raw map[string][]string, whitelist []string) map[string][]string {
	filtered := make(map[string][]string, len(whitelist))
	for _, name := range whitelist {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		filtered[name] = slices.Clone(raw[name])
	}
	return filtered
}

// IsMemberOf reports whether any memberOf DN has a first RDN value equal to
// group, or the DN itself equals group. Comparison is case-insensitive.
// Only direct membership is seen: memberOf does not list groups reached
// through nesting, so login authorization and role mapping ignore them.
func (a *Attributes) IsMemberOf(group string) bool {
	if a == nil {
		return false
	}
	group = strings.TrimSpace(group)
	for _, dn := range a.MemberOf {
		if strings.EqualFold(dn, group) || strings.EqualFold(CommonName(dn), group) {
			return true
		}
	}
	return false
}

// CommonName extracts the value of the first RDN of dn.
// Input that is not a DN is returned unchanged.
func CommonName(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return dn
	}
	return parsed.RDNs[0].Attributes[0].Value
}
