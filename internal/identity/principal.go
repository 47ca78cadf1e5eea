// Package identity turns raw login strings into structured directory identities.
package identity

import "strings"

// Principal is the structured form of a login string.
type Principal struct {
	NetbiosName    string // NetBIOS domain, upper-cased; empty when not given
	SAMAccountName string // Pre-Windows 2000 name
	UPNUsername    string // Local part of the user principal name
	UPNSuffix      string // Domain part of the user principal name, without "@"
}

// Parse interprets login in one of the accepted formats:
//
//	DOMAIN\name      NetBIOS domain plus sAMAccountName
//	name@suffix      user principal name
//	name             bare sAMAccountName
//
// Only the first separator is significant. A form only matches when the
// parts it names are non-empty. Parse never fails; anything else is treated
// as a bare name equal to the whole string.
func Parse(login string) Principal {
	login = normalize(login)

	if domain, name, ok := strings.Cut(login, `\`); ok && name != "" {
		// Claims-aware logins look like "claims|DOMAIN\name".
		if _, netbios, claims := strings.Cut(domain, "|"); claims {
			domain = netbios
		}
		return Principal{
			NetbiosName:    strings.ToUpper(domain),
			SAMAccountName: name,
			UPNUsername:    name,
		}
	}

	if username, suffix, ok := strings.Cut(login, "@"); ok && username != "" && suffix != "" {
		return Principal{
			SAMAccountName: username,
			UPNUsername:    username,
			UPNSuffix:      suffix,
		}
	}

	return Principal{
		SAMAccountName: login,
		UPNUsername:    login,
	}
}

// UserPrincipalName joins the username and suffix.
func (p Principal) UserPrincipalName() string {
	if p.UPNSuffix == "" {
		return p.UPNUsername
	}
	return p.UPNUsername + "@" + p.UPNSuffix
}

func normalize(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
