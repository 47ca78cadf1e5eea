package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// minSIDLength is the size of a SID with no sub-authorities.
const minSIDLength = 8

// SIDFromBytes converts a binary objectSid to the S-1-5-21-... form.
func SIDFromBytes(b []byte) (string, error) {
	if len(b) < minSIDLength || len(b) < minSIDLength+4*int(b[1]) {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// ExtractSID returns the objectSid of entry in string form, or "". String
// values are accepted as-is when they look like a SID.
func ExtractSID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	raw := entry.GetRawAttributeValue("objectSid")
	if len(raw) == 0 {
		return ""
	}
	if s := string(raw); strings.HasPrefix(s, "S-") {
		return s
	}
	sid, err := SIDFromBytes(raw)
	if err != nil {
		return ""
	}
	return sid
}

// DomainSIDOf strips the relative identifier from an account SID. Only
// domain account SIDs (S-1-5-21-a-b-c-rid) have a domain part.
func DomainSIDOf(sid string) string {
	if !strings.HasPrefix(sid, "S-1-5-21-") {
		return ""
	}
	parts := strings.Split(sid, "-")
	// S, 1, 5, 21, three domain sub-authorities, rid
	if len(parts) < 8 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], "-")
}
