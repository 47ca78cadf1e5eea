package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// Active Directory stores objectGUID in mixed-endian order: the first three
// groups are little-endian, the last eight bytes are kept as-is. swapGUID
// converts between that layout and RFC 4122 order; it is its own inverse.
func swapGUID(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// NormalizeGUID accepts hyphenated, compact, braced or urn forms and
// returns the lower-case hyphenated form.
func NormalizeGUID(guid string) (string, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return "", fmt.Errorf("GUID string cannot be empty")
	}
	u, err := uuid.Parse(guid)
	if err != nil {
		return "", fmt.Errorf("invalid GUID format %q: %w", guid, err)
	}
	return u.String(), nil
}

// GUIDToBytes converts a GUID string to the directory's byte order.
func GUIDToBytes(guid string) ([]byte, error) {
	normalized, err := NormalizeGUID(guid)
	if err != nil {
		return nil, err
	}
	u := uuid.MustParse(normalized)
	return swapGUID(u[:]), nil
}

// GUIDFromBytes converts a binary objectGUID to its string form.
func GUIDFromBytes(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}
	u, err := uuid.FromBytes(swapGUID(b))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// GUIDSearchFilter creates an equality filter matching objectGUID in its
// binary form, which is what the directory indexes.
func GUIDSearchFilter(guid string) (string, error) {
	b, err := GUIDToBytes(guid)
	if err != nil {
		return "", fmt.Errorf("failed to convert GUID to bytes: %w", err)
	}
	return fmt.Sprintf("(objectGUID=%s)", ldap.EscapeFilter(string(b))), nil
}

// ExtractGUID returns the objectGUID of entry, or "" when it is absent or
// malformed.
func ExtractGUID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}
	raw := entry.GetRawAttributeValue("objectGUID")
	if len(raw) == GUIDBytesLength {
		if guid, err := GUIDFromBytes(raw); err == nil {
			return guid
		}
	}
	// Some test fixtures and proxies hand back the string form
	if guid, err := NormalizeGUID(entry.GetAttributeValue("objectGUID")); err == nil {
		return guid
	}
	return ""
}
