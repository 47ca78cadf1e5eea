package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/isometry/adbridge/internal/directory"
)

// RoleMapping grants Role to members of Group. Group is either a full DN or
// the common name of the group.
type RoleMapping struct {
	Group string
	Role  string
}

// ParseRoleMappings reads "group=role" pairs, in order.
func ParseRoleMappings(pairs []string) ([]RoleMapping, error) {
	mappings := make([]RoleMapping, 0, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		// Group DNs contain "=", the role never does.
		i := strings.LastIndex(pair, "=")
		if i <= 0 || i == len(pair)-1 {
			return nil, fmt.Errorf("invalid role mapping %q: expected group=role", pair)
		}
		mappings = append(mappings, RoleMapping{
			Group: strings.TrimSpace(pair[:i]),
			Role:  strings.TrimSpace(pair[i+1:]),
		})
	}
	return mappings, nil
}

// RoleMapper resolves local roles from directory group membership.
type RoleMapper struct {
	mappings    []RoleMapping
	defaultRole string
}

func NewRoleMapper(mappings []RoleMapping, defaultRole string) *RoleMapper {
	return &RoleMapper{mappings: mappings, defaultRole: strings.TrimSpace(defaultRole)}
}

// Roles returns the mapped roles in configuration order, or the default
// role when no mapping applies.
func (m *RoleMapper) Roles(attrs *directory.Attributes) []string {
	roles := []string{}
	if m == nil {
		return roles
	}
	for _, mapping := range m.mappings {
		if attrs.IsMemberOf(mapping.Group) && !slices.Contains(roles, mapping.Role) {
			roles = append(roles, mapping.Role)
		}
	}
	if len(roles) == 0 && m.defaultRole != "" {
		roles = append(roles, m.defaultRole)
	}
	return roles
}
