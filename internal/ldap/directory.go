package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/directory"
	"github.com/isometry/adbridge/internal/identity"
)

const (
	userFilter  = "(&(objectClass=user)(!(objectClass=computer)))"
	groupFilter = "(objectClass=group)"

	// matchingRuleInChain expands nested group membership server-side.
	matchingRuleInChain = "1.2.840.113556.1.4.1941"
)

// DirectoryOptions configures the directory adapter.
type DirectoryOptions struct {
	// SyncAttributes is the whitelist copied into Attributes.Filtered and
	// requested on every lookup in addition to directory.DefaultAttributes.
	SyncAttributes []string
	// ServiceBound reports whether service credentials are configured.
	ServiceBound bool
}

// Directory adapts a Client to the lookups used by authentication and
// synchronization.
type Directory struct {
	client  Client
	options DirectoryOptions
	request []string
	logger  hclog.Logger

	mu     sync.Mutex
	baseDN string
}

// NewDirectory creates a directory adapter over client.
func NewDirectory(client Client, options DirectoryOptions, logger hclog.Logger) *Directory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	request := slices.Clone(directory.DefaultAttributes)
	for _, name := range options.SyncAttributes {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && !slices.Contains(request, name) {
			request = append(request, name)
		}
	}

	return &Directory{
		client:  client,
		options: options,
		request: request,
		logger:  logger,
	}
}

// ServiceBound reports whether batch operations can bind as the service account.
func (d *Directory) ServiceBound() bool {
	return d.options.ServiceBound
}

// CheckPorts reports ErrUnreachable when no server answers.
func (d *Directory) CheckPorts(ctx context.Context) error {
	return d.client.CheckPorts(ctx)
}

// Authenticate binds as bindName. A rejection by a reachable server is
// (false, nil); an error always means the directory could not answer.
func (d *Directory) Authenticate(ctx context.Context, bindName, password string) (bool, error) {
	err := d.client.Bind(ctx, bindName, password)
	switch {
	case err == nil:
		return true, nil
	case IsUnreachable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, fmt.Errorf("bind as %s: %w", bindName, errors.Join(ErrUnreachable, err))
	case IsInvalidCredentials(err):
		return false, nil
	default:
		var resultErr *ldap.Error
		if errors.As(err, &resultErr) {
			// Any other result code still came from a live server.
			d.logger.Debug("bind refused", "bind_name", bindName, "code", resultErr.ResultCode)
			return false, nil
		}
		return false, fmt.Errorf("bind as %s: %w", bindName, errors.Join(ErrUnreachable, err))
	}
}

// FindByPrincipal looks up the user by userPrincipalName or samAccountName.
// A UPN match is preferred when both match different entries.
func (d *Directory) FindByPrincipal(ctx context.Context, creds identity.Credentials) (*directory.Attributes, error) {
	var clauses []string
	upn := ""
	if creds.UPNSuffix != "" {
		upn = creds.UserPrincipalName()
		clauses = append(clauses, fmt.Sprintf("(userPrincipalName=%s)", ldap.EscapeFilter(upn)))
	}
	if sam := creds.SAMAccountName; sam != "" {
		clauses = append(clauses, fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(sam)))
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("principal has no searchable name: %w", ErrEntryNotFound)
	}

	filter := fmt.Sprintf("(&%s(|%s))", userFilter, strings.Join(clauses, ""))
	entries, err := d.search(ctx, filter, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("principal %s: %w", creds.Login, ErrEntryNotFound)
	}

	entry := entries[0]
	if upn != "" {
		if i := slices.IndexFunc(entries, func(e *ldap.Entry) bool {
			return strings.EqualFold(e.GetAttributeValue("userPrincipalName"), upn)
		}); i >= 0 {
			entry = entries[i]
		}
	}
	return d.toAttributes(entry), nil
}

// FindByGUID looks up the object with the given objectGUID.
func (d *Directory) FindByGUID(ctx context.Context, guid string) (*directory.Attributes, error) {
	guidFilter, err := GUIDSearchFilter(guid)
	if err != nil {
		return nil, err
	}

	entries, err := d.search(ctx, fmt.Sprintf("(&%s%s)", userFilter, guidFilter), 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("objectGUID %s: %w", guid, ErrEntryNotFound)
	}
	return d.toAttributes(entries[0]), nil
}

// FindGroupMembers returns the users that are direct or nested members of
// any of groups. Groups are given by DN or by name. Unknown groups are
// logged and skipped.
func (d *Directory) FindGroupMembers(ctx context.Context, groups []string) ([]*directory.Attributes, error) {
	seen := make(map[string]bool)
	var members []*directory.Attributes

	for _, group := range groups {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		groupDN, err := d.resolveGroupDN(ctx, group)
		if errors.Is(err, ErrEntryNotFound) {
			d.logger.Warn("security group not found", "group", group)
			continue
		}
		if err != nil {
			return nil, err
		}

		filter := fmt.Sprintf("(&%s(memberOf:%s:=%s))", userFilter, matchingRuleInChain, ldap.EscapeFilter(groupDN))
		entries, err := d.searchPaged(ctx, filter)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			attrs := d.toAttributes(entry)
			key := attrs.ObjectGUID
			if key == "" {
				key = strings.ToLower(attrs.DN)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			members = append(members, attrs)
		}
		d.logger.Debug("resolved group members", "group", groupDN, "members", len(entries))
	}

	return members, nil
}

func (d *Directory) resolveGroupDN(ctx context.Context, group string) (string, error) {
	if _, err := ldap.ParseDN(group); err == nil && strings.Contains(group, "=") {
		return group, nil
	}

	name := ldap.EscapeFilter(group)
	filter := fmt.Sprintf("(&%s(|(cn=%s)(sAMAccountName=%s)))", groupFilter, name, name)

	baseDN, err := d.baseDNFor(ctx)
	if err != nil {
		return "", err
	}
	result, err := d.client.Search(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		SizeLimit:  1,
	})
	if err != nil {
		return "", err
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("group %s: %w", group, ErrEntryNotFound)
	}
	return result.Entries[0].DN, nil
}

// DomainSID returns the objectSid of the naming context the adapter searches.
func (d *Directory) DomainSID(ctx context.Context) (string, error) {
	baseDN, err := d.baseDNFor(ctx)
	if err != nil {
		return "", err
	}

	result, err := d.client.Search(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"objectSid"},
		SizeLimit:  1,
	})
	if err != nil {
		return "", err
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("domain object %s: %w", baseDN, ErrEntryNotFound)
	}

	sid := ExtractSID(result.Entries[0])
	if sid == "" {
		return "", fmt.Errorf("domain object %s has no objectSid", baseDN)
	}
	return sid, nil
}

// ModifyAttributes replaces attributes on the user with objectGUID guid.
// An empty value list removes the attribute.
func (d *Directory) ModifyAttributes(ctx context.Context, guid string, attrs map[string][]string) error {
	if len(attrs) == 0 {
		return nil
	}

	target, err := d.FindByGUID(ctx, guid)
	if err != nil {
		return err
	}

	replace := make(map[string][]string, len(attrs))
	for name, values := range attrs {
		if values == nil {
			values = []string{}
		}
		replace[name] = values
	}

	if err := d.client.Modify(ctx, &ModifyRequest{DN: target.DN, ReplaceAttributes: replace}); err != nil {
		if IsPermissionError(err) {
			d.logger.Warn("service account may not write user attributes", "dn", target.DN, "error", err)
		}
		return err
	}
	return nil
}

func (d *Directory) search(ctx context.Context, filter string, sizeLimit int) ([]*ldap.Entry, error) {
	baseDN, err := d.baseDNFor(ctx)
	if err != nil {
		return nil, err
	}
	result, err := d.client.Search(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: d.request,
		SizeLimit:  sizeLimit,
	})
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

func (d *Directory) searchPaged(ctx context.Context, filter string) ([]*ldap.Entry, error) {
	baseDN, err := d.baseDNFor(ctx)
	if err != nil {
		return nil, err
	}
	result, err := d.client.SearchWithPaging(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: d.request,
	})
	if err != nil {
		return nil, err
	}
	if result.HasMore {
		d.logger.Warn("paged search truncated", "filter", filter, "entries", result.Total)
	}
	return result.Entries, nil
}

func (d *Directory) baseDNFor(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseDN != "" {
		return d.baseDN, nil
	}
	baseDN, err := d.client.BaseDN(ctx)
	if err != nil {
		return "", fmt.Errorf("determine base DN: %w", err)
	}
	d.baseDN = baseDN
	return baseDN, nil
}

// toAttributes converts an entry into the decoded attribute set. Binary
// identifiers are stored in their string forms.
func (d *Directory) toAttributes(entry *ldap.Entry) *directory.Attributes {
	raw := make(map[string][]string, len(entry.Attributes)+1)
	for _, attr := range entry.Attributes {
		raw[strings.ToLower(attr.Name)] = slices.Clone(attr.Values)
	}

	guid := ExtractGUID(entry)
	sid := ExtractSID(entry)
	if guid != "" {
		raw[directory.AttrObjectGUID] = []string{guid}
	} else {
		delete(raw, directory.AttrObjectGUID)
	}
	if sid != "" {
		raw[directory.AttrObjectSID] = []string{sid}
	} else {
		delete(raw, directory.AttrObjectSID)
	}
	raw[directory.AttrDistinguishedName] = []string{entry.DN}

	attrs := &directory.Attributes{
		DN:                entry.DN,
		ObjectGUID:        guid,
		ObjectSID:         sid,
		DomainSID:         DomainSIDOf(sid),
		SAMAccountName:    strings.ToLower(first(raw[directory.AttrSAMAccountName])),
		UserPrincipalName: strings.ToLower(first(raw[directory.AttrUserPrincipalName])),
		AccountControl:    directory.ParseAccountControl(first(raw[directory.AttrUserAccountControl])),
		MemberOf:          raw[directory.AttrMemberOf],
		Raw:               raw,
	}
	attrs.Filtered = directory.Filter(raw, d.options.SyncAttributes)
	return attrs
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
