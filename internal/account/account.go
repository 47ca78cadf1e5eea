// Package account defines the local account record that directory
// identities are reconciled into, and the store port used to persist it.
package account

import (
	"context"
	"errors"
	"strings"
)

// Metadata keys linking a local account to its directory identity.
const (
	MetaSAMAccountName    = "samaccountname"
	MetaObjectGUID        = "objectguid"
	MetaDomainSID         = "domainsid"
	MetaAccountSuffix     = "account_suffix"
	MetaUserPrincipalName = "userprincipalname"

	// MetaAttributePrefix prefixes synchronized directory attributes.
	MetaAttributePrefix = "attr_"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already in use by another account")
	ErrDuplicateLogin = errors.New("login already in use by another account")
)

// Account is a local user record.
type Account struct {
	ID             int64
	Login          string
	Email          string
	PasswordHash   string
	Roles          []string
	FirstName      string
	LastName       string
	DisplayName    string
	Description    string
	Disabled       bool
	DisabledReason string
	Meta           map[string]string
}

// MetaValue returns the value stored under key, or "".
func (a *Account) MetaValue(key string) string {
	if a == nil || a.Meta == nil {
		return ""
	}
	return a.Meta[key]
}

// SetMetaValue sets key on the in-memory record. An empty value removes it.
func (a *Account) SetMetaValue(key, value string) {
	if a.Meta == nil {
		a.Meta = make(map[string]string)
	}
	if value == "" {
		delete(a.Meta, key)
		return
	}
	a.Meta[key] = value
}

// Linked reports whether the account is bound to a directory object.
func (a *Account) Linked() bool {
	return a.MetaValue(MetaObjectGUID) != ""
}

// AttributeKey returns the metadata key for a synchronized attribute.
func AttributeKey(attribute string) string {
	return MetaAttributePrefix + strings.ToLower(attribute)
}

// WriteOptions relax store-level uniqueness checks for a single write.
type WriteOptions struct {
	AllowDuplicateEmail bool
}

// Store persists local accounts. Lookups return ErrNotFound when nothing
// matches. Login and meta comparisons are case-insensitive.
type Store interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByLogin(ctx context.Context, login string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByMeta(ctx context.Context, key, value string) (*Account, error)
	ListLinked(ctx context.Context) ([]*Account, error)
	Create(ctx context.Context, acct *Account, opts WriteOptions) error
	Update(ctx context.Context, acct *Account, opts WriteOptions) error
	SetMeta(ctx context.Context, id int64, key, value string) error
	DeleteMeta(ctx context.Context, id int64, key string) error
	Disable(ctx context.Context, id int64, reason string) error
	Enable(ctx context.Context, id int64) error
}
