package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/directory"
	"github.com/isometry/adbridge/internal/identity"
)

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Account     *account.Account
	Credentials identity.Credentials
	Created     bool
	Updated     bool
}

// Reconciler resolves directory identities to local accounts.
type Reconciler struct {
	store    account.Store
	roles    *RoleMapper
	emails   *EmailGenerator
	policy   Policy
	logger   hclog.Logger
	hashCost int
}

func New(store account.Store, policy Policy, roles *RoleMapper, logger hclog.Logger) *Reconciler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if policy.DuplicateEmail == "" {
		policy.DuplicateEmail = EmailPrevent
	}
	return &Reconciler{
		store:    store,
		roles:    roles,
		emails:   NewEmailGenerator(store),
		policy:   policy,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// Policy returns the active policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// WithPolicy returns a copy of r using p.
func (r *Reconciler) WithPolicy(p Policy) *Reconciler {
	clone := *r
	if p.DuplicateEmail == "" {
		p.DuplicateEmail = EmailPrevent
	}
	clone.policy = p
	return &clone
}

// Resolve finds or creates the local account for creds. Nothing is written
// when attrs is unavailable.
func (r *Reconciler) Resolve(ctx context.Context, creds identity.Credentials, attrs *directory.Attributes) (Resolution, error) {
	if !attrs.Available() {
		return Resolution{}, ErrAttributesUnavailable
	}
	if err := r.policy.DuplicateEmail.Validate(); err != nil {
		return Resolution{}, err
	}

	creds = creds.WithSAMAccountName(attrs.SAMAccountName)
	if attrs.ObjectGUID != "" {
		creds = creds.WithObjectGUID(attrs.ObjectGUID)
	}

	existing, how, err := r.match(ctx, creds)
	if err != nil {
		return Resolution{}, err
	}

	if existing == nil {
		if !r.policy.AutoCreate {
			return Resolution{}, fmt.Errorf("%w: %s", ErrAutoCreateDisabled, creds.SAMAccountName)
		}
		acct, err := r.create(ctx, creds, attrs)
		if err != nil {
			return Resolution{}, err
		}
		r.logger.Info("local account created", "account_id", acct.ID, "login", acct.Login, "objectguid", creds.ObjectGUID)
		return Resolution{Account: acct, Credentials: creds.WithLocalAccountID(acct.ID), Created: true}, nil
	}

	r.logger.Debug("local account matched", "account_id", existing.ID, "matcher", how)

	var updated bool
	if r.policy.AutoUpdate {
		updated, err = r.refresh(ctx, existing, creds, attrs)
	} else {
		updated, err = r.refreshMinimal(ctx, existing, attrs)
	}
	if err != nil {
		return Resolution{}, err
	}
	if updated {
		r.logger.Debug("local account updated", "account_id", existing.ID, "full", r.policy.AutoUpdate)
	}
	return Resolution{Account: existing, Credentials: creds.WithLocalAccountID(existing.ID), Updated: updated}, nil
}

func (r *Reconciler) match(ctx context.Context, creds identity.Credentials) (*account.Account, string, error) {
	for _, m := range matchers {
		acct, err := m.find(ctx, r.store, creds)
		if errors.Is(err, account.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("match account by %s: %w", m.name, err)
		}
		// An account already linked to another directory object is never
		// taken over by a weaker matcher.
		if guid := acct.MetaValue(account.MetaObjectGUID); guid != "" && creds.ObjectGUID != "" && !strings.EqualFold(guid, creds.ObjectGUID) {
			r.logger.Warn("account is linked to another directory object, clear its objectguid to relink",
				"account_id", acct.ID, "matcher", m.name,
				"linked_objectguid", guid, "directory_objectguid", creds.ObjectGUID)
			continue
		}
		return acct, m.name, nil
	}
	return nil, "", nil
}

func (r *Reconciler) create(ctx context.Context, creds identity.Credentials, attrs *directory.Attributes) (*account.Account, error) {
	acct := &account.Account{
		Login: creds.SAMAccountName,
		Roles: r.roles.Roles(attrs),
		Meta:  make(map[string]string),
	}
	applyProfile(acct, attrs)
	applyLinkage(acct, creds, attrs)
	applySyncedAttributes(acct, attrs)

	secret := creds.Password
	if !r.policy.AutoUpdatePassword || secret == "" {
		generated, err := password.Generate(32, 8, 8, false, true)
		if err != nil {
			return nil, fmt.Errorf("generate password: %w", err)
		}
		secret = generated
	}
	hash, err := r.hash(secret)
	if err != nil {
		return nil, err
	}
	acct.PasswordHash = hash

	opts, err := r.applyEmail(ctx, acct, r.emailFor(attrs))
	if err != nil {
		return nil, err
	}

	if err := r.store.Create(ctx, acct, opts); err != nil {
		return nil, fmt.Errorf("create account %s: %w", acct.Login, err)
	}
	return acct, nil
}

func (r *Reconciler) refresh(ctx context.Context, acct *account.Account, creds identity.Credentials, attrs *directory.Attributes) (bool, error) {
	before := snapshot(acct)

	acct.Roles = r.roles.Roles(attrs)
	applyProfile(acct, attrs)
	applyLinkage(acct, creds, attrs)
	applySyncedAttributes(acct, attrs)

	if r.policy.AutoUpdatePassword && creds.Password != "" &&
		bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(creds.Password)) != nil {
		hash, err := r.hash(creds.Password)
		if err != nil {
			return false, err
		}
		acct.PasswordHash = hash
	}

	opts := account.WriteOptions{}
	if email := r.emailFor(attrs); email != "" {
		var err error
		if opts, err = r.applyEmail(ctx, acct, email); err != nil {
			return false, err
		}
	}

	if sameAccount(before, acct) {
		return false, nil
	}
	if err := r.store.Update(ctx, acct, opts); err != nil {
		return false, fmt.Errorf("update account %d: %w", acct.ID, err)
	}
	return true, nil
}

// refreshMinimal keeps the sAMAccountName link and roles current.
func (r *Reconciler) refreshMinimal(ctx context.Context, acct *account.Account, attrs *directory.Attributes) (bool, error) {
	before := snapshot(acct)

	acct.Roles = r.roles.Roles(attrs)
	if attrs.SAMAccountName != "" {
		acct.SetMetaValue(account.MetaSAMAccountName, strings.ToLower(attrs.SAMAccountName))
	}

	if sameAccount(before, acct) {
		return false, nil
	}
	if err := r.store.Update(ctx, acct, account.WriteOptions{AllowDuplicateEmail: true}); err != nil {
		return false, fmt.Errorf("update account %d: %w", acct.ID, err)
	}
	return true, nil
}

func (r *Reconciler) emailFor(attrs *directory.Attributes) string {
	if mail := strings.TrimSpace(attrs.Value(directory.AttrMail)); mail != "" {
		return strings.ToLower(mail)
	}
	if r.policy.DefaultEmailDomain != "" && attrs.SAMAccountName != "" {
		domain := strings.TrimPrefix(r.policy.DefaultEmailDomain, "@")
		return strings.ToLower(attrs.SAMAccountName + "@" + domain)
	}
	return ""
}

// applyEmail sets email on acct, resolving conflicts with other accounts
// according to the duplicate email policy.
func (r *Reconciler) applyEmail(ctx context.Context, acct *account.Account, email string) (account.WriteOptions, error) {
	opts := account.WriteOptions{}
	if email == "" {
		return opts, nil
	}

	owner, err := r.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, account.ErrNotFound):
		acct.Email = email
		return opts, nil
	case err != nil:
		return opts, fmt.Errorf("look up email %s: %w", email, err)
	case owner.ID == acct.ID:
		acct.Email = email
		return opts, nil
	}

	switch r.policy.DuplicateEmail {
	case EmailPrevent:
		return opts, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
	case EmailAllow:
		acct.Email = email
		opts.AllowDuplicateEmail = true
		return opts, nil
	case EmailCreate:
		generated, err := r.emails.Next(ctx, email, acct.ID)
		if err != nil {
			return opts, err
		}
		acct.Email = generated
		return opts, nil
	default:
		return opts, fmt.Errorf("%w: %q", ErrInvalidEmailPolicy, string(r.policy.DuplicateEmail))
	}
}

func (r *Reconciler) hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func applyProfile(acct *account.Account, attrs *directory.Attributes) {
	acct.FirstName = attrs.Value(directory.AttrGivenName)
	acct.LastName = attrs.Value(directory.AttrSurname)
	acct.DisplayName = attrs.Value(directory.AttrDisplayName)
	acct.Description = attrs.Value(directory.AttrDescription)
}

func applyLinkage(acct *account.Account, creds identity.Credentials, attrs *directory.Attributes) {
	acct.SetMetaValue(account.MetaSAMAccountName, creds.SAMAccountName)
	if creds.ObjectGUID != "" {
		acct.SetMetaValue(account.MetaObjectGUID, creds.ObjectGUID)
	}
	if attrs.DomainSID != "" {
		acct.SetMetaValue(account.MetaDomainSID, attrs.DomainSID)
	}
	if attrs.UserPrincipalName != "" {
		acct.SetMetaValue(account.MetaUserPrincipalName, strings.ToLower(attrs.UserPrincipalName))
	}
	if creds.UPNSuffix != "" {
		acct.SetMetaValue(account.MetaAccountSuffix, creds.UPNSuffix)
	}
}

// applySyncedAttributes copies the whitelisted attributes. Multiple values
// are stored newline separated; attributes without values are removed.
func applySyncedAttributes(acct *account.Account, attrs *directory.Attributes) {
	for name, values := range attrs.Filtered {
		acct.SetMetaValue(account.AttributeKey(name), strings.Join(values, "\n"))
	}
}

func snapshot(acct *account.Account) account.Account {
	s := *acct
	s.Roles = slices.Clone(acct.Roles)
	s.Meta = maps.Clone(acct.Meta)
	return s
}

func sameAccount(before account.Account, after *account.Account) bool {
	return before.Login == after.Login &&
		before.Email == after.Email &&
		before.PasswordHash == after.PasswordHash &&
		before.FirstName == after.FirstName &&
		before.LastName == after.LastName &&
		before.DisplayName == after.DisplayName &&
		before.Description == after.Description &&
		slices.Equal(before.Roles, after.Roles) &&
		maps.Equal(before.Meta, after.Meta)
}
