package dirsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/directory"
	"github.com/isometry/adbridge/internal/identity"
	"github.com/isometry/adbridge/internal/ldap"
	"github.com/isometry/adbridge/internal/reconcile"
)

// ReasonRemoved is recorded on local accounts whose directory object is gone.
const ReasonRemoved = "no longer present in the directory"

// SourceDirectory is what ToLocal needs from the directory.
type SourceDirectory interface {
	ServiceBound() bool
	CheckPorts(ctx context.Context) error
	FindGroupMembers(ctx context.Context, groups []string) ([]*directory.Attributes, error)
	FindByGUID(ctx context.Context, guid string) (*directory.Attributes, error)
	FindByPrincipal(ctx context.Context, creds identity.Credentials) (*directory.Attributes, error)
}

type ToLocalConfig struct {
	SecurityGroups        []string
	SynchronizeDisabled   bool
	ImportDisabled        bool
	SmartcardLoginEnabled bool
	// RateLimit caps users processed per second. Zero disables pacing.
	RateLimit        float64
	MaxExecutionTime time.Duration
}

// ToLocal copies directory users into the local account store and mirrors
// their account state.
type ToLocal struct {
	dir        SourceDirectory
	store      account.Store
	reconciler *reconcile.Reconciler
	config     ToLocalConfig
	logger     hclog.Logger
}

func NewToLocal(dir SourceDirectory, store account.Store, reconciler *reconcile.Reconciler, config ToLocalConfig, logger hclog.Logger) *ToLocal {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ToLocal{
		dir:        dir,
		store:      store,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
	}
}

// candidate is a directory user found by group membership, a local account
// linked to a directory object, or both.
type candidate struct {
	guid  string
	attrs *directory.Attributes
	local *account.Account
}

// Run performs one pass. Per-user failures are counted in the summary;
// only failures that affect the whole pass are returned as errors.
func (s *ToLocal) Run(ctx context.Context) (summary Summary, err error) {
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	if !s.dir.ServiceBound() {
		return summary, ldap.ErrNoServiceCredentials
	}

	if s.config.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxExecutionTime)
		defer cancel()
	}

	if err := s.dir.CheckPorts(ctx); err != nil {
		return summary, fmt.Errorf("sync to local: %w", err)
	}

	candidates, err := s.candidates(ctx)
	if err != nil {
		return summary, fmt.Errorf("sync to local: %w", err)
	}
	s.logger.Info("sync to local started", "candidates", len(candidates), "groups", len(s.config.SecurityGroups))

	policy := s.reconciler.Policy()
	policy.AutoCreate = true
	policy.AutoUpdate = true
	reconciler := s.reconciler.WithPolicy(policy)
	limiter := newLimiter(s.config.RateLimit)

	for _, c := range candidates {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return s.interrupted(&summary, start, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return s.interrupted(&summary, start, err)
		}

		outcome, err := s.syncOne(ctx, reconciler, c)
		if err != nil {
			s.logger.Warn("user synchronization failed", "objectguid", c.guid, "error", err)
			outcome = OutcomeFailed
		}
		summary.record(outcome)
	}

	s.logger.Info("sync to local finished",
		"created", summary.Created, "updated", summary.Updated,
		"skipped", summary.Skipped, "failed", summary.Failed,
		"elapsed", time.Since(start))
	return summary, nil
}

func (s *ToLocal) interrupted(summary *Summary, start time.Time, err error) (Summary, error) {
	s.logger.Warn("sync to local interrupted", "processed", summary.Total(), "elapsed", time.Since(start), "error", err)
	return *summary, fmt.Errorf("sync to local interrupted after %d users: %w", summary.Total(), err)
}

// candidates merges group members with linked local accounts, keyed by
// objectGUID and in discovery order.
func (s *ToLocal) candidates(ctx context.Context) ([]*candidate, error) {
	var out []*candidate
	byGUID := make(map[string]*candidate)

	if len(s.config.SecurityGroups) > 0 {
		members, err := s.dir.FindGroupMembers(ctx, s.config.SecurityGroups)
		if err != nil {
			return nil, fmt.Errorf("find group members: %w", err)
		}
		for _, attrs := range members {
			guid := strings.ToLower(attrs.ObjectGUID)
			if guid == "" || byGUID[guid] != nil {
				continue
			}
			c := &candidate{guid: guid, attrs: attrs}
			byGUID[guid] = c
			out = append(out, c)
		}
	}

	linked, err := s.store.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	for _, acct := range linked {
		guid := strings.ToLower(acct.MetaValue(account.MetaObjectGUID))
		if c, ok := byGUID[guid]; ok {
			if c.local == nil {
				c.local = acct
			}
			continue
		}
		c := &candidate{guid: guid, local: acct}
		byGUID[guid] = c
		out = append(out, c)
	}
	return out, nil
}

func (s *ToLocal) syncOne(ctx context.Context, reconciler *reconcile.Reconciler, c *candidate) (Outcome, error) {
	attrs := c.attrs
	if attrs == nil {
		var err error
		attrs, err = s.lookup(ctx, c)
		if ldap.IsNotFoundError(err) {
			return s.removed(ctx, c.local)
		}
		if err != nil {
			return OutcomeFailed, err
		}
	}

	ac := attrs.AccountControl
	if c.local == nil && ac.Disabled() && !s.config.ImportDisabled {
		known, err := s.known(ctx, c.guid, attrs.SAMAccountName)
		if err != nil {
			return OutcomeFailed, err
		}
		if !known {
			s.logger.Debug("skipping disabled directory account", "samaccountname", attrs.SAMAccountName)
			return OutcomeSkipped, nil
		}
	}

	res, err := reconciler.Resolve(ctx, credentialsFor(attrs), attrs)
	if err != nil {
		return OutcomeFailed, err
	}

	changed, err := s.applyAccountControl(ctx, res.Account, ac)
	if err != nil {
		return OutcomeFailed, err
	}

	switch {
	case res.Created:
		return OutcomeCreated, nil
	case res.Updated || changed:
		return OutcomeUpdated, nil
	default:
		return OutcomeSkipped, nil
	}
}

// lookup fetches a linked account's directory object by objectGUID, then by
// its sAMAccountName. A principal match bound to another objectGUID is a
// different object and counts as not found.
func (s *ToLocal) lookup(ctx context.Context, c *candidate) (*directory.Attributes, error) {
	attrs, err := s.dir.FindByGUID(ctx, c.guid)
	if err == nil || !ldap.IsNotFoundError(err) {
		return attrs, err
	}

	sam := c.local.MetaValue(account.MetaSAMAccountName)
	if sam == "" {
		sam = c.local.Login
	}
	creds := identity.NewCredentials(sam, "")
	if suffix := c.local.MetaValue(account.MetaAccountSuffix); suffix != "" {
		creds = creds.WithUPNSuffix(suffix)
	}

	attrs, err = s.dir.FindByPrincipal(ctx, creds)
	if err != nil {
		return nil, err
	}
	if attrs.ObjectGUID != "" && !strings.EqualFold(attrs.ObjectGUID, c.guid) {
		return nil, fmt.Errorf("%s is now bound to objectGUID %s: %w", sam, attrs.ObjectGUID, ldap.ErrEntryNotFound)
	}
	return attrs, nil
}

// known reports whether a local account exists for the directory object,
// linked or not.
func (s *ToLocal) known(ctx context.Context, guid, sam string) (bool, error) {
	_, err := s.store.FindByMeta(ctx, account.MetaObjectGUID, guid)
	if errors.Is(err, account.ErrNotFound) && sam != "" {
		_, err = s.store.FindByLogin(ctx, sam)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, account.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("look up local account for %s: %w", guid, err)
	}
}

// removed disables an account whose directory object no longer exists and
// drops its domain linkage.
func (s *ToLocal) removed(ctx context.Context, acct *account.Account) (Outcome, error) {
	changed := false
	if !acct.Disabled || acct.DisabledReason != ReasonRemoved {
		if err := s.store.Disable(ctx, acct.ID, ReasonRemoved); err != nil {
			return OutcomeFailed, err
		}
		changed = true
	}
	if acct.MetaValue(account.MetaDomainSID) != "" {
		if err := s.store.DeleteMeta(ctx, acct.ID, account.MetaDomainSID); err != nil {
			return OutcomeFailed, err
		}
		changed = true
	}
	if !changed {
		return OutcomeSkipped, nil
	}
	s.logger.Info("local account disabled", "account_id", acct.ID, "login", acct.Login, "reason", ReasonRemoved)
	return OutcomeUpdated, nil
}

// applyAccountControl disables trust accounts and, unless smartcard logins
// are allowed, smartcard-only accounts. Everything else mirrors the
// directory: enabling is immediate, disabling only when configured.
func (s *ToLocal) applyAccountControl(ctx context.Context, acct *account.Account, ac directory.AccountControl) (bool, error) {
	state := ac.State()
	switch {
	case state.IsTrustKind():
		return s.disable(ctx, acct, state.Reason())
	case state == directory.StateSmartcardRequired && !s.config.SmartcardLoginEnabled:
		return s.disable(ctx, acct, state.Reason())
	case !ac.Disabled():
		return s.enable(ctx, acct)
	case s.config.SynchronizeDisabled:
		return s.disable(ctx, acct, directory.StateDisabled.Reason())
	default:
		return false, nil
	}
}

func (s *ToLocal) disable(ctx context.Context, acct *account.Account, reason string) (bool, error) {
	if acct.Disabled && acct.DisabledReason == reason {
		return false, nil
	}
	if err := s.store.Disable(ctx, acct.ID, reason); err != nil {
		return false, err
	}
	acct.Disabled, acct.DisabledReason = true, reason
	s.logger.Info("local account disabled", "account_id", acct.ID, "login", acct.Login, "reason", reason)
	return true, nil
}

func (s *ToLocal) enable(ctx context.Context, acct *account.Account) (bool, error) {
	if !acct.Disabled {
		return false, nil
	}
	if err := s.store.Enable(ctx, acct.ID); err != nil {
		return false, err
	}
	acct.Disabled, acct.DisabledReason = false, ""
	s.logger.Info("local account enabled", "account_id", acct.ID, "login", acct.Login)
	return true, nil
}

// credentialsFor builds password-less credentials from a directory entry,
// preferring the userPrincipalName so the account suffix is recorded.
func credentialsFor(attrs *directory.Attributes) identity.Credentials {
	if attrs.UserPrincipalName != "" {
		return identity.NewCredentials(attrs.UserPrincipalName, "")
	}
	return identity.NewCredentials(attrs.SAMAccountName, "")
}
