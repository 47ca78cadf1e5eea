// Package auth authenticates login attempts against the directory and
// resolves the matching local account.
package auth

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/bruteforce"
	"github.com/isometry/adbridge/internal/directory"
	"github.com/isometry/adbridge/internal/identity"
	"github.com/isometry/adbridge/internal/reconcile"
)

// DefaultPrimordialAdminID is the local account that may never log in
// through the directory.
const DefaultPrimordialAdminID int64 = 1

// Directory is the subset of directory operations used to authenticate.
type Directory interface {
	CheckPorts(ctx context.Context) error
	Authenticate(ctx context.Context, bindName, password string) (bool, error)
	FindByPrincipal(ctx context.Context, creds identity.Credentials) (*directory.Attributes, error)
}

type Config struct {
	AccountSuffixes     []string
	ExcludedUsernames   []string
	PrimordialAdminID   int64
	AuthorizeByGroup    bool
	AuthorizationGroups []string
}

// Orchestrator runs one authentication attempt end to end. It holds no
// per-attempt state and is safe for concurrent use.
type Orchestrator struct {
	dir        Directory
	guard      *bruteforce.Guard
	reconciler *reconcile.Reconciler
	store      account.Store
	config     Config
	logger     hclog.Logger
}

func NewOrchestrator(dir Directory, guard *bruteforce.Guard, reconciler *reconcile.Reconciler, store account.Store, config Config, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if guard == nil {
		guard = bruteforce.NewGuard(nil, bruteforce.GuardConfig{}, nil, logger)
	}
	return &Orchestrator{
		dir:        dir,
		guard:      guard,
		reconciler: reconciler,
		store:      store,
		config:     config,
		logger:     logger,
	}
}

// Authenticate tries login against every account suffix in order and
// returns on the first successful bind.
func (o *Orchestrator) Authenticate(ctx context.Context, login, password string) Result {
	creds := identity.NewCredentials(login, password)
	log := o.logger.With("login", creds.Login)

	switch {
	case creds.Login == "":
		return rejected(ReasonEmptyLogin, creds, nil)
	case password == "":
		return rejected(ReasonEmptyPassword, creds, nil)
	case o.excluded(creds):
		log.Debug("login excluded from directory authentication")
		return rejected(ReasonExcludedUser, creds, nil)
	case o.primordialAdmin(ctx, creds):
		log.Debug("primordial admin cannot authenticate through the directory")
		return rejected(ReasonPrimordialAdmin, creds, nil)
	}

	suffixes := SuffixOrder(o.config.AccountSuffixes, creds.UPNSuffix)
	if len(suffixes) == 0 {
		return rejected(ReasonNoSuffix, creds, nil)
	}

	if err := o.dir.CheckPorts(ctx); err != nil {
		log.Warn("directory unreachable", "error", err)
		return rejected(ReasonDirectoryUnreachable, creds, err)
	}

	for _, suffix := range suffixes {
		key := creds.BindName() + suffix

		blocked, err := o.guard.IsBlocked(ctx, key)
		if err != nil {
			log.Warn("brute force check failed", "key", key, "error", err)
		}
		if blocked {
			log.Info("attempt on blocked key rejected", "key", key)
			o.guard.NotifyBlockedAttempt(ctx, key)
			return rejected(ReasonBlocked, creds, nil)
		}

		ok, err := o.dir.Authenticate(ctx, key, password)
		if err != nil {
			log.Warn("bind aborted", "key", key, "error", err)
			return rejected(ReasonDirectoryUnreachable, creds, err)
		}
		if !ok {
			log.Debug("bind rejected", "key", key)
			if err := o.guard.RecordFailure(ctx, key); err != nil {
				log.Warn("recording failure failed", "key", key, "error", err)
			}
			continue
		}

		if err := o.guard.RecordSuccess(ctx, key); err != nil {
			log.Warn("clearing failures failed", "key", key, "error", err)
		}
		log.Debug("bind succeeded", "key", key)
		return o.complete(ctx, creds.WithUPNSuffix(suffix))
	}

	return rejected(ReasonInvalidCredentials, creds, nil)
}

func (o *Orchestrator) complete(ctx context.Context, creds identity.Credentials) Result {
	log := o.logger.With("login", creds.Login, "upn", creds.UserPrincipalName())

	attrs, err := o.dir.FindByPrincipal(ctx, creds)
	if err != nil {
		log.Warn("directory lookup after bind failed", "error", err)
		attrs = directory.Unavailable()
	}
	if !attrs.Available() {
		return rejected(ReasonReconciliationFailed, creds, reconcile.ErrAttributesUnavailable)
	}

	if o.config.AuthorizeByGroup && !o.authorized(attrs) {
		log.Info("user is not a member of an authorization group")
		return rejected(ReasonUnauthorized, creds, nil)
	}

	res, err := o.reconciler.Resolve(ctx, creds, attrs)
	if err != nil {
		log.Error("reconciliation failed", "error", err)
		return rejected(ReasonReconciliationFailed, creds, err)
	}

	if res.Account.Disabled {
		log.Info("local account disabled", "account_id", res.Account.ID, "reason", res.Account.DisabledReason)
		r := rejected(ReasonAccountDisabled, res.Credentials, nil)
		r.Account = res.Account
		return r
	}

	log.Info("authenticated", "account_id", res.Account.ID, "created", res.Created)
	return authenticated(res.Credentials, res.Account)
}

func (o *Orchestrator) excluded(creds identity.Credentials) bool {
	return slices.ContainsFunc(o.config.ExcludedUsernames, func(name string) bool {
		name = strings.TrimSpace(name)
		return name != "" && (strings.EqualFold(name, creds.Login) || strings.EqualFold(name, creds.SAMAccountName))
	})
}

func (o *Orchestrator) primordialAdmin(ctx context.Context, creds identity.Credentials) bool {
	if o.store == nil || o.config.PrimordialAdminID <= 0 {
		return false
	}
	for _, login := range []string{creds.Login, creds.SAMAccountName} {
		acct, err := o.store.FindByLogin(ctx, login)
		if errors.Is(err, account.ErrNotFound) {
			continue
		}
		if err != nil {
			o.logger.Warn("primordial admin lookup failed", "login", login, "error", err)
			continue
		}
		if acct.ID == o.config.PrimordialAdminID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) authorized(attrs *directory.Attributes) bool {
	return slices.ContainsFunc(o.config.AuthorizationGroups, attrs.IsMemberOf)
}
