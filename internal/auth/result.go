package auth

import (
	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/identity"
)

// Reason explains the outcome of an authentication attempt.
type Reason string

const (
	ReasonAuthenticated        Reason = "authenticated"
	ReasonEmptyLogin           Reason = "empty_login"
	ReasonEmptyPassword        Reason = "empty_password"
	ReasonExcludedUser         Reason = "excluded_user"
	ReasonPrimordialAdmin      Reason = "primordial_admin"
	ReasonNoSuffix             Reason = "no_suffix"
	ReasonBlocked              Reason = "blocked"
	ReasonInvalidCredentials   Reason = "invalid_credentials"
	ReasonDirectoryUnreachable Reason = "directory_unreachable"
	ReasonUnauthorized         Reason = "unauthorized"
	ReasonReconciliationFailed Reason = "reconciliation_failed"
	ReasonAccountDisabled      Reason = "account_disabled"
)

// Result is the outcome of Authenticate. Credentials never carry the
// password.
type Result struct {
	Authenticated bool
	Reason        Reason
	Credentials   identity.Credentials
	Account       *account.Account
	Err           error
}

func rejected(reason Reason, creds identity.Credentials, err error) Result {
	return Result{
		Reason:      reason,
		Credentials: creds.WithoutPassword(),
		Err:         err,
	}
}

func authenticated(creds identity.Credentials, acct *account.Account) Result {
	return Result{
		Authenticated: true,
		Reason:        ReasonAuthenticated,
		Credentials:   creds.WithoutPassword(),
		Account:       acct,
	}
}
