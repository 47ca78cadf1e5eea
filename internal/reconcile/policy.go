// Package reconcile maps a directory identity onto exactly one local
// account, creating or refreshing it as configured.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAttributesUnavailable = errors.New("directory attributes unavailable")
	ErrAutoCreateDisabled    = errors.New("no matching local account and automatic creation is disabled")
	ErrDuplicateEmail        = errors.New("email address belongs to another account")
	ErrInvalidEmailPolicy    = errors.New("invalid duplicate email policy")
)

// EmailPolicy decides what happens when a directory email address already
// belongs to a different local account.
type EmailPolicy string

const (
	EmailPrevent EmailPolicy = "prevent"
	EmailAllow   EmailPolicy = "allow"
	EmailCreate  EmailPolicy = "create"
)

// ParseEmailPolicy accepts the configuration spelling of a policy.
func ParseEmailPolicy(s string) (EmailPolicy, error) {
	p := EmailPolicy(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

func (p EmailPolicy) Validate() error {
	switch p {
	case EmailPrevent, EmailAllow, EmailCreate:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEmailPolicy, string(p))
	}
}

// Policy controls account creation and refresh.
type Policy struct {
	AutoCreate         bool
	AutoUpdate         bool
	AutoUpdatePassword bool
	DuplicateEmail     EmailPolicy
	DefaultEmailDomain string
}
